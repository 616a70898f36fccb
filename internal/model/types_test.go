package model

import "testing"

func TestProfileStub(t *testing.T) {
	p := Profile{"id_str": "9", "name": "Alice", "followers_count": float64(3)}
	s := p.Stub()
	if !s.IsStub() || s.ID() != "9" {
		t.Fatalf("stub = %v", s)
	}
	if p.IsStub() {
		t.Fatal("full profile misreported as stub")
	}
	if (Profile{"id_str": "9"}).IsStub() != true {
		t.Fatal("minimal profile is a stub")
	}
}

func TestSetsReplaceAddRemove(t *testing.T) {
	s := NewSets()
	s.Replace(SetFollowing, []string{"1", "2"})
	if !s.Has(SetFollowing, "1") || s.Has(SetFollowing, "3") {
		t.Fatal("replace")
	}
	s.Add(SetFollowing, "3")
	s.Remove(SetFollowing, "1")
	ids := s.IDs(SetFollowing)
	if len(ids) != 2 || ids[0] != "2" || ids[1] != "3" {
		t.Fatalf("ids = %v", ids)
	}
	s.Replace(SetFollowing, nil)
	if len(s.IDs(SetFollowing)) != 0 {
		t.Fatal("replace with nil should empty the set")
	}
	if s.Has(SetBlocked, "2") {
		t.Fatal("sets must not bleed into each other")
	}
}
