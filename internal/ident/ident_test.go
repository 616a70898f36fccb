package ident

import (
	"math/big"
	"math/rand"
	"testing"
)

func randomID(rng *rand.Rand) string {
	n := 1 + rng.Intn(25)
	b := make([]byte, n)
	b[0] = byte('1' + rng.Intn(9))
	for i := 1; i < n; i++ {
		b[i] = byte('0' + rng.Intn(10))
	}
	return string(b)
}

func TestCompareIDAgreesWithBigInt(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		a, b := randomID(rng), randomID(rng)
		ba, _ := new(big.Int).SetString(a, 10)
		bb, _ := new(big.Int).SetString(b, 10)
		if got, want := CompareID(a, b), ba.Cmp(bb); got != want {
			t.Fatalf("CompareID(%q,%q)=%d, big.Int says %d", a, b, got, want)
		}
	}
}

func TestCompareIDEmptySortsLowest(t *testing.T) {
	if CompareID("", "1") != -1 {
		t.Fatal("empty should sort below any ID")
	}
	if CompareID("1", "") != 1 {
		t.Fatal("any ID should sort above empty")
	}
	if CompareID("", "") != 0 {
		t.Fatal("empty equals empty")
	}
}

func TestMinMaxID(t *testing.T) {
	if MaxID("99", "100") != "100" {
		t.Fatal("MaxID")
	}
	if MinID("", "100") != "100" {
		t.Fatal("MinID should prefer non-empty")
	}
	if MinID("99", "100") != "99" {
		t.Fatal("MinID")
	}
}

func TestEqualProfileReflexive(t *testing.T) {
	p := map[string]any{
		"id_str":      "123",
		"name":        "a",
		"screen_name": "b",
		"nested":      map[string]any{"x": float64(1)},
		"arr":         []any{"1", "2"},
	}
	if !EqualProfile(p, p) {
		t.Fatal("profile should equal itself")
	}
}

func TestEqualProfileIgnoresCounters(t *testing.T) {
	old := map[string]any{"a": float64(1), "a_count": float64(1)}
	new := map[string]any{"a": float64(1), "a_count": float64(2)}
	if !EqualProfile(old, new) {
		t.Fatal("counter-suffixed fields must be ignored")
	}
}

func TestEqualProfileIgnoresID(t *testing.T) {
	if !EqualProfile(map[string]any{"id_str": "1"}, map[string]any{"id_str": "2"}) {
		t.Fatal("identity fields must be ignored")
	}
}

func TestEqualProfileFalsyPairs(t *testing.T) {
	old := map[string]any{"bio": ""}
	new := map[string]any{"bio": nil, "extra": false}
	if !EqualProfile(old, new) {
		t.Fatal("missing vs falsy must compare equal")
	}
	if EqualProfile(old, map[string]any{"bio": "set"}) {
		t.Fatal("falsy vs non-falsy differs")
	}
}

func TestEqualProfileSupersetKeys(t *testing.T) {
	old := map[string]any{"a": "1", "b": "2"}
	new := map[string]any{"a": "1"}
	if !EqualProfile(old, new) {
		t.Fatal("old covering new's keys is equal")
	}
	if EqualProfile(new, map[string]any{"a": "1", "c": "3"}) {
		t.Fatal("new key with a value must differ")
	}
}

func TestEqualProfileLooseLeaves(t *testing.T) {
	if !EqualProfile(map[string]any{"n": float64(5)}, map[string]any{"n": "5"}) {
		t.Fatal("numeric string equals number")
	}
	if !EqualProfile(map[string]any{"arr": []any{float64(1)}}, map[string]any{"arr": []any{"1"}}) {
		t.Fatal("array elements compare recursively")
	}
	if EqualProfile(map[string]any{"arr": []any{"1"}}, map[string]any{"arr": []any{"1", "2"}}) {
		t.Fatal("arrays of different length differ")
	}
}
