package sqlitestore

import (
	"context"
	"testing"

	"perch/internal/model"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func postRec(typ, id, author, ts string) model.Record {
	return model.Record{Type: typ, Data: &model.Post{
		ID:          id,
		Text:        "t" + id,
		TimestampMS: ts,
		Author:      model.Profile{"id_str": author},
	}}
}

func TestWriteQueuePosts(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	counts, err := db.WriteQueue(ctx, []model.Record{
		postRec(model.RecUserTweet, "100", "42", "1700000000000"),
		postRec(model.RecOtherTweet, "90", "9", "1700000000001"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if counts[model.RecUserTweet] != 1 || counts[model.RecOtherTweet] != 1 {
		t.Fatalf("counts = %v", counts)
	}
	for _, id := range []string{"100", "90"} {
		has, err := db.HasPost(ctx, id)
		if err != nil || !has {
			t.Fatalf("HasPost(%s) = %v, %v", id, has, err)
		}
	}
	if has, _ := db.HasPost(ctx, "404"); has {
		t.Fatal("unknown post reported present")
	}

	// Re-writing a post with its timestamp already set changes nothing.
	counts, err = db.WriteQueue(ctx, []model.Record{
		postRec(model.RecUserTweet, "100", "42", "1700000000000"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if counts[model.RecUserTweet] != 0 {
		t.Fatalf("duplicate post counted as a change: %v", counts)
	}
}

func TestWriteQueueUpgradesTimestamplessPost(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	if _, err := db.WriteQueue(ctx, []model.Record{
		postRec(model.RecOtherTweet, "50", "9", ""),
	}); err != nil {
		t.Fatal(err)
	}
	counts, err := db.WriteQueue(ctx, []model.Record{
		postRec(model.RecOtherTweet, "50", "9", "1700000000000"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if counts[model.RecOtherTweet] != 1 {
		t.Fatal("a timestamped copy should replace the timestampless row")
	}
	var ts string
	row := db.sql.QueryRow(`SELECT ts_ms FROM posts WHERE id='50'`)
	if err := row.Scan(&ts); err != nil || ts != "1700000000000" {
		t.Fatalf("ts_ms = %q, %v", ts, err)
	}
}

func TestWriteQueueDeleteTombstone(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	if _, err := db.WriteQueue(ctx, []model.Record{
		postRec(model.RecUserTweet, "100", "42", "1700000000000"),
		{Type: model.RecDelete, Data: model.DeleteData{PostID: "100", TimestampMS: "1700000001000"}},
	}); err != nil {
		t.Fatal(err)
	}
	var deleted int
	row := db.sql.QueryRow(`SELECT deleted FROM posts WHERE id='100'`)
	if err := row.Scan(&deleted); err != nil || deleted != 1 {
		t.Fatalf("deleted = %d, %v", deleted, err)
	}
	var events int
	row = db.sql.QueryRow(`SELECT count(*) FROM events WHERE type='delete' AND post_id='100'`)
	if err := row.Scan(&events); err != nil || events != 1 {
		t.Fatalf("delete events = %d, %v", events, err)
	}
}

func TestWriteQueueFavoriteEvents(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	_, err := db.WriteQueue(ctx, []model.Record{
		{Type: model.RecFavorite, Data: model.FavoriteData{PostID: "100", TimestampMS: "1"}},
		{Type: model.RecUnfavorite, Data: model.FavoriteData{PostID: "100", TimestampMS: "2"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	var n int
	row := db.sql.QueryRow(`SELECT count(*) FROM events WHERE post_id='100'`)
	if err := row.Scan(&n); err != nil || n != 2 {
		t.Fatalf("events = %d, %v", n, err)
	}
}

func TestWriteQueueUserSetReplaces(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	write := func(ids ...string) {
		t.Helper()
		_, err := db.WriteQueue(ctx, []model.Record{
			{Type: model.RecUserSet, Data: model.UserSetData{Kind: model.SetFollowing, IDs: ids}},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	write("1", "2")
	write("3")
	got, err := db.GetUserSet(ctx, model.SetFollowing)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "3" {
		t.Fatalf("user_set = %v, want full replacement [3]", got)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	if v, err := db.GetConfig(ctx, "cursor:user"); err != nil || v != "" {
		t.Fatalf("missing key = %q, %v", v, err)
	}
	if err := db.SetConfig(ctx, "cursor:user", `{"since_id":"80"}`); err != nil {
		t.Fatal(err)
	}
	if err := db.SetConfig(ctx, "cursor:user", `{"since_id":"80","max_id":"100"}`); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetConfig(ctx, "cursor:user")
	if err != nil || v != `{"since_id":"80","max_id":"100"}` {
		t.Fatalf("config = %q, %v", v, err)
	}
}

func TestWriteQueueRollsBackOnBadRecord(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	_, err := db.WriteQueue(ctx, []model.Record{
		postRec(model.RecUserTweet, "100", "42", "1700000000000"),
		{Type: "bogus", Data: nil},
	})
	if err == nil {
		t.Fatal("unknown record type must fail the batch")
	}
	if has, _ := db.HasPost(ctx, "100"); has {
		t.Fatal("a failed batch must leave no partial writes")
	}
}

func TestProfileUpsert(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	prof := model.Profile{"id_str": "9", "name": "Alice", "screen_name": "alice"}
	if _, err := db.WriteQueue(ctx, []model.Record{{Type: model.RecUser, Data: prof}}); err != nil {
		t.Fatal(err)
	}
	prof2 := model.Profile{"id_str": "9", "name": "Alicia", "screen_name": "alice"}
	if _, err := db.WriteQueue(ctx, []model.Record{{Type: model.RecUser, Data: prof2}}); err != nil {
		t.Fatal(err)
	}
	var name string
	row := db.sql.QueryRow(`SELECT name FROM profiles WHERE id='9'`)
	if err := row.Scan(&name); err != nil || name != "Alicia" {
		t.Fatalf("name = %q, %v", name, err)
	}
}
