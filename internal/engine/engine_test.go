package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"perch/internal/config"
	"perch/internal/model"
	"perch/internal/store"
	"perch/internal/stream"
)

type fakeStore struct {
	mu      sync.Mutex
	config  map[string]string
	sets    map[model.SetKind][]string
	written []model.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{config: map[string]string{}, sets: map[model.SetKind][]string{}}
}

func (f *fakeStore) WriteQueue(ctx context.Context, recs []model.Record) (store.Counts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, recs...)
	return store.Counts{}, nil
}
func (f *fakeStore) GetUserSet(_ context.Context, kind model.SetKind) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets[kind], nil
}
func (f *fakeStore) GetConfig(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config[key], nil
}
func (f *fakeStore) SetConfig(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config[key] = value
	return nil
}
func (f *fakeStore) HasPost(context.Context, string) (bool, error) { return false, nil }
func (f *fakeStore) Close() error                                  { return nil }

func (f *fakeStore) countType(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.written {
		if r.Type == typ {
			n++
		}
	}
	return n
}

type fakeClient struct {
	me      model.Profile
	members map[model.SetKind][]string
}

func (f *fakeClient) TimelinePage(context.Context, model.TimelineKind, string, string, string, int) ([]*model.Post, error) {
	return nil, nil
}
func (f *fakeClient) LookupPosts(context.Context, []string) ([]*model.Post, error) {
	return nil, nil
}
func (f *fakeClient) MemberIDs(_ context.Context, kind model.SetKind, _ string) ([]string, error) {
	return f.members[kind], nil
}
func (f *fakeClient) Verify(context.Context) (model.Profile, error) { return f.me, nil }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.API.Budgets = nil
	cfg.API.StreamURL = "ws://127.0.0.1:1/stream"
	return cfg
}

func newTestEngine(t *testing.T, st *fakeStore) *Engine {
	t.Helper()
	client := &fakeClient{me: model.Profile{"id_str": "42", "screen_name": "me"}}
	e, err := New(context.Background(), testConfig(), st, client)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestNewResolvesUserIDFromCredentials(t *testing.T) {
	e := newTestEngine(t, newFakeStore())
	if e.userID != "42" {
		t.Fatalf("userID = %q, want the verified account", e.userID)
	}
}

func TestEnqueueSplitsProfileAndDedups(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st)
	p := &model.Post{
		ID:          "100",
		Text:        "hello",
		TimestampMS: "1700000000000",
		Author:      model.Profile{"id_str": "42", "screen_name": "me", "name": "Me"},
	}
	e.enqueue([]model.Record{{Type: model.RecUserTweet, Data: p}})
	e.q.Wait()

	if st.countType(model.RecUser) != 1 {
		t.Fatal("first sighting should split out a user record")
	}
	if st.countType(model.RecUserTweet) != 1 {
		t.Fatal("the post itself should be written")
	}

	// The same post again is fully absorbed by the dedup cache.
	again := &model.Post{
		ID:          "100",
		Text:        "hello",
		TimestampMS: "1700000000000",
		Author:      model.Profile{"id_str": "42", "screen_name": "me", "name": "Me"},
	}
	e.enqueue([]model.Record{{Type: model.RecUserTweet, Data: again}})
	e.q.Wait()
	if st.countType(model.RecUserTweet) != 1 || st.countType(model.RecUser) != 1 {
		t.Fatalf("duplicate re-emitted: %d posts, %d users",
			st.countType(model.RecUserTweet), st.countType(model.RecUser))
	}
}

func TestHandleStreamMembership(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st)
	ctx := context.Background()

	e.handleStream(ctx, stream.Event{Kind: stream.KindFriends, FriendIDs: []string{"7", "8"}})
	if !e.sets.Has(model.SetFollowing, "7") || !e.sets.Has(model.SetFollowing, "8") {
		t.Fatal("friends seed should replace the following set")
	}

	e.handleStream(ctx, stream.Event{
		Kind:   stream.KindFollow,
		Source: model.Profile{"id_str": "42"},
		Target: model.Profile{"id_str": "9"},
	})
	if !e.sets.Has(model.SetFollowing, "9") {
		t.Fatal("own follow should add to following")
	}

	e.handleStream(ctx, stream.Event{
		Kind:   stream.KindFollow,
		Source: model.Profile{"id_str": "9"},
		Target: model.Profile{"id_str": "42"},
	})
	if !e.sets.Has(model.SetFollower, "9") {
		t.Fatal("being followed should add to followers")
	}

	e.handleStream(ctx, stream.Event{
		Kind:   stream.KindUnfollow,
		Source: model.Profile{"id_str": "42"},
		Target: model.Profile{"id_str": "9"},
	})
	if e.sets.Has(model.SetFollowing, "9") {
		t.Fatal("unfollow should remove from following")
	}

	e.q.Wait()
	if st.countType(model.RecUserSet) != 4 {
		t.Fatalf("every mutation persists the full set, got %d", st.countType(model.RecUserSet))
	}
}

func TestHandleStreamDeleteTombstones(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st)
	ctx := context.Background()

	e.handleStream(ctx, stream.Event{Kind: stream.KindDelete, PostID: "100", UserID: "9", TimestampMS: "1"})
	e.q.Wait()
	if st.countType(model.RecDelete) != 1 {
		t.Fatal("delete record not written")
	}

	// The tombstone blocks a later arrival of the deleted post.
	late := &model.Post{
		ID: "100", Text: "resurrected", TimestampMS: "2",
		Author: model.Profile{"id_str": "9", "screen_name": "other"},
	}
	e.enqueue([]model.Record{{Type: model.RecOtherTweet, Data: late}})
	e.q.Wait()
	if st.countType(model.RecOtherTweet) != 0 {
		t.Fatal("a tombstoned post must not be re-emitted")
	}
}

func TestHandleStreamStatusNormalizes(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st)
	p := &model.Post{
		ID:        "100",
		Text:      "short…",
		Truncated: true,
		CreatedAt: "Mon Jan 02 15:04:05 +0000 2006",
		Author:    model.Profile{"id_str": "42", "screen_name": "me"},
		Extended:  &model.ExtendedPost{FullText: "the whole thing"},
	}
	e.handleStream(context.Background(), stream.Event{Kind: stream.KindStatus, Post: p})
	e.q.Wait()

	st.mu.Lock()
	defer st.mu.Unlock()
	for _, r := range st.written {
		if r.Type != model.RecUserTweet {
			continue
		}
		got := r.Data.(*model.Post)
		if got.Text != "the whole thing" {
			t.Fatalf("stream status not normalized: %q", got.Text)
		}
		if got.TimestampMS == "" {
			t.Fatal("timestamp should be derived before writing")
		}
		return
	}
	t.Fatal("status never reached the store")
}

func TestRunShutdownDrains(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(t, st)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	st.mu.Lock()
	snap := st.config[windowStateKey]
	st.mu.Unlock()
	if snap == "" {
		t.Fatal("window state must be persisted by shutdown")
	}
}

func TestQueuedWritesSurviveCancel(t *testing.T) {
	st := newFakeStore()
	client := &fakeClient{me: model.Profile{"id_str": "42", "screen_name": "me"}}
	ctx, cancel := context.WithCancel(context.Background())
	e, err := New(ctx, testConfig(), st, client)
	if err != nil {
		t.Fatal(err)
	}

	// A shutdown signal must not fail the final drain's store writes.
	cancel()
	p := &model.Post{
		ID: "100", Text: "last words", TimestampMS: "1700000000000",
		Author: model.Profile{"id_str": "42", "screen_name": "me"},
	}
	e.enqueue([]model.Record{{Type: model.RecUserTweet, Data: p}})
	e.q.Wait()

	if st.countType(model.RecUserTweet) != 1 {
		t.Fatal("records queued at shutdown were dropped")
	}
}
