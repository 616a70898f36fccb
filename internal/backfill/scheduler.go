package backfill

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"perch/internal/cache"
	"perch/internal/classify"
	"perch/internal/ident"
	"perch/internal/logging"
	"perch/internal/metrics"
	"perch/internal/model"
	"perch/internal/store"
)

// DefaultPageSize is the per-page item count requested from timelines.
const DefaultPageSize = 200

// Source is the slice of the REST client the scheduler consumes.
type Source interface {
	TimelinePage(ctx context.Context, kind model.TimelineKind, userID, sinceID, maxID string, count int) ([]*model.Post, error)
	LookupPosts(ctx context.Context, ids []string) ([]*model.Post, error)
}

// kindState is one timeline's cycle bookkeeping. cursor is the persisted
// range; newMax/low are the cycle-wide candidates tracked across pages.
type kindState struct {
	cursor   model.Cursor
	prevMax  string
	complete bool
	persist  bool
	err      error
	newMax   string
	low      string
	records  []model.Record
}

// Scheduler paginates the three REST timelines under the sliding window
// budget, feeding each page through the classifier and collecting reply
// ancestors for batched resolution. Incomplete cycles resume on the next
// window tick without re-fetching completed kinds.
type Scheduler struct {
	userID   string
	actor    model.Profile
	cls      *classify.Engine
	cache    *cache.Cache
	st       store.Store
	src      Source
	win      *Window
	sink     func(recs []model.Record)
	pageSize int

	mu          sync.Mutex
	running     bool
	cycleActive bool
	kinds       map[model.TimelineKind]*kindState
	replySet    map[string]struct{}
}

func NewScheduler(userID string, cls *classify.Engine, c *cache.Cache, st store.Store, src Source, win *Window, sink func([]model.Record), pageSize int) *Scheduler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	s := &Scheduler{
		userID:   userID,
		actor:    model.Profile{"id_str": userID},
		cls:      cls,
		cache:    c,
		st:       st,
		src:      src,
		win:      win,
		sink:     sink,
		pageSize: pageSize,
		kinds:    make(map[model.TimelineKind]*kindState, len(model.TimelineKinds)),
		replySet: make(map[string]struct{}),
	}
	for _, k := range model.TimelineKinds {
		s.kinds[k] = &kindState{}
	}
	return s
}

func cursorKey(kind model.TimelineKind) string { return "cursor:" + string(kind) }

// LoadCursors recovers persisted timeline cursors at startup.
func (s *Scheduler) LoadCursors(ctx context.Context) error {
	for kind, ks := range s.kinds {
		v, err := s.st.GetConfig(ctx, cursorKey(kind))
		if err != nil {
			return err
		}
		if v == "" {
			continue
		}
		if err := json.Unmarshal([]byte(v), &ks.cursor); err != nil {
			logging.Warn("cursor_parse", map[string]any{"kind": string(kind), "error": err.Error()})
		}
	}
	return nil
}

// Cursor returns the current cursor for a kind (tests, stats).
func (s *Scheduler) Cursor(kind model.TimelineKind) model.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kinds[kind].cursor
}

// Refresh runs one refresh attempt. It fetches all not-yet-complete kinds
// concurrently, joins them, then queues the cycle's records. Returns true
// when the whole cycle (all kinds plus the reply set) finished; false means
// the cycle waits for the next window tick. Overlapping calls are ignored.
func (s *Scheduler) Refresh(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false, nil
	}
	s.running = true
	if !s.cycleActive {
		s.cycleActive = true
		for _, ks := range s.kinds {
			ks.complete = false
			ks.persist = false
			ks.err = nil
			ks.prevMax = ks.cursor.MaxID
			ks.newMax = ks.cursor.MaxID
			ks.low = ""
			ks.records = nil
		}
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	metrics.RefreshRuns.Inc()

	var wg sync.WaitGroup
	for kind, ks := range s.kinds {
		if ks.complete {
			continue
		}
		wg.Add(1)
		go func(kind model.TimelineKind, ks *kindState) {
			defer wg.Done()
			s.fetchKind(ctx, kind, ks)
		}(kind, ks)
	}
	wg.Wait()

	// Joined: queue this attempt's writes and persist cursors for kinds
	// that just completed with a grown max_id.
	allComplete := true
	for kind, ks := range s.kinds {
		if len(ks.records) > 0 {
			s.sink(ks.records)
			ks.records = nil
		}
		if !ks.complete {
			allComplete = false
			if ks.err != nil {
				logging.Warn("backfill_kind", map[string]any{"kind": string(kind), "error": ks.err.Error()})
			}
			continue
		}
		if ks.persist {
			continue
		}
		if ks.cursor.SinceID == "" {
			anchor := ks.low
			if anchor == "" {
				anchor = ks.newMax
			}
			ks.cursor.SinceID = anchor
		}
		grew := ident.CompareID(ks.newMax, ks.cursor.MaxID) > 0
		ks.cursor.MaxID = ident.MaxID(ks.cursor.MaxID, ks.newMax)
		if grew {
			b, _ := json.Marshal(ks.cursor)
			if err := s.st.SetConfig(ctx, cursorKey(kind), string(b)); err != nil {
				logging.Error("cursor_save", map[string]any{"kind": string(kind), "error": err.Error()})
			}
		}
		ks.persist = true
	}

	if !allComplete {
		metrics.RefreshIncomplete.Inc()
		return false, nil
	}

	if recs := s.resolveReplies(ctx); len(recs) > 0 {
		s.sink(recs)
	}
	if s.replyCount() > 0 {
		// Lookup budget ran out; the leftovers keep the refresh incomplete.
		metrics.RefreshIncomplete.Inc()
		return false, nil
	}

	s.evict()
	s.mu.Lock()
	s.cycleActive = false
	s.mu.Unlock()
	return true, nil
}

// fetchKind pages one timeline sequentially until it completes, errors, or
// exhausts its budget.
func (s *Scheduler) fetchKind(ctx context.Context, kind model.TimelineKind, ks *kindState) {
	for {
		if err := ctx.Err(); err != nil {
			ks.err = err
			return
		}
		if !s.win.Take(string(kind)) {
			metrics.BudgetDenied.WithLabelValues(string(kind)).Inc()
			return
		}
		pageMax := ks.low
		items, err := s.src.TimelinePage(ctx, kind, s.userID, ks.cursor.MaxID, pageMax, s.pageSize)
		metrics.PagesFetched.WithLabelValues(string(kind)).Inc()
		if err != nil {
			ks.err = err
			return
		}
		if len(items) == 0 {
			ks.complete = true
			return
		}
		// A lone boundary duplicate means no more history below pageMax.
		if len(items) == 1 && pageMax != "" && items[0].ID == pageMax {
			ks.complete = true
			return
		}
		for _, item := range items {
			if item == nil || item.ID == "" {
				metrics.ItemsDropped.Inc()
				logging.Warn("malformed_item", map[string]any{"kind": string(kind)})
				continue
			}
			classify.Normalize(item)
			s.CollectReply(ctx, item)
			if pageMax == "" || ident.CompareID(item.ID, pageMax) < 0 {
				// The favorites timeline lists posts the tracked user
				// favorited, not posts they authored.
				if kind == model.TimelineFavorites {
					ks.records = append(ks.records, s.cls.ClassifyFavorite(s.actor, item, "", false, true)...)
				} else {
					ks.records = append(ks.records, s.cls.Classify(item, true)...)
				}
			}
			ks.newMax = ident.MaxID(ks.newMax, item.ID)
			if ks.low == "" || ident.CompareID(item.ID, ks.low) < 0 {
				ks.low = item.ID
			}
		}
	}
}

// CollectReply adds a post's unresolved reply ancestor to the backfill set.
// Both the paginated timelines and live stream statuses feed it.
func (s *Scheduler) CollectReply(ctx context.Context, p *model.Post) {
	rid := s.cls.CheckReply(p)
	if rid == "" || s.cache.HasPost(rid) {
		return
	}
	if has, err := s.st.HasPost(ctx, rid); err == nil && has {
		return
	}
	s.mu.Lock()
	s.replySet[rid] = struct{}{}
	s.mu.Unlock()
}

// resolveReplies drains the reply backfill set in batches of at most 100
// under the lookup budget. A failed batch stays in the set for the next
// cycle; a successful one is removed even when the API omits some IDs
// (deleted ancestors would otherwise pin the set forever).
func (s *Scheduler) resolveReplies(ctx context.Context) []model.Record {
	var out []model.Record
	for s.replyCount() > 0 {
		if !s.win.Take(LookupBudget) {
			metrics.BudgetDenied.WithLabelValues(LookupBudget).Inc()
			break
		}
		// Snapshot a batch under the lock; the stream consumer adds to the
		// set concurrently.
		s.mu.Lock()
		batch := make([]string, 0, 100)
		for id := range s.replySet {
			batch = append(batch, id)
			if len(batch) == 100 {
				break
			}
		}
		s.mu.Unlock()
		sort.Strings(batch)
		items, err := s.src.LookupPosts(ctx, batch)
		if err != nil {
			logging.Warn("reply_lookup", map[string]any{"error": err.Error(), "ids": len(batch)})
			break
		}
		for _, p := range items {
			if p == nil || p.ID == "" {
				continue
			}
			out = append(out, s.cls.ClassifyReplyTarget(p, true)...)
		}
		s.mu.Lock()
		for _, id := range batch {
			delete(s.replySet, id)
		}
		s.mu.Unlock()
	}
	return out
}

func (s *Scheduler) replyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replySet)
}

// evict bounds the cache after a fully complete refresh: everything below
// the earliest of the kinds' pre-cycle lower bounds is droppable. A kind
// with no prior cursor leaves the cutoff unset and nothing is evicted.
func (s *Scheduler) evict() {
	cutoff := ""
	for _, ks := range s.kinds {
		if ks.prevMax == "" {
			return
		}
		cutoff = ident.MinID(cutoff, ks.prevMax)
	}
	s.cache.Evict(cutoff)
}
