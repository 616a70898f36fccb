package engine

import (
	"context"
	"fmt"
	"time"

	"perch/internal/backfill"
	"perch/internal/cache"
	"perch/internal/classify"
	"perch/internal/config"
	"perch/internal/logging"
	"perch/internal/model"
	"perch/internal/queue"
	"perch/internal/store"
	"perch/internal/stream"
)

const windowStateKey = "rate:window"

// Client is the upstream API surface the engine consumes.
type Client interface {
	backfill.Source
	MemberIDs(ctx context.Context, kind model.SetKind, userID string) ([]string, error)
	Verify(ctx context.Context) (model.Profile, error)
}

// Engine owns the shared state of one tracked account: the profile and
// post caches, membership sets, timeline cursors, and rate window. It runs
// the two producers (stream, backfill) against that state, and all
// stream-driven mutations funnel through one consumer loop.
type Engine struct {
	cfg    config.Config
	userID string
	st     store.Store
	client Client

	sets  *model.Sets
	cache *cache.Cache
	cls   *classify.Engine
	q     *queue.Queue
	win   *backfill.Window
	sched *backfill.Scheduler
	sup   *stream.Supervisor

	bus         chan stream.Event
	refreshDone chan struct{}
	refreshing  bool
	pending     bool
}

// New verifies credentials, recovers persisted state, and assembles the
// engine. Credential failure is fatal: the caller should exit and let the
// process supervisor apply its relaunch policy.
func New(ctx context.Context, cfg config.Config, st store.Store, client Client) (*Engine, error) {
	me, err := client.Verify(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify credentials: %w", err)
	}
	userID := cfg.Account.UserID
	if userID == "" {
		userID = me.ID()
	}
	if userID == "" {
		return nil, fmt.Errorf("cannot determine tracked account ID")
	}

	e := &Engine{
		cfg:         cfg,
		userID:      userID,
		st:          st,
		client:      client,
		sets:        model.NewSets(),
		cache:       cache.New(),
		bus:         make(chan stream.Event, 256),
		refreshDone: make(chan struct{}, 1),
	}
	e.cls = classify.New(userID, e.sets, cfg.Policy)
	// The queue outlives the run context so the final drain can finish
	// after a shutdown signal.
	e.q = queue.New(context.WithoutCancel(ctx), cfg.Queue.BatchSize, e.writeBatch)
	e.win = backfill.NewWindow(time.Duration(cfg.API.WindowMinutes)*time.Minute, cfg.API.Budgets)
	if snap, err := st.GetConfig(ctx, windowStateKey); err == nil {
		e.win.Restore(snap)
	}
	e.sched = backfill.NewScheduler(userID, e.cls, e.cache, st, client, e.win, e.enqueue, cfg.API.PageSize)
	if err := e.sched.LoadCursors(ctx); err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	for _, kind := range model.SetKinds {
		ids, err := st.GetUserSet(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("load %s set: %w", kind, err)
		}
		e.sets.Replace(kind, ids)
	}
	e.sup = stream.NewSupervisor(cfg.API.StreamURL, func(ev stream.Event) { e.bus <- ev })
	return e, nil
}

func (e *Engine) writeBatch(ctx context.Context, recs []model.Record) error {
	counts, err := e.st.WriteQueue(ctx, recs)
	if err != nil {
		return err
	}
	fields := make(map[string]any, len(counts))
	for k, v := range counts {
		fields[k] = v
	}
	logging.Debug("write_batch", fields)
	return nil
}

// enqueue runs classifier output through the dedup pipeline and pushes the
// survivors onto the write queue. Display lines go to logging, profile
// splits may add user records, and the post cache gates re-emission.
func (e *Engine) enqueue(recs []model.Record) {
	out := make([]model.Record, 0, len(recs))
	for _, r := range recs {
		switch r.Type {
		case model.RecDisplay:
			if s, ok := r.Data.(string); ok {
				logging.Display(s)
			}
		case model.RecUserTweet, model.RecOtherTweet:
			p, ok := r.Data.(*model.Post)
			if !ok {
				continue
			}
			if prof, changed := e.cache.UpdateProfile(p); changed {
				out = append(out, model.Record{Type: model.RecUser, Data: prof})
			}
			if e.cache.UpdatePost(p, false) {
				out = append(out, r)
			}
		default:
			out = append(out, r)
		}
	}
	if len(out) > 0 {
		e.q.Push(out...)
	}
}

// Pause and Resume gate the write-queue drain, driven by the supervision
// layer's pause/resume control.
func (e *Engine) Pause()  { e.q.Pause() }
func (e *Engine) Resume() { e.q.Resume() }

// RefreshMembership replaces all four membership sets from the cursored
// listings and persists them.
func (e *Engine) RefreshMembership(ctx context.Context) error {
	for _, kind := range model.SetKinds {
		ids, err := e.client.MemberIDs(ctx, kind, e.userID)
		if err != nil {
			return fmt.Errorf("list %s: %w", kind, err)
		}
		e.sets.Replace(kind, ids)
		e.persistSet(kind)
	}
	return nil
}

func (e *Engine) persistSet(kind model.SetKind) {
	e.q.Push(model.Record{Type: model.RecUserSet, Data: model.UserSetData{
		Kind: kind,
		IDs:  e.sets.IDs(kind),
	}})
}

// Run drives the engine until ctx is cancelled: the window timer and the
// streaming supervisor run as background activities, stream events and
// refresh triggers are consumed here one at a time.
func (e *Engine) Run(ctx context.Context) error {
	go e.win.Run(ctx)
	go func() {
		if err := e.sup.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Error("stream_supervisor", map[string]any{"error": err.Error()})
		}
	}()

	if len(e.sets.IDs(model.SetFollowing)) == 0 {
		if err := e.RefreshMembership(ctx); err != nil {
			logging.Warn("membership_refresh", map[string]any{"error": err.Error()})
		}
	}
	e.triggerRefresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return e.shutdown(context.WithoutCancel(ctx))
		case ev := <-e.bus:
			e.handleStream(ctx, ev)
		case <-e.win.Ticks():
			e.saveWindow(ctx)
			e.triggerRefresh(ctx)
		case <-e.refreshDone:
			e.refreshing = false
			// Budget spent by the refresh must survive a crash-restart.
			e.saveWindow(ctx)
			if e.pending {
				e.pending = false
				e.triggerRefresh(ctx)
			}
		}
	}
}

func (e *Engine) saveWindow(ctx context.Context) {
	if err := e.st.SetConfig(ctx, windowStateKey, e.win.Snapshot()); err != nil {
		logging.Warn("window_save", map[string]any{"error": err.Error()})
	}
}

// triggerRefresh starts a refresh unless one is already running, in which
// case a single pending flag re-arms it.
func (e *Engine) triggerRefresh(ctx context.Context) {
	if e.refreshing {
		e.pending = true
		return
	}
	e.refreshing = true
	go func() {
		complete, err := e.sched.Refresh(ctx)
		if err != nil {
			logging.Error("refresh", map[string]any{"error": err.Error()})
		} else if complete {
			logging.Info("refresh_complete", map[string]any{"cached_posts": e.cache.PostCount()})
		} else {
			logging.Info("refresh_waiting", map[string]any{"reason": "budget or errors"})
		}
		e.refreshDone <- struct{}{}
	}()
}

// shutdown lets the in-flight refresh and queue drain finish, then persists
// the window state. The stream and timers stop via context cancellation;
// ctx here is detached from the cancelled run context.
func (e *Engine) shutdown(ctx context.Context) error {
	if e.refreshing {
		<-e.refreshDone
	}
	e.q.Wait()
	e.saveWindow(ctx)
	logging.Info("engine_stopped", nil)
	return nil
}

func (e *Engine) handleStream(ctx context.Context, ev stream.Event) {
	if ev.Post != nil {
		classify.Normalize(ev.Post)
	}
	switch ev.Kind {
	case stream.KindFriends:
		e.sets.Replace(model.SetFollowing, ev.FriendIDs)
		e.persistSet(model.SetFollowing)

	case stream.KindFollow:
		if ev.Source.ID() == e.userID {
			e.sets.Add(model.SetFollowing, ev.Target.ID())
			e.persistSet(model.SetFollowing)
		} else if ev.Target.ID() == e.userID {
			e.sets.Add(model.SetFollower, ev.Source.ID())
			e.persistSet(model.SetFollower)
		}

	case stream.KindUnfollow:
		if ev.Source.ID() == e.userID {
			e.sets.Remove(model.SetFollowing, ev.Target.ID())
			e.persistSet(model.SetFollowing)
		}

	case stream.KindBlock:
		e.sets.Add(model.SetBlocked, ev.Target.ID())
		e.persistSet(model.SetBlocked)
	case stream.KindUnblock:
		e.sets.Remove(model.SetBlocked, ev.Target.ID())
		e.persistSet(model.SetBlocked)
	case stream.KindMute:
		e.sets.Add(model.SetMuted, ev.Target.ID())
		e.persistSet(model.SetMuted)
	case stream.KindUnmute:
		e.sets.Remove(model.SetMuted, ev.Target.ID())
		e.persistSet(model.SetMuted)

	case stream.KindFavorite:
		e.enqueue(e.cls.ClassifyFavorite(ev.Source, ev.Post, ev.TimestampMS, false, false))
	case stream.KindUnfavorite:
		e.enqueue(e.cls.ClassifyFavorite(ev.Source, ev.Post, ev.TimestampMS, true, false))

	case stream.KindQuoted:
		if ev.Post != nil {
			e.sched.CollectReply(ctx, ev.Post)
			e.enqueue(e.cls.Classify(ev.Post, false))
		}

	case stream.KindDelete:
		// Tombstone the cache entry so the post cannot be re-emitted, then
		// record the deletion.
		e.cache.UpdatePost(&model.Post{ID: ev.PostID}, true)
		e.q.Push(model.Record{Type: model.RecDelete, Data: model.DeleteData{
			PostID:      ev.PostID,
			AuthorID:    ev.UserID,
			TimestampMS: ev.TimestampMS,
		}})
		logging.Display(fmt.Sprintf("delete of post %s by %s", ev.PostID, ev.UserID))

	case stream.KindStatus:
		if ev.Post != nil {
			e.sched.CollectReply(ctx, ev.Post)
			e.enqueue(e.cls.Classify(ev.Post, false))
		}

	default:
		logging.Debug("stream_ignored", map[string]any{"kind": ev.Kind})
	}
}
