package backfill

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// LookupBudget is the call kind covering batched post lookups.
const LookupBudget = "lookup"

// DefaultWindow is the wall-clock interval over which budgets reset.
const DefaultWindow = 15 * time.Minute

// Window tracks a per-call-kind request budget over a fixed wall-clock
// interval. Budgets decrement on every call attempt and never go below
// zero; Take refuses once a kind is exhausted. A tick is sent on each
// reset so an incomplete refresh can resume.
type Window struct {
	mu        sync.Mutex
	length    time.Duration
	limits    map[string]int
	remaining map[string]int
	resetAt   time.Time
	ticks     chan struct{}
}

func NewWindow(length time.Duration, limits map[string]int) *Window {
	if length <= 0 {
		length = DefaultWindow
	}
	w := &Window{
		length:    length,
		limits:    limits,
		remaining: make(map[string]int, len(limits)),
		resetAt:   time.Now().Add(length),
		ticks:     make(chan struct{}, 1),
	}
	for k, v := range limits {
		w.remaining[k] = v
	}
	return w
}

// Take consumes one budget slot for the call kind, reporting whether the
// call may be issued. Kinds without a configured limit are unlimited.
func (w *Window) Take(kind string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	limit, ok := w.limits[kind]
	if !ok || limit <= 0 {
		return true
	}
	if w.remaining[kind] <= 0 {
		return false
	}
	w.remaining[kind]--
	return true
}

// Remaining reports the unspent budget for a kind.
func (w *Window) Remaining(kind string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remaining[kind]
}

// Ticks delivers one signal per window reset.
func (w *Window) Ticks() <-chan struct{} { return w.ticks }

// Run resets budgets at each window boundary until ctx is cancelled.
func (w *Window) Run(ctx context.Context) {
	for {
		w.mu.Lock()
		d := time.Until(w.resetAt)
		w.mu.Unlock()
		if d < 0 {
			d = 0
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			w.reset()
			select {
			case w.ticks <- struct{}{}:
			default:
			}
		}
	}
}

func (w *Window) reset() {
	w.mu.Lock()
	for k, v := range w.limits {
		w.remaining[k] = v
	}
	w.resetAt = time.Now().Add(w.length)
	w.mu.Unlock()
}

type windowState struct {
	ResetAt   time.Time      `json:"reset_at"`
	Remaining map[string]int `json:"remaining"`
}

// Snapshot serializes the window state for persistence across restarts.
func (w *Window) Snapshot() string {
	w.mu.Lock()
	st := windowState{ResetAt: w.resetAt, Remaining: make(map[string]int, len(w.remaining))}
	for k, v := range w.remaining {
		st.Remaining[k] = v
	}
	w.mu.Unlock()
	b, _ := json.Marshal(st)
	return string(b)
}

// Restore adopts a persisted snapshot when its window is still open;
// a stale snapshot is ignored and the fresh budgets stand.
func (w *Window) Restore(s string) {
	if s == "" {
		return
	}
	var st windowState
	if err := json.Unmarshal([]byte(s), &st); err != nil {
		return
	}
	if time.Now().After(st.ResetAt) {
		return
	}
	w.mu.Lock()
	w.resetAt = st.ResetAt
	for k := range w.remaining {
		if v, ok := st.Remaining[k]; ok {
			if v < 0 {
				v = 0
			}
			w.remaining[k] = v
		}
	}
	w.mu.Unlock()
}
