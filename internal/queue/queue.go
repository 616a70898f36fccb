package queue

import (
	"context"
	"sync"
	"time"

	"perch/internal/logging"
	"perch/internal/metrics"
	"perch/internal/model"
)

// DefaultBatchSize is how many records one storage write carries.
const DefaultBatchSize = 1000

// Sink is the storage collaborator's batched write operation.
type Sink func(ctx context.Context, recs []model.Record) error

// Queue buffers classified records and drains them in fixed-size batches.
// At most one drain is in flight; records arriving mid-drain join the same
// drain or the immediately following one. Records leave the buffer only
// after their batch is written, so a failed write leaves them queued for
// the next drain attempt. A paused queue accumulates without draining.
type Queue struct {
	mu        sync.Mutex
	buf       []model.Record
	draining  bool
	paused    bool
	batchSize int
	sink      Sink
	ctx       context.Context
	wg        sync.WaitGroup
}

func New(ctx context.Context, batchSize int, sink Sink) *Queue {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Queue{batchSize: batchSize, sink: sink, ctx: ctx}
}

// Push appends records in order and schedules a drain if none is running.
func (q *Queue) Push(recs ...model.Record) {
	if len(recs) == 0 {
		return
	}
	for _, r := range recs {
		metrics.RecordsQueued.WithLabelValues(r.Type).Inc()
	}
	q.mu.Lock()
	q.buf = append(q.buf, recs...)
	start := !q.draining && !q.paused
	if start {
		q.draining = true
		q.wg.Add(1)
	}
	q.mu.Unlock()
	if start {
		go q.drain()
	}
}

// Pause closes the drain gate; records keep accumulating.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume reopens the gate and flushes the backlog in one drain.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	start := !q.draining && len(q.buf) > 0
	if start {
		q.draining = true
		q.wg.Add(1)
	}
	q.mu.Unlock()
	if start {
		go q.drain()
	}
}

// Len reports the buffered record count.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := len(q.buf)
	q.mu.Unlock()
	return n
}

// Wait blocks until no drain is in flight, for a clean shutdown after the
// producers have stopped.
func (q *Queue) Wait() { q.wg.Wait() }

func (q *Queue) drain() {
	defer q.wg.Done()
	start := time.Now()
	defer metrics.ObserveDrainDuration(start)
	for {
		q.mu.Lock()
		if q.paused || len(q.buf) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		n := len(q.buf)
		if n > q.batchSize {
			n = q.batchSize
		}
		batch := make([]model.Record, n)
		copy(batch, q.buf[:n])
		q.mu.Unlock()

		if err := q.sink(q.ctx, batch); err != nil {
			// Batch stays buffered; the next Push or Resume retries it.
			logging.Error("queue_drain", map[string]any{"error": err.Error(), "batch": n})
			q.mu.Lock()
			q.draining = false
			q.mu.Unlock()
			return
		}
		metrics.RecordsWritten.Add(float64(n))
		q.mu.Lock()
		q.buf = q.buf[n:]
		q.mu.Unlock()
	}
}
