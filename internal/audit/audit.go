// Package audit implements the audit queue of spec §4.M: an async
// batch-flush mode and a synchronous mode, mirroring the teacher's
// goroutine-plus-stop-channel shutdown pattern from cmd/releaseparty-api.
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mdplane/internal/store"
)

const (
	flushInterval = 100 * time.Millisecond
	maxBatch      = 50
)

// Queue buffers audit entries in memory and flushes them on a timer or
// when the batch fills, per spec §4.M.
type Queue struct {
	store    *store.Store
	log      *zap.Logger
	testMode bool

	mu      sync.Mutex
	pending []store.AuditEntry

	stop chan struct{}
	done chan struct{}
}

func New(s *store.Store, log *zap.Logger, testMode bool) *Queue {
	return &Queue{
		store:    s,
		log:      log,
		testMode: testMode,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background flush loop. Call Stop to drain and exit.
func (q *Queue) Start() {
	go q.run()
}

func (q *Queue) run() {
	defer close(q.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.flush()
		case <-q.stop:
			q.flush()
			return
		}
	}
}

// Stop signals the flush loop to drain remaining entries and exit, blocking
// until it has.
func (q *Queue) Stop() {
	close(q.stop)
	<-q.done
}

// Enqueue buffers an entry for the next periodic flush. Best effort: a
// flush failure is logged, not returned to the caller.
func (q *Queue) Enqueue(e store.AuditEntry) {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	full := len(q.pending) >= maxBatch
	q.mu.Unlock()
	if full {
		q.flush()
	}
}

func (q *Queue) flush() {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := q.store.InsertAuditEntriesBatch(ctx, batch); err != nil {
		if q.testMode && isForeignKeyViolation(err) {
			return
		}
		if q.log != nil {
			q.log.Warn("audit flush failed", zap.Int("batch_size", len(batch)), zap.Error(err))
		}
		// one retry on a transient failure; a flush that fails twice drops
		// the batch rather than growing the buffer unbounded.
		if err := q.store.InsertAuditEntriesBatch(ctx, batch); err != nil && q.log != nil {
			q.log.Error("audit flush retry failed, dropping batch", zap.Error(err))
		}
	}
}

// Sync writes a single entry immediately, for operations whose audit trail
// must survive a crash.
func (q *Queue) Sync(ctx context.Context, e store.AuditEntry) error {
	return q.store.InsertAuditEntry(ctx, e)
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
