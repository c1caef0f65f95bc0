package indexing

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const DefaultPollInterval = 30 * time.Second

var ErrBusy = errors.New("worker already draining")

// Worker drains the index queue on a background goroutine. At most one drain
// runs at a time per process.
type Worker struct {
	pipeline *Pipeline
	active   atomic.Bool
	wg       sync.WaitGroup

	mu      sync.Mutex
	baseCtx context.Context
}

func newWorker(p *Pipeline) *Worker {
	return &Worker{pipeline: p, baseCtx: context.Background()}
}

// Kick starts a drain unless one is already running. It never blocks.
func (w *Worker) Kick() {
	if !w.active.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.drain(w.context(), uuid.NewString())
	}()
}

// Drain processes the queue on the calling goroutine until it is empty.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	if !w.active.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	return w.drain(ctx, uuid.NewString()), nil
}

// Wait blocks until background drains started by Kick have finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Active reports whether a drain is in progress.
func (w *Worker) Active() bool {
	return w.active.Load()
}

// Run kicks the worker once and then every interval, so entries written by
// other processes are picked up. It returns when ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	w.mu.Lock()
	w.baseCtx = ctx
	w.mu.Unlock()

	w.Kick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Kick()
		}
	}
}

func (w *Worker) context() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.baseCtx
}

// drain must be entered holding the active flag. It releases the flag when the
// queue looks empty, then re-checks so an entry added in between is not missed.
func (w *Worker) drain(ctx context.Context, runID string) int {
	processed := 0
	defer func() {
		if processed > 0 {
			log.Printf("indexing: drain %s processed %d entries", runID, processed)
		}
	}()

	for {
		if ctx.Err() != nil {
			w.active.Store(false)
			return processed
		}
		more, err := w.pipeline.processNext(ctx)
		if err != nil {
			log.Printf("indexing: drain %s: %v", runID, err)
			w.active.Store(false)
			return processed
		}
		if more {
			processed++
			continue
		}

		w.active.Store(false)
		pending, err := w.pipeline.store.QueueLength(ctx)
		if err != nil {
			log.Printf("indexing: drain %s: queue length: %v", runID, err)
			return processed
		}
		if pending == 0 || !w.active.CompareAndSwap(false, true) {
			return processed
		}
	}
}
