package storage

import (
	"context"
	"errors"
	"sync"

	"clinicqueue/internal/metrics"
	"clinicqueue/internal/models"

	"github.com/rs/zerolog"
)

// ErrWriterClosed is returned by Persist after Close.
var ErrWriterClosed = errors.New("snapshot writer closed")

// AsyncWriter persists snapshots from a single background goroutine.
// Only the newest pending snapshot is kept, so writes land in mutation order
// and an older state can never overwrite a newer one.
type AsyncWriter struct {
	store  Store
	logger *zerolog.Logger

	mu      sync.Mutex
	pending *models.State
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewAsyncWriter starts the writer goroutine. Call Close to flush and stop it.
func NewAsyncWriter(store Store, logger *zerolog.Logger) *AsyncWriter {
	w := &AsyncWriter{
		store:  store,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Persist queues state for writing and returns immediately. Write failures
// are logged and counted, never returned.
func (w *AsyncWriter) Persist(_ context.Context, state models.State) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	w.pending = &state
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close writes any pending snapshot and stops the goroutine.
func (w *AsyncWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return nil
	}
	w.closed = true
	close(w.wake)
	w.mu.Unlock()

	<-w.done
	return nil
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for range w.wake {
		w.flush()
	}
	w.flush()
}

func (w *AsyncWriter) flush() {
	w.mu.Lock()
	state := w.pending
	w.pending = nil
	w.mu.Unlock()

	if state == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := w.store.Save(ctx, *state); err != nil {
		metrics.IncSnapshotWrite("error")
		w.logger.Error().Err(err).Int("current", state.CurrentNumber).Msg("Snapshot write failed")
		return
	}
	metrics.IncSnapshotWrite("ok")
}
