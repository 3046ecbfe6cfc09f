package storage

import (
	"context"
	"time"

	"clinicqueue/internal/metrics"
	"clinicqueue/internal/models"
)

const saveTimeout = 5 * time.Second

// Store reads and writes the queue snapshot document.
type Store interface {
	// Load returns nil, nil when nothing has been stored yet.
	Load(ctx context.Context) (*models.State, error)
	Save(ctx context.Context, state models.State) error
}

// SyncPersister writes the snapshot before the mutating call returns, so a
// failed write reaches the caller.
type SyncPersister struct {
	store Store
}

func NewSyncPersister(store Store) *SyncPersister {
	return &SyncPersister{store: store}
}

func (p *SyncPersister) Persist(ctx context.Context, state models.State) error {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	if err := p.store.Save(ctx, state); err != nil {
		metrics.IncSnapshotWrite("error")
		return err
	}
	metrics.IncSnapshotWrite("ok")
	return nil
}
