package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"clinicqueue/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStore writes to a primary store (Redis) and switches to a fallback
// (local file) when the primary fails. While down, the primary is retried at
// most once per recoveryInterval.
//
// A marker file exists while the fallback holds writes the primary has not
// seen. Load prefers the fallback in that case and copies it back to the
// primary, so a restart after an outage does not resurrect a stale snapshot.
type FailoverStore struct {
	primary    Store
	fallback   Store
	markerPath string
	logger     *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	pending   bool
	now       func() time.Time
}

func NewFailoverStore(primary, fallback Store, markerPath string, logger *zerolog.Logger) *FailoverStore {
	s := &FailoverStore{
		primary:    primary,
		fallback:   fallback,
		markerPath: markerPath,
		logger:     logger,
		now:        time.Now,
	}
	if _, err := os.Stat(markerPath); err == nil {
		s.pending = true
	}
	return s
}

func (s *FailoverStore) Load(ctx context.Context) (*models.State, error) {
	if s.hasPending() {
		state, err := s.fallback.Load(ctx)
		if err == nil && state != nil {
			s.logger.Info().Msg("Fallback snapshot is newer than primary, restoring from it")
			if s.usePrimary() {
				if err := s.primary.Save(ctx, *state); err != nil {
					s.markDown(err, "load")
				} else {
					s.markUp()
					s.clearPending()
				}
			}
			return state, nil
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to read fallback snapshot, trying primary")
		}
	}

	if s.usePrimary() {
		state, err := s.primary.Load(ctx)
		if err == nil {
			s.markUp()
			return state, nil
		}
		s.markDown(err, "load")
	}
	return s.fallback.Load(ctx)
}

func (s *FailoverStore) Save(ctx context.Context, state models.State) error {
	if s.usePrimary() {
		err := s.primary.Save(ctx, state)
		if err == nil {
			s.markUp()
			s.clearPending()
			return nil
		}
		s.markDown(err, "save")
	}
	if err := s.fallback.Save(ctx, state); err != nil {
		return err
	}
	s.setPending()
	return nil
}

func (s *FailoverStore) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *FailoverStore) setPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return
	}
	if err := os.WriteFile(s.markerPath, nil, 0o644); err != nil {
		s.logger.Error().Err(err).Str("marker", s.markerPath).Msg("Failed to record fallback write")
		return
	}
	s.pending = true
}

func (s *FailoverStore) clearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return
	}
	if err := os.Remove(s.markerPath); err != nil && !os.IsNotExist(err) {
		s.logger.Error().Err(err).Str("marker", s.markerPath).Msg("Failed to clear fallback marker")
		return
	}
	s.pending = false
}

func (s *FailoverStore) usePrimary() bool {
	if !s.isDown.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Sub(s.lastCheck) >= recoveryInterval {
		s.lastCheck = s.now()
		return true
	}
	return false
}

func (s *FailoverStore) markDown(err error, op string) {
	if !s.isDown.Swap(true) {
		s.logger.Warn().Err(err).Str("op", op).Msg("Primary snapshot store failed, switching to fallback")
	}
	s.mu.Lock()
	s.lastCheck = s.now()
	s.mu.Unlock()
}

func (s *FailoverStore) markUp() {
	if s.isDown.Swap(false) {
		s.logger.Info().Msg("Primary snapshot store recovered")
	}
}
