package queue

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"clinicqueue/internal/events"
	"clinicqueue/internal/models"

	"github.com/rs/zerolog"
)

const (
	MinAge = 0
	MaxAge = 150
)

// Persister stores a snapshot of the queue after every mutation.
type Persister interface {
	Persist(ctx context.Context, state models.State) error
}

// Publisher receives queue events in mutation order.
type Publisher interface {
	Publish(event events.Event) error
}

// Options tune queue behaviour.
type Options struct {
	// AutoResetOnDrain starts a new epoch once every issued token has been served.
	AutoResetOnDrain bool
	// MinutesPerPatient scales the wait estimate in Summary.
	MinutesPerPatient int
	// Now is the clock used for default booking times.
	Now func() time.Time
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		AutoResetOnDrain:  true,
		MinutesPerPatient: 5,
		Now:               time.Now,
	}
}

// Manager owns the queue state. All mutations are serialized by mu, and the
// snapshot handed to the persister and publisher is taken while it is held, so
// writes and events are observed in mutation order.
//
// Event handlers run under the lock and must not call back into the Manager.
type Manager struct {
	mu        sync.Mutex
	state     models.State
	persister Persister
	publisher Publisher
	opts      Options
	logger    *zerolog.Logger
}

// NewManager builds a manager. A non-nil initial state is normalized and
// validated; an invalid one is returned as an error so the caller can decide
// whether to start a fresh epoch instead.
func NewManager(initial *models.State, persister Persister, publisher Publisher, opts Options, logger *zerolog.Logger) (*Manager, error) {
	if opts.MinutesPerPatient <= 0 {
		opts.MinutesPerPatient = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	state := models.NewState()
	if initial != nil {
		state = initial.Clone()
		state.Normalize()
		if err := state.Validate(); err != nil {
			return nil, err
		}
	}

	return &Manager{
		state:     state,
		persister: persister,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Snapshot returns a copy of the queue state.
func (m *Manager) Snapshot() models.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Summary returns the status board view of the queue.
func (m *Manager) Summary() models.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Summarize(m.opts.MinutesPerPatient)
}

// BookToken validates the input and appends a new token with the next number.
// A PersistenceError is returned together with the booked token when only the snapshot write failed.
func (m *Manager) BookToken(ctx context.Context, in models.BookingInput) (models.Token, error) {
	token, err := m.buildToken(in)
	if err != nil {
		return models.Token{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	token.TokenNumber = m.state.NextTokenNumber
	m.state.NextTokenNumber++
	m.state.Tokens = append(m.state.Tokens, token)

	m.logger.Info().
		Int("token", token.TokenNumber).
		Str("department", token.Department).
		Msg("Token booked")

	persistErr := m.persist(ctx, "book")
	m.publish(events.Event{
		Type:          events.TokenBooked,
		Token:         &token,
		CurrentNumber: m.state.CurrentNumber,
		Waiting:       m.waitingLocked(),
	})

	return token, persistErr
}

// Advance marks the token being served as visited and moves the serving pointer.
// When auto reset is enabled and every issued token is served, a new epoch starts.
func (m *Manager) Advance(ctx context.Context) (models.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.state.Tokens) == 0 || m.state.CurrentNumber >= m.state.NextTokenNumber {
		return models.State{}, ErrEmptyQueue
	}

	served := m.state.CurrentNumber
	if i := m.indexOf(served); i >= 0 {
		m.state.Tokens[i].Visited = true
	}
	m.state.CurrentNumber++

	m.logger.Info().Int("served", served).Int("current", m.state.CurrentNumber).Msg("Queue advanced")

	if m.opts.AutoResetOnDrain && m.state.CurrentNumber >= m.state.NextTokenNumber {
		closing := m.state.Tokens
		m.state = models.NewState()
		m.logger.Info().Int("tokens", len(closing)).Msg("All tokens served, starting new epoch")
		m.publish(events.Event{
			Type:          events.EpochClosed,
			Reason:        events.ReasonDrained,
			Tokens:        closing,
			CurrentNumber: served + 1,
		})
	}

	persistErr := m.persist(ctx, "advance")
	m.publish(events.Event{
		Type:          events.QueueAdvanced,
		Served:        served,
		CurrentNumber: m.state.CurrentNumber,
		Waiting:       m.waitingLocked(),
	})

	return m.state.Clone(), persistErr
}

// Reset discards all tokens and starts a new epoch. Calling it repeatedly is harmless.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.state.Tokens) > 0 {
		closing := m.state.Tokens
		m.publish(events.Event{
			Type:          events.EpochClosed,
			Reason:        events.ReasonReset,
			Tokens:        closing,
			CurrentNumber: m.state.CurrentNumber,
		})
	}
	m.state = models.NewState()

	m.logger.Info().Msg("Queue reset")

	persistErr := m.persist(ctx, "reset")
	m.publish(events.Event{Type: events.QueueReset, CurrentNumber: 1})
	return persistErr
}

func (m *Manager) buildToken(in models.BookingInput) (models.Token, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Token{}, newValidationError("name", "is required")
	}
	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		return models.Token{}, newValidationError("phone", "is required")
	}
	department := strings.TrimSpace(in.Department)
	if department == "" {
		return models.Token{}, newValidationError("department", "is required")
	}
	age, err := parseAge(in.Age)
	if err != nil {
		return models.Token{}, err
	}

	bookedAt := m.opts.Now()
	if s := strings.TrimSpace(in.BookedAt); s != "" {
		bookedAt, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return models.Token{}, newValidationError("bookedAt", "must be an RFC3339 timestamp")
		}
	}

	return models.Token{
		Name:       name,
		Phone:      phone,
		Age:        age,
		Department: department,
		BookedAt:   bookedAt,
	}, nil
}

func parseAge(v interface{}) (int, error) {
	var age int64
	switch a := v.(type) {
	case nil:
		return 0, newValidationError("age", "is required")
	case int:
		age = int64(a)
	case int64:
		age = a
	case float64:
		if math.IsNaN(a) || math.IsInf(a, 0) || a != math.Trunc(a) {
			return 0, newValidationError("age", "must be a whole number")
		}
		if a < MinAge || a > MaxAge {
			return 0, newValidationError("age", "must be between 0 and 150")
		}
		age = int64(a)
	case json.Number:
		n, err := a.Int64()
		if err != nil {
			return 0, newValidationError("age", "must be a whole number")
		}
		age = n
	default:
		return 0, newValidationError("age", "must be a number")
	}

	if age < MinAge || age > MaxAge {
		return 0, newValidationError("age", "must be between 0 and 150")
	}
	return int(age), nil
}

func (m *Manager) indexOf(tokenNumber int) int {
	tokens := m.state.Tokens
	i := sort.Search(len(tokens), func(i int) bool { return tokens[i].TokenNumber >= tokenNumber })
	if i < len(tokens) && tokens[i].TokenNumber == tokenNumber {
		return i
	}
	return -1
}

func (m *Manager) waitingLocked() int {
	return len(m.state.Tokens) - m.indexFirstWaiting()
}

func (m *Manager) indexFirstWaiting() int {
	tokens := m.state.Tokens
	current := m.state.CurrentNumber
	return sort.Search(len(tokens), func(i int) bool { return tokens[i].TokenNumber >= current })
}

func (m *Manager) persist(ctx context.Context, op string) error {
	if m.persister == nil {
		return nil
	}
	// The mutation is already applied, so a cancelled request must not abort the write.
	if err := m.persister.Persist(context.WithoutCancel(ctx), m.state.Clone()); err != nil {
		m.logger.Error().Err(err).Str("op", op).Msg("Failed to persist queue state")
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (m *Manager) publish(event events.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(event); err != nil {
		m.logger.Warn().Err(err).Str("event", event.Type).Msg("Event handler failed")
	}
}
