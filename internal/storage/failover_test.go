package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clinicqueue/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Load(ctx context.Context) (*models.State, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.State), args.Error(1)
}

func (m *mockStore) Save(ctx context.Context, state models.State) error {
	return m.Called(ctx, state).Error(0)
}

func TestFailoverStore(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	marker := filepath.Join(t.TempDir(), "queue.json.pending")
	store := NewFailoverStore(primary, fallback, marker, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		state := &models.State{CurrentNumber: 1, NextTokenNumber: 1}
		primary.On("Load", ctx).Return(state, nil).Once()

		got, err := store.Load(ctx)
		assert.NoError(t, err)
		assert.Equal(t, state, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		state := models.State{CurrentNumber: 2, NextTokenNumber: 3}
		primary.On("Save", ctx, state).Return(errors.New("fail")).Once()
		fallback.On("Save", ctx, state).Return(nil).Once()

		assert.NoError(t, store.Save(ctx, state))
		assert.True(t, store.isDown.Load())
		assert.FileExists(t, marker)
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		state := models.State{CurrentNumber: 3, NextTokenNumber: 4}
		fallback.On("Save", ctx, state).Return(nil).Once()

		assert.NoError(t, store.Save(ctx, state))
		primary.AssertNotCalled(t, "Save", ctx, state)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		store.isDown.Store(true)
		store.lastCheck = time.Now().Add(-2 * time.Minute)

		state := models.State{CurrentNumber: 4, NextTokenNumber: 5}
		primary.On("Save", ctx, state).Return(nil).Once()

		assert.NoError(t, store.Save(ctx, state))
		assert.False(t, store.isDown.Load())
		assert.NoFileExists(t, marker)
		primary.AssertExpectations(t)
	})
}

func TestFailoverStore_RestartAfterOutage(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()
	dir := t.TempDir()
	marker := filepath.Join(dir, "queue.json.pending")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	primary := NewRedisStore(client, "")
	fallback, err := NewFileStore(filepath.Join(dir, "queue.json"))
	require.NoError(t, err)

	before := sampleState()
	store := NewFailoverStore(primary, fallback, marker, &logger)
	require.NoError(t, store.Save(ctx, before))

	// Redis goes away; bookings continue on the file.
	mr.SetError("LOADING")
	during := sampleState()
	during.Tokens = append(during.Tokens, models.Token{TokenNumber: 3, Name: "C", Phone: "3", Department: "ENT"})
	during.NextTokenNumber = 4
	require.NoError(t, store.Save(ctx, during))
	assert.FileExists(t, marker)

	// Process restarts once Redis is back with the pre-outage snapshot.
	mr.SetError("")
	restarted := NewFailoverStore(primary, fallback, marker, &logger)
	state, err := restarted.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 4, state.NextTokenNumber)
	assert.NoFileExists(t, marker)

	inRedis, err := primary.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, inRedis.NextTokenNumber)

	// Without a marker the primary is authoritative, even when it holds a
	// fresh epoch and the file still has the older one.
	require.NoError(t, restarted.Save(ctx, models.NewState()))
	again := NewFailoverStore(primary, fallback, marker, &logger)
	state, err = again.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.NextTokenNumber)
	assert.Empty(t, state.Tokens)
}

func TestFailoverStore_MarkerSurvivesPrimaryStillDown(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()
	dir := t.TempDir()
	marker := filepath.Join(dir, "queue.json.pending")
	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	primary := new(mockStore)
	fallback := new(mockStore)
	saved := sampleState()
	fallback.On("Load", ctx).Return(&saved, nil).Once()
	primary.On("Save", ctx, saved).Return(errors.New("connection refused")).Once()

	store := NewFailoverStore(primary, fallback, marker, &logger)
	state, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, &saved, state)
	assert.FileExists(t, marker)
	assert.True(t, store.isDown.Load())
	primary.AssertExpectations(t)
	fallback.AssertExpectations(t)
}
