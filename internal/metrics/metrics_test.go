package metrics

import (
	"testing"

	"clinicqueue/internal/events"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe(t *testing.T) {
	Register()
	Register()

	bus := events.NewEventBus()
	Subscribe(bus)

	bookedBefore := testutil.ToFloat64(tokensBooked)
	drainedBefore := testutil.ToFloat64(epochsClosed.WithLabelValues(events.ReasonDrained))

	require.NoError(t, bus.Publish(events.Event{Type: events.TokenBooked, Waiting: 3}))
	assert.Equal(t, bookedBefore+1, testutil.ToFloat64(tokensBooked))
	assert.Equal(t, float64(3), testutil.ToFloat64(waitingTokens))

	require.NoError(t, bus.Publish(events.Event{Type: events.QueueAdvanced, CurrentNumber: 2, Waiting: 2}))
	assert.Equal(t, float64(2), testutil.ToFloat64(currentNumber))
	assert.Equal(t, float64(2), testutil.ToFloat64(waitingTokens))

	require.NoError(t, bus.Publish(events.Event{Type: events.EpochClosed, Reason: events.ReasonDrained}))
	assert.Equal(t, drainedBefore+1, testutil.ToFloat64(epochsClosed.WithLabelValues(events.ReasonDrained)))

	require.NoError(t, bus.Publish(events.Event{Type: events.QueueReset, CurrentNumber: 1}))
	assert.Equal(t, float64(0), testutil.ToFloat64(waitingTokens))
	assert.Equal(t, float64(1), testutil.ToFloat64(currentNumber))
}
