package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_Publish(t *testing.T) {
	bus := NewEventBus()

	var got []string
	bus.Subscribe(QueueAdvanced, func(e Event) error {
		got = append(got, "first")
		assert.False(t, e.CreatedAt.IsZero())
		return errors.New("boom")
	})
	bus.Subscribe(QueueAdvanced, func(e Event) error {
		got = append(got, "second")
		return nil
	})
	bus.Subscribe(QueueReset, func(e Event) error {
		got = append(got, "reset")
		return nil
	})

	err := bus.Publish(Event{Type: QueueAdvanced, CurrentNumber: 2})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []string{"first", "second"}, got)

	assert.NoError(t, bus.Publish(Event{Type: TokenBooked}))
	assert.Equal(t, []string{"first", "second"}, got)
}
