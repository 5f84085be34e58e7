package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastDeliversToAllListeners(t *testing.T) {
	b := NewBroadcast[int](false)

	ch1 := make(chan int, 1)
	ch2 := make(chan int, 1)
	b.Listen(ch1)
	b.Listen(ch2)

	b.Notify(42)

	assert.Equal(t, 42, <-ch1)
	assert.Equal(t, 42, <-ch2)
}

func TestBroadcastDeregister(t *testing.T) {
	b := NewBroadcast[string](false)

	ch := make(chan string, 1)
	cancel := b.Listen(ch)
	require.Equal(t, 1, b.ListenerCount())

	cancel()
	assert.Equal(t, 0, b.ListenerCount())

	b.Notify("dropped")
	select {
	case v := <-ch:
		t.Fatalf("received %q after deregistration", v)
	default:
	}
}

func TestBroadcastDoesNotBlockOnFullChannel(t *testing.T) {
	b := NewBroadcast[int](false)

	full := make(chan int, 1)
	full <- 1
	empty := make(chan int, 1)
	b.Listen(full)
	b.Listen(empty)

	b.Notify(2)

	assert.Equal(t, 1, <-full, "full channel keeps its original value")
	assert.Equal(t, 2, <-empty)
}

func TestBroadcastReplayLast(t *testing.T) {
	b := NewBroadcast[uint8](true)

	b.Notify(87)

	late := make(chan uint8, 1)
	b.Listen(late)
	assert.Equal(t, uint8(87), <-late)
}

func TestBroadcastNoReplayWithoutValue(t *testing.T) {
	b := NewBroadcast[uint8](true)

	ch := make(chan uint8, 1)
	b.Listen(ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected replay %d before any Notify", v)
	default:
	}
}

func TestBroadcastNilChannelPanics(t *testing.T) {
	b := NewBroadcast[int](false)
	assert.Panics(t, func() {
		b.Listen(nil)
	})
}
