// Package events provides a small channel fan-out used to feed decoded
// sensor events to any number of listeners without blocking the receive
// path.
package events

import (
	"sync"
)

// Broadcast delivers values to registered channels. Sends never block: a
// listener whose channel is full misses the value.
// T is the value type delivered to listeners.
type Broadcast[T any] struct {
	mu         sync.RWMutex
	channels   map[uint64]chan<- T
	nextID     uint64
	replayLast bool
	last       *T
}

// NewBroadcast creates a Broadcast. With replayLast set, the most recent
// value is re-sent to each newly registered listener, so slow-changing
// values (a battery level, say) reach listeners that attach late.
func NewBroadcast[T any](replayLast bool) *Broadcast[T] {
	return &Broadcast[T]{
		channels:   make(map[uint64]chan<- T),
		replayLast: replayLast,
	}
}

// Listen registers a channel to receive future values and returns a
// deregistration function.
func (b *Broadcast[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.channels[id] = ch
	var replay *T
	if b.replayLast && b.last != nil {
		v := *b.last
		replay = &v
	}
	b.mu.Unlock()

	// Replay outside the lock; skip if the channel is already full.
	if replay != nil {
		select {
		case ch <- *replay:
		default:
		}
	}

	return func() {
		b.mu.Lock()
		delete(b.channels, id)
		b.mu.Unlock()
	}
}

// Notify sends value to every registered channel without blocking.
func (b *Broadcast[T]) Notify(value T) {
	b.mu.Lock()
	if b.replayLast {
		v := value
		b.last = &v
	}
	targets := make([]chan<- T, 0, len(b.channels))
	for _, ch := range b.channels {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- value:
		default:
			// Listener is not keeping up; drop rather than block.
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (b *Broadcast[T]) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels)
}
