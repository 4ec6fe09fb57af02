package relay

import (
	"sync"
	"sync/atomic"
)

// SubscriberBuffer is the channel capacity handed to each subscriber.
const SubscriberBuffer = 64

// Bus fans signals out to in-process subscribers on this peer.
type Bus struct {
	mu      sync.RWMutex
	subs    map[chan Signal]struct{}
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Signal]struct{})}
}

// Emit delivers sig to every subscriber without blocking.
func (b *Bus) Emit(sig Signal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- sig:
		default:
			// subscriber is behind; drop rather than block the sender
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe returns a buffered channel that receives every emitted signal.
func (b *Bus) Subscribe() chan Signal {
	ch := make(chan Signal, SubscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Signal) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}
