// Package telemetrybus fans a single stream of frame telemetry out to
// any number of sinks without letting a slow subscriber add latency to
// the completion waiter that produces it. Publish is always
// non-blocking: a subscriber that can't keep up simply drops samples,
// counted so the drop rate itself is observable.
package telemetrybus

import (
	"sync"
	"sync/atomic"

	"github.com/ishitatsuyuki/LatencyFleX/telemetry"
)

// SubscriberStats tracks delivery outcomes for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	ch    chan telemetry.Frame
	stats *SubscriberStats
}

// Bus is a fan-out point between frame producers (the completion
// waiter) and frame consumers (telemetry sinks). The zero value is not
// usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers id to receive frames on a channel of the given
// buffer depth. The returned channel is closed when the bus is closed
// or the subscriber is removed.
func (b *Bus) Subscribe(id string, buffer int) (<-chan telemetry.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, errSubscriberExists
	}

	sub := &subscriber{
		ch:    make(chan telemetry.Frame, buffer),
		stats: &SubscriberStats{},
	}
	b.subscribers[id] = sub
	return sub.ch, nil
}

// Unsubscribe removes id and closes its channel.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return errSubscriberNotFound
	}
	delete(b.subscribers, id)
	close(sub.ch)
	return nil
}

// Publish fans f out to every current subscriber. A subscriber whose
// channel is full has the sample dropped rather than blocking this
// call, since Publish is called synchronously from the completion
// waiter.
func (b *Bus) Publish(f telemetry.Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- f:
			atomic.AddUint64(&sub.stats.Sent, 1)
		default:
			atomic.AddUint64(&sub.stats.Dropped, 1)
		}
	}
}

// Stats returns a snapshot of delivery counters for id.
func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, errSubscriberNotFound
	}
	return SubscriberStats{
		Sent:    atomic.LoadUint64(&sub.stats.Sent),
		Dropped: atomic.LoadUint64(&sub.stats.Dropped),
	}, nil
}

// Close shuts the bus down, closing every subscriber's channel.
// After this returns, Publish is a no-op and Subscribe returns
// errBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// Observe implements telemetry.Sink, so a Bus can be handed directly
// to code expecting a single sink and fan out from there.
func (b *Bus) Observe(f telemetry.Frame) {
	b.Publish(f)
}
