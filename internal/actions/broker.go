package actions

import (
	"context"
	"sync"
)

const subscriberBufferSize = 16

// Broker fans newly appended actions out to live subscribers. Each
// subscription carries a type selector and a bounded queue; when a queue is
// full the oldest buffered action is dropped so a stalled subscriber never
// blocks the appender or its peers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id       int64
	selector Selector
	stream   chan Action
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  subscriberBufferSize,
	}
}

// Subscribe registers a live subscription for the selector. The subscription
// ends when the context is cancelled or the returned cancel func is called;
// either releases the queue.
func (b *Broker) Subscribe(ctx context.Context, sel Selector) (<-chan Action, func()) {
	b.mu.Lock()
	b.nextID++
	sub := &subscriber{
		id:       b.nextID,
		selector: sel,
		stream:   make(chan Action, b.bufferSize),
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, sub.id)
		b.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub.stream, cancel
}

// Publish delivers an action to every matching subscriber in append order.
// It never blocks: a full queue sheds its oldest entry first.
func (b *Broker) Publish(a Action) {
	b.mu.RLock()
	matching := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.selector.Matches(a.Type) {
			matching = append(matching, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matching {
		select {
		case sub.stream <- a:
			continue
		default:
		}
		// queue full: drop the oldest, then retry once
		select {
		case <-sub.stream:
		default:
		}
		select {
		case sub.stream <- a:
		default:
		}
	}
}
