package events

import (
	"sync"

	"go.uber.org/zap"
)

// Handler consumes a single event payload.
type Handler func(payload any)

type subscriber struct {
	name string
	ch   chan any
}

// Bus is a lightweight in-process pub/sub broker. Each subscriber runs on
// its own goroutine and its failures are isolated from the publisher and
// from other subscribers. Delivery is best-effort: a slow subscriber drops
// events rather than blocking the publisher.
type Bus struct {
	logger *zap.Logger
	mu     sync.RWMutex
	subs   map[Topic][]*subscriber
	wg     sync.WaitGroup
	closed bool
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger.Named("event-bus"),
		subs:   make(map[Topic][]*subscriber),
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe
// function. The handler runs on a dedicated goroutine; a panic inside it is
// recovered and logged without affecting other subscribers.
func (b *Bus) Subscribe(topic Topic, name string, buffer int, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	sub := &subscriber{name: name, ch: make(chan any, buffer)}
	b.subs[topic] = append(b.subs[topic], sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for payload := range sub.ch {
			b.dispatch(topic, sub.name, h, payload)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s == sub {
				close(s.ch)
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

func (b *Bus) dispatch(topic Topic, name string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber panicked",
				zap.String("topic", string(topic)),
				zap.String("subscriber", name),
				zap.Any("panic", r))
		}
	}()
	h(payload)
}

// Publish fans the payload out to all subscribers of the topic without
// blocking. Events for a full subscriber queue are dropped.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- payload:
		default:
			b.logger.Warn("Dropping event for slow subscriber",
				zap.String("topic", string(topic)),
				zap.String("subscriber", sub.name))
		}
	}
}

// Close stops delivery and waits for in-flight handlers to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.subs = make(map[Topic][]*subscriber)
	b.mu.Unlock()
	b.wg.Wait()
}
