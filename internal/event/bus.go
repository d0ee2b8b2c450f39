// Package event provides the in-memory event bus that carries alert events
// from the round scheduler to notification delivery.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event represents a typed message on the event bus.
type Event struct {
	Topic     string
	Source    string // Component that emitted the event
	Timestamp time.Time
	Payload   any // Type depends on topic
}

// Handler processes events from the bus.
type Handler func(ctx context.Context, event Event)

// Bus is an in-memory event bus.
// Publish is synchronous (handlers run in the caller's goroutine).
// PublishAsync dispatches handlers in separate goroutines and never blocks
// on them; Drain waits for those goroutines during shutdown.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // topic -> handlers
	allSubs  []handlerEntry            // handlers subscribed to all topics
	nextID   uint64
	inflight sync.WaitGroup
	logger   *zap.Logger
}

type handlerEntry struct {
	id      uint64
	handler Handler
}

// NewBus creates a new in-memory event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]handlerEntry),
		logger:   logger,
	}
}

// Publish dispatches an event synchronously to all matching handlers.
func (b *Bus) Publish(ctx context.Context, event Event) {
	for _, h := range b.matching(event.Topic) {
		b.safeCall(ctx, h.handler, event)
	}
}

// PublishAsync dispatches an event asynchronously to all matching handlers.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	for _, h := range b.matching(event.Topic) {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.safeCall(ctx, h.handler, event)
		}()
	}
}

// Drain waits for asynchronously dispatched handlers to return, or for ctx
// to be done, whichever comes first.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for a specific topic. Returns an unsubscribe function.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[topic]
		for i, e := range entries {
			if e.id == id {
				b.handlers[topic] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for all topics. Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.allSubs = append(b.allSubs, handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, e := range b.allSubs {
			if e.id == id {
				b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) matching(topic string) []handlerEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]handlerEntry, 0, len(b.handlers[topic])+len(b.allSubs))
	out = append(out, b.handlers[topic]...)
	out = append(out, b.allSubs...)
	return out
}

func (b *Bus) safeCall(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.String("source", event.Source),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}
