// Package bus implements the single in-process publish/subscribe channel
// (spec §4.1) that carries all four event layers. It generalizes the
// teacher's hooks.Bus (goadesign-goa-ai/runtime/agent/hooks/bus.go: a
// mutex-protected fan-out registry with idempotent Subscription.Close) to
// the spec's per-type subscriptions, producer/consumer views, and
// swallow-and-continue failure semantics.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/goadesign/agentcore/event"
	"github.com/goadesign/agentcore/telemetry"
)

// ErrClosed is returned by Emit once the bus has been closed, matching the
// BUS_CLOSED lifecycle error in spec §6.
var ErrClosed = errors.New("bus: closed")

type (
	// Handler reacts to a published Event. Returning an error does not stop
	// delivery to other handlers (spec §4.1 "Failure semantics"); the error
	// is logged and swallowed by the bus.
	Handler func(ctx context.Context, e event.Event) error

	// Subscription represents an active registration. Close is idempotent
	// and safe to call multiple times or concurrently.
	Subscription interface {
		Close() error
	}

	// Producer is the write-only view of a Bus returned by CreateProducer.
	Producer interface {
		Emit(ctx context.Context, e event.Event) error
	}

	// Consumer is the read-only view of a Bus returned by CreateConsumer.
	Consumer interface {
		Subscribe(t event.Type, h Handler) (Subscription, error)
		SubscribeAll(h Handler) (Subscription, error)
	}

	// Bus is the full EventBus contract from spec §4.1.
	Bus interface {
		Producer
		Consumer
		CreateProducer() Producer
		CreateConsumer() Consumer
		Close() error
	}
)

type subscriberEntry struct {
	id      uint64
	t       event.Type
	all     bool
	handler Handler
}

// bus is the concrete, thread-safe implementation of Bus. Delivery is
// dispatched through an internal queue so that re-entrant Emit calls made
// from within a handler are appended after the current emission's fan-out
// completes, rather than interleaving mid-dispatch (spec §4.1 "Ordering
// guarantees").
type bus struct {
	mu        sync.Mutex
	subs      []*subscriberEntry
	nextID    uint64
	closed    bool
	queue     []queuedEvent
	draining  bool
	logger    telemetry.Logger
}

type queuedEvent struct {
	ctx context.Context
	evt event.Event
}

// New constructs a new in-process EventBus. logger may be nil, in which
// case handler errors are swallowed silently (spec §4.1 requires swallowing
// regardless; the logger is purely observational).
func New(logger telemetry.Logger) Bus {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &bus{logger: logger}
}

func (b *bus) Emit(ctx context.Context, e event.Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queue = append(b.queue, queuedEvent{ctx: ctx, evt: e})
	if b.draining {
		// A handler re-entrantly emitted; the outer drain loop will pick
		// this up after finishing the event currently in flight.
		b.mu.Unlock()
		return nil
	}
	b.draining = true
	b.mu.Unlock()

	b.drain()
	return nil
}

// drain delivers queued events one at a time, fully fanning each out before
// moving to the next, so ordering is preserved across re-entrant emissions.
func (b *bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		next := b.queue[0]
		b.queue = b.queue[1:]
		subs := make([]*subscriberEntry, 0, len(b.subs))
		subs = append(subs, b.subs...)
		b.mu.Unlock()

		for _, s := range subs {
			if !s.all && s.t != next.evt.Type() {
				continue
			}
			if err := s.handler(next.ctx, next.evt); err != nil {
				b.logger.Warn(next.ctx, "bus: handler error", "event_type", string(next.evt.Type()), "error", err.Error())
			}
		}
	}
}

func (b *bus) Subscribe(t event.Type, h Handler) (Subscription, error) {
	return b.register(t, false, h)
}

func (b *bus) SubscribeAll(h Handler) (Subscription, error) {
	return b.register("", true, h)
}

func (b *bus) register(t event.Type, all bool, h Handler) (Subscription, error) {
	if h == nil {
		return nil, errors.New("bus: handler is required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.nextID++
	entry := &subscriberEntry{id: b.nextID, t: t, all: all, handler: h}
	b.subs = append(b.subs, entry)
	b.mu.Unlock()
	return &subscription{bus: b, id: entry.id}, nil
}

func (b *bus) CreateProducer() Producer { return producerView{b} }
func (b *bus) CreateConsumer() Consumer { return consumerView{b} }

func (b *bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	b.queue = nil
	return nil
}

type subscription struct {
	bus  *bus
	id   uint64
	once sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.subs {
			if entry.id == s.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	})
	return nil
}

type producerView struct{ b *bus }

func (p producerView) Emit(ctx context.Context, e event.Event) error { return p.b.Emit(ctx, e) }

type consumerView struct{ b *bus }

func (c consumerView) Subscribe(t event.Type, h Handler) (Subscription, error) {
	return c.b.Subscribe(t, h)
}

func (c consumerView) SubscribeAll(h Handler) (Subscription, error) {
	return c.b.SubscribeAll(h)
}
