package driver

import (
	"context"
	"sync"

	"github.com/goadesign/agentcore/bus"
	"github.com/goadesign/agentcore/event"
	"github.com/goadesign/agentcore/telemetry"
)

// CancelToken is a boolean flag plus a notifier channel, replacing
// exception-based aborts for cross-goroutine cancellation (spec §9
// "Cancellation via shared tokens"). DriverAdapter checks it between
// forwarded events.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// NewCancelToken constructs an un-cancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel flips the token. Safe to call more than once.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancelled {
		t.cancelled = true
		close(t.done)
	}
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel that closes when the token is cancelled.
func (t *CancelToken) Done() <-chan struct{} { return t.done }

// Adapter bridges a Driver's async sequence of stream events onto the bus
// (spec §4.2). It subscribes to user_message, invokes driver.SendMessage,
// and forwards every produced stream event, honoring cancellation between
// events and surfacing driver exceptions as error_received.
type Adapter struct {
	agentID string
	driver  Driver
	bus     bus.Bus
	logger  telemetry.Logger

	mu    sync.Mutex
	token *CancelToken
	sub   bus.Subscription
}

// NewAdapter constructs and registers a DriverAdapter on b for agentID. The
// returned Adapter must be stopped via Close to release its subscription.
func NewAdapter(agentID string, drv Driver, b bus.Bus, logger telemetry.Logger) (*Adapter, error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	a := &Adapter{agentID: agentID, driver: drv, bus: b, logger: logger}
	sub, err := b.Subscribe(event.UserMessage, a.handleUserMessage)
	if err != nil {
		return nil, err
	}
	a.sub = sub
	return a, nil
}

// handleUserMessage only mints the cancellation token and kicks off
// forwarding in its own goroutine; it must not block the bus dispatch loop
// for the whole streaming turn, or every other user_message subscriber
// (e.g. the engine's history append) would stall behind it (spec §5:
// "a handler that suspends does not block other subscribers").
func (a *Adapter) handleUserMessage(ctx context.Context, e event.Event) error {
	msg, ok := e.Data.(*event.Message)
	if !ok || msg == nil {
		return nil
	}

	token := NewCancelToken()
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()

	go a.forward(ctx, msg, token)
	return nil
}

func (a *Adapter) forward(ctx context.Context, msg *event.Message, token *CancelToken) {
	stream, err := a.driver.SendMessage(ctx, []*event.Message{msg})
	if err != nil {
		a.emitError(ctx, err)
		return
	}

	for {
		// Go's select does not prioritize a ready cancellation case over a
		// ready event case, and stream.Events() may already hold buffered
		// events by the time Abort cancels the token. Check cancellation
		// first, non-blocking, so it always wins over an already-queued
		// event (spec §5: forwarding stops as soon as the token is seen).
		select {
		case <-token.Done():
			a.interrupt(ctx, stream)
			return
		default:
		}

		select {
		case <-token.Done():
			a.interrupt(ctx, stream)
			return
		case evt, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					a.emitError(ctx, err)
				}
				return
			}
			if err := a.bus.Emit(ctx, evt.WithAgent(a.agentID)); err != nil {
				a.logger.Warn(ctx, "driver adapter: emit failed", "error", err.Error())
				return
			}
		}
	}
}

// interrupt closes the stream and emits conversation_interrupted; called
// once forward observes the cancellation token.
func (a *Adapter) interrupt(ctx context.Context, stream Stream) {
	_ = stream.Close()
	if err := a.bus.Emit(ctx, event.New(a.agentID, event.ConversationInterrupted, nil)); err != nil {
		a.logger.Warn(ctx, "driver adapter: failed to emit conversation_interrupted", "error", err.Error())
	}
}

func (a *Adapter) emitError(ctx context.Context, err error) {
	data := event.ErrorReceivedData{Message: err.Error(), ErrorCode: "unknown_error"}
	if emitErr := a.bus.Emit(ctx, event.New(a.agentID, event.ErrorReceived, data)); emitErr != nil {
		a.logger.Warn(ctx, "driver adapter: failed to emit error_received", "error", emitErr.Error())
	}
}

// Abort flips the current cancellation token, if any, and calls
// driver.Abort(). Further stream events from the in-flight call are
// suppressed.
func (a *Adapter) Abort() {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()
	if token != nil {
		token.Cancel()
	}
	a.driver.Abort()
}

// Close unsubscribes the adapter from the bus.
func (a *Adapter) Close() error {
	if a.sub != nil {
		return a.sub.Close()
	}
	return nil
}
