// Package driver defines the Driver contract that turns a pluggable LLM
// backend into the canonical stream-event sequence (spec §4.2/§6), plus a
// BaseDriver template that fixes the outer message_start/content/
// message_stop framing so concrete backends implement only content
// generation. This generalizes the teacher's model.Client/model.Streamer
// split (goadesign-goa-ai/runtime/agent/model/model.go) — Complete/Stream
// over a provider request — into the spec's push-style stream-of-Events
// contract, since the core never negotiates the LLM protocol itself.
package driver

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/goadesign/agentcore/event"
)

type (
	// Driver is the pluggable backend adapter. Implementations MUST yield
	// message_start first, at least one content block framed by its
	// start/stop, then message_stop (spec §4.2).
	Driver interface {
		// SessionID is the logical conversation identity supplied by the
		// driver (spec §3 "Agent identity").
		SessionID() string

		// DriverSessionID is the backend-assigned resumption token. It is
		// nil until the first exchange completes, for drivers that assign
		// one lazily.
		DriverSessionID() *string

		// SendMessage produces a lazy sequence of stream events for the
		// given outbound messages. For multi-turn backend conversations,
		// messages may contain more than the single newest user message.
		SendMessage(ctx context.Context, messages []*event.Message) (Stream, error)

		// Abort cancels in-flight production without destroying the
		// driver; the driver remains usable for subsequent SendMessage
		// calls.
		Abort()

		// Destroy releases resources irreversibly. Subsequent calls are
		// not permitted.
		Destroy() error
	}

	// Stream is the lazy sequence of stream events produced by a single
	// SendMessage call.
	Stream interface {
		// Events returns a channel of stream-layer events. The channel is
		// closed once production finishes, is aborted, or fails; callers
		// must check Err after observing closure.
		Events() <-chan event.Event

		// Err returns the terminal error, if any, once Events() has
		// closed. Nil indicates normal completion.
		Err() error

		// Close releases the stream early, used by Abort.
		Close() error
	}
)

// ContentGenerator is implemented by concrete backends plugged into
// BaseDriver; it produces only the content-block events (text/tool-use
// start, delta, stop) for one assistant turn. BaseDriver supplies the
// surrounding message_start/message_stop framing.
type ContentGenerator interface {
	// Generate emits zero or more content-block events onto emit, then
	// returns the stop reason and any usage observed. Events are emitted
	// with an empty agent; the DriverAdapter stamps the owning agent
	// before forwarding onto the bus. Returning a non-nil error aborts the
	// message without emitting message_stop; the caller (DriverAdapter) is
	// responsible for surfacing it as error_received.
	Generate(ctx context.Context, messages []*event.Message, emit func(event.Event)) (stopReason string, usage *event.TokenUsage, err error)
}

// BaseDriver provides the fixed outer message_start/content/message_stop
// framing described in spec §4.2; concrete backends embed it and supply a
// ContentGenerator.
type BaseDriver struct {
	session       string
	driverSession *string
	model         string
	gen           ContentGenerator

	mu      sync.Mutex
	aborted bool
}

// NewBaseDriver constructs a BaseDriver for the given session and model,
// delegating content production to gen.
func NewBaseDriver(sessionID, model string, gen ContentGenerator) *BaseDriver {
	return &BaseDriver{session: sessionID, model: model, gen: gen}
}

// SessionID implements Driver.
func (d *BaseDriver) SessionID() string { return d.session }

// DriverSessionID implements Driver.
func (d *BaseDriver) DriverSessionID() *string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driverSession
}

// SetDriverSessionID records the backend-assigned resumption token once
// the first exchange completes.
func (d *BaseDriver) SetDriverSessionID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.driverSession = &id
}

// Abort marks the driver's in-flight stream(s) as aborted. The next
// SendMessage call starts a fresh, non-aborted stream.
func (d *BaseDriver) Abort() {
	d.mu.Lock()
	d.aborted = true
	d.mu.Unlock()
}

// Destroy is a no-op for BaseDriver; concrete backends that hold resources
// (connections, file handles) should override it.
func (d *BaseDriver) Destroy() error { return nil }

// SendMessage implements Driver by calling Frame with a fresh message id.
func (d *BaseDriver) SendMessage(ctx context.Context, messages []*event.Message) (Stream, error) {
	return d.Frame(ctx, uuid.NewString(), messages), nil
}

// Frame drives a ContentGenerator call, wrapping it with message_start and
// message_stop. Concrete Driver implementations embed BaseDriver and call
// Frame from their own SendMessage, supplying a fresh messageID per call.
func (d *BaseDriver) Frame(ctx context.Context, messageID string, messages []*event.Message) Stream {
	d.mu.Lock()
	d.aborted = false
	d.mu.Unlock()

	events := make(chan event.Event, 16)
	s := &baseStream{events: events, done: make(chan struct{})}

	go func() {
		defer close(events)
		defer close(s.done)

		events <- event.New("", event.MessageStart, event.MessageStartData{MessageID: messageID, Model: d.model})

		emit := func(e event.Event) {
			d.mu.Lock()
			aborted := d.aborted
			d.mu.Unlock()
			if aborted {
				return
			}
			select {
			case events <- e:
			case <-ctx.Done():
			}
		}

		stopReason, usage, err := d.gen.Generate(ctx, messages, emit)
		if err != nil {
			s.setErr(err)
			return
		}

		d.mu.Lock()
		aborted := d.aborted
		d.mu.Unlock()
		if aborted {
			return
		}
		events <- event.New("", event.MessageStop, event.MessageStopData{StopReason: stopReason, Usage: usage})
	}()

	return s
}

type baseStream struct {
	events chan event.Event
	done   chan struct{}
	mu     sync.Mutex
	err    error
}

func (s *baseStream) Events() <-chan event.Event { return s.events }

func (s *baseStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *baseStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *baseStream) Close() error { return nil }
