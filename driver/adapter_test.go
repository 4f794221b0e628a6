package driver_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goadesign/agentcore/bus"
	"github.com/goadesign/agentcore/driver"
	"github.com/goadesign/agentcore/event"
)

// fakeStream is a driver.Stream controlled directly by tests.
type fakeStream struct {
	events chan event.Event
	mu     sync.Mutex
	err    error
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan event.Event, 16)}
}

func (s *fakeStream) Events() <-chan event.Event { return s.events }
func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// fakeDriver is a driver.Driver controlled directly by tests.
type fakeDriver struct {
	mu       sync.Mutex
	stream   *fakeStream
	sendErr  error
	aborted  bool
	sendCall func(messages []*event.Message) (driver.Stream, error)
}

func (d *fakeDriver) SessionID() string       { return "sess-1" }
func (d *fakeDriver) DriverSessionID() *string { return nil }
func (d *fakeDriver) Destroy() error           { return nil }
func (d *fakeDriver) Abort() {
	d.mu.Lock()
	d.aborted = true
	d.mu.Unlock()
}

func (d *fakeDriver) SendMessage(ctx context.Context, messages []*event.Message) (driver.Stream, error) {
	if d.sendCall != nil {
		return d.sendCall(messages)
	}
	if d.sendErr != nil {
		return nil, d.sendErr
	}
	return d.stream, nil
}

func userMessageEvent(text string) event.Event {
	msg := &event.Message{ID: "m1", Role: event.RoleUser, User: &event.UserPayload{Content: event.UserContent{Text: text}}}
	return event.New("agent-1", event.UserMessage, msg)
}

// eventually polls cond until it returns true or the deadline passes,
// failing the test otherwise. Forwarding happens on a background goroutine
// spawned by the adapter, so tests observe it by polling rather than
// asserting immediately after Emit returns.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond)
}

func TestAdapterForwardsStreamEventsStampedWithAgent(t *testing.T) {
	b := bus.New(nil)
	stream := newFakeStream()
	fd := &fakeDriver{stream: stream}

	a, err := driver.NewAdapter("agent-1", fd, b, nil)
	require.NoError(t, err)
	defer a.Close()

	var mu sync.Mutex
	var got []event.Event
	_, err = b.Subscribe(event.MessageStart, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	stream.events <- event.New("", event.MessageStart, event.MessageStartData{MessageID: "m1"})
	close(stream.events)

	require.NoError(t, b.Emit(context.Background(), userMessageEvent("hi")))

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "agent-1", got[0].AgentID())
}

func TestAdapterEmitsErrorReceivedOnSendFailure(t *testing.T) {
	b := bus.New(nil)
	fd := &fakeDriver{sendErr: errors.New("backend unavailable")}

	a, err := driver.NewAdapter("agent-1", fd, b, nil)
	require.NoError(t, err)
	defer a.Close()

	var mu sync.Mutex
	var got event.Event
	_, err = b.Subscribe(event.ErrorReceived, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		got = e
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Emit(context.Background(), userMessageEvent("hi")))

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.Type() == event.ErrorReceived
	})

	mu.Lock()
	defer mu.Unlock()
	data, ok := got.Data.(event.ErrorReceivedData)
	require.True(t, ok)
	require.Contains(t, data.Message, "backend unavailable")
}

func TestAdapterAbortStopsForwardingAndEmitsConversationInterrupted(t *testing.T) {
	b := bus.New(nil)
	stream := newFakeStream()
	release := make(chan struct{})

	fd := &fakeDriver{
		sendCall: func(messages []*event.Message) (driver.Stream, error) {
			close(release)
			return stream, nil
		},
	}

	a, err := driver.NewAdapter("agent-1", fd, b, nil)
	require.NoError(t, err)
	defer a.Close()

	var mu sync.Mutex
	var got []event.Event
	_, err = b.SubscribeAll(func(ctx context.Context, e event.Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Emit(context.Background(), userMessageEvent("hi")))

	<-release
	a.Abort()

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range got {
			if e.Type() == event.ConversationInterrupted {
				return true
			}
		}
		return false
	})

	// A late event pushed after abort must never reach subscribers. The
	// adapter closes the stream when it interrupts, so only push while the
	// channel is still open.
	stream.mu.Lock()
	if !stream.closed {
		select {
		case stream.events <- event.New("", event.TextDelta, event.TextDeltaData{Text: "late"}):
		default:
		}
	}
	stream.mu.Unlock()
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, e := range got {
		require.NotEqual(t, event.TextDelta, e.Type())
	}

	fd.mu.Lock()
	aborted := fd.aborted
	fd.mu.Unlock()
	require.True(t, aborted)
}

// TestAdapterAbortDiscardsAlreadyBufferedEvents exercises the race where the
// stream's buffered channel already holds an event by the time Abort cancels
// the token: forward must still stop immediately rather than draining and
// forwarding whatever was queued before cancellation (spec §5: "After
// signaling, the adapter stops forwarding further events from that call").
func TestAdapterAbortDiscardsAlreadyBufferedEvents(t *testing.T) {
	b := bus.New(nil)
	stream := newFakeStream()
	started := make(chan struct{})
	proceed := make(chan struct{})

	fd := &fakeDriver{
		sendCall: func(messages []*event.Message) (driver.Stream, error) {
			// Buffer an event before forward ever reaches its select loop.
			stream.events <- event.New("", event.TextDelta, event.TextDeltaData{Text: "buffered-before-abort"})
			close(started)
			<-proceed
			return stream, nil
		},
	}

	a, err := driver.NewAdapter("agent-1", fd, b, nil)
	require.NoError(t, err)
	defer a.Close()

	var mu sync.Mutex
	var got []event.Event
	_, err = b.SubscribeAll(func(ctx context.Context, e event.Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Emit(context.Background(), userMessageEvent("hi")))

	<-started
	a.Abort()
	close(proceed)

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range got {
			if e.Type() == event.ConversationInterrupted {
				return true
			}
		}
		return false
	})

	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, e := range got {
		require.NotEqual(t, event.TextDelta, e.Type())
	}
}
