package engine

import (
	"context"
	"sync"

	"github.com/goadesign/agentcore/event"
)

// Queue is an opt-in helper for external orchestrators that want to
// serialize sends while the engine is busy (spec §9 "The message queue in
// the engine exists for external orchestrators..."). The core itself never
// blocks Send on state; Queue only exists so callers who want strict
// serialization don't have to hand-roll an onStateChange-gated dispatcher.
type Queue struct {
	engine *Engine

	mu      sync.Mutex
	pending []string
}

// NewQueue constructs a Queue bound to e.
func (e *Engine) NewQueue() *Queue {
	return &Queue{engine: e}
}

// Enqueue appends text to the queue without sending it.
func (q *Queue) Enqueue(text string) {
	q.mu.Lock()
	q.pending = append(q.pending, text)
	q.mu.Unlock()
}

// Dequeue removes and returns the oldest queued text without sending it.
// The second return value is false if the queue is empty.
func (q *Queue) Dequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	return next, true
}

// Length reports the number of items currently queued.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsEmpty reports whether the queue currently holds no items.
func (q *Queue) IsEmpty() bool {
	return q.Length() == 0
}

// Clear discards all queued items without sending them.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}

// Drain sends queued messages one at a time for as long as the engine is
// idle, stopping (without error) the moment the engine becomes busy or the
// queue empties. Callers typically invoke Drain from an onStateChange
// handler that fires when the engine returns to idle.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.engine.State() != event.StateIdle {
			q.mu.Unlock()
			return nil
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := q.engine.SendText(ctx, next); err != nil {
			return err
		}
	}
}
