// Package engine wires the bus, DriverAdapter, MessageAssembler,
// StateMachine, and ExchangeTracker into the composed runtime described in
// spec §4.6: it owns agent identity, message history, and the handler
// registry, exposing the send/react/interrupt/clear/destroy surface.
// Grounded on the teacher's composition root pattern (goadesign-goa-ai/
// runtime/agent/runtime — a package that wires model, planner, policy, and
// transcript into one run loop), generalized from a single workflow
// execution into a long-lived, bus-driven per-agent engine.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goadesign/agentcore/assembler"
	"github.com/goadesign/agentcore/bus"
	"github.com/goadesign/agentcore/driver"
	"github.com/goadesign/agentcore/event"
	"github.com/goadesign/agentcore/exchange"
	"github.com/goadesign/agentcore/statemachine"
	"github.com/goadesign/agentcore/telemetry"
)

// Engine is the composition root for one agent: one driver, one bus, and
// the assembler/state-machine/tracker triplet consuming it.
type Engine struct {
	agentID   string
	sessionID string

	driver driver.Driver
	bus    bus.Bus

	adapter      *driver.Adapter
	assembler    *assembler.Assembler
	stateMachine *statemachine.StateMachine
	tracker      *exchange.Tracker

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	costRates    exchange.CostRates
	initHandlers []any

	mu           sync.Mutex
	initialized  bool
	destroyed    bool
	history      []*event.Message
	internalSubs []bus.Subscription
	handlerSubs  []bus.Subscription
	destroyHooks []func(ctx context.Context) error
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger injects a Logger used throughout the engine and its child
// components. No core invariant depends on it firing (spec §6).
func WithLogger(l telemetry.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics injects a Metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithTracer injects a Tracer.
func WithTracer(t telemetry.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithHandlers supplies handler objects to auto-bind during initialize
// (spec §4.6 initialize step 4).
func WithHandlers(handlers ...any) Option {
	return func(e *Engine) { e.initHandlers = append(e.initHandlers, handlers...) }
}

// WithCostRates overrides the ExchangeTracker's default per-token cost
// rates.
func WithCostRates(rates exchange.CostRates) Option {
	return func(e *Engine) { e.costRates = rates }
}

// New constructs an Engine over a fresh, privately-owned bus.
func New(drv driver.Driver, opts ...Option) (*Engine, error) {
	return newEngine(drv, nil, opts...)
}

// NewWithBus constructs an Engine over a caller-supplied bus, for callers
// that need to share one bus across multiple composed components (spec §9
// "reactor context" unification: given an explicit context carrying
// consumer and producer, rather than deriving a private bus).
func NewWithBus(drv driver.Driver, b bus.Bus, opts ...Option) (*Engine, error) {
	if b == nil {
		panic("engine: NewWithBus requires a non-nil bus")
	}
	return newEngine(drv, b, opts...)
}

func newEngine(drv driver.Driver, b bus.Bus, opts ...Option) (*Engine, error) {
	e := &Engine{
		agentID:   uuid.NewString(),
		sessionID: drv.SessionID(),
		driver:    drv,
		costRates: exchange.DefaultCostRates(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = telemetry.NoopLogger{}
	}
	if e.metrics == nil {
		e.metrics = telemetry.NoopMetrics{}
	}
	if e.tracer == nil {
		e.tracer = telemetry.NoopTracer{}
	}
	if b == nil {
		b = bus.New(e.logger)
	}
	e.bus = b

	if err := e.initialize(); err != nil {
		return nil, err
	}
	return e, nil
}

// initialize performs the five-step sequence from spec §4.6: open the bus
// (already done by construction), attach the DriverAdapter, instantiate the
// assembler/state-machine/tracker triplet, auto-bind configured handlers,
// and emit agent_ready.
func (e *Engine) initialize() error {
	ctx := context.Background()
	if err := e.bus.Emit(ctx, event.New(e.agentID, event.AgentInitializing, nil)); err != nil {
		return err
	}

	adapter, err := driver.NewAdapter(e.agentID, e.driver, e.bus, e.logger)
	if err != nil {
		return err
	}
	e.adapter = adapter

	sm, err := statemachine.New(e.agentID, e.bus, e.logger)
	if err != nil {
		return err
	}
	e.stateMachine = sm

	asm, err := assembler.New(e.agentID, e.bus, e.logger)
	if err != nil {
		return err
	}
	e.assembler = asm

	tracker, err := exchange.New(e.agentID, e.bus, e.logger, exchange.WithCostRates(e.costRates))
	if err != nil {
		return err
	}
	e.tracker = tracker

	histAssistant, err := e.bus.Subscribe(event.AssistantMessage, e.onAssistantMessage)
	if err != nil {
		return err
	}
	histToolUse, err := e.bus.Subscribe(event.ToolUseMessage, e.onToolUseMessage)
	if err != nil {
		return err
	}
	e.internalSubs = append(e.internalSubs, histAssistant, histToolUse)

	for _, h := range e.initHandlers {
		subs, err := bindHandlerObject(e.bus, e.logger, h)
		if err != nil {
			return err
		}
		e.handlerSubs = append(e.handlerSubs, subs...)
	}

	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()

	return e.bus.Emit(ctx, event.New(e.agentID, event.AgentReady, nil))
}

// AgentID returns this engine's opaque agent identity.
func (e *Engine) AgentID() string { return e.agentID }

// SessionID returns the logical conversation identity supplied by the
// driver.
func (e *Engine) SessionID() string { return e.sessionID }

// State returns the current lifecycle state.
func (e *Engine) State() event.AgentState { return e.stateMachine.State() }

// OnStateChange registers a state-transition observer, delegating to the
// underlying StateMachine.
func (e *Engine) OnStateChange(h statemachine.ChangeHandler) { e.stateMachine.OnStateChange(h) }

// History returns a snapshot of the message history in arrival order.
func (e *Engine) History() []*event.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*event.Message, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) appendHistory(msg *event.Message) {
	e.mu.Lock()
	e.history = append(e.history, msg)
	e.mu.Unlock()
}

func (e *Engine) onAssistantMessage(ctx context.Context, ev event.Event) error {
	if msg, ok := ev.Data.(*event.Message); ok {
		e.appendHistory(msg)
		e.metrics.IncCounter("engine.history.appended", 1, "role", string(event.RoleAssistant))
	}
	return nil
}

func (e *Engine) onToolUseMessage(ctx context.Context, ev event.Event) error {
	if msg, ok := ev.Data.(*event.Message); ok {
		e.appendHistory(msg)
		e.metrics.IncCounter("engine.history.appended", 1, "role", string(event.RoleToolUse))
	}
	return nil
}

// SendText builds a plain-text user message and sends it.
func (e *Engine) SendText(ctx context.Context, text string) error {
	return e.Send(ctx, event.UserContent{Text: text})
}

// Send rejects with ErrDestroyed / ErrNotInitialized per the engine's
// lifecycle, rejects with ErrEmptyMessage for blank content (emitting an
// error_message with category=validation), otherwise builds a user message,
// appends it to history, and emits user_message (spec §4.6 "send").
func (e *Engine) Send(ctx context.Context, content event.UserContent) error {
	ctx, span := e.tracer.Start(ctx, "engine.send")
	defer span.End()

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		span.RecordError(ErrDestroyed)
		return ErrDestroyed
	}
	if !e.initialized {
		e.mu.Unlock()
		span.RecordError(ErrNotInitialized)
		return ErrNotInitialized
	}
	e.mu.Unlock()

	if content.Empty() {
		e.emitErrorMessage(ctx, "message content is empty", event.SeverityError, event.CategoryValidation)
		e.metrics.IncCounter("engine.send.rejected", 1, "reason", "empty_message")
		span.RecordError(ErrEmptyMessage)
		return ErrEmptyMessage
	}
	e.metrics.IncCounter("engine.send.accepted", 1)

	msg := &event.Message{
		ID:        uuid.NewString(),
		Role:      event.RoleUser,
		Timestamp: time.Now().UnixMilli(),
		User:      &event.UserPayload{Content: content},
	}
	e.appendHistory(msg)
	return e.bus.Emit(ctx, event.New(e.agentID, event.UserMessage, msg))
}

func (e *Engine) emitErrorMessage(ctx context.Context, message string, severity event.Severity, category event.Category) {
	recoverable := true
	errMsg := &event.Message{
		ID:        uuid.NewString(),
		Role:      event.RoleError,
		Timestamp: time.Now().UnixMilli(),
		Error:     &event.ErrorPayload{Message: message, Severity: severity, Category: category, Recoverable: &recoverable},
	}
	if err := e.bus.Emit(ctx, event.New(e.agentID, event.ErrorMessage, errMsg)); err != nil {
		e.logger.Warn(ctx, "engine: failed to emit error_message", "error", err.Error())
	}
}

// React inspects each handler object's exported onFooBar methods and binds
// them to the bus. Repeated calls are additive; each returns a Disposer
// scoped to just that call (spec §4.6 "react").
func (e *Engine) React(handlers ...any) (*Disposer, error) {
	d := &Disposer{}
	for _, h := range handlers {
		subs, err := bindHandlerObject(e.bus, e.logger, h)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.subs = append(d.subs, subs...)
	}
	return d, nil
}

// Interrupt calls driver.Abort via the DriverAdapter when the engine isn't
// already idle. The DriverAdapter itself emits conversation_interrupted
// once it observes the cancellation and stops forwarding (spec §5
// "Cancellation"); Interrupt does not emit it a second time.
func (e *Engine) Interrupt(ctx context.Context) error {
	e.mu.Lock()
	destroyed := e.destroyed
	e.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}
	if e.State() == event.StateIdle {
		return nil
	}
	e.adapter.Abort()
	return nil
}

// Clear empties the message history and aborts any in-flight driver call
// directly (bypassing the adapter's cancellation-token bookkeeping), so
// unlike Interrupt it emits nothing else — state transitions, if any,
// happen via the normal stream-event channels (spec §4.6 "clear").
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	e.history = nil
	e.mu.Unlock()
	e.driver.Abort()
	return nil
}

// OnDestroy registers a hook invoked during Destroy, in reverse
// registration order, before child components are torn down.
func (e *Engine) OnDestroy(h func(ctx context.Context) error) {
	e.mu.Lock()
	e.destroyHooks = append(e.destroyHooks, h)
	e.mu.Unlock()
}

// Destroy invokes registered destroy hooks in reverse insertion order,
// disposes all bound subscriptions, destroys child components in reverse
// construction order (tracker → assembler → state machine → driver), and
// closes the bus. After Destroy, Send rejects with ErrDestroyed (spec §4.6
// "destroy").
func (e *Engine) Destroy(ctx context.Context) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil
	}
	e.destroyed = true
	hooks := make([]func(ctx context.Context) error, len(e.destroyHooks))
	copy(hooks, e.destroyHooks)
	handlerSubs := e.handlerSubs
	internalSubs := e.internalSubs
	e.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			e.logger.Warn(ctx, "engine: destroy hook error", "error", err.Error())
		}
	}

	for _, s := range handlerSubs {
		_ = s.Close()
	}
	for _, s := range internalSubs {
		_ = s.Close()
	}

	_ = e.tracker.Close()
	_ = e.assembler.Close()
	_ = e.stateMachine.Close()
	_ = e.adapter.Close()
	if err := e.driver.Destroy(); err != nil {
		e.logger.Warn(ctx, "engine: driver destroy error", "error", err.Error())
	}

	_ = e.bus.Emit(ctx, event.New(e.agentID, event.AgentDestroyed, nil))
	return e.bus.Close()
}
