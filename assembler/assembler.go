// Package assembler implements the MessageAssembler (spec §4.3): it
// accumulates per-content-block-index stream deltas into complete messages
// and publishes them onto the bus. Grounded on the teacher's Anthropic SSE
// accumulation loop (leofalp-aigo/providers/ai/anthropic/stream.go), which
// tracks per-block state across content_block_start/delta/stop the same
// way, generalized from a single assistant turn to the bus-driven event
// sequence and widened with a jsonrepair fallback for malformed tool-use
// JSON (leofalp-aigo/core/parse/parse.go) before giving up on a block.
package assembler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/goadesign/agentcore/bus"
	"github.com/goadesign/agentcore/event"
	"github.com/goadesign/agentcore/telemetry"
)

type blockKind int

const (
	blockText blockKind = iota
	blockToolUse
)

type blockState struct {
	kind blockKind
	text stringBuilder
	id   string
	name string
}

// stringBuilder is a minimal growable text accumulator.
type stringBuilder struct{ b []byte }

func (s *stringBuilder) WriteString(v string) { s.b = append(s.b, v...) }
func (s *stringBuilder) String() string       { return string(s.b) }

// Assembler accumulates stream-layer events into complete messages. One
// Assembler instance is scoped to a single agent's bus.
type Assembler struct {
	agentID string
	bus     bus.Bus
	logger  telemetry.Logger

	mu               sync.Mutex
	blocks           map[int]*blockState
	currentMessageID string
	startTimestamp   int64
	subs             []bus.Subscription
}

// New constructs an Assembler and subscribes it to the stream-layer events
// it needs on b. logger may be nil.
func New(agentID string, b bus.Bus, logger telemetry.Logger) (*Assembler, error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	a := &Assembler{agentID: agentID, bus: b, logger: logger, blocks: make(map[int]*blockState)}

	subs := []struct {
		t event.Type
		h bus.Handler
	}{
		{event.MessageStart, a.onMessageStart},
		{event.TextContentBlockStart, a.onTextStart},
		{event.TextDelta, a.onTextDelta},
		{event.ToolUseContentBlockStart, a.onToolUseStart},
		{event.InputJSONDelta, a.onInputJSONDelta},
		{event.ToolUseContentBlockStop, a.onToolUseStop},
		{event.MessageStop, a.onMessageStop},
	}
	for _, s := range subs {
		sub, err := b.Subscribe(s.t, s.h)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.subs = append(a.subs, sub)
	}
	return a, nil
}

// Close unsubscribes the assembler from the bus.
func (a *Assembler) Close() error {
	for _, s := range a.subs {
		_ = s.Close()
	}
	return nil
}

// onMessageStart assigns a new currentMessageId, records the start
// timestamp, and clears the accumulator (spec §4.3).
func (a *Assembler) onMessageStart(ctx context.Context, e event.Event) error {
	a.mu.Lock()
	a.currentMessageID = uuid.NewString()
	a.startTimestamp = e.Timestamp()
	a.blocks = make(map[int]*blockState)
	a.mu.Unlock()
	return nil
}

func (a *Assembler) onTextStart(ctx context.Context, e event.Event) error {
	if e.Index == nil {
		return nil
	}
	a.mu.Lock()
	a.blocks[*e.Index] = &blockState{kind: blockText}
	a.mu.Unlock()
	return nil
}

func (a *Assembler) onTextDelta(ctx context.Context, e event.Event) error {
	if e.Index == nil {
		return nil
	}
	data, ok := e.Data.(event.TextDeltaData)
	if !ok {
		return nil
	}
	a.mu.Lock()
	block, ok := a.blocks[*e.Index]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	block.text.WriteString(data.Text)
	return nil
}

func (a *Assembler) onToolUseStart(ctx context.Context, e event.Event) error {
	if e.Index == nil {
		return nil
	}
	data, ok := e.Data.(event.ToolUseContentBlockStartData)
	if !ok {
		return nil
	}
	a.mu.Lock()
	a.blocks[*e.Index] = &blockState{kind: blockToolUse, id: data.ID, name: data.Name}
	a.mu.Unlock()
	return nil
}

func (a *Assembler) onInputJSONDelta(ctx context.Context, e event.Event) error {
	if e.Index == nil {
		return nil
	}
	data, ok := e.Data.(event.InputJSONDeltaData)
	if !ok {
		return nil
	}
	a.mu.Lock()
	block, ok := a.blocks[*e.Index]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	block.text.WriteString(data.PartialJSON)
	return nil
}

// onToolUseStop parses the accumulated JSON buffer for the closing tool-use
// block. On parse failure (even after a jsonrepair retry) the block is
// logged and skipped without aborting the surrounding message (spec §4.3).
// On success it immediately emits a tool_use_message, under its own fresh ID
// and the current message's start timestamp, carrying the call plus an empty
// (pending) tool-result placeholder.
func (a *Assembler) onToolUseStop(ctx context.Context, e event.Event) error {
	if e.Index == nil {
		return nil
	}
	a.mu.Lock()
	block, ok := a.blocks[*e.Index]
	if ok {
		delete(a.blocks, *e.Index)
	}
	startTimestamp := a.startTimestamp
	a.mu.Unlock()
	if !ok || block.kind != blockToolUse {
		return nil
	}

	raw := block.text.String()
	var input any
	if raw == "" {
		input = map[string]any{}
	} else if err := json.Unmarshal([]byte(raw), &input); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			a.logger.Warn(ctx, "assembler: skipping unparseable tool-use block", "tool_id", block.id, "error", err.Error())
			return nil
		}
		if err := json.Unmarshal([]byte(repaired), &input); err != nil {
			a.logger.Warn(ctx, "assembler: skipping tool-use block, repair did not yield valid JSON", "tool_id", block.id, "error", err.Error())
			return nil
		}
	}

	msg := &event.Message{
		ID:        uuid.NewString(),
		Timestamp: startTimestamp,
		Role:      event.RoleToolUse,
		ToolUse: &event.ToolUsePayload{
			Call:   event.ToolCallPart{ID: block.id, Name: block.name, Input: input},
			Result: event.ToolResultPart{ID: block.id, Name: block.name},
		},
	}
	return a.bus.Emit(ctx, event.New(a.agentID, event.ToolUseMessage, msg))
}

// onMessageStop sorts any remaining text slots by index, concatenates with
// no separator, and emits a single assistant_message. Tool-use blocks have
// already been emitted by onToolUseStop and are not revisited here.
func (a *Assembler) onMessageStop(ctx context.Context, e event.Event) error {
	a.mu.Lock()
	indices := make([]int, 0, len(a.blocks))
	for idx, block := range a.blocks {
		if block.kind == blockText {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	blocks := a.blocks
	a.blocks = make(map[int]*blockState)
	messageID, startTimestamp := a.currentMessageID, a.startTimestamp
	a.mu.Unlock()

	var usage *event.TokenUsage
	if data, ok := e.Data.(event.MessageStopData); ok {
		usage = data.Usage
	}

	var text stringBuilder
	for _, idx := range indices {
		text.WriteString(blocks[idx].text.String())
	}

	if text.String() == "" {
		return nil
	}
	msg := &event.Message{
		ID:        messageID,
		Role:      event.RoleAssistant,
		Timestamp: startTimestamp,
		Assistant: &event.AssistantPayload{Text: text.String(), Usage: usage},
	}
	return a.bus.Emit(ctx, event.New(a.agentID, event.AssistantMessage, msg))
}
