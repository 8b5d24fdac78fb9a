package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	"chat-bridge/adapter"
	"chat-bridge/types"
)

// Event is one block-style lifecycle event
type Event struct {
	Name    string
	Payload interface{}
}

// Sink receives translated events in order
type Sink func(Event) error

type blockKind uint8

const (
	blockNone blockKind = iota
	blockText
	blockTool
)

// toolAccumulator tracks one in-flight invocation by its stream-local position
type toolAccumulator struct {
	outputIndex int
	id          string
	name        string
	arguments   strings.Builder
	opened      bool
	// buffered holds fragments received before the block could be opened
	buffered strings.Builder
}

// Translator turns one backend delta stream into block-style events.
//
// Text deltas extend the open text block or open a new one. The first named
// fragment for a tool position closes an open text block and opens a
// tool_use block at the next output index; later fragments for that position
// are forwarded as input_json_delta events. A tool block stays open until the
// turn ends, so fragments for other positions, and any text, arriving while
// it is open accumulate and are emitted as whole blocks once the turn ends.
// Output indices follow first appearance, never completion order, and no
// fragment is ever dropped.
//
// A Translator serves exactly one request and is not safe for concurrent use.
type Translator struct {
	messageID string
	model     string

	started   bool
	finished  bool
	nextIndex int
	open      blockKind
	openIndex int

	tools     map[int]*toolAccumulator
	order     []*toolAccumulator
	last      *toolAccumulator
	anonymous int
	sawTools  bool
	heldText  strings.Builder

	finishReason string
	usage        types.Usage

	// Deferred counts tool blocks that could not be opened live and were
	// emitted from their accumulators when the turn ended
	Deferred int
}

// NewTranslator creates a translator for one response
func NewTranslator(messageID, model string) *Translator {
	return &Translator{
		messageID: messageID,
		model:     model,
		tools:     make(map[int]*toolAccumulator),
	}
}

// Start emits message_start. It is idempotent.
func (t *Translator) Start() []Event {
	if t.started {
		return nil
	}
	t.started = true
	return []Event{{
		Name: types.EventMessageStart,
		Payload: types.MessageStartEvent{
			Type: types.EventMessageStart,
			Message: types.AnthropicResponse{
				ID:      t.messageID,
				Type:    "message",
				Role:    "assistant",
				Model:   t.model,
				Content: []types.Content{},
				Usage:   t.usage,
			},
		},
	}}
}

// Finished reports whether the terminal events were emitted
func (t *Translator) Finished() bool { return t.finished }

// SawTools reports whether any tool_use block was opened
func (t *Translator) SawTools() bool { return t.sawTools }

// StopReason returns the stop reason reported, or that would be reported,
// for the stream so far
func (t *Translator) StopReason() string {
	return adapter.StopReason(t.finishReason, t.sawTools)
}

// Push consumes one backend chunk
func (t *Translator) Push(chunk *types.OpenAIStreamChunk) []Event {
	if t.finished || chunk == nil {
		return nil
	}
	events := t.Start()

	if chunk.Usage != nil {
		t.usage = types.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		return events
	}

	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		events = append(events, t.text(choice.Delta.Content)...)
	}
	for _, call := range choice.Delta.ToolCalls {
		events = append(events, t.toolFragment(call)...)
	}
	if choice.FinishReason != nil {
		t.finishReason = *choice.FinishReason
		events = append(events, t.terminate()...)
	}
	return events
}

// Finish ends a stream that stopped without a finish signal. Any open block
// is closed and the terminal events are emitted.
func (t *Translator) Finish() []Event {
	if t.finished {
		return nil
	}
	events := t.Start()
	return append(events, t.terminate()...)
}

// Abort ends a stream whose upstream failed. The open block is closed and
// held blocks are emitted with what they received, then an error event
// follows. No message_delta or message_stop is sent.
func (t *Translator) Abort(err error) []Event {
	if t.finished {
		return nil
	}
	events := t.Start()
	events = append(events, t.flush()...)
	t.finished = true

	detail := types.ErrorDetail{Type: string(types.ErrAPI), Message: err.Error()}
	var apiErr *types.APIError
	if errors.As(err, &apiErr) {
		detail = types.ErrorDetail{Type: string(apiErr.Kind), Message: apiErr.Message}
	}
	return append(events, Event{
		Name:    types.EventError,
		Payload: types.ErrorEvent{Type: types.EventError, Error: detail},
	})
}

// Run drives the translator from src until the stream ends, the upstream
// fails, or ctx is cancelled. On cancellation it returns ctx.Err() without
// emitting anything further.
func (t *Translator) Run(ctx context.Context, src Source, emit Sink) error {
	send := func(events []Event) error {
		for _, ev := range events {
			if err := emit(ev); err != nil {
				return err
			}
		}
		return nil
	}

	if err := send(t.Start()); err != nil {
		return err
	}
	for !t.finished {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := src.Next()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, io.EOF) {
			return send(t.Finish())
		}
		if err != nil {
			if sendErr := send(t.Abort(err)); sendErr != nil {
				return sendErr
			}
			return err
		}

		if err := send(t.Push(chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) text(delta string) []Event {
	if t.open == blockTool {
		t.heldText.WriteString(delta)
		return nil
	}
	var events []Event
	if t.open != blockText {
		events = append(events, t.closeOpen()...)
		events = append(events, t.openBlock(blockText, types.Content{Type: "text"})...)
	}
	return append(events, t.delta(types.BlockDelta{Type: types.DeltaText, Text: delta}))
}

func (t *Translator) toolFragment(call types.OpenAIToolCall) []Event {
	acc := t.accumulator(call)
	if acc.id == "" && call.ID != "" {
		acc.id = adapter.ToClientID(call.ID)
	}
	if acc.name == "" && call.Function.Name != "" {
		acc.name = call.Function.Name
	}
	fragment := call.Function.Arguments

	// Only one tool block is opened before the turn ends, and it is the open block
	if acc.opened {
		if fragment == "" {
			return nil
		}
		return []Event{t.argumentDelta(acc, fragment)}
	}

	acc.buffered.WriteString(fragment)
	if acc.name == "" || t.open == blockTool || t.waiting(acc) {
		return nil
	}
	return t.openToolBlock(acc)
}

// waiting reports whether a position that appeared before acc has not been
// opened yet
func (t *Translator) waiting(acc *toolAccumulator) bool {
	for _, earlier := range t.order {
		if earlier == acc {
			return false
		}
		if !earlier.opened {
			return true
		}
	}
	return false
}

// accumulator finds the accumulator for a fragment's stream-local position.
// Fragments without an index are matched by id, then fall back to the most
// recent position.
func (t *Translator) accumulator(call types.OpenAIToolCall) *toolAccumulator {
	var pos int
	switch {
	case call.Index != nil:
		pos = *call.Index
	case call.ID != "":
		id := adapter.ToClientID(call.ID)
		for _, acc := range t.order {
			if acc.id == id {
				return acc
			}
		}
		t.anonymous++
		pos = -t.anonymous
	case t.last != nil:
		return t.last
	}

	acc, ok := t.tools[pos]
	if !ok {
		acc = &toolAccumulator{outputIndex: -1}
		t.tools[pos] = acc
		t.order = append(t.order, acc)
	}
	t.last = acc
	return acc
}

// openToolBlock closes whatever is open and opens a tool_use block for acc,
// replaying any fragments held while its name was unknown
func (t *Translator) openToolBlock(acc *toolAccumulator) []Event {
	events := t.closeOpen()
	if acc.id == "" {
		acc.id = adapter.NewToolUseID()
	}
	events = append(events, t.openBlock(blockTool, types.Content{
		Type:  "tool_use",
		ID:    acc.id,
		Name:  acc.name,
		Input: json.RawMessage(`{}`),
	})...)
	acc.outputIndex = t.openIndex
	acc.opened = true
	t.sawTools = true

	if acc.buffered.Len() > 0 {
		events = append(events, t.argumentDelta(acc, acc.buffered.String()))
		acc.buffered.Reset()
	}
	return events
}

func (t *Translator) openBlock(kind blockKind, block types.Content) []Event {
	t.open = kind
	t.openIndex = t.nextIndex
	t.nextIndex++
	return []Event{{
		Name: types.EventContentBlockStart,
		Payload: types.ContentBlockStartEvent{
			Type:         types.EventContentBlockStart,
			Index:        t.openIndex,
			ContentBlock: block,
		},
	}}
}

func (t *Translator) delta(d types.BlockDelta) Event {
	return Event{
		Name: types.EventContentBlockDelta,
		Payload: types.ContentBlockDeltaEvent{
			Type:  types.EventContentBlockDelta,
			Index: t.openIndex,
			Delta: d,
		},
	}
}

func (t *Translator) argumentDelta(acc *toolAccumulator, fragment string) Event {
	acc.arguments.WriteString(fragment)
	return t.delta(types.BlockDelta{Type: types.DeltaInputJSON, PartialJSON: fragment})
}

// closeOpen closes the open block, if any
func (t *Translator) closeOpen() []Event {
	if t.open == blockNone {
		return nil
	}
	index := t.openIndex
	t.open = blockNone
	return []Event{{
		Name: types.EventContentBlockStop,
		Payload: types.ContentBlockStopEvent{
			Type:  types.EventContentBlockStop,
			Index: index,
		},
	}}
}

// flush closes the open block, then emits the tool positions still held in
// their accumulators in first-appearance order, followed by any text that
// arrived while a tool block was open. Positions that never received a name
// or a fragment produce nothing.
func (t *Translator) flush() []Event {
	events := t.closeOpen()
	for _, acc := range t.order {
		if acc.opened || (acc.name == "" && acc.buffered.Len() == 0) {
			continue
		}
		t.Deferred++
		events = append(events, t.openToolBlock(acc)...)
		events = append(events, t.closeOpen()...)
	}
	if t.heldText.Len() > 0 {
		events = append(events, t.openBlock(blockText, types.Content{Type: "text"})...)
		events = append(events, t.delta(types.BlockDelta{Type: types.DeltaText, Text: t.heldText.String()}))
		events = append(events, t.closeOpen()...)
		t.heldText.Reset()
	}
	return events
}

// terminate flushes every block and emits message_delta and message_stop
func (t *Translator) terminate() []Event {
	events := t.flush()
	t.finished = true

	stop := t.StopReason()
	return append(events,
		Event{
			Name: types.EventMessageDelta,
			Payload: types.MessageDeltaEvent{
				Type:  types.EventMessageDelta,
				Delta: types.MessageDeltaBody{StopReason: stop},
				Usage: types.MessageDeltaUsage{OutputTokens: t.usage.OutputTokens},
			},
		},
		Event{
			Name:    types.EventMessageStop,
			Payload: types.MessageStopEvent{Type: types.EventMessageStop},
		},
	)
}

// ToolCalls returns the invocations reconstructed so far in output order,
// with their concatenated arguments parsed
func (t *Translator) ToolCalls() []types.Content {
	opened := make([]*toolAccumulator, 0, len(t.order))
	for _, acc := range t.order {
		if acc.opened {
			opened = append(opened, acc)
		}
	}
	sort.Slice(opened, func(i, j int) bool { return opened[i].outputIndex < opened[j].outputIndex })

	calls := make([]types.Content, 0, len(opened))
	for _, acc := range opened {
		calls = append(calls, types.Content{
			Type:  "tool_use",
			ID:    acc.id,
			Name:  acc.name,
			Input: adapter.ParseArguments(acc.arguments.String()),
		})
	}
	return calls
}
