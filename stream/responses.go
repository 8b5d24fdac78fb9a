package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"chat-bridge/adapter"
	"chat-bridge/types"
)

// outputItem is one message or function_call item under construction
type outputItem struct {
	index int
	item  types.ResponseOutputItem
	text  strings.Builder
	// arguments holds every fragment; pending those received before the
	// item was added
	arguments strings.Builder
	pending   strings.Builder
	added     bool
	done      bool
}

// ResponseTranslator turns one backend delta stream into Responses stream
// events.
//
// Text opens a message item that collects deltas until a function call item
// is added or the turn ends. Each tool position becomes a function_call item
// once its name is known. Items are addressed by id, so fragments for
// several function calls may interleave freely. Every event carries an
// increasing sequence number starting at 1.
//
// A ResponseTranslator serves exactly one request and is not safe for
// concurrent use.
type ResponseTranslator struct {
	response types.Response

	started  bool
	finished bool
	seq      int

	items     []*outputItem
	message   *outputItem
	calls     map[int]*outputItem
	order     []*outputItem
	last      *outputItem
	anonymous int

	finishReason string
}

// NewResponseTranslator creates a translator for one response
func NewResponseTranslator(responseID, model, previousResponseID string) *ResponseTranslator {
	return &ResponseTranslator{
		response: types.Response{
			ID:                 responseID,
			Object:             "response",
			CreatedAt:          time.Now().Unix(),
			Model:              model,
			Status:             types.ResponseInProgress,
			Output:             []types.ResponseOutputItem{},
			PreviousResponseID: previousResponseID,
		},
		calls: make(map[int]*outputItem),
	}
}

// Response returns the response as it stands, with every item in output order
func (t *ResponseTranslator) Response() *types.Response {
	resp := t.response
	resp.Output = make([]types.ResponseOutputItem, 0, len(t.items))
	for _, it := range t.items {
		resp.Output = append(resp.Output, t.snapshot(it))
	}
	return &resp
}

// Finished reports whether the terminal event was emitted
func (t *ResponseTranslator) Finished() bool { return t.finished }

// Start emits response.created. It is idempotent.
func (t *ResponseTranslator) Start() []Event {
	if t.started {
		return nil
	}
	t.started = true
	created := t.response
	return []Event{t.event(types.ResponseStreamEvent{Type: types.EventResponseCreated, Response: &created})}
}

// Push consumes one backend chunk
func (t *ResponseTranslator) Push(chunk *types.OpenAIStreamChunk) []Event {
	if t.finished || chunk == nil {
		return nil
	}
	events := t.Start()

	if chunk.Usage != nil {
		t.response.Usage = &types.ResponseUsage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			TotalTokens:  chunk.Usage.PromptTokens + chunk.Usage.CompletionTokens,
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

// Finish ends a stream that stopped without a finish signal
func (t *ResponseTranslator) Finish() []Event {
	if t.finished {
		return nil
	}
	events := t.Start()
	return append(events, t.terminate()...)
}

// Abort ends a stream whose upstream failed with an error event. Items
// already added are left in progress and the response is marked failed.
func (t *ResponseTranslator) Abort(err error) []Event {
	if t.finished {
		return nil
	}
	events := t.Start()
	t.finished = true

	detail := types.ErrorDetail{Type: string(types.ErrAPI), Message: err.Error()}
	var apiErr *types.APIError
	if errors.As(err, &apiErr) {
		detail = types.ErrorDetail{Type: string(apiErr.Kind), Message: apiErr.Message}
	}
	t.response.Status = types.ResponseFailed
	t.response.Error = &detail
	return append(events, t.event(types.ResponseStreamEvent{Type: types.EventResponseStreamFailed, Error: &detail}))
}

// Run drives the translator from src until the stream ends, the upstream
// fails, or ctx is cancelled. On cancellation it returns ctx.Err() without
// emitting anything further.
func (t *ResponseTranslator) Run(ctx context.Context, src Source, emit Sink) error {
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

func (t *ResponseTranslator) text(delta string) []Event {
	var events []Event
	if t.message == nil {
		t.message = t.newItem(adapter.MessageItem(adapter.NewItemID("msg"), "", types.ResponseInProgress))
		events = append(events, t.add(t.message))
	}
	t.message.text.WriteString(delta)
	return append(events, t.event(types.ResponseStreamEvent{
		Type:         types.EventOutputTextDelta,
		ItemID:       t.message.item.ID,
		OutputIndex:  intPtr(t.message.index),
		ContentIndex: intPtr(0),
		Delta:        delta,
	}))
}

func (t *ResponseTranslator) toolFragment(call types.OpenAIToolCall) []Event {
	it := t.callItem(call)
	if it.item.CallID == "" && call.ID != "" {
		it.item.CallID = call.ID
	}
	if it.item.Name == "" && call.Function.Name != "" {
		it.item.Name = call.Function.Name
	}
	fragment := call.Function.Arguments

	if it.added {
		if fragment == "" {
			return nil
		}
		return []Event{t.argumentDelta(it, fragment)}
	}
	it.pending.WriteString(fragment)
	if it.item.Name == "" {
		return nil
	}
	return t.addCall(it)
}

// callItem finds the item for a fragment's stream-local position. Fragments
// without an index are matched by id, then fall back to the most recent
// position.
func (t *ResponseTranslator) callItem(call types.OpenAIToolCall) *outputItem {
	var pos int
	switch {
	case call.Index != nil:
		pos = *call.Index
	case call.ID != "":
		for _, it := range t.order {
			if it.item.CallID == call.ID {
				return it
			}
		}
		t.anonymous++
		pos = -t.anonymous
	case t.last != nil:
		return t.last
	}

	it, ok := t.calls[pos]
	if !ok {
		it = &outputItem{index: -1}
		it.item = adapter.FunctionCallItem(adapter.NewItemID("fc"), "", "", "", types.ResponseInProgress)
		t.calls[pos] = it
		t.order = append(t.order, it)
	}
	t.last = it
	return it
}

// addCall ends the open message item and adds a function_call item,
// replaying fragments held while its name was unknown
func (t *ResponseTranslator) addCall(it *outputItem) []Event {
	events := t.closeMessage()
	if it.item.CallID == "" {
		it.item.CallID = "call_" + strings.TrimPrefix(adapter.NewItemID("fc"), "fc_")
	}
	t.items = append(t.items, it)
	it.index = len(t.items) - 1
	events = append(events, t.add(it))

	if it.pending.Len() > 0 {
		events = append(events, t.argumentDelta(it, it.pending.String()))
		it.pending.Reset()
	}
	return events
}

func (t *ResponseTranslator) newItem(item types.ResponseOutputItem) *outputItem {
	it := &outputItem{index: len(t.items), item: item}
	t.items = append(t.items, it)
	return it
}

func (t *ResponseTranslator) add(it *outputItem) Event {
	it.added = true
	item := t.snapshot(it)
	return t.event(types.ResponseStreamEvent{
		Type:        types.EventOutputItemAdded,
		OutputIndex: intPtr(it.index),
		Item:        &item,
	})
}

func (t *ResponseTranslator) argumentDelta(it *outputItem, fragment string) Event {
	it.arguments.WriteString(fragment)
	return t.event(types.ResponseStreamEvent{
		Type:        types.EventArgumentsDelta,
		ItemID:      it.item.ID,
		OutputIndex: intPtr(it.index),
		Delta:       fragment,
	})
}

// closeMessage completes the open message item, if any
func (t *ResponseTranslator) closeMessage() []Event {
	if t.message == nil {
		return nil
	}
	it := t.message
	t.message = nil
	text := it.text.String()
	return []Event{
		t.event(types.ResponseStreamEvent{
			Type:         types.EventOutputTextDone,
			ItemID:       it.item.ID,
			OutputIndex:  intPtr(it.index),
			ContentIndex: intPtr(0),
			Text:         &text,
		}),
		t.itemDone(it),
	}
}

func (t *ResponseTranslator) itemDone(it *outputItem) Event {
	it.done = true
	it.item.Status = types.ResponseCompleted
	item := t.snapshot(it)
	return t.event(types.ResponseStreamEvent{
		Type:        types.EventOutputItemDone,
		OutputIndex: intPtr(it.index),
		Item:        &item,
	})
}

// terminate completes every item in output order and emits the terminal
// response event. Positions that never received a name are added with what
// they hold; positions that received nothing produce nothing.
func (t *ResponseTranslator) terminate() []Event {
	events := t.closeMessage()
	for _, it := range t.order {
		if !it.added && it.pending.Len() > 0 {
			events = append(events, t.addCall(it)...)
		}
	}
	for _, it := range t.items {
		if it.done || it.item.Type != types.ItemFunctionCall {
			continue
		}
		arguments := it.arguments.String()
		events = append(events,
			t.event(types.ResponseStreamEvent{
				Type:        types.EventArgumentsDone,
				ItemID:      it.item.ID,
				OutputIndex: intPtr(it.index),
				Arguments:   &arguments,
			}),
			t.itemDone(it),
		)
	}
	t.finished = true

	status, details := adapter.ResponseStatus(t.finishReason)
	t.response.Status = status
	t.response.IncompleteDetails = details

	name := types.EventResponseCompleted
	if status == types.ResponseIncomplete {
		name = types.EventResponseIncomplete
	}
	return append(events, t.event(types.ResponseStreamEvent{Type: name, Response: t.Response()}))
}

// snapshot renders an item with the text or arguments received so far
func (t *ResponseTranslator) snapshot(it *outputItem) types.ResponseOutputItem {
	item := it.item
	switch item.Type {
	case types.ItemMessage:
		if text := it.text.String(); text != "" {
			item.Content = []types.ResponseContentPart{{Type: "output_text", Text: text}}
		}
	case types.ItemFunctionCall:
		arguments := it.arguments.String()
		item.Arguments = &arguments
	}
	return item
}

func (t *ResponseTranslator) event(ev types.ResponseStreamEvent) Event {
	t.seq++
	ev.SequenceNumber = t.seq
	return Event{Name: ev.Type, Payload: ev}
}

func intPtr(i int) *int { return &i }
