package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-bridge/types"
)

func TestEventWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewEventWriter(rec)

	require.NoError(t, w.WriteEvent(types.EventMessageStop, types.MessageStopEvent{Type: types.EventMessageStop}))
	require.NoError(t, w.WriteData(map[string]string{"a": "b"}))
	require.NoError(t, w.WriteDone())

	assert.Equal(t,
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"+
			"data: {\"a\":\"b\"}\n\n"+
			"data: [DONE]\n\n",
		rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestSetHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func decodeDataLines(t *testing.T, body string) []string {
	t.Helper()
	var payloads []string
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		require.True(t, strings.HasPrefix(frame, "data: "), "frame %q", frame)
		payloads = append(payloads, strings.TrimPrefix(frame, "data: "))
	}
	return payloads
}

func TestPassthrough(t *testing.T) {
	chunk := toolChunk(0, "call_abc", "lookup", `{"q":1}`)
	chunk.Model = "backend-model"
	src := &sliceSource{chunks: []*types.OpenAIStreamChunk{chunk, finishChunk("tool_calls")}}

	var buf bytes.Buffer
	require.NoError(t, Passthrough(context.Background(), src, "gpt-4o", NewEventWriter(&buf)))

	payloads := decodeDataLines(t, buf.String())
	require.Len(t, payloads, 3)
	assert.Equal(t, "[DONE]", payloads[2])

	var first types.OpenAIStreamChunk
	require.NoError(t, json.Unmarshal([]byte(payloads[0]), &first))
	assert.Equal(t, "gpt-4o", first.Model)
	// flat-style clients see the backend's ids untouched
	assert.Equal(t, "call_abc", first.Choices[0].Delta.ToolCalls[0].ID)
}

func TestPassthrough_UpstreamFailure(t *testing.T) {
	src := &sliceSource{
		chunks: []*types.OpenAIStreamChunk{textChunk("hi")},
		err:    errors.New("read: connection reset"),
	}

	var buf bytes.Buffer
	err := Passthrough(context.Background(), src, "gpt-4o", NewEventWriter(&buf))
	require.Error(t, err)

	payloads := decodeDataLines(t, buf.String())
	require.Len(t, payloads, 3)

	var errBody types.OpenAIErrorResponse
	require.NoError(t, json.Unmarshal([]byte(payloads[1]), &errBody))
	assert.Equal(t, string(types.ErrAPI), errBody.Error.Type)
	assert.Contains(t, errBody.Error.Message, "connection reset")
	assert.Equal(t, "[DONE]", payloads[2])
}

func TestPassthrough_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := Passthrough(ctx, &sliceSource{chunks: []*types.OpenAIStreamChunk{textChunk("hi")}}, "m", NewEventWriter(&buf))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}
