package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-bridge/types"
)

func (tb *testBridge) send(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	tb.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestResponses_NonStreaming(t *testing.T) {
	tb := newTestBridge(t, jsonReply(`{"id":"c1","model":"qwen-big","choices":[{"index":0,"message":{"role":"assistant","content":"Checking","tool_calls":[
		{"id":"call_w","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Oslo\"}"}}
	]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":12,"completion_tokens":4}}`))

	rec := tb.do(t, "/v1/responses", `{
		"model":"gpt-4o",
		"instructions":"Be brief.",
		"input":[{"role":"user","content":[{"type":"input_text","text":"Weather in Oslo?"}]}],
		"tools":[{"type":"function","name":"get_weather","parameters":{"type":"object","properties":{"city":{"type":"string"}}}},{"type":"web_search"}],
		"max_output_tokens":128
	}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp types.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "response", resp.Object)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, types.ResponseCompleted, resp.Status)
	require.Len(t, resp.Output, 2)
	assert.Equal(t, "Checking", resp.Output[0].Content[0].Text)
	assert.Equal(t, "call_w", resp.Output[1].CallID)
	assert.Equal(t, 16, resp.Usage.TotalTokens)

	sent := tb.backendRequest(t)
	assert.Equal(t, "qwen-big", sent.Model)
	assert.Equal(t, 128, sent.MaxTokens)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "system", sent.Messages[0].Role)
	assert.Equal(t, "Weather in Oslo?", sent.Messages[1].ContentText())
	require.Len(t, sent.Tools, 1)
	assert.Equal(t, "get_weather", sent.Tools[0].Function.Name)

	records, _ := tb.store.Recent(context.Background(), 10)
	require.Len(t, records, 1)
	assert.Equal(t, ProtocolResponses, records[0].Protocol)
	assert.Equal(t, types.ResponseCompleted, records[0].StopReason)

	// stored by default, retrievable and deletable
	got := tb.send(t, http.MethodGet, "/v1/responses/"+resp.ID)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Contains(t, got.Body.String(), `"id":"`+resp.ID+`"`)

	deleted := tb.send(t, http.MethodDelete, "/v1/responses/"+resp.ID)
	require.Equal(t, http.StatusOK, deleted.Code)
	assert.JSONEq(t, `{"id":"`+resp.ID+`","object":"response.deleted","deleted":true}`, deleted.Body.String())

	assert.Equal(t, http.StatusNotFound, tb.send(t, http.MethodGet, "/v1/responses/"+resp.ID).Code)
	assert.Equal(t, http.StatusNotFound, tb.send(t, http.MethodDelete, "/v1/responses/"+resp.ID).Code)
}

func TestResponses_NotStored(t *testing.T) {
	tb := newTestBridge(t, jsonReply(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))

	rec := tb.do(t, "/v1/responses", `{"model":"gpt-4o","input":"hi","store":false}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp types.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	got := tb.send(t, http.MethodGet, "/v1/responses/"+resp.ID)
	assert.Equal(t, http.StatusNotFound, got.Code)

	var body types.OpenAIErrorResponse
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &body))
	assert.Equal(t, "not_found_error", body.Error.Type)
	require.NotNil(t, body.Error.Code)
	assert.Equal(t, "response_not_found", *body.Error.Code)
}

func TestResponses_RepairsFunctionCallHistory(t *testing.T) {
	tb := newTestBridge(t, jsonReply(`{"choices":[{"index":0,"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`))

	rec := tb.do(t, "/v1/responses", `{
		"model":"gpt-4o",
		"input":[
			{"role":"user","content":"list twice"},
			{"type":"function_call","call_id":"call_A","name":"ls","arguments":"{}"},
			{"type":"function_call","call_id":"call_B","name":"ls","arguments":"{}"},
			{"type":"function_call_output","call_id":"call_A","output":"a"},
			{"role":"user","content":"never mind"}
		]
	}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sent := tb.backendRequest(t)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "list twice", sent.Messages[0].ContentText())
	assert.Equal(t, "never mind", sent.Messages[1].ContentText())
}

func TestResponses_Streaming(t *testing.T) {
	tb := newTestBridge(t, sseReply(
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Checking"}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"get_weather","arguments":"{\"city\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"get_time","arguments":"{}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Oslo\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	))

	rec := tb.do(t, "/v1/responses", `{"model":"gpt-4o","input":"weather?","stream":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseEvents(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, types.EventResponseCreated, events[0].name)

	last := events[len(events)-1]
	require.Equal(t, types.EventResponseCompleted, last.name)
	var completed types.ResponseStreamEvent
	require.NoError(t, json.Unmarshal([]byte(last.data), &completed))
	assert.Equal(t, len(events), completed.SequenceNumber)

	output := completed.Response.Output
	require.Len(t, output, 3)
	assert.Equal(t, `{"city":"Oslo"}`, *output[1].Arguments)
	assert.Equal(t, `{}`, *output[2].Arguments)

	assert.True(t, tb.backendRequest(t).Stream)

	got := tb.send(t, http.MethodGet, "/v1/responses/"+completed.Response.ID)
	assert.Equal(t, http.StatusOK, got.Code)
}

func TestResponses_PreviousResponseID(t *testing.T) {
	tb := newTestBridge(t, jsonReply(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))

	rec := tb.do(t, "/v1/responses", `{"model":"gpt-4o","input":"hi","previous_response_id":"resp_missing"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "previous_response_id")

	first := tb.do(t, "/v1/responses", `{"model":"gpt-4o","input":"hi"}`, nil)
	require.Equal(t, http.StatusOK, first.Code)
	var resp types.Response
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))

	second := tb.do(t, "/v1/responses", `{"model":"gpt-4o","input":"again","previous_response_id":"`+resp.ID+`"}`, nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), `"previous_response_id":"`+resp.ID+`"`)
}

func TestResponses_Validation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing model", `{"input":"hi"}`, http.StatusBadRequest},
		{"no input", `{"model":"gpt-4o"}`, http.StatusBadRequest},
		{"negative max tokens", `{"model":"gpt-4o","input":"hi","max_output_tokens":-1}`, http.StatusBadRequest},
		{"nameless function tool", `{"model":"gpt-4o","input":"hi","tools":[{"type":"function"}]}`, http.StatusBadRequest},
		{"bad schema", `{"model":"gpt-4o","input":"hi","tools":[{"type":"function","name":"f","parameters":[1]}]}`, http.StatusBadRequest},
		{"unknown tool choice", `{"model":"gpt-4o","input":"hi","tool_choice":"sometimes"}`, http.StatusBadRequest},
		{"unmatched output", `{"model":"gpt-4o","input":[{"type":"function_call_output","call_id":"call_x","output":"?"}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t, jsonReply(`{}`))
			rec := tb.do(t, "/v1/responses", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var body types.OpenAIErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "invalid_request_error", body.Error.Type)
			assert.Empty(t, tb.requests)
		})
	}
}

func TestResponseStore_Eviction(t *testing.T) {
	store := newResponseStore(2)
	for _, id := range []string{"resp_1", "resp_2", "resp_3"} {
		store.put(&types.Response{ID: id})
	}

	_, ok := store.get("resp_1")
	assert.False(t, ok)
	_, ok = store.get("resp_3")
	assert.True(t, ok)

	assert.True(t, store.delete("resp_2"))
	assert.False(t, store.delete("resp_2"))
	store.put(&types.Response{ID: "resp_4"})
	_, ok = store.get("resp_3")
	assert.True(t, ok)
}
