package adapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-bridge/conversation"
	"chat-bridge/types"
)

func decodeOpenAIMessages(t *testing.T, raw string) []types.OpenAIMessage {
	t.Helper()
	var messages []types.OpenAIMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &messages))
	return messages
}

func TestFromOpenAIMessages(t *testing.T) {
	messages := decodeOpenAIMessages(t, `[
		{"role":"system","content":"be brief"},
		{"role":"user","content":[{"type":"text","text":"hi"}]},
		{"role":"assistant","content":null,"tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Oslo\"}"}},
			{"id":"call_2","type":"function","function":{"name":"get_time","arguments":"{"}}
		]},
		{"role":"tool","tool_call_id":"call_1","content":"rainy"},
		{"role":"tool","tool_call_id":"call_2","content":"noon"}
	]`)

	turns, err := FromOpenAIMessages(messages)
	require.NoError(t, err)
	require.Len(t, turns, 5)

	assert.Equal(t, conversation.TextContent("be brief"), turns[0].Content)
	assert.Equal(t, conversation.BlockContent(conversation.TextBlock("hi")), turns[1].Content)

	assistant := turns[2]
	assert.Equal(t, conversation.KindNull, assistant.Content.Kind)
	require.Len(t, assistant.Invocations, 2)
	assert.Equal(t, "call_1", assistant.Invocations[0].ID)
	assert.Equal(t, `{"city":"Oslo"}`, string(assistant.Invocations[0].Arguments))
	assert.Equal(t, `{`, string(assistant.Invocations[1].Arguments))

	require.Len(t, turns[3].Results, 1)
	assert.Equal(t, "call_1", turns[3].Results[0].InvocationID)
	assert.Equal(t, "rainy", turns[3].Results[0].Text())
}

func TestOpenAIRoundTrip(t *testing.T) {
	raw := `[
		{"role":"system","content":"sys"},
		{"role":"user","content":"hi","name":"alice"},
		{"role":"assistant","content":"let me check","tool_calls":[{"id":"call_1","type":"function","function":{"name":"f","arguments":"{\"x\":1}"}}]},
		{"role":"tool","tool_call_id":"call_1","content":"42"},
		{"role":"assistant","content":null,"tool_calls":[{"id":"call_2","type":"function","function":{"name":"g","arguments":""}}]},
		{"role":"tool","tool_call_id":"call_2","content":[{"type":"text","text":"ok"}]},
		{"role":"assistant","content":"done"}
	]`
	messages := decodeOpenAIMessages(t, raw)

	turns, err := FromOpenAIMessages(messages)
	require.NoError(t, err)
	repaired, report := conversation.RepairWithReport(turns)
	require.False(t, report.Changed())

	back := ToOpenAIMessages(repaired)
	require.Len(t, back, len(messages))

	original, err := json.Marshal(messages)
	require.NoError(t, err)
	roundTripped, err := json.Marshal(back)
	require.NoError(t, err)
	assert.JSONEq(t, string(original), string(roundTripped))
}

func TestToOpenAIMessages_RepairedHistory(t *testing.T) {
	messages := decodeOpenAIMessages(t, `[
		{"role":"user","content":"hi"},
		{"role":"assistant","content":"working on it","tool_calls":[{"id":"call_1","type":"function","function":{"name":"f","arguments":"{}"}}]},
		{"role":"user","content":"stop"},
		{"role":"tool","tool_call_id":"call_1","content":"late"}
	]`)

	turns, err := FromOpenAIMessages(messages)
	require.NoError(t, err)

	back := ToOpenAIMessages(conversation.Repair(turns))

	require.Len(t, back, 3)
	assert.Equal(t, "assistant", back[1].Role)
	assert.Empty(t, back[1].ToolCalls)
	assert.Equal(t, "working on it", back[1].ContentText())
	assert.Equal(t, "stop", back[2].ContentText())
}
