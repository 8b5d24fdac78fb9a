package adapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-bridge/conversation"
	"chat-bridge/types"
)

func TestLowerToBackend(t *testing.T) {
	messages := decodeMessages(t, `[
		{"role":"user","content":"list files"},
		{"role":"assistant","content":[
			{"type":"thinking","thinking":"hmm","signature":"s"},
			{"type":"text","text":"Running two commands"},
			{"type":"tool_use","id":"toolu_A","name":"Bash","input":{"command":"ls"}},
			{"type":"tool_use","id":"toolu_B","name":"Bash","input":{"command":"pwd"}}
		]},
		{"role":"user","content":[
			{"type":"tool_result","tool_use_id":"toolu_A","content":[{"type":"text","text":"a.go"}]},
			{"type":"tool_result","tool_use_id":"toolu_B","content":"/src","is_error":false},
			{"type":"text","text":"what now?"}
		]}
	]`)
	turns, err := FromAnthropicMessages(messages)
	require.NoError(t, err)

	lowered := LowerToBackend("be brief", conversation.Repair(turns))

	require.Len(t, lowered, 6)
	assert.Equal(t, "system", lowered[0].Role)
	assert.Equal(t, "be brief", lowered[0].ContentText())

	assert.Equal(t, "user", lowered[1].Role)
	assert.Equal(t, "list files", lowered[1].ContentText())

	assistant := lowered[2]
	assert.Equal(t, "assistant", assistant.Role)
	assert.Equal(t, "Running two commands", assistant.ContentText())
	require.Len(t, assistant.ToolCalls, 2)
	assert.Equal(t, "call_A", assistant.ToolCalls[0].ID)
	assert.Equal(t, "function", assistant.ToolCalls[0].Type)
	assert.Equal(t, "Bash", assistant.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"command":"ls"}`, assistant.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_B", assistant.ToolCalls[1].ID)

	assert.Equal(t, types.OpenAIMessage{Role: "tool", Content: json.RawMessage(`"a.go"`), ToolCallID: "call_A"}, lowered[3])
	assert.Equal(t, types.OpenAIMessage{Role: "tool", Content: json.RawMessage(`"/src"`), ToolCallID: "call_B"}, lowered[4])
	assert.Equal(t, "user", lowered[5].Role)
	assert.Equal(t, "what now?", lowered[5].ContentText())
}

func TestLowerToBackend_InterruptedHistory(t *testing.T) {
	messages := decodeMessages(t, `[
		{"role":"user","content":"hi"},
		{"role":"assistant","content":[{"type":"tool_use","id":"toolu_A","name":"Read","input":{}}]},
		{"role":"user","content":"stop"},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_A","content":"late"}]}
	]`)
	turns, err := FromAnthropicMessages(messages)
	require.NoError(t, err)

	lowered := LowerToBackend("", conversation.Repair(turns))

	require.Len(t, lowered, 2)
	for _, msg := range lowered {
		assert.Equal(t, "user", msg.Role)
		assert.Empty(t, msg.ToolCalls)
	}
}

func TestLowerToBackend_AssistantWithoutText(t *testing.T) {
	turns := []conversation.Turn{
		{Role: conversation.RoleAssistant, Content: conversation.BlockContent(
			conversation.InvocationBlock(conversation.Invocation{ID: "toolu_A", Name: "f", Arguments: json.RawMessage(`not json`)}),
		)},
		{Role: conversation.RoleUser, Content: conversation.BlockContent(
			conversation.ResultBlock(conversation.Result{InvocationID: "toolu_A", IsError: true}),
		)},
	}

	lowered := LowerToBackend("", turns)

	require.Len(t, lowered, 2)
	assert.Equal(t, json.RawMessage(`null`), lowered[0].Content)
	assert.Equal(t, "{}", lowered[0].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "error", lowered[1].ContentText())
}
