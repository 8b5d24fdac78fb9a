package adapter

import (
	"encoding/json"
	"strings"

	"chat-bridge/conversation"
	"chat-bridge/types"
)

// LowerToBackend converts repaired block-style turns to the flat messages the
// backend understands. The system prompt, when present, becomes the leading
// system message. Invocation ids are moved to the backend namespace.
//
// A user turn carrying tool_result blocks becomes one tool message per
// result followed by a user message for any co-located text. Uninterpreted
// blocks (thinking, images) are not forwarded.
func LowerToBackend(system string, turns []conversation.Turn) []types.OpenAIMessage {
	messages := make([]types.OpenAIMessage, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, textMessage(string(conversation.RoleSystem), system))
	}
	for _, turn := range turns {
		messages = append(messages, lowerTurn(turn, ToBackendID)...)
	}
	return messages
}

func lowerTurn(turn conversation.Turn, ids func(string) string) []types.OpenAIMessage {
	var messages []types.OpenAIMessage

	for _, r := range turn.AllResults() {
		text := r.Text()
		if r.IsError && text == "" {
			text = "error"
		}
		messages = append(messages, types.OpenAIMessage{
			Role:       string(conversation.RoleTool),
			Content:    mustString(text),
			ToolCallID: ids(r.InvocationID),
		})
	}
	if turn.Role == conversation.RoleTool {
		return messages
	}

	text := turn.PlainText()
	invocations := turn.AllInvocations()

	if turn.Role == conversation.RoleAssistant {
		if text == "" && len(invocations) == 0 {
			return messages
		}
		msg := types.OpenAIMessage{Role: string(turn.Role), Content: json.RawMessage(`null`)}
		if text != "" {
			msg.Content = mustString(text)
		}
		for _, inv := range invocations {
			inv.Arguments = validJSONOrEmpty(inv.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, toolCall(inv, ids))
		}
		return append(messages, msg)
	}

	// Carriers only produce a trailing user message when they hold real text
	if len(messages) > 0 && strings.TrimSpace(text) == "" {
		return messages
	}
	return append(messages, textMessage(string(turn.Role), text))
}

// hasBlockToolTraffic reports whether tool blocks live inside the turn content
func hasBlockToolTraffic(turn conversation.Turn) bool {
	if turn.Content.Kind != conversation.KindBlocks {
		return false
	}
	for _, b := range turn.Content.Blocks {
		if b.Type == conversation.BlockInvocation || b.Type == conversation.BlockResult {
			return true
		}
	}
	return false
}

func textMessage(role, text string) types.OpenAIMessage {
	return types.OpenAIMessage{Role: role, Content: mustString(text)}
}

func mustString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}
