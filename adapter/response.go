package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"chat-bridge/conversation"
	"chat-bridge/types"
)

// StopReason picks the block-style stop reason for a finished turn. tool_use
// is reported only when a tool block was actually produced, whatever the
// backend's finish reason; length maps to max_tokens and anything else,
// including a tool_calls finish without calls, to end_turn.
func StopReason(finishReason string, sawTools bool) string {
	if sawTools {
		return types.StopReasonToolUse
	}
	if finishReason == types.FinishReasonLength {
		return types.StopReasonMaxTokens
	}
	return types.StopReasonEndTurn
}

// AnthropicResponseFromOpenAI converts a non-streaming backend response into
// a block-style response reporting the client's model name. Tool call ids
// are moved to the client namespace and their argument strings parsed; an
// unparseable argument string becomes an empty input object.
func AnthropicResponseFromOpenAI(resp *types.OpenAIResponse, model, messageID string) (*types.AnthropicResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("backend response has no choices")
	}
	choice := resp.Choices[0]

	content := make([]types.Content, 0, 1+len(choice.Message.ToolCalls))
	text, err := decodeFlatContent(choice.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("backend message content: %w", err)
	}
	if s := (conversation.Turn{Content: text}).PlainText(); s != "" {
		content = append(content, types.Content{Type: "text", Text: s})
	}

	for _, call := range choice.Message.ToolCalls {
		id := ToClientID(call.ID)
		if id == "" {
			id = NewToolUseID()
		}
		content = append(content, types.Content{
			Type:  "tool_use",
			ID:    id,
			Name:  call.Function.Name,
			Input: ParseArguments(call.Function.Arguments),
		})
	}

	finish := ""
	if choice.FinishReason != nil {
		finish = *choice.FinishReason
	}
	stop := StopReason(finish, len(choice.Message.ToolCalls) > 0)

	out := &types.AnthropicResponse{
		ID:         messageID,
		Type:       "message",
		Role:       string(conversation.RoleAssistant),
		Model:      model,
		Content:    content,
		StopReason: &stop,
	}
	if resp.Usage != nil {
		out.Usage = types.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// ParseArguments turns an argument string into a JSON object for tool_use
// input. Anything that is not a JSON object becomes {}.
func ParseArguments(arguments string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(arguments))
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(trimmed)
}
