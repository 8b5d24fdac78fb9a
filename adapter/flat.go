package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"chat-bridge/conversation"
	"chat-bridge/types"
)

// FromOpenAIMessages converts flat-style messages to turns. tool_calls land
// on Turn.Invocations and each tool message becomes a turn with one Result.
// Argument strings are kept byte for byte, valid JSON or not.
func FromOpenAIMessages(messages []types.OpenAIMessage) ([]conversation.Turn, error) {
	turns := make([]conversation.Turn, 0, len(messages))
	for i, msg := range messages {
		turn := conversation.Turn{
			Role: conversation.Role(msg.Role),
			Name: msg.Name,
		}

		if turn.Role == conversation.RoleTool {
			turn.Results = []conversation.Result{{
				InvocationID: msg.ToolCallID,
				Content:      msg.Content,
			}}
			turns = append(turns, turn)
			continue
		}

		content, err := decodeFlatContent(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("messages.%d.content: %w", i, err)
		}
		turn.Content = content

		for _, call := range msg.ToolCalls {
			turn.Invocations = append(turn.Invocations, conversation.Invocation{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: json.RawMessage(call.Function.Arguments),
			})
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func decodeFlatContent(raw json.RawMessage) (conversation.Content, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return conversation.NullContent(), nil
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return conversation.Content{}, err
		}
		return conversation.TextContent(text), nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return conversation.Content{}, fmt.Errorf("expected null, a string or a list of content parts")
	}
	blocks := make([]conversation.Block, 0, len(parts))
	for _, part := range parts {
		var p struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(part, &p); err != nil {
			return conversation.Content{}, err
		}
		if p.Type == "text" {
			blocks = append(blocks, conversation.TextBlock(p.Text))
		} else {
			blocks = append(blocks, conversation.RawBlock(part))
		}
	}
	return conversation.BlockContent(blocks...), nil
}

// ToOpenAIMessages converts turns back to flat-style messages without
// touching ids or content shapes. It is the inverse of FromOpenAIMessages.
// Block-held invocations and results are moved to their flat placements.
func ToOpenAIMessages(turns []conversation.Turn) []types.OpenAIMessage {
	messages := make([]types.OpenAIMessage, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == conversation.RoleTool {
			for _, r := range turn.Results {
				messages = append(messages, types.OpenAIMessage{
					Role:       string(conversation.RoleTool),
					Name:       turn.Name,
					Content:    resultContent(r),
					ToolCallID: r.InvocationID,
				})
			}
			continue
		}

		if hasBlockToolTraffic(turn) {
			messages = append(messages, lowerTurn(turn, identity)...)
			continue
		}

		msg := types.OpenAIMessage{
			Role:    string(turn.Role),
			Name:    turn.Name,
			Content: encodeFlatContent(turn.Content),
		}
		for _, inv := range turn.Invocations {
			msg.ToolCalls = append(msg.ToolCalls, toolCall(inv, identity))
		}
		messages = append(messages, msg)
	}
	return messages
}

func identity(id string) string { return id }

func encodeFlatContent(content conversation.Content) json.RawMessage {
	switch content.Kind {
	case conversation.KindText:
		raw, _ := json.Marshal(content.Text)
		return raw
	case conversation.KindBlocks:
		parts := make([]json.RawMessage, 0, len(content.Blocks))
		for _, b := range content.Blocks {
			switch b.Type {
			case conversation.BlockText:
				raw, _ := json.Marshal(struct {
					Type string `json:"type"`
					Text string `json:"text"`
				}{"text", b.Text})
				parts = append(parts, raw)
			case conversation.BlockRaw:
				parts = append(parts, b.Raw)
			}
		}
		raw, _ := json.Marshal(parts)
		return raw
	}
	return json.RawMessage(`null`)
}

// resultContent keeps a result's content as received, defaulting to an empty
// string when it has none
func resultContent(r conversation.Result) json.RawMessage {
	if len(bytes.TrimSpace(r.Content)) == 0 {
		return json.RawMessage(`""`)
	}
	return r.Content
}

func toolCall(inv conversation.Invocation, ids func(string) string) types.OpenAIToolCall {
	return types.OpenAIToolCall{
		ID:   ids(inv.ID),
		Type: "function",
		Function: types.OpenAIToolCallFunction{
			Name:      inv.Name,
			Arguments: string(inv.Arguments),
		},
	}
}
