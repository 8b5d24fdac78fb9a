package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"chat-bridge/conversation"
	"chat-bridge/types"
)

// FromAnthropicMessages converts block-style messages to turns. String
// content stays scalar text and block arrays stay blocks, so converting back
// with ToAnthropicMessages reproduces the same messages.
func FromAnthropicMessages(messages []types.Message) ([]conversation.Turn, error) {
	turns := make([]conversation.Turn, 0, len(messages))
	for i, msg := range messages {
		content, err := decodeBlockContent(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("messages.%d.content: %w", i, err)
		}
		turns = append(turns, conversation.Turn{
			Role:    conversation.Role(msg.Role),
			Content: content,
		})
	}
	return turns, nil
}

func decodeBlockContent(raw json.RawMessage) (conversation.Content, error) {
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

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return conversation.Content{}, fmt.Errorf("expected a string or a list of content blocks")
	}

	blocks := make([]conversation.Block, 0, len(elems))
	for j, elem := range elems {
		block, err := decodeBlock(elem)
		if err != nil {
			return conversation.Content{}, fmt.Errorf("block %d: %w", j, err)
		}
		blocks = append(blocks, block)
	}
	return conversation.BlockContent(blocks...), nil
}

func decodeBlock(raw json.RawMessage) (conversation.Block, error) {
	var c types.Content
	if err := json.Unmarshal(raw, &c); err != nil {
		return conversation.Block{}, err
	}

	switch c.Type {
	case "text":
		return conversation.TextBlock(c.Text), nil
	case "tool_use":
		input := c.Input
		if len(bytes.TrimSpace(input)) == 0 {
			input = json.RawMessage(`{}`)
		}
		return conversation.InvocationBlock(conversation.Invocation{
			ID:        c.ID,
			Name:      c.Name,
			Arguments: input,
		}), nil
	case "tool_result":
		return conversation.ResultBlock(conversation.Result{
			InvocationID: c.ToolUseID,
			Content:      c.Content,
			IsError:      c.IsError,
		}), nil
	case "":
		return conversation.Block{}, fmt.Errorf("missing block type")
	}
	return conversation.RawBlock(raw), nil
}

// ToAnthropicMessages converts turns back to block-style messages. Flat-style
// invocations become tool_use blocks and flat tool turns become user turns
// carrying tool_result blocks.
func ToAnthropicMessages(turns []conversation.Turn) ([]types.Message, error) {
	messages := make([]types.Message, 0, len(turns))
	for _, turn := range turns {
		role := string(turn.Role)
		if turn.Role == conversation.RoleTool {
			role = string(conversation.RoleUser)
		}

		content := turn.Content
		if len(turn.Invocations) > 0 || len(turn.Results) > 0 {
			content = mergeFlatPlacements(turn)
		}

		raw, err := encodeBlockContent(content)
		if err != nil {
			return nil, err
		}
		messages = append(messages, types.Message{Role: role, Content: raw})
	}
	return messages, nil
}

// mergeFlatPlacements moves field-held invocations and results into blocks:
// results first, then existing content, then invocations.
func mergeFlatPlacements(turn conversation.Turn) conversation.Content {
	var blocks []conversation.Block
	for _, r := range turn.Results {
		blocks = append(blocks, conversation.ResultBlock(r))
	}
	switch turn.Content.Kind {
	case conversation.KindText:
		if turn.Content.Text != "" {
			blocks = append(blocks, conversation.TextBlock(turn.Content.Text))
		}
	case conversation.KindBlocks:
		blocks = append(blocks, turn.Content.Blocks...)
	}
	for _, inv := range turn.Invocations {
		blocks = append(blocks, conversation.InvocationBlock(inv))
	}
	return conversation.BlockContent(blocks...)
}

func encodeBlockContent(content conversation.Content) (json.RawMessage, error) {
	switch content.Kind {
	case conversation.KindText:
		return json.Marshal(content.Text)
	case conversation.KindBlocks:
		elems := make([]json.RawMessage, 0, len(content.Blocks))
		for _, b := range content.Blocks {
			elem, err := encodeBlock(b)
			if err != nil {
				return nil, err
			}
			elems = append(elems, elem)
		}
		return json.Marshal(elems)
	}
	return json.RawMessage(`null`), nil
}

func encodeBlock(b conversation.Block) (json.RawMessage, error) {
	switch b.Type {
	case conversation.BlockText:
		return json.Marshal(types.Content{Type: "text", Text: b.Text})
	case conversation.BlockInvocation:
		return json.Marshal(types.Content{
			Type:  "tool_use",
			ID:    b.Invocation.ID,
			Name:  b.Invocation.Name,
			Input: validJSONOrEmpty(b.Invocation.Arguments),
		})
	case conversation.BlockResult:
		return json.Marshal(types.Content{
			Type:      "tool_result",
			ToolUseID: b.Result.InvocationID,
			Content:   b.Result.Content,
			IsError:   b.Result.IsError,
		})
	}
	return b.Raw, nil
}

// SystemPrompt flattens a block-style system field, given either as a string
// or as a list of text blocks, to a single string
func SystemPrompt(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text, nil
	}

	var parts []types.SystemContent
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return "", fmt.Errorf("system: expected a string or a list of text blocks")
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// validJSONOrEmpty returns raw when it holds a JSON value and {} otherwise
func validJSONOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		return json.RawMessage(`{}`)
	}
	return raw
}
