package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chat-bridge/conversation"
	"chat-bridge/types"
)

// Built-in Responses tools that need backend support the bridge lacks
var hostedToolPrefixes = []string{"web_search", "file_search", "computer", "code_interpreter", "image_generation"}

// OpenAIRequestFromResponses turns a Responses request into the equivalent
// flat-style request, ready for the same repair pipeline as
// /v1/chat/completions. Function calls without a name are dropped together
// with their outputs; the count is returned.
func OpenAIRequestFromResponses(req *types.ResponsesRequest) (*types.OpenAIRequest, int, error) {
	messages, dropped, err := ResponsesInputToOpenAI(req.Input, req.Instructions)
	if err != nil {
		return nil, 0, err
	}
	choice, err := ResponsesToolChoiceToOpenAI(req.ToolChoice)
	if err != nil {
		return nil, 0, err
	}
	return &types.OpenAIRequest{
		Model:       req.Model,
		Messages:    messages,
		Tools:       ResponsesToolsToOpenAI(req.Tools),
		ToolChoice:  choice,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}, dropped, nil
}

// ResponsesInputToOpenAI converts Responses input into flat-style messages.
// instructions becomes a leading system message, a string input a single
// user message. Consecutive function_call items join the assistant message
// before them.
func ResponsesInputToOpenAI(input json.RawMessage, instructions string) ([]types.OpenAIMessage, int, error) {
	var messages []types.OpenAIMessage
	if instructions != "" {
		messages = append(messages, types.OpenAIMessage{
			Role:    string(conversation.RoleSystem),
			Content: mustString(instructions),
		})
	}

	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return messages, 0, nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, 0, fmt.Errorf("input: %w", err)
		}
		return append(messages, types.OpenAIMessage{Role: string(conversation.RoleUser), Content: mustString(text)}), 0, nil
	}

	var items []types.ResponseInputItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, 0, fmt.Errorf("input: expected a string or a list of input items")
	}

	nameless := make(map[string]bool)
	for i, item := range items {
		switch item.Type {
		case "", types.ItemMessage:
			msg, keep, err := messageFromItem(item)
			if err != nil {
				return nil, 0, fmt.Errorf("input.%d: %w", i, err)
			}
			if keep {
				messages = append(messages, msg)
			}

		case types.ItemFunctionCall:
			callID := item.CallID
			if callID == "" {
				callID = item.ID
			}
			if callID == "" {
				callID = backendIDPrefix + compactUUID()[:24]
			}
			if strings.TrimSpace(item.Name) == "" {
				nameless[callID] = true
				continue
			}
			call := types.OpenAIToolCall{
				ID:   callID,
				Type: "function",
				Function: types.OpenAIToolCallFunction{
					Name:      item.Name,
					Arguments: argumentString(item.Arguments),
				},
			}
			if n := len(messages); n > 0 && messages[n-1].Role == string(conversation.RoleAssistant) {
				messages[n-1].ToolCalls = append(messages[n-1].ToolCalls, call)
				continue
			}
			messages = append(messages, types.OpenAIMessage{
				Role:      string(conversation.RoleAssistant),
				Content:   json.RawMessage("null"),
				ToolCalls: []types.OpenAIToolCall{call},
			})

		case types.ItemFunctionCallOutput:
			if item.CallID == "" {
				return nil, 0, fmt.Errorf("input.%d.call_id: field required", i)
			}
			if nameless[item.CallID] {
				continue
			}
			messages = append(messages, types.OpenAIMessage{
				Role:       string(conversation.RoleTool),
				Content:    mustString(outputString(item.Output)),
				ToolCallID: item.CallID,
			})
		}
	}
	return messages, len(nameless), nil
}

// messageFromItem converts a message item. Assistant messages without text
// are skipped; developer is an alias of system.
func messageFromItem(item types.ResponseInputItem) (types.OpenAIMessage, bool, error) {
	role := item.Role
	switch role {
	case "":
		role = string(conversation.RoleUser)
	case "developer":
		role = string(conversation.RoleSystem)
	case string(conversation.RoleUser), string(conversation.RoleAssistant), string(conversation.RoleSystem):
	default:
		return types.OpenAIMessage{}, false, fmt.Errorf("role: unexpected role %q", item.Role)
	}

	text, err := itemText(item.Content)
	if err != nil {
		return types.OpenAIMessage{}, false, fmt.Errorf("content: %w", err)
	}
	if role == string(conversation.RoleAssistant) && text == "" {
		return types.OpenAIMessage{}, false, nil
	}
	return types.OpenAIMessage{Role: role, Content: mustString(text)}, true, nil
}

// itemText flattens message content to text. Text parts are joined with a
// newline; other parts are ignored.
func itemText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var text string
		err := json.Unmarshal(trimmed, &text)
		return text, err
	}

	var parts []types.ResponseContentPart
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return "", fmt.Errorf("expected a string or a list of content parts")
	}
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "input_text", "output_text", "text":
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// argumentString accepts arguments sent as a JSON string or as an object
func argumentString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}"
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			if strings.TrimSpace(s) == "" {
				return "{}"
			}
			return s
		}
	}
	return string(trimmed)
}

func outputString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// ResponsesToolsToOpenAI wraps Responses tools in the flat function envelope.
// Hosted tools are left out and so are custom tools without a name.
func ResponsesToolsToOpenAI(tools []types.ResponseTool) []types.OpenAITool {
	var out []types.OpenAITool
	for _, tool := range tools {
		if isHostedTool(tool.Type) || tool.Name == "" {
			continue
		}
		params := tool.Parameters
		if len(bytes.TrimSpace(params)) == 0 {
			params = tool.InputSchema
		}
		out = append(out, types.OpenAITool{
			Type: "function",
			Function: types.OpenAIToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaOrEmpty(params),
			},
		})
	}
	return out
}

func isHostedTool(toolType string) bool {
	for _, prefix := range hostedToolPrefixes {
		if strings.HasPrefix(toolType, prefix) {
			return true
		}
	}
	return false
}

// ResponsesToolChoiceToOpenAI maps the Responses tool_choice, whose named
// form is {"type":"function","name":...}, onto the flat one
func ResponsesToolChoiceToOpenAI(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var mode string
	if err := json.Unmarshal(trimmed, &mode); err == nil {
		switch mode {
		case "auto", "none", "required":
			return trimmed, nil
		}
		return nil, fmt.Errorf("unknown tool_choice %q", mode)
	}

	var named struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(trimmed, &named); err != nil {
		return nil, fmt.Errorf("tool_choice: %w", err)
	}
	if named.Type != "function" || named.Name == "" {
		return nil, fmt.Errorf("tool_choice: only named function choices are supported")
	}
	return json.Marshal(namedFunctionChoice(named.Name))
}

// ResponseStatus maps a backend finish reason to a response status
func ResponseStatus(finishReason string) (string, *types.IncompleteDetails) {
	if finishReason == types.FinishReasonLength {
		return types.ResponseIncomplete, &types.IncompleteDetails{Reason: "max_output_tokens"}
	}
	return types.ResponseCompleted, nil
}

// ResponseFromOpenAI converts a non-streaming backend response into a
// Responses response: a message item for any text, then one function_call
// item per tool call. A response without either gets an empty message.
func ResponseFromOpenAI(resp *types.OpenAIResponse, responseID, model string) (*types.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("backend response has no choices")
	}
	choice := resp.Choices[0]

	content, err := decodeFlatContent(choice.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("backend message content: %w", err)
	}

	output := make([]types.ResponseOutputItem, 0, 1+len(choice.Message.ToolCalls))
	if text := (conversation.Turn{Content: content}).PlainText(); text != "" {
		output = append(output, MessageItem(NewItemID("msg"), text, types.ResponseCompleted))
	}
	for _, call := range choice.Message.ToolCalls {
		callID := call.ID
		if callID == "" {
			callID = backendIDPrefix + compactUUID()[:24]
		}
		output = append(output, FunctionCallItem(NewItemID("fc"), callID, call.Function.Name, call.Function.Arguments, types.ResponseCompleted))
	}
	if len(output) == 0 {
		output = append(output, MessageItem(NewItemID("msg"), "", types.ResponseCompleted))
	}

	finish := ""
	if choice.FinishReason != nil {
		finish = *choice.FinishReason
	}
	status, details := ResponseStatus(finish)

	out := &types.Response{
		ID:                responseID,
		Object:            "response",
		CreatedAt:         time.Now().Unix(),
		Model:             model,
		Status:            status,
		Output:            output,
		IncompleteDetails: details,
	}
	if resp.Usage != nil {
		out.Usage = &types.ResponseUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// MessageItem builds an assistant message output item. Empty text gives a
// message without content parts.
func MessageItem(id, text, status string) types.ResponseOutputItem {
	item := types.ResponseOutputItem{
		ID:     id,
		Type:   types.ItemMessage,
		Status: status,
		Role:   string(conversation.RoleAssistant),
	}
	if text != "" {
		item.Content = []types.ResponseContentPart{{Type: "output_text", Text: text}}
	}
	return item
}

// FunctionCallItem builds a function_call output item
func FunctionCallItem(id, callID, name, arguments, status string) types.ResponseOutputItem {
	return types.ResponseOutputItem{
		ID:        id,
		Type:      types.ItemFunctionCall,
		Status:    status,
		CallID:    callID,
		Name:      name,
		Arguments: &arguments,
	}
}
