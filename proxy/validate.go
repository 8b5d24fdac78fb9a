package proxy

import (
	"chat-bridge/adapter"
	"chat-bridge/config"
	"chat-bridge/conversation"
	"chat-bridge/types"
)

var (
	anthropicRoles = map[string]bool{"user": true, "assistant": true, "system": true}
	openAIRoles    = map[string]bool{"user": true, "assistant": true, "system": true, "tool": true}
)

// validateAnthropicRequest applies the boundary rules for /v1/messages
func validateAnthropicRequest(req *types.AnthropicRequest, cfg *config.Config) *types.APIError {
	if req.Model == "" {
		return types.InvalidRequest("model: field required")
	}
	if !cfg.IsModelAllowed(req.Model) {
		return types.NotFound("model: %s", req.Model)
	}
	if req.MaxTokens <= 0 {
		return types.InvalidRequest("max_tokens: must be greater than 0")
	}
	if len(req.Messages) == 0 {
		return types.InvalidRequest("messages: at least one message is required")
	}
	for i, msg := range req.Messages {
		if !anthropicRoles[msg.Role] {
			return types.InvalidRequest("messages.%d.role: unexpected role %q", i, msg.Role)
		}
	}
	for i, tool := range req.Tools {
		if tool.Name == "" {
			return types.InvalidRequest("tools.%d.name: field required", i)
		}
		if err := adapter.ValidateToolSchema(tool.InputSchema); err != nil {
			return types.InvalidRequest("tools.%d.input_schema: %v", i, err)
		}
	}
	return nil
}

// validateOpenAIRequest applies the boundary rules for /v1/chat/completions
func validateOpenAIRequest(req *types.OpenAIRequest, cfg *config.Config) *types.APIError {
	if req.Model == "" {
		return types.InvalidRequest("model: field required")
	}
	if !cfg.IsModelAllowed(req.Model) {
		return types.NotFound("The model `%s` does not exist", req.Model)
	}
	if req.MaxTokens < 0 {
		return types.InvalidRequest("max_tokens: must be greater than 0")
	}
	if len(req.Messages) == 0 {
		return types.InvalidRequest("messages: at least one message is required")
	}
	for i, msg := range req.Messages {
		if !openAIRoles[msg.Role] {
			return types.InvalidRequest("messages.%d.role: unexpected role %q", i, msg.Role)
		}
		if msg.Role == "tool" && msg.ToolCallID == "" {
			return types.InvalidRequest("messages.%d.tool_call_id: field required", i)
		}
	}
	for i, tool := range req.Tools {
		if tool.Type != "" && tool.Type != "function" {
			return types.InvalidRequest("tools.%d.type: unsupported tool type %q", i, tool.Type)
		}
		if tool.Function.Name == "" {
			return types.InvalidRequest("tools.%d.function.name: field required", i)
		}
		if err := adapter.ValidateToolSchema(tool.Function.Parameters); err != nil {
			return types.InvalidRequest("tools.%d.function.parameters: %v", i, err)
		}
	}
	return nil
}

// checkResultReferences rejects a history holding a result whose invocation
// appears nowhere in it. Results that merely sit in the wrong place are left
// for Repair.
func checkResultReferences(turns []conversation.Turn) *types.APIError {
	known := make(map[string]struct{})
	for _, turn := range turns {
		for _, inv := range turn.AllInvocations() {
			known[inv.ID] = struct{}{}
		}
	}
	for i, turn := range turns {
		for _, res := range turn.AllResults() {
			if _, ok := known[res.InvocationID]; !ok {
				return types.InvalidRequest("messages.%d: tool result %s does not match any tool use in the conversation", i, res.InvocationID)
			}
		}
	}
	return nil
}
