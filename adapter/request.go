package adapter

import (
	"encoding/json"

	"chat-bridge/conversation"
	"chat-bridge/types"
)

// RequestOptions carries the per-deployment settings applied while building
// a backend request
type RequestOptions struct {
	// Model is the backend model name the request is sent with
	Model string
	// ToolDescriptions replaces tool descriptions by tool name
	ToolDescriptions map[string]string
	// RewriteSystem, when set, rewrites the system prompt text
	RewriteSystem func(string) string
	// IncludeUsage asks the backend for a trailing usage chunk on streams
	IncludeUsage bool
}

// BackendRequestFromAnthropic assembles the flat request sent upstream on
// behalf of a block-style client. turns must already be repaired.
func BackendRequestFromAnthropic(req *types.AnthropicRequest, turns []conversation.Turn, opts RequestOptions) (*types.OpenAIRequest, error) {
	system, err := SystemPrompt(req.System)
	if err != nil {
		return nil, err
	}
	if system != "" && opts.RewriteSystem != nil {
		system = opts.RewriteSystem(system)
	}

	choice, err := ToolChoiceToOpenAI(req.ToolChoice)
	if err != nil {
		return nil, err
	}

	out := &types.OpenAIRequest{
		Model:       opts.Model,
		Messages:    LowerToBackend(system, turns),
		Tools:       ToolsToOpenAI(req.Tools, opts.ToolDescriptions),
		ToolChoice:  choice,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if len(req.StopSequences) > 0 {
		out.Stop, _ = json.Marshal(req.StopSequences)
	}
	if req.Stream && opts.IncludeUsage {
		out.StreamOptions = &types.StreamOptions{IncludeUsage: true}
	}
	return out, nil
}

// BackendRequestFromOpenAI assembles the flat request sent upstream on behalf
// of a flat-style client. Everything but the model, the messages and the
// configured rewrites passes through unchanged.
func BackendRequestFromOpenAI(req *types.OpenAIRequest, turns []conversation.Turn, opts RequestOptions) *types.OpenAIRequest {
	out := *req
	out.Model = opts.Model
	out.Messages = ToOpenAIMessages(turns)

	if opts.RewriteSystem != nil {
		for i, msg := range out.Messages {
			if msg.Role != string(conversation.RoleSystem) {
				continue
			}
			if text := msg.ContentText(); text != "" {
				out.Messages[i].Content = mustString(opts.RewriteSystem(text))
			}
		}
	}

	if len(req.Tools) > 0 && len(opts.ToolDescriptions) > 0 {
		out.Tools = make([]types.OpenAITool, len(req.Tools))
		copy(out.Tools, req.Tools)
		for i, tool := range out.Tools {
			if override, ok := opts.ToolDescriptions[tool.Function.Name]; ok {
				out.Tools[i].Function.Description = override
			}
		}
	}

	if out.Stream && opts.IncludeUsage && out.StreamOptions == nil {
		out.StreamOptions = &types.StreamOptions{IncludeUsage: true}
	}
	return &out
}
