package types

import "encoding/json"

// AnthropicRequest represents an incoming block-style request, the shape
// Anthropic Messages clients send to POST /v1/messages.
//
// Message content and the system prompt are both "string or list of blocks"
// on the wire. They are kept as raw JSON here and converted explicitly by the
// adapter package, so that the variant a client used is never lost.
//
// MaxTokens is required by the protocol. A missing or zero value is rejected
// at the boundary rather than defaulted.
type AnthropicRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// AnthropicResponse represents a complete non-streaming response sent back to a
// block-style client. The same shape, with empty content and no stop reason,
// opens a streamed response inside the message_start event.
type AnthropicResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Role         string    `json:"role"`
	Model        string    `json:"model"`
	Content      []Content `json:"content"`
	StopReason   *string   `json:"stop_reason"`
	StopSequence *string   `json:"stop_sequence"`
	Usage        Usage     `json:"usage"`
}

// Message is a single block-style turn. Content is either a JSON string or a
// JSON array of content blocks.
//
// Role values accepted at the boundary are "user", "assistant" and "system".
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// SystemContent is one text block of a structured system prompt
type SystemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Content is a content block. Only the fields relevant to Type are set:
//   - "text": Text
//   - "tool_use": ID, Name, Input (assistant turns)
//   - "tool_result": ToolUseID, Content, IsError (user turns)
//
// Any other block type is not represented by this struct and travels as raw
// JSON instead.
type Content struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// MarshalJSON writes only the fields that belong to the block type. Text
// blocks always carry a text field and tool_use blocks always carry input,
// even when empty.
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case "text":
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{c.Type, c.Text})
	case "tool_use":
		input := c.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return json.Marshal(struct {
			Type  string          `json:"type"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}{c.Type, c.ID, c.Name, input})
	case "tool_result":
		return json.Marshal(struct {
			Type      string          `json:"type"`
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content,omitempty"`
			IsError   bool            `json:"is_error,omitempty"`
		}{c.Type, c.ToolUseID, c.Content, c.IsError})
	}
	type plain Content
	return json.Marshal(plain(c))
}

// Tool is a block-style tool definition
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice controls whether and which tool the model must call.
// Type is one of "auto", "any", "tool" or "none"; Name is set for "tool".
type ToolChoice struct {
	Type                   string `json:"type"`
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

// Usage is token accounting in block style. Counts are passed through from
// the backend when it reports them and are otherwise zero.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Stop reasons reported to block-style clients
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
	StopReasonToolUse   = "tool_use"
	StopReasonStopSeq   = "stop_sequence"
)
