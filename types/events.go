package types

// Block-style stream event names, in the order a well-formed stream uses them
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// Delta kinds carried by content_block_delta
const (
	DeltaText      = "text_delta"
	DeltaInputJSON = "input_json_delta"
)

// MessageStartEvent opens a stream
type MessageStartEvent struct {
	Type    string            `json:"type"`
	Message AnthropicResponse `json:"message"`
}

// ContentBlockStartEvent opens the block at Index. Text blocks start with an
// empty text and tool_use blocks with an empty input object.
type ContentBlockStartEvent struct {
	Type         string  `json:"type"`
	Index        int     `json:"index"`
	ContentBlock Content `json:"content_block"`
}

// ContentBlockDeltaEvent appends to the block at Index
type ContentBlockDeltaEvent struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// BlockDelta is a text increment or a partial tool input JSON fragment
type BlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockStopEvent closes the block at Index
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaEvent carries the terminal stop reason
type MessageDeltaEvent struct {
	Type  string            `json:"type"`
	Delta MessageDeltaBody  `json:"delta"`
	Usage MessageDeltaUsage `json:"usage"`
}

// MessageDeltaBody is the top-level change reported by message_delta
type MessageDeltaBody struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessageDeltaUsage is the cumulative output token count
type MessageDeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// MessageStopEvent closes a stream
type MessageStopEvent struct {
	Type string `json:"type"`
}

// ErrorEvent aborts a stream
type ErrorEvent struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}
