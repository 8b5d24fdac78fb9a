package types

import "encoding/json"

// ResponsesRequest is the body of POST /v1/responses. Input is a JSON
// string or an array of ResponseInputItem.
type ResponsesRequest struct {
	Model              string          `json:"model"`
	Input              json.RawMessage `json:"input,omitempty"`
	Instructions       string          `json:"instructions,omitempty"`
	Tools              []ResponseTool  `json:"tools,omitempty"`
	ToolChoice         json.RawMessage `json:"tool_choice,omitempty"`
	MaxOutputTokens    int             `json:"max_output_tokens,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	TopP               *float64        `json:"top_p,omitempty"`
	Stream             bool            `json:"stream,omitempty"`
	Store              *bool           `json:"store,omitempty"`
	PreviousResponseID string          `json:"previous_response_id,omitempty"`
}

// Stored reports whether the response should be kept for retrieval. The
// default is to keep it.
func (r *ResponsesRequest) Stored() bool {
	return r.Store == nil || *r.Store
}

// Response input item types
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
)

// ResponseInputItem is one entry of a Responses input array. Type defaults
// to message. Content is a string or an array of content parts; Output is a
// string or any JSON value.
type ResponseInputItem struct {
	Type      string          `json:"type,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	ID        string          `json:"id,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// ResponseContentPart is a typed text part of a message item
type ResponseContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseTool is a tool definition. Function tools carry Parameters; custom
// tool types may use InputSchema instead.
type ResponseTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Response statuses
const (
	ResponseInProgress = "in_progress"
	ResponseCompleted  = "completed"
	ResponseIncomplete = "incomplete"
	ResponseFailed     = "failed"
)

// Response is a created response, returned by POST and GET /v1/responses
type Response struct {
	ID                 string               `json:"id"`
	Object             string               `json:"object"`
	CreatedAt          int64                `json:"created_at"`
	Model              string               `json:"model"`
	Status             string               `json:"status"`
	Output             []ResponseOutputItem `json:"output"`
	Usage              *ResponseUsage       `json:"usage,omitempty"`
	IncompleteDetails  *IncompleteDetails   `json:"incomplete_details,omitempty"`
	Error              *ErrorDetail         `json:"error,omitempty"`
	PreviousResponseID string               `json:"previous_response_id,omitempty"`
}

// IncompleteDetails says why a response stopped early
type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// ResponseOutputItem is a message or function_call item of a response
type ResponseOutputItem struct {
	ID        string                `json:"id"`
	Type      string                `json:"type"`
	Status    string                `json:"status"`
	Role      string                `json:"role,omitempty"`
	Content   []ResponseContentPart `json:"content,omitempty"`
	CallID    string                `json:"call_id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Arguments *string               `json:"arguments,omitempty"`
}

// ResponseUsage is the token usage of a response
type ResponseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ResponseDeleted confirms DELETE /v1/responses/{id}
type ResponseDeleted struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// Responses stream event types
const (
	EventResponseCreated      = "response.created"
	EventOutputItemAdded      = "response.output_item.added"
	EventOutputTextDelta      = "response.output_text.delta"
	EventOutputTextDone       = "response.output_text.done"
	EventArgumentsDelta       = "response.function_call_arguments.delta"
	EventArgumentsDone        = "response.function_call_arguments.done"
	EventOutputItemDone       = "response.output_item.done"
	EventResponseCompleted    = "response.completed"
	EventResponseIncomplete   = "response.incomplete"
	EventResponseFailed       = "response.failed"
	EventResponseStreamFailed = "error"
)

// ResponseStreamEvent is any Responses stream event. Only the fields of the
// event's type are set.
type ResponseStreamEvent struct {
	Type           string              `json:"type"`
	SequenceNumber int                 `json:"sequence_number"`
	Response       *Response           `json:"response,omitempty"`
	OutputIndex    *int                `json:"output_index,omitempty"`
	ContentIndex   *int                `json:"content_index,omitempty"`
	ItemID         string              `json:"item_id,omitempty"`
	Item           *ResponseOutputItem `json:"item,omitempty"`
	Delta          string              `json:"delta,omitempty"`
	Text           *string             `json:"text,omitempty"`
	Arguments      *string             `json:"arguments,omitempty"`
	Error          *ErrorDetail        `json:"error,omitempty"`
}
