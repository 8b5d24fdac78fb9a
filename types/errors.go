package types

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure surfaced at the HTTP boundary
type ErrorKind string

const (
	ErrInvalidRequest ErrorKind = "invalid_request_error"
	ErrNotFound       ErrorKind = "not_found_error"
	ErrAPI            ErrorKind = "api_error"
)

// APIError is a boundary error with a kind, a human-readable message and the
// HTTP status it is reported with
type APIError struct {
	Kind    ErrorKind
	Message string
	Status  int
	// Code overrides the flat-style error code
	Code string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// InvalidRequest builds a 400 error
func InvalidRequest(format string, args ...interface{}) *APIError {
	return &APIError{Kind: ErrInvalidRequest, Message: fmt.Sprintf(format, args...), Status: http.StatusBadRequest}
}

// NotFound builds a 404 error
func NotFound(format string, args ...interface{}) *APIError {
	return &APIError{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...), Status: http.StatusNotFound}
}

// UpstreamError builds an api_error carrying the given status. Statuses
// outside the error range are reported as 502.
func UpstreamError(status int, format string, args ...interface{}) *APIError {
	if status < 400 {
		status = http.StatusBadGateway
	}
	return &APIError{Kind: ErrAPI, Message: fmt.Sprintf(format, args...), Status: status}
}

// InternalError builds a 500 api_error
func InternalError(format string, args ...interface{}) *APIError {
	return &APIError{Kind: ErrAPI, Message: fmt.Sprintf(format, args...), Status: http.StatusInternalServerError}
}

// ErrorDetail is the inner object of a block-style error
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicErrorResponse is the block-style error body
type AnthropicErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// OpenAIErrorDetail is the inner object of a flat-style error
type OpenAIErrorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    *string `json:"code"`
}

// OpenAIErrorResponse is the flat-style error body
type OpenAIErrorResponse struct {
	Error OpenAIErrorDetail `json:"error"`
}

// AnthropicBody renders the error for block-style clients
func (e *APIError) AnthropicBody() AnthropicErrorResponse {
	return AnthropicErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: string(e.Kind), Message: e.Message},
	}
}

// OpenAIBody renders the error for flat-style clients
func (e *APIError) OpenAIBody() OpenAIErrorResponse {
	var code *string
	switch {
	case e.Code != "":
		c := e.Code
		code = &c
	case e.Kind == ErrNotFound:
		c := "model_not_found"
		code = &c
	}
	return OpenAIErrorResponse{
		Error: OpenAIErrorDetail{Message: e.Message, Type: string(e.Kind), Code: code},
	}
}
