package adapter

import (
	"strings"

	"github.com/google/uuid"
)

const (
	backendIDPrefix  = "call_"
	clientIDPrefix   = "toolu_"
	messageIDPrefix  = "msg_"
	responseIDPrefix = "resp_"
)

// ToClientID maps a backend invocation id into the block-style namespace.
// call_X becomes toolu_X; ids already in the client namespace are kept and
// anything else gets the prefix prepended. An empty id stays empty.
func ToClientID(id string) string {
	switch {
	case id == "":
		return ""
	case strings.HasPrefix(id, clientIDPrefix):
		return id
	case strings.HasPrefix(id, backendIDPrefix):
		return clientIDPrefix + strings.TrimPrefix(id, backendIDPrefix)
	}
	return clientIDPrefix + id
}

// ToBackendID is the inverse of ToClientID for ids that went through it.
// Invocations and their results are mapped with the same function, so the
// history the backend sees stays consistent for any input.
func ToBackendID(id string) string {
	switch {
	case id == "":
		return ""
	case strings.HasPrefix(id, backendIDPrefix):
		return id
	case strings.HasPrefix(id, clientIDPrefix):
		return backendIDPrefix + strings.TrimPrefix(id, clientIDPrefix)
	}
	return backendIDPrefix + id
}

// NewMessageID returns a fresh block-style message id
func NewMessageID() string {
	return messageIDPrefix + compactUUID()[:24]
}

// NewToolUseID returns a fresh client-namespace invocation id, used when a
// backend omits one
func NewToolUseID() string {
	return clientIDPrefix + compactUUID()[:24]
}

// NewResponseID returns a fresh Responses response id
func NewResponseID() string {
	return responseIDPrefix + compactUUID()
}

// NewItemID returns a fresh Responses output item id with the given prefix,
// msg for messages and fc for function calls
func NewItemID(prefix string) string {
	return prefix + "_" + compactUUID()[:24]
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
