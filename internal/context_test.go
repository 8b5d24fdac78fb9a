package internal

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "unknown", GetRequestID(ctx))

	ctx = WithRequestID(ctx, "req_123")
	assert.Equal(t, "req_123", GetRequestID(ctx))
}

func TestNewRequestID(t *testing.T) {
	id := NewRequestID()
	assert.True(t, strings.HasPrefix(id, "req_"))
	assert.Len(t, id, len("req_")+24)
	assert.NotEqual(t, id, NewRequestID())
}

func TestProtocol(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", GetProtocol(ctx))
	assert.Equal(t, "anthropic", GetProtocol(WithProtocol(ctx, "anthropic")))
}
