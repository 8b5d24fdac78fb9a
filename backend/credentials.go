package backend

import "context"

// CredentialSource yields the bearer credential sent with each backend
// request. Implementations that refresh tokens must be safe for concurrent
// use.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredentials is a fixed API key. An empty key sends no
// Authorization header.
type StaticCredentials string

// Token returns the key
func (s StaticCredentials) Token(context.Context) (string, error) {
	return string(s), nil
}
