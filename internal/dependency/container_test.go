package dependency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-bridge/config"
	"chat-bridge/logger"
)

func loadConfig(t *testing.T, yaml string) *config.Loader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	loader := config.NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)
	return loader
}

func TestNew(t *testing.T) {
	loader := loadConfig(t, `
backend:
  url: http://127.0.0.1:9/v1
  api_key: sk-test
store:
  enabled: true
  dsn: ":memory:"
`)

	c, err := New(loader, "1.2.3")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	assert.Equal(t, "http://127.0.0.1:9/v1/chat/completions", c.Backend().Endpoint())
	assert.IsType(t, &logger.GORMStore{}, c.Store())
	require.NoError(t, c.Store().Save(context.Background(), &logger.RequestRecord{RequestID: "req_1", Protocol: "anthropic"}))

	rec := httptest.NewRecorder()
	c.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"1.2.3"`)
}

func TestNew_StoreDisabled(t *testing.T) {
	loader := loadConfig(t, "backend:\n  url: http://127.0.0.1:9/v1\n")

	c, err := New(loader, "dev")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	assert.IsType(t, logger.NopStore{}, c.Store())
	assert.NotNil(t, c.Metrics())
}

func TestNew_BadProxy(t *testing.T) {
	loader := loadConfig(t, "backend:\n  url: http://127.0.0.1:9/v1\n  proxy: ftp://nowhere\n")

	_, err := New(loader, "dev")
	assert.Error(t, err)
}

func TestNew_OAuthCredentials(t *testing.T) {
	loader := loadConfig(t, `
backend:
  url: http://127.0.0.1:9/v1
  oauth:
    token_url: http://127.0.0.1:9/oauth2/v1/token
    client_id: bridge
    refresh_token: rt-1
`)

	c, err := New(loader, "dev")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	assert.NotNil(t, c.Backend())
}

func TestNew_OAuthWithoutRefreshToken(t *testing.T) {
	loader := loadConfig(t, `
backend:
  url: http://127.0.0.1:9/v1
  oauth:
    token_url: http://127.0.0.1:9/oauth2/v1/token
    client_id: bridge
`)

	_, err := New(loader, "dev")
	assert.ErrorContains(t, err, "refresh token")
}
