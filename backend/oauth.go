package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// refreshLeeway renews access tokens this long before they expire
const refreshLeeway = 60 * time.Second

// OAuthOptions configures OAuthCredentials
type OAuthOptions struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	// TokenFile, when set, holds the latest token. It is read at startup in
	// preference to RefreshToken and rewritten whenever the identity
	// provider rotates the refresh token.
	TokenFile string

	Proxy          string
	ConnectTimeout time.Duration
	Timeout        time.Duration

	// OnRefresh, when set, observes every completed refresh
	OnRefresh func(Refresh)
}

// Refresh describes one refresh-token exchange
type Refresh struct {
	Expiry  time.Time
	Rotated bool
	// SaveErr is set when a rotated token could not be written to TokenFile
	SaveErr error
}

// OAuthCredentials issues access tokens obtained with an OAuth2
// refresh-token grant. Tokens are cached until shortly before expiry.
type OAuthCredentials struct {
	source oauth2.TokenSource
}

// NewOAuthCredentials builds a refreshing credential source. No request is
// made until the first Token call.
func NewOAuthCredentials(opts OAuthOptions) (*OAuthCredentials, error) {
	if opts.TokenURL == "" || opts.ClientID == "" {
		return nil, fmt.Errorf("oauth token url and client id must be set")
	}

	initial, err := loadToken(opts.TokenFile)
	if err != nil {
		return nil, err
	}
	if initial == nil || initial.RefreshToken == "" {
		initial = &oauth2.Token{RefreshToken: opts.RefreshToken}
	}
	if initial.RefreshToken == "" {
		return nil, fmt.Errorf("oauth refresh token must be set")
	}

	transport, err := newTransport(opts.Proxy, opts.ConnectTimeout, opts.Timeout)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Transport: transport, Timeout: opts.Timeout}

	refresher := &refresher{
		ctx: context.WithValue(context.Background(), oauth2.HTTPClient, httpClient),
		config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		path:         opts.TokenFile,
		refreshToken: initial.RefreshToken,
		onRefresh:    opts.OnRefresh,
	}
	return &OAuthCredentials{
		source: oauth2.ReuseTokenSourceWithExpiry(initial, refresher, refreshLeeway),
	}, nil
}

// Token returns a valid access token, refreshing it when needed
func (c *OAuthCredentials) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := c.source.Token()
	if err != nil {
		return "", fmt.Errorf("refresh oauth token: %w", err)
	}
	return tok.AccessToken, nil
}

// refresher performs one refresh-token exchange per call. Caching is left to
// the wrapping ReuseTokenSource.
type refresher struct {
	ctx       context.Context
	config    *oauth2.Config
	path      string
	onRefresh func(Refresh)

	mu           sync.Mutex
	refreshToken string
}

func (r *refresher) Token() (*oauth2.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, err := r.config.TokenSource(r.ctx, &oauth2.Token{RefreshToken: r.refreshToken}).Token()
	if err != nil {
		return nil, err
	}

	event := Refresh{Expiry: tok.Expiry}
	if tok.RefreshToken != "" && tok.RefreshToken != r.refreshToken {
		r.refreshToken = tok.RefreshToken
		event.Rotated = true
		event.SaveErr = saveToken(r.path, tok)
	}
	if r.onRefresh != nil {
		r.onRefresh(event)
	}
	return tok, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", path, err)
	}
	return &tok, nil
}

// saveToken replaces the token file atomically
func saveToken(path string, tok *oauth2.Token) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
