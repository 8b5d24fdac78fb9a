// Package backend talks to the single OpenAI-compatible backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"chat-bridge/circuitbreaker"
	"chat-bridge/stream"
	"chat-bridge/types"
)

const maxErrorBody = 64 * 1024

// Options configures a Client
type Options struct {
	// URL is the backend base URL (…/v1) or its full chat completions URL
	URL            string
	Proxy          string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Credentials    CredentialSource
	// Breaker, when set, fails requests fast while the backend keeps failing
	Breaker *circuitbreaker.Breaker
	// OnResponse, when set, observes every backend round trip. status is 0
	// when no response arrived.
	OnResponse func(status int, elapsed time.Duration)
}

// Client sends flat-style requests to the backend
type Client struct {
	endpoint    string
	credentials CredentialSource
	timeout     time.Duration
	http        *http.Client
	breaker     *circuitbreaker.Breaker
	onResponse  func(int, time.Duration)
}

// NewClient builds a client. Streaming responses are bounded only by ctx;
// Timeout bounds the wait for response headers and whole non-streaming
// responses.
func NewClient(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("backend url must be set")
	}
	transport, err := newTransport(opts.Proxy, opts.ConnectTimeout, opts.Timeout)
	if err != nil {
		return nil, err
	}
	credentials := opts.Credentials
	if credentials == nil {
		credentials = StaticCredentials("")
	}
	return &Client{
		endpoint:    completionsURL(opts.URL),
		credentials: credentials,
		timeout:     opts.Timeout,
		http:        &http.Client{Transport: transport},
		breaker:     opts.Breaker,
		onResponse:  opts.OnResponse,
	}, nil
}

// Endpoint returns the chat completions URL requests are sent to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// BreakerState reports the circuit breaker state, if a breaker is set
func (c *Client) BreakerState() (circuitbreaker.State, bool) {
	if c.breaker == nil {
		return circuitbreaker.State{}, false
	}
	return c.breaker.State(), true
}

func completionsURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

// Stream is an open backend event stream. Callers must Close it.
type Stream struct {
	*stream.ChunkReader
	body io.ReadCloser
}

// Close releases the underlying connection
func (s *Stream) Close() error {
	return s.body.Close()
}

// OpenStream sends req with stream=true and returns the open stream
func (c *Client) OpenStream(ctx context.Context, req *types.OpenAIRequest) (*Stream, error) {
	streamed := *req
	streamed.Stream = true

	resp, err := c.do(ctx, &streamed)
	if err != nil {
		return nil, err
	}
	return &Stream{ChunkReader: stream.NewChunkReader(resp.Body), body: resp.Body}, nil
}

// Complete sends req with stream=false and decodes the response
func (c *Client) Complete(ctx context.Context, req *types.OpenAIRequest) (*types.OpenAIResponse, error) {
	plain := *req
	plain.Stream = false
	plain.StreamOptions = nil

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.do(ctx, &plain)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.UpstreamError(http.StatusBadGateway, "failed to read backend response: %v", err)
	}

	var out types.OpenAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, types.UpstreamError(http.StatusBadGateway, "failed to parse backend response: %v", err)
	}
	return &out, nil
}

// do sends req and returns a 2xx response. Any other outcome becomes an
// *types.APIError, except cancellation which returns ctx.Err().
func (c *Client) do(ctx context.Context, req *types.OpenAIRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	token, err := c.credentials.Token(ctx)
	if err != nil {
		return nil, types.UpstreamError(http.StatusBadGateway, "failed to obtain backend credential: %v", err)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	if c.breaker != nil {
		if ok, wait := c.breaker.Allow(); !ok {
			return nil, types.UpstreamError(http.StatusServiceUnavailable, "backend unavailable, retry in %s", wait.Round(time.Second))
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observe(0, start)
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ctxErr
		}
		c.recordOutcome(false)
		return nil, types.UpstreamError(http.StatusBadGateway, "backend request failed: %v", err)
	}
	c.observe(resp.StatusCode, start)
	c.recordOutcome(resp.StatusCode < http.StatusInternalServerError)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(resp.StatusCode, body)
	}
	return resp, nil
}

// recordOutcome feeds the breaker. Client errors (4xx) count as the
// backend being reachable.
func (c *Client) recordOutcome(ok bool) {
	if c.breaker == nil {
		return
	}
	if ok {
		c.breaker.RecordSuccess()
	} else {
		c.breaker.RecordFailure()
	}
}

func (c *Client) observe(status int, start time.Time) {
	if c.onResponse != nil {
		c.onResponse(status, time.Since(start))
	}
}

// statusError turns a non-2xx backend reply into an APIError carrying the
// backend's own message when one can be found
func statusError(status int, body []byte) *types.APIError {
	message := ""
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error", "detail"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
				message = r.String()
				break
			}
		}
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}

	if status == http.StatusNotFound {
		return types.NotFound("backend returned %d: %s", status, message)
	}
	return types.UpstreamError(status, "backend returned %d: %s", status, message)
}
