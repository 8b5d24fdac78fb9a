// Package proxy is the HTTP boundary of the bridge. It accepts block-style
// and flat-style chat requests, repairs their tool history and relays them
// to the backend.
package proxy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chat-bridge/backend"
	"chat-bridge/config"
	"chat-bridge/internal"
	"chat-bridge/logger"
	"chat-bridge/metrics"
	"chat-bridge/stream"
	"chat-bridge/types"
)

// Client protocols, used as labels and log fields
const (
	ProtocolAnthropic = "anthropic"
	ProtocolOpenAI    = "openai"
	ProtocolResponses = "responses"
)

const (
	ctxKeyStart = "start_time"

	defaultRecentLimit = 50
	maxRecentLimit     = 500

	// maxRequestBody matches the longest backend event line the bridge reads
	maxRequestBody = stream.MaxLineSize
)

// ConfigSource returns the configuration in effect for a new request
type ConfigSource interface {
	Current() *config.Config
}

// Options holds the collaborators of a Server
type Options struct {
	Config  ConfigSource
	Backend *backend.Client
	Logger  *logger.ObservabilityLogger
	Store   logger.RequestStore
	Metrics *metrics.Metrics
	Version string
}

// Server routes client requests to the bridge pipeline
type Server struct {
	config  ConfigSource
	backend *backend.Client
	logger  *logger.ObservabilityLogger
	store   logger.RequestStore
	metrics *metrics.Metrics
	version string
	router  *gin.Engine

	responses *responseStore
}

// NewServer builds a server and its routes
func NewServer(opts Options) *Server {
	store := opts.Store
	if store == nil {
		store = logger.NopStore{}
	}
	s := &Server{
		config:  opts.Config,
		backend: opts.Backend,
		logger:  opts.Logger,
		store:   store,
		metrics: opts.Metrics,
		version: opts.Version,

		responses: newResponseStore(defaultStoredResponses),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.Use(gin.CustomRecovery(s.recoverPanic))

	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/requests", s.handleRecentRequests)

	api := s.router.Group("/v1")
	api.Use(s.requestIDMiddleware(), limitBody(maxRequestBody))
	{
		api.POST("/messages", s.handleMessages)
		api.POST("/chat/completions", s.handleChatCompletions)
		api.POST("/responses", s.handleCreateResponse)
		api.GET("/responses/:id", s.handleGetResponse)
		api.DELETE("/responses/:id", s.handleDeleteResponse)
	}
}

// requestIDMiddleware assigns every API request an id, taken from the
// X-Request-ID header when the caller supplies one
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(internal.RequestIDHeader)
		if requestID == "" {
			requestID = internal.NewRequestID()
		}
		c.Set(ctxKeyStart, time.Now())
		c.Request = c.Request.WithContext(internal.WithRequestID(c.Request.Context(), requestID))
		c.Header(internal.RequestIDHeader, requestID)
		c.Next()
	}
}

// limitBody caps the request body; reading past n fails the JSON bind with a
// 400
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "chat-bridge",
		"version": s.version,
		"endpoints": gin.H{
			"messages":         "/v1/messages",
			"chat_completions": "/v1/chat/completions",
			"responses":        "/v1/responses",
			"health":           "/health",
			"metrics":          "/metrics",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if state, ok := s.backend.BreakerState(); ok {
		body["backend"] = state
		if state.Open {
			body["status"] = "degraded"
		}
	}
	c.JSON(http.StatusOK, body)
}

// handleRecentRequests lists the newest stored request records. It is empty
// unless the request store is enabled.
func (s *Server) handleRecentRequests(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, types.InvalidRequest("limit must be a positive integer").OpenAIBody())
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := s.store.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error(logger.ComponentStore, logger.CategoryError, "", "Failed to read request records", map[string]interface{}{
			"error": err.Error(),
		})
		c.AbortWithStatusJSON(http.StatusInternalServerError, types.InternalError("request store unavailable").OpenAIBody())
		return
	}
	if records == nil {
		records = []logger.RequestRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"requests": records})
}

// recoverPanic answers a panicking handler in the error format of the
// protocol the client spoke
func (s *Server) recoverPanic(c *gin.Context, recovered interface{}) {
	ctx := c.Request.Context()
	s.logger.Error(logger.ComponentProxy, logger.CategoryError, internal.GetRequestID(ctx), "Handler panicked", map[string]interface{}{
		"panic": recovered,
		"path":  c.Request.URL.Path,
	})
	if c.Writer.Written() {
		c.Abort()
		return
	}
	apiErr := types.InternalError("internal error")
	if internal.GetProtocol(ctx) == ProtocolAnthropic {
		c.AbortWithStatusJSON(apiErr.Status, apiErr.AnthropicBody())
		return
	}
	c.AbortWithStatusJSON(apiErr.Status, apiErr.OpenAIBody())
}

func startTime(c *gin.Context) time.Time {
	if t, ok := c.Get(ctxKeyStart); ok {
		if start, ok := t.(time.Time); ok {
			return start
		}
	}
	return time.Now()
}
