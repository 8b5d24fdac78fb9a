package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chat-bridge/config"
	"chat-bridge/conversation"
	"chat-bridge/internal"
	"chat-bridge/logger"
	"chat-bridge/types"
)

// statusClientClosed is recorded when the client goes away before a
// response was written
const statusClientClosed = 499

// exchange tracks one client request from receipt to the stored record
type exchange struct {
	s         *Server
	c         *gin.Context
	ctx       context.Context
	cfg       *config.Config
	requestID string
	protocol  string
	start     time.Time
	quiet     bool
	record    logger.RequestRecord
}

func (s *Server) begin(c *gin.Context, protocol string) *exchange {
	ctx := internal.WithProtocol(c.Request.Context(), protocol)
	c.Request = c.Request.WithContext(ctx)

	requestID := internal.GetRequestID(ctx)
	start := startTime(c)
	return &exchange{
		s:         s,
		c:         c,
		ctx:       ctx,
		cfg:       s.config.Current(),
		requestID: requestID,
		protocol:  protocol,
		start:     start,
		record: logger.RequestRecord{
			Timestamp: start,
			RequestID: requestID,
			Protocol:  protocol,
		},
	}
}

// mapModel resolves the backend model and decides whether this request is
// logged at info level
func (x *exchange) mapModel(clientModel string) string {
	backendModel := x.cfg.MapModelName(x.ctx, clientModel)
	x.record.ClientModel = clientModel
	x.record.BackendModel = backendModel
	x.quiet = x.cfg.Logging.DisableSmallModelLogging && x.cfg.Models.Small != "" && backendModel == x.cfg.Models.Small
	return backendModel
}

func (x *exchange) repaired(report conversation.Report) {
	x.record.DroppedInvocations = report.DroppedInvocations
	x.record.OrphanedResults = report.OrphanedResults
	x.record.StrayResults = report.StrayResults
	x.record.DroppedTurns = report.DroppedTurns

	x.s.metrics.ObserveRepair(x.protocol, report)
	x.s.logger.Repair(x.requestID, report, map[string]interface{}{
		"protocol": x.protocol,
		"model":    x.record.ClientModel,
	})
}

func (x *exchange) info(message string, fields map[string]interface{}) {
	if x.quiet {
		x.s.logger.Debug(logger.ComponentProxy, logger.CategoryRequest, x.requestID, message, fields)
		return
	}
	x.s.logger.Info(logger.ComponentProxy, logger.CategoryRequest, x.requestID, message, fields)
}

// fail reports err to the client in its protocol's error envelope. It must
// only be called before any part of the response was written.
func (x *exchange) fail(err error) {
	var apiErr *types.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) {
			x.record.StatusCode = statusClientClosed
			x.record.Error = "client closed request"
			x.c.Abort()
			return
		}
		apiErr = types.InternalError("%v", err)
	}

	x.record.StatusCode = apiErr.Status
	x.record.Error = apiErr.Message

	fields := map[string]interface{}{
		"status":     apiErr.Status,
		"error_type": string(apiErr.Kind),
		"error":      apiErr.Message,
	}
	if apiErr.Status >= http.StatusInternalServerError {
		x.s.logger.Error(logger.ComponentProxy, logger.CategoryError, x.requestID, "Request failed", fields)
	} else {
		x.s.logger.Warn(logger.ComponentProxy, logger.CategoryValidation, x.requestID, "Request rejected", fields)
	}

	if x.protocol == ProtocolAnthropic {
		x.c.AbortWithStatusJSON(apiErr.Status, apiErr.AnthropicBody())
		return
	}
	x.c.AbortWithStatusJSON(apiErr.Status, apiErr.OpenAIBody())
}

// streamFailed records a failure that happened after the stream was opened
func (x *exchange) streamFailed(err error) {
	if errors.Is(err, context.Canceled) {
		x.record.Error = "client closed request"
		x.s.logger.Info(logger.ComponentProxy, logger.CategoryWarning, x.requestID, "Client disconnected during stream", nil)
		return
	}
	x.record.Error = err.Error()
	x.s.logger.Error(logger.ComponentProxy, logger.CategoryError, x.requestID, "Stream failed", map[string]interface{}{
		"error": err.Error(),
	})
}

// finish records metrics and the request log entry
func (x *exchange) finish() {
	if x.record.StatusCode == 0 {
		x.record.StatusCode = x.c.Writer.Status()
	}
	elapsed := time.Since(x.start)
	x.record.DurationMs = elapsed.Milliseconds()

	x.s.metrics.ObserveRequest(x.protocol, x.record.Stream, x.record.StatusCode, elapsed)

	if err := x.s.store.Save(context.WithoutCancel(x.ctx), &x.record); err != nil {
		x.s.logger.Warn(logger.ComponentStore, logger.CategoryError, x.requestID, "Failed to save request record", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if x.record.StatusCode < http.StatusBadRequest {
		x.info("Request completed", map[string]interface{}{
			"status":        x.record.StatusCode,
			"duration_ms":   x.record.DurationMs,
			"client_model":  x.record.ClientModel,
			"backend_model": x.record.BackendModel,
			"stream":        x.record.Stream,
			"stop_reason":   x.record.StopReason,
		})
	}
}
