package proxy

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-bridge/adapter"
	"chat-bridge/conversation"
	"chat-bridge/logger"
	"chat-bridge/stream"
	"chat-bridge/types"
)

// handleMessages serves POST /v1/messages for block-style clients
func (s *Server) handleMessages(c *gin.Context) {
	x := s.begin(c, ProtocolAnthropic)
	defer x.finish()

	if c.GetHeader("anthropic-version") == "" {
		s.logger.Warn(logger.ComponentProxy, logger.CategoryValidation, x.requestID, "Request without anthropic-version header", nil)
	}

	var req types.AnthropicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		x.fail(types.InvalidRequest("invalid request body: %v", err))
		return
	}
	x.record.ClientModel = req.Model
	x.record.Stream = req.Stream

	if apiErr := validateAnthropicRequest(&req, x.cfg); apiErr != nil {
		x.fail(apiErr)
		return
	}

	turns, err := adapter.FromAnthropicMessages(req.Messages)
	if err != nil {
		x.fail(types.InvalidRequest("%v", err))
		return
	}
	if apiErr := checkResultReferences(turns); apiErr != nil {
		x.fail(apiErr)
		return
	}

	repaired, report := conversation.RepairWithReport(turns)
	x.repaired(report)

	backendModel := x.mapModel(req.Model)
	x.info("Received request", map[string]interface{}{
		"model":    req.Model,
		"messages": len(req.Messages),
		"tools":    len(req.Tools),
		"stream":   req.Stream,
	})

	out, err := adapter.BackendRequestFromAnthropic(&req, repaired, s.requestOptions(x, backendModel))
	if err != nil {
		x.fail(types.InvalidRequest("%v", err))
		return
	}
	s.logSystemPrompt(x, out)

	messageID := adapter.NewMessageID()
	if req.Stream {
		s.streamMessage(x, out, req.Model, messageID)
		return
	}

	resp, err := s.completeMessage(x, out, req.Model, messageID)
	if err != nil {
		x.fail(err)
		return
	}
	if resp.StopReason != nil {
		x.record.StopReason = *resp.StopReason
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) requestOptions(x *exchange, backendModel string) adapter.RequestOptions {
	opts := adapter.RequestOptions{
		Model:            backendModel,
		ToolDescriptions: x.cfg.ToolDescriptions,
		IncludeUsage:     x.cfg.Backend.IncludeUsage,
	}
	if !x.cfg.SystemMessageOverrides.IsEmpty() {
		opts.RewriteSystem = x.cfg.RewriteSystemMessage
	}
	return opts
}

func (s *Server) logSystemPrompt(x *exchange, out *types.OpenAIRequest) {
	if !x.cfg.Logging.PrintSystemMessage || len(out.Messages) == 0 || out.Messages[0].Role != "system" {
		return
	}
	s.logger.Info(logger.ComponentProxy, logger.CategoryDebug, x.requestID, "System message", map[string]interface{}{
		"system": out.Messages[0].ContentText(),
	})
}

// completeMessage obtains a whole response, streaming from the backend and
// collecting when the backend is configured to always stream
func (s *Server) completeMessage(x *exchange, out *types.OpenAIRequest, model, messageID string) (*types.AnthropicResponse, error) {
	if x.cfg.Backend.AlwaysStream {
		src, err := s.backend.OpenStream(x.ctx, withUsage(out, x.cfg.Backend.IncludeUsage))
		if err != nil {
			return nil, err
		}
		defer src.Close()

		resp, err := stream.CollectMessage(src, model, messageID)
		if err != nil {
			return nil, upstream(err)
		}
		return resp, nil
	}

	backendResp, err := s.backend.Complete(x.ctx, out)
	if err != nil {
		return nil, err
	}
	resp, err := adapter.AnthropicResponseFromOpenAI(backendResp, model, messageID)
	if err != nil {
		return nil, types.UpstreamError(http.StatusBadGateway, "%v", err)
	}
	return resp, nil
}

// streamMessage relays the backend stream as block-style events. Errors
// before the backend answered are reported as a JSON error; after that they
// travel inside the stream.
func (s *Server) streamMessage(x *exchange, out *types.OpenAIRequest, model, messageID string) {
	src, err := s.backend.OpenStream(x.ctx, out)
	if err != nil {
		x.fail(err)
		return
	}
	defer src.Close()

	stream.SetHeaders(x.c.Writer.Header())
	x.c.Status(http.StatusOK)
	x.record.StatusCode = http.StatusOK

	writer := stream.NewEventWriter(x.c.Writer)
	translator := stream.NewTranslator(messageID, model)
	err = translator.Run(x.ctx, src, func(ev stream.Event) error {
		if err := writer.Emit(ev); err != nil {
			return err
		}
		s.metrics.ObserveStreamEvent(ev.Name)
		return nil
	})

	x.record.StopReason = translator.StopReason()
	s.metrics.ObserveDeferredBlocks(translator.Deferred)
	s.logger.StreamSummary(x.requestID, x.record.StopReason, len(translator.ToolCalls()), translator.Deferred, map[string]interface{}{
		"message_id": messageID,
	})
	if err != nil {
		x.streamFailed(err)
	}
}
