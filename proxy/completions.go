package proxy

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-bridge/adapter"
	"chat-bridge/conversation"
	"chat-bridge/stream"
	"chat-bridge/types"
)

// handleChatCompletions serves POST /v1/chat/completions for flat-style
// clients. The history is repaired like a block-style one, then the
// request passes through to the backend with the model mapped.
func (s *Server) handleChatCompletions(c *gin.Context) {
	x := s.begin(c, ProtocolOpenAI)
	defer x.finish()

	var req types.OpenAIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		x.fail(types.InvalidRequest("invalid request body: %v", err))
		return
	}
	x.record.ClientModel = req.Model
	x.record.Stream = req.Stream

	if apiErr := validateOpenAIRequest(&req, x.cfg); apiErr != nil {
		x.fail(apiErr)
		return
	}

	turns, err := adapter.FromOpenAIMessages(req.Messages)
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

	out := adapter.BackendRequestFromOpenAI(&req, repaired, s.requestOptions(x, backendModel))
	s.logSystemPrompt(x, out)

	if req.Stream {
		s.streamCompletion(x, out, req.Model)
		return
	}

	resp, err := s.complete(x, out)
	if err != nil {
		x.fail(err)
		return
	}
	resp.Model = req.Model
	if len(resp.Choices) > 0 && resp.Choices[0].FinishReason != nil {
		x.record.StopReason = *resp.Choices[0].FinishReason
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) complete(x *exchange, out *types.OpenAIRequest) (*types.OpenAIResponse, error) {
	if !x.cfg.Backend.AlwaysStream {
		return s.backend.Complete(x.ctx, out)
	}

	src, err := s.backend.OpenStream(x.ctx, withUsage(out, x.cfg.Backend.IncludeUsage))
	if err != nil {
		return nil, err
	}
	defer src.Close()

	resp, err := stream.Collect(src)
	if err != nil {
		return nil, upstream(err)
	}
	return resp, nil
}

func (s *Server) streamCompletion(x *exchange, out *types.OpenAIRequest, model string) {
	src, err := s.backend.OpenStream(x.ctx, out)
	if err != nil {
		x.fail(err)
		return
	}
	defer src.Close()

	stream.SetHeaders(x.c.Writer.Header())
	x.c.Status(http.StatusOK)
	x.record.StatusCode = http.StatusOK

	if err := stream.Passthrough(x.ctx, src, model, stream.NewEventWriter(x.c.Writer)); err != nil {
		x.streamFailed(err)
	}
}

// withUsage returns a streaming copy of out, asking for usage when include
// is set
func withUsage(out *types.OpenAIRequest, include bool) *types.OpenAIRequest {
	streamed := *out
	streamed.Stream = true
	if include && streamed.StreamOptions == nil {
		streamed.StreamOptions = &types.StreamOptions{IncludeUsage: true}
	}
	return &streamed
}

// upstream classifies a failure while reading a backend stream
func upstream(err error) error {
	var apiErr *types.APIError
	if errors.As(err, &apiErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return types.UpstreamError(http.StatusBadGateway, "%v", err)
}
