package proxy

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-bridge/adapter"
	"chat-bridge/config"
	"chat-bridge/conversation"
	"chat-bridge/logger"
	"chat-bridge/stream"
	"chat-bridge/types"
)

// handleCreateResponse serves POST /v1/responses. The input items are
// converted to a flat history and go through the same repair as
// /v1/chat/completions; the backend answer is reshaped into output items.
func (s *Server) handleCreateResponse(c *gin.Context) {
	x := s.begin(c, ProtocolResponses)
	defer x.finish()

	var req types.ResponsesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		x.fail(types.InvalidRequest("invalid request body: %v", err))
		return
	}
	x.record.ClientModel = req.Model
	x.record.Stream = req.Stream

	if apiErr := s.validateResponsesRequest(&req, x.cfg); apiErr != nil {
		x.fail(apiErr)
		return
	}

	flat, nameless, err := adapter.OpenAIRequestFromResponses(&req)
	if err != nil {
		x.fail(types.InvalidRequest("%v", err))
		return
	}
	if nameless > 0 {
		s.logger.Warn(logger.ComponentProxy, logger.CategoryTransformation, x.requestID, "Dropped function calls without a name", map[string]interface{}{
			"count": nameless,
		})
	}
	if len(flat.Messages) == 0 {
		x.fail(types.InvalidRequest("input: at least one input item is required"))
		return
	}

	turns, err := adapter.FromOpenAIMessages(flat.Messages)
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
		"model":                req.Model,
		"messages":             len(flat.Messages),
		"tools":                len(flat.Tools),
		"stream":               req.Stream,
		"previous_response_id": req.PreviousResponseID,
	})

	out := adapter.BackendRequestFromOpenAI(flat, repaired, s.requestOptions(x, backendModel))
	s.logSystemPrompt(x, out)

	responseID := adapter.NewResponseID()
	if req.Stream {
		s.streamResponse(x, out, &req, responseID)
		return
	}

	backendResp, err := s.complete(x, out)
	if err != nil {
		x.fail(err)
		return
	}
	resp, err := adapter.ResponseFromOpenAI(backendResp, responseID, req.Model)
	if err != nil {
		x.fail(types.UpstreamError(http.StatusBadGateway, "%v", err))
		return
	}
	resp.PreviousResponseID = req.PreviousResponseID
	x.record.StopReason = resp.Status

	if req.Stored() {
		s.responses.put(resp)
	}
	c.JSON(http.StatusOK, resp)
}

// streamResponse relays the backend stream as Responses events. The
// response is stored once the stream reached its end or failed upstream.
func (s *Server) streamResponse(x *exchange, out *types.OpenAIRequest, req *types.ResponsesRequest, responseID string) {
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
	translator := stream.NewResponseTranslator(responseID, req.Model, req.PreviousResponseID)
	err = translator.Run(x.ctx, src, func(ev stream.Event) error {
		if err := writer.Emit(ev); err != nil {
			return err
		}
		s.metrics.ObserveStreamEvent(ev.Name)
		return nil
	})

	resp := translator.Response()
	x.record.StopReason = resp.Status
	if translator.Finished() && req.Stored() {
		s.responses.put(resp)
	}
	if err != nil {
		x.streamFailed(err)
	}
}

// handleGetResponse serves GET /v1/responses/{id}
func (s *Server) handleGetResponse(c *gin.Context) {
	resp, ok := s.responses.get(c.Param("id"))
	if !ok {
		apiErr := responseNotFound(c.Param("id"))
		c.AbortWithStatusJSON(apiErr.Status, apiErr.OpenAIBody())
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleDeleteResponse serves DELETE /v1/responses/{id}
func (s *Server) handleDeleteResponse(c *gin.Context) {
	id := c.Param("id")
	if !s.responses.delete(id) {
		apiErr := responseNotFound(id)
		c.AbortWithStatusJSON(apiErr.Status, apiErr.OpenAIBody())
		return
	}
	c.JSON(http.StatusOK, types.ResponseDeleted{ID: id, Object: "response.deleted", Deleted: true})
}

// validateResponsesRequest applies the boundary rules for /v1/responses
func (s *Server) validateResponsesRequest(req *types.ResponsesRequest, cfg *config.Config) *types.APIError {
	if req.Model == "" {
		return types.InvalidRequest("model: field required")
	}
	if !cfg.IsModelAllowed(req.Model) {
		return types.NotFound("The model `%s` does not exist", req.Model)
	}
	if req.MaxOutputTokens < 0 {
		return types.InvalidRequest("max_output_tokens: must be greater than 0")
	}
	for i, tool := range req.Tools {
		if tool.Type == "function" && tool.Name == "" {
			return types.InvalidRequest("tools.%d.name: field required", i)
		}
		if err := adapter.ValidateToolSchema(tool.Parameters); err != nil {
			return types.InvalidRequest("tools.%d.parameters: %v", i, err)
		}
	}
	if req.PreviousResponseID != "" {
		if _, ok := s.responses.get(req.PreviousResponseID); !ok {
			apiErr := responseNotFound(req.PreviousResponseID)
			apiErr.Message = "previous_response_id: " + apiErr.Message
			return apiErr
		}
	}
	return nil
}

func responseNotFound(id string) *types.APIError {
	apiErr := types.NotFound("Response '%s' not found", id)
	apiErr.Code = "response_not_found"
	return apiErr
}
