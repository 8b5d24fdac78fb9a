package stream

import (
	"context"
	"errors"
	"io"

	"chat-bridge/adapter"
	"chat-bridge/types"
)

// Passthrough relays a flat-style backend stream to a flat-style client.
// Chunks keep their shape; the model is rewritten to the name the client
// asked for and tool call ids are left untouched. An upstream failure is
// reported as an error chunk, and the stream always ends with [DONE] unless
// ctx is cancelled first.
func Passthrough(ctx context.Context, src Source, model string, w *EventWriter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := src.Next()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, io.EOF) {
			return w.WriteDone()
		}
		if err != nil {
			if writeErr := w.WriteData(errorChunk(err)); writeErr != nil {
				return writeErr
			}
			if doneErr := w.WriteDone(); doneErr != nil {
				return doneErr
			}
			return err
		}

		if model != "" {
			chunk.Model = model
		}
		if err := w.WriteData(chunk); err != nil {
			return err
		}
	}
}

func errorChunk(err error) types.OpenAIErrorResponse {
	var apiErr *types.APIError
	if !errors.As(err, &apiErr) {
		apiErr = types.UpstreamError(0, "%s", err.Error())
	}
	return apiErr.OpenAIBody()
}

// CollectMessage reads a backend stream to the end and returns the block-style
// response a non-streaming client expects.
func CollectMessage(src Source, model, messageID string) (*types.AnthropicResponse, error) {
	resp, err := Collect(src)
	if err != nil {
		return nil, err
	}
	return adapter.AnthropicResponseFromOpenAI(resp, model, messageID)
}
