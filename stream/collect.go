package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"chat-bridge/types"
)

// Collect reads a backend stream to the end and rebuilds the complete
// response it describes. It serves non-streaming clients when the backend is
// configured to always stream.
//
// Tool calls are accumulated by stream-local index; fragments may omit the
// id and name after the first one.
func Collect(src Source) (*types.OpenAIResponse, error) {
	var (
		first    *types.OpenAIStreamChunk
		content  strings.Builder
		finish   *string
		usage    *types.OpenAIUsage
		calls    = map[int]*types.OpenAIToolCall{}
		order    []int
		lastCall = -1
	)

	for {
		chunk, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = chunk
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		content.WriteString(choice.Delta.Content)

		for _, tc := range choice.Delta.ToolCalls {
			index := lastCall
			if tc.Index != nil {
				index = *tc.Index
			} else if index < 0 {
				index = 0
			}
			call, ok := calls[index]
			if !ok {
				call = &types.OpenAIToolCall{Type: "function"}
				calls[index] = call
				order = append(order, index)
			}
			lastCall = index

			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}

		if choice.FinishReason != nil {
			finish = choice.FinishReason
		}
	}

	if first == nil {
		return nil, fmt.Errorf("no chunks received")
	}

	text, _ := json.Marshal(content.String())
	message := types.OpenAIMessage{
		Role:    "assistant",
		Content: text,
	}
	sort.Ints(order)
	for _, index := range order {
		message.ToolCalls = append(message.ToolCalls, *calls[index])
	}
	if len(message.ToolCalls) > 0 && content.Len() == 0 {
		message.Content = []byte(`null`)
	}

	return &types.OpenAIResponse{
		ID:      first.ID,
		Object:  "chat.completion",
		Created: first.Created,
		Model:   first.Model,
		Choices: []types.OpenAIChoice{{
			Index:        0,
			Message:      message,
			FinishReason: finish,
		}},
		Usage: usage,
	}, nil
}
