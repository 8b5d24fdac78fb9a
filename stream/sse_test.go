package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-bridge/types"
)

func readAll(t *testing.T, r *Reader) []string {
	t.Helper()
	var payloads []string
	for {
		payload, err := r.Next()
		if errors.Is(err, io.EOF) {
			return payloads
		}
		require.NoError(t, err)
		payloads = append(payloads, string(payload))
	}
}

func TestReader(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "standard framing",
			input:    "data: {\"a\":1}\n\ndata: {\"a\":2}\n\ndata: [DONE]\n\n",
			expected: []string{`{"a":1}`, `{"a":2}`},
		},
		{
			name:     "no space after colon",
			input:    "data:{\"a\":1}\n\n",
			expected: []string{`{"a":1}`},
		},
		{
			name:     "comments and other fields ignored",
			input:    ": keep-alive\nevent: chunk\nid: 7\nretry: 100\ndata: {\"a\":1}\n\n",
			expected: []string{`{"a":1}`},
		},
		{
			name:     "multi-line data joined",
			input:    "data: {\"a\":\ndata: 1}\n\n",
			expected: []string{"{\"a\":\n1}"},
		},
		{
			name:     "missing blank line between events",
			input:    "data: {\"a\":1}\ndata: {\"a\":2}\n\n",
			expected: []string{`{"a":1}`, `{"a":2}`},
		},
		{
			name:     "stream ends without separator",
			input:    "data: {\"a\":1}",
			expected: []string{`{"a":1}`},
		},
		{
			name:     "nothing after done",
			input:    "data: [DONE]\n\ndata: {\"a\":1}\n\n",
			expected: nil,
		},
		{
			name:     "CRLF line endings",
			input:    "data: {\"a\":1}\r\n\r\n",
			expected: []string{`{"a":1}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := readAll(t, NewReader(strings.NewReader(tt.input)))
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestReader_LargeLine(t *testing.T) {
	arguments := strings.Repeat("x", 2<<20)
	payload := `{"arguments":"` + arguments + `"}`

	got := readAll(t, NewReader(strings.NewReader("data: "+payload+"\n\ndata: [DONE]\n\n")))
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0])
}

func TestReader_LineOverLimit(t *testing.T) {
	r := NewReader(strings.NewReader("data: " + strings.Repeat("x", MaxLineSize+1) + "\n\n"))
	_, err := r.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, bufio.ErrTooLong)
	assert.False(t, IsEndOfStream(err))
}

func TestReader_LongMultiLineEvent(t *testing.T) {
	var b strings.Builder
	b.WriteString("data: [\n")
	for i := 0; i < 5000; i++ {
		b.WriteString("data: 1,\n")
	}
	b.WriteString("data: 1]\n\ndata: {\"a\":1}\n\n")

	got := readAll(t, NewReader(strings.NewReader(b.String())))
	require.Len(t, got, 2)
	assert.True(t, strings.HasPrefix(got[0], "[\n1,\n"))
	assert.True(t, strings.HasSuffix(got[0], "1,\n1]"))
	assert.Equal(t, 5002, strings.Count(got[0], "\n")+1)
	assert.Equal(t, `{"a":1}`, got[1])
}

func TestChunkReader(t *testing.T) {
	input := "data: {\"id\":\"c1\",\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hi\"},\"finish_reason\":null}]}\n\n" +
		"data: [DONE]\n\n"

	r := NewChunkReader(strings.NewReader(input))
	chunk, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "c1", chunk.ID)
	require.Len(t, chunk.Choices, 1)
	assert.Equal(t, "Hi", chunk.Choices[0].Delta.Content)
	assert.Nil(t, chunk.Choices[0].FinishReason)

	_, err = r.Next()
	assert.True(t, IsEndOfStream(err))
}

func TestChunkReader_ErrorObject(t *testing.T) {
	r := NewChunkReader(strings.NewReader("data: {\"error\":{\"message\":\"model overloaded\"}}\n\n"))
	_, err := r.Next()
	require.Error(t, err)

	var apiErr *types.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, types.ErrAPI, apiErr.Kind)
	assert.Contains(t, apiErr.Message, "model overloaded")
}

func TestChunkReader_Malformed(t *testing.T) {
	r := NewChunkReader(strings.NewReader("data: {not json\n\n"))
	_, err := r.Next()
	require.Error(t, err)
	assert.False(t, IsEndOfStream(err))
}
