package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"chat-bridge/types"
)

const doneSentinel = "[DONE]"

// MaxLineSize bounds one line of a backend event stream. A whole tool call
// can arrive in a single data line, so the limit matches the largest request
// body a client is allowed to send; longer lines fail the stream with
// bufio.ErrTooLong.
const MaxLineSize = 32 << 20

// Reader splits a server-sent event stream into data payloads. Multi-line
// data fields are joined with newlines; comments, event names and ids are
// ignored. Backends that omit the blank line between events are tolerated
// as long as each data line holds a complete JSON document.
type Reader struct {
	scanner *bufio.Scanner
	pending [][]byte
	// complete is set while pending is a single line holding a whole JSON document
	complete bool
	done     bool
}

// NewReader wraps r
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next data payload. It returns io.EOF once the stream ends
// or the [DONE] sentinel is read.
func (r *Reader) Next() ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}

	for r.scanner.Scan() {
		line := r.scanner.Bytes()

		if len(line) == 0 {
			if payload := r.flush(); payload != nil {
				return r.payloadOrDone(payload)
			}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		if field != "data" {
			continue
		}

		// A complete document already buffered means the separator was skipped
		if r.complete {
			payload := r.flush()
			r.push(value)
			return r.payloadOrDone(payload)
		}
		r.push(value)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading stream: %w", err)
	}
	if payload := r.flush(); payload != nil {
		return r.payloadOrDone(payload)
	}
	r.done = true
	return nil, io.EOF
}

// push buffers one data value. Only the first line of an event is checked
// for being a whole document, so each line is validated at most once.
func (r *Reader) push(value []byte) {
	r.complete = len(r.pending) == 0 && json.Valid(value)
	r.pending = append(r.pending, append([]byte(nil), value...))
}

func (r *Reader) flush() []byte {
	r.complete = false
	if len(r.pending) == 0 {
		return nil
	}
	payload := bytes.Join(r.pending, []byte("\n"))
	r.pending = nil
	return payload
}

func (r *Reader) payloadOrDone(payload []byte) ([]byte, error) {
	if string(bytes.TrimSpace(payload)) == doneSentinel {
		r.done = true
		return nil, io.EOF
	}
	return payload, nil
}

func splitField(line []byte) (string, []byte) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return string(line), nil
	}
	value := line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:i]), value
}

// Source yields backend stream chunks. Next returns io.EOF at the end of
// the stream.
type Source interface {
	Next() (*types.OpenAIStreamChunk, error)
}

// ChunkReader decodes flat-style chunks from an event stream
type ChunkReader struct {
	events *Reader
}

// NewChunkReader wraps a backend response body
func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{events: NewReader(r)}
}

// Next returns the next chunk. An error object sent in place of a chunk is
// returned as an *types.APIError.
func (c *ChunkReader) Next() (*types.OpenAIStreamChunk, error) {
	payload, err := c.events.Next()
	if err != nil {
		return nil, err
	}

	if e := gjson.GetBytes(payload, "error"); e.Exists() {
		message := e.Get("message").String()
		if message == "" {
			message = e.String()
		}
		return nil, types.UpstreamError(0, "backend stream error: %s", message)
	}

	var chunk types.OpenAIStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, fmt.Errorf("malformed stream chunk: %w", err)
	}
	return &chunk, nil
}

// IsEndOfStream reports whether err marks a normal end of stream
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF)
}
