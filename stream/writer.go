package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// EventWriter writes server-sent events to a client and flushes after each
// one so deltas reach the client as they are produced.
type EventWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEventWriter wraps w. Flushing happens only when w supports it.
func NewEventWriter(w io.Writer) *EventWriter {
	ew := &EventWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		ew.flusher = f
	}
	return ew
}

// SetHeaders prepares an HTTP response for an event stream
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteEvent writes a named event with a JSON payload
func (ew *EventWriter) WriteEvent(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(ew.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	ew.flush()
	return nil
}

// Emit adapts the writer to a translator Sink
func (ew *EventWriter) Emit(ev Event) error {
	return ew.WriteEvent(ev.Name, ev.Payload)
}

// WriteData writes an unnamed event with a JSON payload
func (ew *EventWriter) WriteData(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk: %w", err)
	}
	if _, err := fmt.Fprintf(ew.w, "data: %s\n\n", data); err != nil {
		return err
	}
	ew.flush()
	return nil
}

// WriteDone writes the [DONE] sentinel that ends a flat-style stream
func (ew *EventWriter) WriteDone() error {
	if _, err := fmt.Fprintf(ew.w, "data: %s\n\n", doneSentinel); err != nil {
		return err
	}
	ew.flush()
	return nil
}

func (ew *EventWriter) flush() {
	if ew.flusher != nil {
		ew.flusher.Flush()
	}
}
