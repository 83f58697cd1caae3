package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNoFlusher is returned when the response writer cannot stream.
var ErrNoFlusher = errors.New("sse: response writer does not support flushing")

// Writer emits server-sent event frames over an HTTP response. Each frame
// is a single "data: <json>\n\n" block, flushed immediately so clients see
// events as they happen.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares the response for event streaming and returns the
// frame writer. Headers are written here, so the caller must not have
// written any yet.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	return &Writer{w: w, flusher: flusher}, nil
}

// Send JSON-encodes v into one data frame and flushes it.
func (w *Writer) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
