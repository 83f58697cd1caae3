package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Decoder reads data frames from a server-sent event stream. Only data
// lines matter here; comment lines and unknown fields are skipped.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps a stream, typically an http.Response body.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the payload of the next data frame. Multi-line data fields
// are joined with newlines per the SSE format. Returns io.EOF once the
// stream ends.
func (d *Decoder) Next() ([]byte, error) {
	var data []string
	for d.scanner.Scan() {
		line := d.scanner.Text()
		switch {
		case line == "":
			// Blank line dispatches the accumulated frame.
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
		case strings.HasPrefix(line, ":"):
			// Comment, keep-alive ping.
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	// A final frame without a trailing blank line still counts.
	if len(data) > 0 {
		return []byte(strings.Join(data, "\n")), nil
	}
	return nil, io.EOF
}

// All drains the stream and returns every remaining data payload.
func (d *Decoder) All() ([][]byte, error) {
	var frames [][]byte
	for {
		frame, err := d.Next()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, bytes.TrimSpace(frame))
	}
}
