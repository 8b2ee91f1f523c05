// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// DoneMarker is the payload of the final data frame.
const DoneMarker = "[DONE]"

// SetHeaders sets the event-stream response headers.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

type deltaPayload struct {
	Delta string `json:"delta"`
}

type textPayload struct {
	Text string `json:"text"`
}

// Writer is an Emitter over an HTTP response. Every frame is flushed as
// soon as it is written.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w, which must implement http.Flusher.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// Comment implements Emitter.
func (s *Writer) Comment(text string) error {
	return s.write(": " + text + "\n\n")
}

// Delta implements Emitter.
func (s *Writer) Delta(text string) error {
	return s.data(deltaPayload{Delta: text})
}

// Text implements Emitter.
func (s *Writer) Text(raw string) error {
	return s.data(textPayload{Text: raw})
}

// Done implements Emitter.
func (s *Writer) Done() error {
	return s.write("data: " + DoneMarker + "\n\n")
}

func (s *Writer) data(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return s.write("data: " + string(payload) + "\n\n")
}

func (s *Writer) write(frame string) error {
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
