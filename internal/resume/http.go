// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package resume

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// InterpretPath is the server's interpretation endpoint.
const InterpretPath = "/api/interpret_stream"

// RequestError is a non-2xx answer to the interpretation request itself,
// before any stream was opened.
type RequestError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("interpretation request failed (HTTP %d): %s", e.Status, e.Message)
}

// HTTPStreamer is a Streamer talking to a running bazi server.
type HTTPStreamer struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPStreamer creates a streamer for the server at baseURL.
func NewHTTPStreamer(baseURL string) *HTTPStreamer {
	return &HTTPStreamer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// No client timeout: readings run for minutes. Cancel through ctx.
		client: &http.Client{},
		logger: zap.NewNop(),
	}
}

// WithHTTPClient replaces the HTTP client.
func (h *HTTPStreamer) WithHTTPClient(c *http.Client) *HTTPStreamer {
	h.client = c
	return h
}

// WithLogger sets the logger used for dropped connections.
func (h *HTTPStreamer) WithLogger(l *zap.Logger) *HTTPStreamer {
	if l != nil {
		h.logger = l
	}
	return h
}

// Stream implements Streamer.
//
// Connection failures, read failures and a body that ends without the
// completion marker all count as a drop. Only a cancelled ctx or a
// non-2xx response produce an error.
func (h *HTTPStreamer) Stream(ctx context.Context, req StreamRequest, onDelta func(string)) (bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+InterpretPath, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		h.logger.Warn("READING_CONNECT_FAILED", zap.Error(err))
		return false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := gjson.GetBytes(raw, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return false, &RequestError{Status: resp.StatusCode, Message: msg}
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if done := h.handleLine(strings.TrimRight(line, "\r\n"), onDelta); done {
			return true, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if !errors.Is(err, io.EOF) {
				h.logger.Warn("READING_DROPPED", zap.Error(err))
			}
			return false, nil
		}
	}
}

// handleLine applies one outward SSE line and reports whether it was the
// completion marker.
func (h *HTTPStreamer) handleLine(line string, onDelta func(string)) bool {
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		// Blank separators and keep-alive comments.
		return false
	}
	data = strings.TrimPrefix(data, " ")
	if strings.TrimSpace(data) == "[DONE]" {
		return true
	}

	if !gjson.Valid(data) {
		// Not a JSON frame: the payload is the text.
		onDelta(data)
		return false
	}
	frame := gjson.Parse(data)
	if d := frame.Get("delta"); d.Exists() {
		onDelta(d.String())
	} else if t := frame.Get("text"); t.Exists() {
		onDelta(t.String())
	}
	return false
}
