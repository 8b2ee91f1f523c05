// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upstream

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/bazi-destiny/internal/config"
)

// Configuration constants for the chat-completions API.
const (
	// DefaultTimeout bounds one whole streaming attempt, connect to last byte.
	DefaultTimeout = 5 * time.Minute

	// MaxLineSize is the largest single SSE line accepted from the provider.
	MaxLineSize = 1024 * 1024

	// userAgent identifies this service to the provider.
	userAgent = "bazi-destiny/1.0"
)

// sharedStreamingClient is used for streaming requests (no timeout, context-controlled).
// PERFORMANCE: Connection pooling for streaming requests.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user" or "assistant"
	Content string `json:"content"` // The message content
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// chatRequest is the body sent to /v1/chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// Client is a streaming chat-completions client.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
}

// NewClient creates a client from the upstream configuration section.
//
// An empty API key still yields a usable client; Stream then fails with
// ErrNotConfigured.
func NewClient(cfg config.UpstreamConfig) *Client {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout,
		httpClient:  sharedStreamingClient,
	}
}

// WithHTTPClient replaces the HTTP client, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithTimeout sets the per-attempt timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// Model returns the model name sent with each request.
func (c *Client) Model() string {
	return c.model
}

// Endpoint returns the full chat-completions URL. A base that already ends
// in /v1 is not given a second one.
func (c *Client) Endpoint() string {
	base := c.baseURL
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// =============================================================================
// STREAMING
// =============================================================================

// Stream issues one streaming completion request and returns the response
// as a line stream. The caller must Close the stream.
//
// Cancelling ctx aborts both the request and any pending read.
func (c *Client) Stream(ctx context.Context, messages []Message) (*LineStream, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	bodyBytes, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(bodyBytes))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "connect", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
		resp.Body.Close()
		cancel()
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	return &LineStream{
		body:   resp.Body,
		reader: bufio.NewReaderSize(resp.Body, 64*1024),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// LineStream yields the raw lines of a streaming response.
type LineStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	ctx    context.Context
	cancel context.CancelFunc
	err    error
}

// Next returns the next line without its trailing newline. It returns
// io.EOF once the body is exhausted and a *TransportError if reading fails.
func (s *LineStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}

	var line []byte
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.err = io.EOF
			} else {
				// A cancelled or expired context surfaces here as a body read
				// error; report the context's reason instead.
				if ctxErr := s.ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				s.err = &TransportError{Op: "read", Err: err}
			}
			if len(line) > 0 {
				return string(line), nil
			}
			return "", s.err
		}
		line = append(line, chunk...)
		if len(line) > MaxLineSize {
			s.err = &TransportError{Op: "read", Err: fmt.Errorf("line exceeds %d bytes", MaxLineSize)}
			return "", s.err
		}
		if !isPrefix {
			return string(line), nil
		}
	}
}

// Close releases the response body and the attempt's timeout.
func (s *LineStream) Close() error {
	s.cancel()
	return s.body.Close()
}
