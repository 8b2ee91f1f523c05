// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/bazi-destiny/internal/config"
)

func testConfig(baseURL string) config.UpstreamConfig {
	return config.UpstreamConfig{
		BaseURL:     baseURL,
		APIKey:      "sk-test",
		Model:       "deepseek-chat",
		Temperature: 0.7,
		Timeout:     config.D(5 * time.Second),
	}
}

// readAll drains a line stream until EOF or error.
func readAll(t *testing.T, s *LineStream) ([]string, error) {
	t.Helper()
	var lines []string
	for {
		line, err := s.Next()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
}

// =============================================================================
// ENDPOINT
// =============================================================================

func TestClient_Endpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://api.deepseek.com", "https://api.deepseek.com/v1/chat/completions"},
		{"https://api.deepseek.com/", "https://api.deepseek.com/v1/chat/completions"},
		{"https://proxy.example/v1", "https://proxy.example/v1/chat/completions"},
		{"https://proxy.example/v1/", "https://proxy.example/v1/chat/completions"},
	}
	for _, tc := range tests {
		c := NewClient(testConfig(tc.base))
		if got := c.Endpoint(); got != tc.want {
			t.Errorf("Endpoint() for %q = %q, want %q", tc.base, got, tc.want)
		}
	}
}

// =============================================================================
// STREAMING
// =============================================================================

func TestClient_Stream_SendsRequest(t *testing.T) {
	var gotBody chatRequest
	var gotAuth, gotAccept, gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	stream, err := client.Stream(context.Background(), []Message{
		NewSystemMessage("sys"),
		NewUserMessage("hello"),
	})
	require.NoError(t, err)
	defer stream.Close()

	lines, err := readAll(t, stream)
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t, "deepseek-chat", gotBody.Model)
	assert.True(t, gotBody.Stream)
	assert.Equal(t, 0.7, gotBody.Temperature)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)

	// Raw lines come back untouched, blank separators included.
	assert.Equal(t, []string{
		`data: {"choices":[{"delta":{"content":"Hi"}}]}`,
		"",
		"data: [DONE]",
		"",
	}, lines)
}

func TestClient_Stream_NotConfigured(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.APIKey = "  "
	client := NewClient(cfg)

	_, err := client.Stream(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, CategoryConfig, ErrorCategory(err))
}

func TestClient_Stream_HTTPErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantSentinel error
		wantCategory string
		wantMessage  string
	}{
		{
			name:         "unauthorized",
			status:       http.StatusUnauthorized,
			body:         `{"error":{"message":"Authentication Fails","type":"authentication_error","code":"invalid_api_key"}}`,
			wantSentinel: ErrAuthFailed,
			wantCategory: CategoryAuth,
			wantMessage:  "Authentication Fails",
		},
		{
			name:         "rate limited",
			status:       http.StatusTooManyRequests,
			body:         `{"error":{"message":"slow down"}}`,
			wantSentinel: ErrRateLimited,
			wantCategory: CategoryRateLimited,
			wantMessage:  "slow down",
		},
		{
			name:         "server error plain body",
			status:       http.StatusBadGateway,
			body:         "bad gateway",
			wantSentinel: ErrServerError,
			wantCategory: "http_502",
			wantMessage:  "bad gateway",
		},
		{
			name:         "bad request",
			status:       http.StatusBadRequest,
			body:         `{"error":{"message":"model not found","code":400}}`,
			wantCategory: "http_400",
			wantMessage:  "model not found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			_, err := NewClient(testConfig(server.URL)).Stream(context.Background(), nil)
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "expected *APIError, got %T", err)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.wantMessage, apiErr.Message)
			if tc.wantSentinel != nil {
				assert.ErrorIs(t, err, tc.wantSentinel)
			}
			assert.Equal(t, tc.wantCategory, ErrorCategory(err))
		})
	}
}

func TestClient_Stream_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(testConfig(url)).Stream(context.Background(), nil)
	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "connect", tErr.Op)
	assert.Equal(t, CategoryConnection, ErrorCategory(err))
}

func TestClient_Stream_TimeoutDuringRead(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(testConfig(server.URL)).WithTimeout(200 * time.Millisecond)
	stream, err := client.Stream(context.Background(), nil)
	require.NoError(t, err)
	defer stream.Close()

	line, err := stream.Next()
	require.NoError(t, err)
	assert.True(t, strings.Contains(line, "partial"))

	_, err = stream.Next()
	require.Error(t, err)
	assert.Equal(t, CategoryTimeout, ErrorCategory(err))

	// The error is sticky.
	_, again := stream.Next()
	assert.Equal(t, err, again)
}

func TestClient_Stream_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := NewClient(testConfig(server.URL)).Stream(ctx, nil)
	require.NoError(t, err)
	defer stream.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = stream.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CategoryCanceled, ErrorCategory(err))
}

// =============================================================================
// CATEGORIES
// =============================================================================

func TestErrorCategory(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("boom"), CategoryInternal},
		{context.DeadlineExceeded, CategoryTimeout},
		{fmt.Errorf("wrapped: %w", context.Canceled), CategoryCanceled},
		{&TransportError{Op: "read", Err: io.ErrUnexpectedEOF}, CategoryRead},
		{&TransportError{Op: "connect", Err: errors.New("refused")}, CategoryConnection},
		{&APIError{Status: 403}, CategoryAuth},
		{&APIError{Status: 503}, "http_503"},
	}
	for _, tc := range tests {
		if got := ErrorCategory(tc.err); got != tc.want {
			t.Errorf("ErrorCategory(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
