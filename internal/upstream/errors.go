// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Error variables for common upstream failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("upstream API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrServerError indicates the provider failed with a 5xx status.
	ErrServerError = errors.New("provider server error")
)

// maxErrorBody caps how much of a failed response body is kept in an APIError.
const maxErrorBody = 2048

// APIError is a non-2xx response from the provider.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream error (HTTP %d): %s", e.Status, e.Message)
}

// Unwrap maps the status onto the package sentinels so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrAuthFailed
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Status >= 500:
		return ErrServerError
	}
	return nil
}

// TransportError wraps a failure to connect to, or read from, the provider.
type TransportError struct {
	Op  string // "connect" or "read"
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline or network timeout.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// apiErrorResponse is the OpenAI-style error envelope.
type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Type    string          `json:"type"`
	} `json:"error"`
}

// handleErrorResponse builds an APIError from a failed response body.
func handleErrorResponse(statusCode int, body []byte) error {
	apiErr := &APIError{Status: statusCode}

	var env apiErrorResponse
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		apiErr.Message = env.Error.Message
		// DeepSeek sends string codes, some compatible servers send numbers.
		apiErr.Code = strings.Trim(string(env.Error.Code), `"`)
		if apiErr.Code == "" || apiErr.Code == "null" {
			apiErr.Code = env.Error.Type
		}
		return apiErr
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	apiErr.Message = msg
	return apiErr
}

// =============================================================================
// ERROR CATEGORIES
// =============================================================================

// Categories reported by ErrorCategory. HTTP failures are reported as
// "http_<status>" unless a more specific category applies.
const (
	CategoryAuth        = "auth"
	CategoryRateLimited = "rate_limited"
	CategoryTimeout     = "timeout"
	CategoryConnection  = "connection"
	CategoryRead        = "read"
	CategoryProvider    = "provider"
	CategoryCanceled    = "canceled"
	CategoryConfig      = "config"
	CategoryInternal    = "internal"
)

// ErrorCategory classifies err into a short, stable label suitable for
// showing to an end user next to the error message.
func ErrorCategory(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrNotConfigured) {
		return CategoryConfig
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case errors.Is(err, ErrAuthFailed):
			return CategoryAuth
		case errors.Is(err, ErrRateLimited):
			return CategoryRateLimited
		default:
			return fmt.Sprintf("http_%d", apiErr.Status)
		}
	}

	var tErr *TransportError
	if errors.As(err, &tErr) {
		switch {
		case tErr.Timeout():
			return CategoryTimeout
		case errors.Is(err, context.Canceled):
			return CategoryCanceled
		case tErr.Op == "read":
			return CategoryRead
		default:
			return CategoryConnection
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CategoryCanceled
	}
	return CategoryInternal
}
