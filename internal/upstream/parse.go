// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upstream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// =============================================================================
// LINE PROTOCOL
// =============================================================================

// LineKind classifies one raw line of the provider's SSE stream.
type LineKind int

const (
	// LineSkip is a blank line, comment, non-data field, or a chunk with no text.
	LineSkip LineKind = iota
	// LineDelta carries generated text.
	LineDelta
	// LineTerminal is the [DONE] sentinel.
	LineTerminal
	// LineUnparsed is a data line whose payload is not a JSON object.
	LineUnparsed
	// LineProviderError is a JSON payload carrying error.message.
	LineProviderError
)

// String returns the kind name for logs.
func (k LineKind) String() string {
	switch k {
	case LineSkip:
		return "skip"
	case LineDelta:
		return "delta"
	case LineTerminal:
		return "terminal"
	case LineUnparsed:
		return "unparsed"
	case LineProviderError:
		return "provider_error"
	default:
		return "unknown"
	}
}

// Line is the parsed form of a raw stream line.
//
// Text holds the delta content for LineDelta, the raw payload for
// LineUnparsed, and the provider's message for LineProviderError.
type Line struct {
	Kind LineKind
	Text string
}

// doneSentinel terminates an OpenAI-style stream.
const doneSentinel = "[DONE]"

// ParseLine classifies a single raw line. It accepts both "data: " and
// "data:" prefixes and never fails: anything it cannot interpret as a chunk
// comes back as LineUnparsed with the payload intact.
func ParseLine(raw string) Line {
	line := strings.TrimRight(raw, "\r\n")
	if line == "" || strings.HasPrefix(line, ":") {
		return Line{Kind: LineSkip}
	}

	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		// event:, id:, retry: and anything else we don't use.
		return Line{Kind: LineSkip}
	}
	data = strings.TrimPrefix(data, " ")

	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return Line{Kind: LineSkip}
	}
	if trimmed == doneSentinel {
		return Line{Kind: LineTerminal}
	}

	if !gjson.Valid(data) {
		return Line{Kind: LineUnparsed, Text: data}
	}
	chunk := gjson.Parse(data)
	if !chunk.IsObject() {
		return Line{Kind: LineUnparsed, Text: data}
	}

	if msg := chunk.Get("error.message"); msg.Exists() && msg.String() != "" {
		return Line{Kind: LineProviderError, Text: msg.String()}
	}

	content := chunk.Get("choices.0.delta.content").String()
	if content == "" {
		return Line{Kind: LineSkip}
	}
	return Line{Kind: LineDelta, Text: content}
}
