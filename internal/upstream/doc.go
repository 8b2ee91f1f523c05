// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upstream talks to an OpenAI-compatible chat-completions endpoint
// (DeepSeek by default) in streaming mode.
//
// The client performs exactly one request per call and hands back the raw
// SSE lines as received. Interpreting those lines is the job of ParseLine,
// which is the only place that knows the provider's chunk format.
//
// # Key Types
//
//   - Client: issues the streaming request
//   - LineStream: line-at-a-time reader over the response body
//   - Line: the classified form of one raw line
//   - APIError, TransportError: typed failures, see ErrorCategory
//
// # Usage
//
//	client := upstream.NewClient(cfg.Upstream)
//	lines, err := client.Stream(ctx, messages)
//	if err != nil {
//	    return err
//	}
//	defer lines.Close()
//	for {
//	    raw, err := lines.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package upstream
