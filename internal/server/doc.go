// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server serves the BaZi web client and its API.
//
// # Endpoints
//
//   - GET  /                      - Web client (also /styles.css, /app.js, /logo.svg)
//   - POST /api/chart             - Compute a Four Pillars chart
//   - POST /api/interpret_stream  - Stream an interpretation as server-sent events
//   - GET  /health                - Health check
//   - GET  /stats                 - Chart and stream counters
//
// # Streaming
//
// Each interpret_stream request starts one relay worker that reads the
// upstream chat stream into a bounded queue, and a multiplexer that drains
// it to the client with keep-alive comments while the upstream is quiet.
// Every stream ends with "data: [DONE]" unless the client disconnects
// first. Upstream failures arrive as a visible connection note before the
// marker, and a missing API key is reported the same way.
//
// The server runs with no write timeout so long readings are not cut; the
// configured read and idle timeouts still apply.
//
// # Usage
//
//	srv := server.New(cfg, calc).WithLogger(logger)
//	go srv.ListenAndServe()
//	defer srv.Shutdown(ctx)
package server
