// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/jeranaias/bazi-destiny/internal/chart"
	"github.com/jeranaias/bazi-destiny/internal/config"
	"github.com/jeranaias/bazi-destiny/internal/prompt"
	"github.com/jeranaias/bazi-destiny/internal/relay"
	"github.com/jeranaias/bazi-destiny/internal/upstream"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// Version is the server version.
	Version = "1.0.0"

	// AppName is the product name shown in the page header.
	AppName = "BAZI Destiny"

	// Tagline is shown under the product name.
	Tagline = "From ancient Eastern philosophy, offering insights into your life path; there is wonder in all things."

	// MaxRequestBodySize bounds request bodies. A chart plus a long
	// continuation stays well below it.
	MaxRequestBodySize = 1 * 1024 * 1024

	// MissingKeyNote is streamed in place of a reading when no API key is set.
	MissingKeyNote = "[Missing DEEPSEEK_API_KEY]\n"

	// MsgChartMissing is the interpret_stream error for a missing chart.
	MsgChartMissing = "Chart payload missing."

	// readHeaderTimeout bounds slow clients even though WriteTimeout is off.
	readHeaderTimeout = 10 * time.Second
)

//go:embed web
var webFS embed.FS

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats counts chart and stream outcomes since start.
type Stats struct {
	ChartsComputed   atomic.Int64
	ChartsRejected   atomic.Int64
	ChartsFailed     atomic.Int64
	StreamsStarted   atomic.Int64
	StreamsCompleted atomic.Int64
	StreamsErrored   atomic.Int64
	StreamsAborted   atomic.Int64
	Deltas           atomic.Int64
	KeepAlives       atomic.Int64
	Pings            atomic.Int64
	StartTime        time.Time
}

// NewStats creates a Stats starting now.
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

// RecordStream folds one multiplexer run into the counters.
func (s *Stats) RecordStream(res relay.Result) {
	s.Deltas.Add(int64(res.Deltas))
	s.KeepAlives.Add(int64(res.KeepAlives))
	s.Pings.Add(int64(res.Pings))
	switch {
	case res.Err != nil:
		s.StreamsAborted.Add(1)
	case res.ErrorNote:
		s.StreamsErrored.Add(1)
	default:
		s.StreamsCompleted.Add(1)
	}
}

// StatsResponse is the /stats body.
type StatsResponse struct {
	ChartsComputed   int64 `json:"charts_computed"`
	ChartsRejected   int64 `json:"charts_rejected"`
	ChartsFailed     int64 `json:"charts_failed"`
	StreamsStarted   int64 `json:"streams_started"`
	StreamsCompleted int64 `json:"streams_completed"`
	StreamsErrored   int64 `json:"streams_errored"`
	StreamsAborted   int64 `json:"streams_aborted"`
	Deltas           int64 `json:"deltas"`
	KeepAlives       int64 `json:"keepalives"`
	Pings            int64 `json:"pings"`
	UptimeSeconds    int64 `json:"uptime_seconds"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsResponse {
	return StatsResponse{
		ChartsComputed:   s.ChartsComputed.Load(),
		ChartsRejected:   s.ChartsRejected.Load(),
		ChartsFailed:     s.ChartsFailed.Load(),
		StreamsStarted:   s.StreamsStarted.Load(),
		StreamsCompleted: s.StreamsCompleted.Load(),
		StreamsErrored:   s.StreamsErrored.Load(),
		StreamsAborted:   s.StreamsAborted.Load(),
		Deltas:           s.Deltas.Load(),
		KeepAlives:       s.KeepAlives.Load(),
		Pings:            s.Pings.Load(),
		UptimeSeconds:    int64(time.Since(s.StartTime).Seconds()),
	}
}

// ============================================================================
// SERVER
// ============================================================================

// ChartComputer builds charts. *chart.Calculator satisfies it.
type ChartComputer interface {
	Compute(ctx context.Context, req chart.Request) (*chart.Result, error)
}

// Server serves the web client, the chart API and the interpretation stream.
type Server struct {
	cfg    atomic.Pointer[config.Config]
	charts ChartComputer
	stats  *Stats
	logger *zap.Logger
	router *http.ServeMux
	index  *template.Template

	mu     sync.Mutex
	server *http.Server
}

// New creates a Server for cfg. cfg is not modified; UpdateConfig swaps in
// a new snapshot.
func New(cfg *config.Config, charts ChartComputer) *Server {
	s := &Server{
		charts: charts,
		stats:  NewStats(),
		logger: zap.NewNop(),
		router: http.NewServeMux(),
		index:  template.Must(template.ParseFS(webFS, "web/index.html")),
	}
	s.cfg.Store(cfg)
	s.setupRoutes()
	return s
}

// WithLogger sets the logger.
func (s *Server) WithLogger(l *zap.Logger) *Server {
	if l != nil {
		s.logger = l
	}
	return s
}

// Config returns the current configuration snapshot.
func (s *Server) Config() *config.Config {
	return s.cfg.Load()
}

// UpdateConfig replaces the configuration used by new requests. Streams
// already running keep the snapshot they started with.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
	s.logger.Info("CONFIG_RELOADED",
		zap.String("model", cfg.Upstream.Model),
		zap.Duration("keepalive", cfg.Stream.KeepaliveInterval.Duration),
		zap.Int("ping_every", cfg.Stream.PingEvery),
		zap.Int("max_auto_retries", cfg.Resume.MaxAutoRetries))
}

// Stats returns the live counters.
func (s *Server) Stats() *Stats {
	return s.stats
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /{$}", s.handleIndex)
	s.router.HandleFunc("GET /styles.css", s.asset("web/styles.css", "text/css; charset=utf-8"))
	s.router.HandleFunc("GET /app.js", s.asset("web/app.js", "application/javascript; charset=utf-8"))
	s.router.HandleFunc("GET /logo.svg", s.asset("web/logo.svg", "image/svg+xml"))

	s.router.HandleFunc("POST /api/chart", s.handleChart)
	s.router.HandleFunc("POST /api/interpret_stream", s.handleInterpretStream)

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	cfg := s.Config()
	return Chain(
		RecoveryMiddleware(s.logger),
		RequestIDMiddleware(),
		LoggingMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(NewCORSConfig(cfg.Server.CORSOrigins)),
	)(s.router)
}

// ============================================================================
// STATIC ASSETS
// ============================================================================

type indexData struct {
	AppName        string
	Tagline        string
	SourceLabel    string
	MaxAutoRetries int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config()
	var buf bytes.Buffer
	err := s.index.Execute(&buf, indexData{
		AppName:        AppName,
		Tagline:        Tagline,
		SourceLabel:    cfg.Upstream.SourceLabel,
		MaxAutoRetries: cfg.Resume.MaxAutoRetries,
	})
	if err != nil {
		s.logger.Error("TEMPLATE_ERROR", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) asset(name, contentType string) http.HandlerFunc {
	data, err := webFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("missing embedded asset %s: %v", name, err))
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

// ============================================================================
// CHART HANDLER
// ============================================================================

// handleChart handles POST /api/chart.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req chart.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.stats.ChartsRejected.Add(1)
		s.writeError(w, http.StatusBadRequest, decodeErrorMessage(err))
		return
	}

	res, err := s.charts.Compute(r.Context(), req)
	if err != nil {
		status, msg := chartFailure(err)
		if status == http.StatusBadRequest {
			s.stats.ChartsRejected.Add(1)
			s.logger.Info("CHART_REJECTED", zap.String("reason", msg))
		} else {
			s.stats.ChartsFailed.Add(1)
			s.logger.Error("CHART_FAILED", zap.Error(err))
		}
		s.writeError(w, status, msg)
		return
	}

	s.stats.ChartsComputed.Add(1)
	s.writeJSON(w, http.StatusOK, res)
}

// chartFailure maps a Compute error to a status and a user-facing message.
func chartFailure(err error) (int, string) {
	var inErr *chart.InputError
	var geoErr *chart.GeocodeError
	switch {
	case errors.As(err, &inErr):
		return http.StatusBadRequest, inErr.Message
	case errors.As(err, &geoErr):
		return http.StatusInternalServerError, geoErr.Error()
	case errors.Is(err, chart.ErrCalendarUnavailable):
		return http.StatusInternalServerError, "Server missing calendar support. Ensure dependencies are installed."
	}
	return http.StatusInternalServerError, "Server error: " + err.Error()
}

// ============================================================================
// INTERPRETATION STREAM HANDLER
// ============================================================================

// InterpretRequest is the interpret_stream body.
type InterpretRequest struct {
	Chart        json.RawMessage `json:"chart"`
	Name         string          `json:"name"`
	Continuation string          `json:"continuation"`
}

// handleInterpretStream handles POST /api/interpret_stream.
func (s *Server) handleInterpretStream(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req InterpretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, decodeErrorMessage(err))
		return
	}
	if len(req.Chart) == 0 || !gjson.GetBytes(req.Chart, "ok").Bool() {
		s.writeError(w, http.StatusBadRequest, MsgChartMissing)
		return
	}

	cfg := s.Config()
	client := upstream.NewClient(cfg.Upstream)

	relay.SetHeaders(w.Header())
	sse, err := relay.NewWriter(w)
	if err != nil {
		s.logger.Error("STREAM_UNSUPPORTED", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported.")
		return
	}

	if !client.IsConfigured() {
		s.logger.Warn("STREAM_UNCONFIGURED", zap.String("reason", "missing api key"))
		if err := sse.Delta(MissingKeyNote); err == nil {
			sse.Done()
		}
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	streamID := RequestIDFromContext(r.Context())
	log := s.logger.With(zap.String("stream_id", streamID))
	log.Info("STREAM_START",
		zap.String("model", client.Model()),
		zap.Bool("continuation", req.Continuation != ""),
		zap.Int("continuation_len", len(req.Continuation)))
	s.stats.StreamsStarted.Add(1)
	start := time.Now()

	conv := prompt.Build(req.Chart, req.Name, req.Continuation)
	worker := relay.NewWorker(
		relay.ClientSource{Client: client},
		relay.WithCapacity(cfg.Stream.QueueCapacity),
		relay.WithWorkerLogger(log),
	)
	mux := relay.NewMultiplexer(
		relay.WithKeepalive(cfg.Stream.KeepaliveInterval.Duration),
		relay.WithPingEvery(cfg.Stream.PingEvery),
	)

	res := mux.Run(ctx, worker.Start(ctx, conv), sse)
	s.stats.RecordStream(res)

	fields := []zap.Field{
		zap.Int("deltas", res.Deltas),
		zap.Int("keepalives", res.KeepAlives),
		zap.Int("pings", res.Pings),
		zap.Duration("duration", time.Since(start)),
	}
	switch {
	case res.Err != nil:
		log.Info("STREAM_ABORTED", append(fields, zap.Error(res.Err))...)
	case res.ErrorNote:
		log.Warn("STREAM_ERROR", fields...)
	default:
		log.Info("STREAM_DONE", fields...)
	}
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	UpstreamConfigured bool   `json:"upstream_configured"`
	Model              string `json:"model"`
	SourceLabel        string `json:"source_label"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config()
	client := upstream.NewClient(cfg.Upstream)
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:             "ok",
		Version:            Version,
		UpstreamConfigured: client.IsConfigured(),
		Model:              client.Model(),
		SourceLabel:        cfg.Upstream.SourceLabel,
	})
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.Config().Addr()
}

// ListenAndServe listens on the configured address and serves until
// Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. WriteTimeout stays zero so long
// readings are not cut off mid-stream.
func (s *Server) Serve(ln net.Listener) error {
	cfg := s.Config()

	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      0,
		IdleTimeout:       cfg.Server.IdleTimeout.Duration,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("SERVER_START",
		zap.String("addr", ln.Addr().String()),
		zap.String("version", Version),
		zap.Bool("upstream_configured", cfg.Upstream.APIKey != ""))

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	snap := s.stats.Snapshot()
	s.logger.Info("SERVER_SHUTDOWN",
		zap.Int64("charts", snap.ChartsComputed),
		zap.Int64("streams", snap.StreamsStarted))
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		s.logger.Debug("WRITE_FAILED", zap.Error(err))
	}
}

// ErrorResponse is the body of every API failure.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{OK: false, Error: message})
}

func decodeErrorMessage(err error) string {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Sprintf("Request body exceeds maximum size of %d bytes.", MaxRequestBodySize)
	}
	return "Invalid JSON body."
}
