// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package resume drives an interpretation stream from the client side and
// recovers from streams that end without the completion marker.
//
// The Coordinator owns the accumulated text for one chart. A stream that
// drops is re-requested once automatically with the accumulated text as
// continuation; a second drop waits for an explicit Continue.
package resume

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/bazi-destiny/internal/segment"
)

// State is the coordinator's position in the resume state machine.
type State int

const (
	// StateIdle is the state before the first Start.
	StateIdle State = iota
	// StateStreaming means a request is in flight.
	StateStreaming
	// StateCompleted means the completion marker arrived.
	StateCompleted
	// StateDropped means the stream ended without the marker.
	StateDropped
	// StateAwaitingManualResume means automatic retries are used up.
	StateAwaitingManualResume
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateDropped:
		return "dropped"
	case StateAwaitingManualResume:
		return "awaiting_manual_resume"
	default:
		return "unknown"
	}
}

// ErrNotResumable is returned by Continue outside StateAwaitingManualResume.
var ErrNotResumable = errors.New("reading is not waiting to be continued")

// ErrInProgress is returned by Start while a reading is streaming.
var ErrInProgress = errors.New("reading already in progress")

// DefaultMaxAutoRetries is the number of automatic continuations per chart.
const DefaultMaxAutoRetries = 1

// Request identifies the reading being generated.
type Request struct {
	Chart json.RawMessage
	Name  string
}

// StreamRequest is one interpretation request as sent to the server.
type StreamRequest struct {
	Chart        json.RawMessage `json:"chart"`
	Name         string          `json:"name,omitempty"`
	Continuation string          `json:"continuation,omitempty"`
}

// Streamer performs one interpretation request, calling onDelta for every
// text delta in order. completed is true only if the completion marker was
// received. A dropped connection is reported as completed=false with a nil
// error; err is reserved for failures that retrying cannot fix.
type Streamer interface {
	Stream(ctx context.Context, req StreamRequest, onDelta func(string)) (completed bool, err error)
}

// Coordinator accumulates the text of one reading and applies the resume policy.
type Coordinator struct {
	streamer Streamer
	req      Request
	maxAuto  int
	onDelta  func(string)
	onState  func(State)
	logger   *zap.Logger

	mu       sync.Mutex
	text     strings.Builder
	state    State
	retries  int
	sections []segment.Section
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxAutoRetries sets how many drops are retried without asking.
func WithMaxAutoRetries(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.maxAuto = n
		}
	}
}

// OnDelta registers a callback for each appended delta.
func OnDelta(fn func(string)) Option {
	return func(c *Coordinator) { c.onDelta = fn }
}

// OnState registers a callback for each state change.
func OnState(fn func(State)) Option {
	return func(c *Coordinator) { c.onState = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a coordinator for req.
func New(streamer Streamer, req Request, opts ...Option) *Coordinator {
	c := &Coordinator{
		streamer: streamer,
		req:      req,
		maxAuto:  DefaultMaxAutoRetries,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a fresh reading: the accumulated text and the automatic
// retry budget are reset. It returns when the reading completes or needs a
// manual Continue.
func (c *Coordinator) Start(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.state == StateStreaming || c.state == StateDropped {
		c.mu.Unlock()
		return StateStreaming, ErrInProgress
	}
	c.text.Reset()
	c.retries = 0
	c.sections = nil
	c.state = StateStreaming
	c.mu.Unlock()

	c.notify(StateStreaming)
	return c.run(ctx)
}

// Continue resumes after the automatic retries are spent, keeping the
// accumulated text and asking the server to carry on from it.
func (c *Coordinator) Continue(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.state != StateAwaitingManualResume {
		c.mu.Unlock()
		return c.state, ErrNotResumable
	}
	c.state = StateStreaming
	c.mu.Unlock()

	c.notify(StateStreaming)
	return c.run(ctx)
}

// run streams until completion or a manual stop. The caller has already
// moved the state to StateStreaming.
func (c *Coordinator) run(ctx context.Context) (State, error) {
	for {
		seed := c.Text()

		completed, err := c.streamer.Stream(ctx, StreamRequest{
			Chart:        c.req.Chart,
			Name:         c.req.Name,
			Continuation: seed,
		}, c.appendDelta)
		if err != nil {
			c.logger.Warn("READING_FAILED", zap.Error(err))
			c.setState(StateAwaitingManualResume)
			return StateAwaitingManualResume, err
		}

		if completed {
			c.mu.Lock()
			c.sections = segment.Segment(c.text.String())
			c.mu.Unlock()
			c.setState(StateCompleted)
			return StateCompleted, nil
		}

		c.setState(StateDropped)

		c.mu.Lock()
		retry := c.retries < c.maxAuto
		if retry {
			c.retries++
		}
		attempt := c.retries
		c.mu.Unlock()

		if !retry {
			c.logger.Info("READING_AWAITING_CONTINUE", zap.Int("chars", len(c.Text())))
			c.setState(StateAwaitingManualResume)
			return StateAwaitingManualResume, nil
		}
		c.logger.Info("READING_AUTO_RESUME", zap.Int("attempt", attempt), zap.Int("chars", len(c.Text())))
		c.setState(StateStreaming)
	}
}

func (c *Coordinator) appendDelta(delta string) {
	if delta == "" {
		return
	}
	c.mu.Lock()
	c.text.WriteString(delta)
	c.mu.Unlock()
	if c.onDelta != nil {
		c.onDelta(delta)
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Coordinator) notify(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Text returns everything received so far.
func (c *Coordinator) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text.String()
}

// Sections returns the segmented reading once completed, nil before.
func (c *Coordinator) Sections() []segment.Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]segment.Section(nil), c.sections...)
}

// AutoRetries returns how many automatic continuations were used.
func (c *Coordinator) AutoRetries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}
