// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay moves an upstream completion stream to an outward SSE
// response.
//
// A Worker reads the upstream on its own goroutine and feeds a bounded
// channel of Frames; a Multiplexer drains that channel on the request
// goroutine, translating frames for the client and filling idle gaps with
// keep-alives. The two meet only at the channel.
package relay

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/jeranaias/bazi-destiny/internal/prompt"
	"github.com/jeranaias/bazi-destiny/internal/upstream"
)

// =============================================================================
// FRAMES
// =============================================================================

// FrameKind tags a Frame.
type FrameKind int

const (
	// FrameDelta carries generated text.
	FrameDelta FrameKind = iota
	// FrameTerminal marks normal end of generation.
	FrameTerminal
	// FrameError marks abnormal end; it is terminal too.
	FrameError
)

// String returns the kind name for logs.
func (k FrameKind) String() string {
	switch k {
	case FrameDelta:
		return "delta"
	case FrameTerminal:
		return "terminal"
	case FrameError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one unit on the relay queue.
type Frame struct {
	Kind FrameKind
	// Text is the delta content.
	Text string
	// Raw marks a delta built from an upstream line that was not a JSON chunk.
	Raw bool
	// Category and Message describe a FrameError.
	Category string
	Message  string
}

// IsTerminal reports whether no frame may follow f.
func (f Frame) IsTerminal() bool {
	return f.Kind == FrameTerminal || f.Kind == FrameError
}

// errorFrame converts an upstream failure into a FrameError.
func errorFrame(err error) Frame {
	return Frame{
		Kind:     FrameError,
		Category: upstream.ErrorCategory(err),
		Message:  err.Error(),
	}
}

// =============================================================================
// SOURCE
// =============================================================================

// Lines is a stream of raw upstream lines. *upstream.LineStream satisfies it.
type Lines interface {
	Next() (string, error)
	Close() error
}

// Source opens one upstream stream per call.
type Source interface {
	Open(ctx context.Context, conv prompt.Conversation) (Lines, error)
}

// ClientSource adapts an *upstream.Client to Source.
type ClientSource struct {
	Client *upstream.Client
}

// Open implements Source.
func (s ClientSource) Open(ctx context.Context, conv prompt.Conversation) (Lines, error) {
	lines, err := s.Client.Stream(ctx, conv)
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// =============================================================================
// WORKER
// =============================================================================

// DefaultQueueCapacity is the frame buffer between worker and multiplexer.
const DefaultQueueCapacity = 1000

// Worker runs upstream reads off the request goroutine.
type Worker struct {
	source   Source
	capacity int
	logger   *zap.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithCapacity sets the queue capacity.
func WithCapacity(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.capacity = n
		}
	}
}

// WithWorkerLogger sets the logger used for upstream failures.
func WithWorkerLogger(l *zap.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker creates a worker reading from source.
func NewWorker(source Source, opts ...WorkerOption) *Worker {
	w := &Worker{
		source:   source,
		capacity: DefaultQueueCapacity,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start opens the upstream stream for conv on a new goroutine and returns
// the queue it fills.
//
// Exactly one terminal frame (FrameTerminal or FrameError) is the last
// frame sent, after which the channel is closed. If ctx is cancelled the
// goroutine stops at its next read or send and closes the channel without
// a terminal frame.
func (w *Worker) Start(ctx context.Context, conv prompt.Conversation) <-chan Frame {
	out := make(chan Frame, w.capacity)
	go func() {
		defer close(out)
		w.run(ctx, conv, out)
	}()
	return out
}

func (w *Worker) run(ctx context.Context, conv prompt.Conversation, out chan<- Frame) {
	send := func(f Frame) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		f := errorFrame(err)
		if f.Category != upstream.CategoryCanceled {
			w.logger.Warn("STREAM_UPSTREAM_ERROR",
				zap.String("category", f.Category),
				zap.Error(err))
		}
		send(f)
	}

	lines, err := w.source.Open(ctx, conv)
	if err != nil {
		fail(err)
		return
	}
	defer lines.Close()

	for {
		raw, err := lines.Next()
		if errors.Is(err, io.EOF) {
			// Upstream closed cleanly without [DONE].
			send(Frame{Kind: FrameTerminal})
			return
		}
		if err != nil {
			fail(err)
			return
		}

		line := upstream.ParseLine(raw)
		switch line.Kind {
		case upstream.LineDelta:
			if !send(Frame{Kind: FrameDelta, Text: line.Text}) {
				return
			}
		case upstream.LineUnparsed:
			if !send(Frame{Kind: FrameDelta, Text: line.Text, Raw: true}) {
				return
			}
		case upstream.LineTerminal:
			send(Frame{Kind: FrameTerminal})
			return
		case upstream.LineProviderError:
			w.logger.Warn("STREAM_PROVIDER_ERROR", zap.String("message", line.Text))
			send(Frame{Kind: FrameError, Category: upstream.CategoryProvider, Message: line.Text})
			return
		}
	}
}
