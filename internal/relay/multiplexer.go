// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"fmt"
	"time"
)

// Multiplexer defaults.
const (
	DefaultKeepaliveInterval = 2 * time.Second
	DefaultPingEvery         = 5
)

// Emitter writes outward frames. Any error means the client is gone.
type Emitter interface {
	// Comment writes a comment line that clients ignore.
	Comment(text string) error
	// Delta writes a text delta.
	Delta(text string) error
	// Text writes an unparsed upstream payload.
	Text(raw string) error
	// Done writes the completion marker.
	Done() error
}

// NoteFunc renders the connection note shown when the upstream fails.
type NoteFunc func(category, message string) string

// ConnectionNote is the default NoteFunc.
func ConnectionNote(category, message string) string {
	return fmt.Sprintf("\n\n[Connection note: %s: %s]\n", category, message)
}

// Result summarizes one Run.
type Result struct {
	Deltas     int
	KeepAlives int
	Pings      int
	// ErrorNote is set when the stream ended on an upstream error.
	ErrorNote bool
	// Completed is set once the completion marker was written.
	Completed bool
	// Err is the emit error or context error that stopped the run early.
	Err error
}

// Multiplexer drains a frame queue into an Emitter.
type Multiplexer struct {
	keepalive time.Duration
	pingEvery int
	note      NoteFunc
}

// MuxOption configures a Multiplexer.
type MuxOption func(*Multiplexer)

// WithKeepalive sets how long Run waits for a frame before sending a keep-alive.
func WithKeepalive(d time.Duration) MuxOption {
	return func(m *Multiplexer) {
		if d > 0 {
			m.keepalive = d
		}
	}
}

// WithPingEvery makes every nth consecutive idle tick also send an empty delta.
func WithPingEvery(n int) MuxOption {
	return func(m *Multiplexer) {
		if n > 0 {
			m.pingEvery = n
		}
	}
}

// WithNote replaces the connection note formatter.
func WithNote(fn NoteFunc) MuxOption {
	return func(m *Multiplexer) {
		if fn != nil {
			m.note = fn
		}
	}
}

// NewMultiplexer creates a multiplexer.
func NewMultiplexer(opts ...MuxOption) *Multiplexer {
	m := &Multiplexer{
		keepalive: DefaultKeepaliveInterval,
		pingEvery: DefaultPingEvery,
		note:      ConnectionNote,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run forwards frames to em until a terminal frame, a closed queue, an emit
// failure or ctx cancellation. The completion marker is written at most once,
// and nothing is written after it.
func (m *Multiplexer) Run(ctx context.Context, frames <-chan Frame, em Emitter) Result {
	var res Result

	timer := time.NewTimer(m.keepalive)
	defer timer.Stop()

	finish := func() Result {
		if res.Err = em.Done(); res.Err == nil {
			res.Completed = true
		}
		return res
	}

	idle := 0
	for {
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res

		case f, ok := <-frames:
			if !ok {
				// Worker went away without a terminal frame.
				return finish()
			}
			timer.Reset(m.keepalive)

			switch f.Kind {
			case FrameDelta:
				idle = 0
				var err error
				if f.Raw {
					err = em.Text(f.Text)
				} else {
					err = em.Delta(f.Text)
				}
				if err != nil {
					res.Err = err
					return res
				}
				res.Deltas++

			case FrameTerminal:
				return finish()

			case FrameError:
				res.ErrorNote = true
				if err := em.Delta(m.note(f.Category, f.Message)); err != nil {
					res.Err = err
					return res
				}
				return finish()
			}

		case <-timer.C:
			idle++
			if err := em.Comment("keepalive"); err != nil {
				res.Err = err
				return res
			}
			res.KeepAlives++
			if idle%m.pingEvery == 0 {
				if err := em.Delta(""); err != nil {
					res.Err = err
					return res
				}
				res.Pings++
			}
			timer.Reset(m.keepalive)
		}
	}
}
