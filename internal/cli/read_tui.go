// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/bazi-destiny/internal/resume"
)

// =============================================================================
// MESSAGES
// =============================================================================

type deltaMsg string

type stateMsg resume.State

// runDoneMsg is sent when Start or Continue returns.
type runDoneMsg struct {
	state resume.State
	err   error
}

// =============================================================================
// MODEL
// =============================================================================

// readModel is the live reading view: a spinner while streaming, the raw
// text scrolling in a viewport, and the segmented reading once complete.
type readModel struct {
	ctx   context.Context
	coord *resume.Coordinator

	spinner  spinner.Model
	viewport viewport.Model

	text     strings.Builder
	state    resume.State
	err      error
	rendered bool
	started  time.Time
}

func newReadModel(ctx context.Context) *readModel {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	return &readModel{
		ctx:      ctx,
		spinner:  s,
		viewport: viewport.New(DefaultTerminalWidth, 20),
		started:  time.Now(),
	}
}

func (m *readModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start)
}

func (m *readModel) start() tea.Msg {
	state, err := m.coord.Start(m.ctx)
	return runDoneMsg{state: state, err: err}
}

func (m *readModel) resume() tea.Msg {
	state, err := m.coord.Continue(m.ctx)
	return runDoneMsg{state: state, err: err}
}

func (m *readModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "c":
			if m.state == resume.StateAwaitingManualResume {
				m.err = nil
				m.state = resume.StateStreaming
				return m, tea.Batch(m.spinner.Tick, m.resume)
			}
		}

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-3, 3)
		m.refresh()

	case deltaMsg:
		m.text.WriteString(string(msg))
		m.refresh()

	case stateMsg:
		m.state = resume.State(msg)

	case runDoneMsg:
		m.state = msg.state
		m.err = msg.err
		if msg.state == resume.StateCompleted {
			m.showSections()
		}
		return m, nil

	case spinner.TickMsg:
		if m.state == resume.StateStreaming || m.state == resume.StateIdle || m.state == resume.StateDropped {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// refresh shows the raw text while it streams, pinned to the bottom.
func (m *readModel) refresh() {
	if m.rendered {
		return
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(m.text.String()))
	m.viewport.GotoBottom()
}

func (m *readModel) showSections() {
	out, err := renderSections(m.coord.Sections(), min(m.viewport.Width, MaxReadingWidth), true)
	if err != nil || out == "" {
		return
	}
	m.rendered = true
	m.viewport.SetContent(out)
	m.viewport.GotoTop()
}

func (m *readModel) View() string {
	var status string
	switch m.state {
	case resume.StateCompleted:
		status = RenderConditional(SuccessStyle, "Reading complete.") + DimStyle.Render("  arrows scroll, q quits")
	case resume.StateAwaitingManualResume:
		if m.err != nil {
			status = RenderConditional(ErrorStyle, "Error: "+m.err.Error()) + DimStyle.Render("  c continue, q quit")
		} else {
			status = RenderConditional(WarningStyle, "The connection dropped before the reading finished.") +
				DimStyle.Render("  c continue, q quit")
		}
	case resume.StateDropped:
		status = m.spinner.View() + " Connection dropped, resuming..."
	default:
		status = m.spinner.View() + " Reading your chart... " +
			DimStyle.Render(time.Since(m.started).Truncate(time.Second).String())
	}
	return m.viewport.View() + "\n" + RenderSeparator(max(m.viewport.Width, 1)) + "\n" + status
}

// =============================================================================
// PROGRAM
// =============================================================================

// runReadTUI runs the live view until the user quits. Coordinator
// callbacks arrive on the streaming goroutine and are forwarded to the
// program as messages.
func runReadTUI(ctx context.Context, streamer resume.Streamer, req resume.Request, maxAuto int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newReadModel(ctx)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	m.coord = resume.New(streamer, req,
		resume.WithMaxAutoRetries(maxAuto),
		resume.OnDelta(func(d string) { p.Send(deltaMsg(d)) }),
		resume.OnState(func(s resume.State) { p.Send(stateMsg(s)) }),
	)

	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(*readModel); ok && fm.state != resume.StateCompleted {
		return errReadingIncomplete
	}
	return nil
}
