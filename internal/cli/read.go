// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/jeranaias/bazi-destiny/internal/chart"
	"github.com/jeranaias/bazi-destiny/internal/logging"
	"github.com/jeranaias/bazi-destiny/internal/resume"
)

// ChartPath is the server's chart endpoint.
const ChartPath = "/api/chart"

// maxChartResponse bounds the chart body read from the server.
const maxChartResponse = 1 << 20

// errReadingIncomplete is returned when a reading stopped early and the
// user declined, or could not be asked, to continue it.
var errReadingIncomplete = errors.New("reading incomplete: the connection dropped and the reading was not continued")

type readOptions struct {
	birth     birthFlags
	serverURL string
	plain     bool
	sections  bool
}

func newReadCmd(root *rootOptions) *cobra.Command {
	opts := &readOptions{}
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Stream a reading from a running server",
		Long: `Compute a chart on a running bazi server and stream its interpretation.

A dropped stream is resumed once automatically. After that the reading
waits: press c in the live view, or answer the prompt in plain mode.

The server is --server, then $BAZI_SERVER_URL, then server.url from config.`,
		Example: `  bazi read --date 1990-05-15 --time 08:30 --city Shanghai --country China
  bazi read --plain --sections --date 1990-05-15 --time 08:30 --city Paris --country France > reading.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd.Context(), root, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	opts.birth.bind(cmd)
	cmd.Flags().StringVar(&opts.serverURL, "server", "", "server base URL")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "plain streamed text even on a terminal")
	cmd.Flags().BoolVar(&opts.sections, "sections", false, "in plain mode, print the segmented reading once complete instead of streaming it")
	return cmd
}

func runRead(ctx context.Context, root *rootOptions, opts *readOptions, out, errOut io.Writer) error {
	cfg, _, err := root.loadConfig()
	if err != nil {
		return err
	}

	baseURL := opts.serverURL
	if baseURL == "" {
		baseURL = cfg.Server.URL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	chartJSON, err := fetchChart(ctx, http.DefaultClient, baseURL, opts.birth.req)
	if err != nil {
		return err
	}
	req := resume.Request{Chart: chartJSON, Name: opts.birth.req.Name}

	if Interactive() && !opts.plain {
		// Logs would tear the full-screen view.
		streamer := resume.NewHTTPStreamer(baseURL)
		return runReadTUI(ctx, streamer, req, cfg.Resume.MaxAutoRetries)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	r := &plainReader{
		out:      out,
		errOut:   errOut,
		sections: opts.sections,
		width:    ReadingWidth(),
		styled:   ColorsEnabled(),
		logger:   logger,
	}
	if CanPrompt() {
		r.prompt = linerPrompter{}
	}
	return r.run(ctx, resume.NewHTTPStreamer(baseURL).WithLogger(logger), req, cfg.Resume.MaxAutoRetries)
}

// =============================================================================
// CHART REQUEST
// =============================================================================

// fetchChart asks the server at baseURL for a chart and returns the raw
// payload, which is sent back verbatim with every interpretation request.
func fetchChart(ctx context.Context, client *http.Client, baseURL string, req chart.Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+ChartPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chart request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cannot reach bazi server at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChartResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read chart response: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("unexpected chart response (HTTP %d)", resp.StatusCode)
	}
	if !gjson.GetBytes(data, "ok").Bool() {
		msg := gjson.GetBytes(data, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("chart rejected (HTTP %d): %s", resp.StatusCode, msg)
	}
	return data, nil
}

// =============================================================================
// PLAIN READER
// =============================================================================

// prompter asks a yes/no question.
type prompter interface {
	Confirm(question string) (bool, error)
}

// linerPrompter prompts on the controlling terminal. Enter means yes.
type linerPrompter struct{}

func (linerPrompter) Confirm(question string) (bool, error) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	answer, err := line.Prompt(question)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return true, nil
	}
	return false, nil
}

// plainReader drives a reading with line-oriented output. Deltas go to out
// as they arrive unless sections is set; notices go to errOut.
type plainReader struct {
	out      io.Writer
	errOut   io.Writer
	prompt   prompter // nil when stdin is not interactive
	sections bool
	width    int
	styled   bool
	logger   *zap.Logger
}

func (r *plainReader) run(ctx context.Context, streamer resume.Streamer, req resume.Request, maxAuto int) error {
	opts := []resume.Option{
		resume.WithMaxAutoRetries(maxAuto),
		resume.WithLogger(r.logger),
		resume.OnState(func(s resume.State) {
			if s == resume.StateDropped {
				fmt.Fprintln(r.errOut, RenderConditional(WarningStyle, "\n[connection dropped]"))
			}
		}),
	}
	if !r.sections {
		opts = append(opts, resume.OnDelta(func(delta string) {
			io.WriteString(r.out, delta)
		}))
	}
	coord := resume.New(streamer, req, opts...)

	state, err := coord.Start(ctx)
	for state != resume.StateCompleted {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if r.prompt == nil {
				return err
			}
			fmt.Fprintln(r.errOut, RenderConditional(ErrorStyle, err.Error()))
		}
		if r.prompt == nil {
			return errReadingIncomplete
		}
		ok, perr := r.prompt.Confirm("The reading stopped early. Continue? [Y/n] ")
		if perr != nil || !ok {
			return errReadingIncomplete
		}
		state, err = coord.Continue(ctx)
	}

	if !r.sections {
		fmt.Fprintln(r.out)
		return nil
	}
	rendered, err := renderSections(coord.Sections(), r.width, r.styled)
	if err != nil {
		return err
	}
	_, err = io.WriteString(r.out, rendered)
	return err
}
