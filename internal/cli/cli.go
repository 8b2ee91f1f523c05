// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command and shared plumbing for the bazi CLI.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/bazi-destiny/internal/chart"
	"github.com/jeranaias/bazi-destiny/internal/config"
	"github.com/jeranaias/bazi-destiny/internal/geo"
	"github.com/jeranaias/bazi-destiny/internal/logging"
)

// Version information (can be overridden at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	// ExitIncomplete means a reading stopped before it finished and was
	// not continued.
	ExitIncomplete = 3
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
}

// loadConfig resolves and loads the configuration. The returned path is
// empty when only defaults and the environment are in use.
func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(o.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		if _, err := logging.ParseLevel(o.logLevel); err != nil {
			return nil, "", err
		}
		cfg.Logging.Level = o.logLevel
	}
	return cfg, path, nil
}

// NewRootCommand builds the bazi command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "bazi",
		Short: "BaZi Four Pillars charts with streamed AI readings",
		Long: `bazi computes Four Pillars (BaZi) charts from a birth date, time and
place, and serves a web client that streams an AI interpretation of them.

Commands:
  serve   Run the web server
  chart   Compute a chart in the terminal
  read    Stream a reading from a running server

Configuration is read from --config, $BAZI_CONFIG or ~/.bazi/config.toml.
DEEPSEEK_API_KEY enables readings.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (TOML, YAML or JSON)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(opts),
		newChartCmd(opts),
		newReadCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return ExitOK
	}

	errOut := root.ErrOrStderr()
	if errors.Is(err, errReadingIncomplete) {
		fmt.Fprintln(errOut, RenderConditional(WarningStyle, err.Error()))
		return ExitIncomplete
	}
	fmt.Fprintln(errOut, RenderConditional(ErrorStyle, "Error: ")+err.Error())
	return ExitError
}

// =============================================================================
// VERSION
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "bazi %s\n", Version)
	fmt.Fprintf(w, "  commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  built:  %s\n", BuildDate)
	fmt.Fprintf(w, "  go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// =============================================================================
// SHARED WIRING
// =============================================================================

// newCalculator wires the geocoder, zone finder and calendar into a chart
// calculator. The returned close function releases the geocode cache.
func newCalculator(cfg *config.Config, logger *zap.Logger) (*chart.Calculator, func() error, error) {
	zones, err := geo.NewZoneFinder()
	if err != nil {
		return nil, nil, err
	}

	geocoder := geo.NewNominatim(cfg.Geocode).WithLogger(logger)
	closeFn := func() error { return nil }

	if cfg.Geocode.CachePath != "" {
		cache, err := geo.OpenSQLiteCache(os.ExpandEnv(cfg.Geocode.CachePath))
		if err != nil {
			return nil, nil, err
		}
		geocoder.WithCache(cache)
		closeFn = cache.Close
	}

	calc := chart.NewCalculator(geocoder, zones, chart.LunarCalendar{}).WithLogger(logger)
	return calc, closeFn, nil
}

// birthFlags are the chart inputs shared by chart and read.
type birthFlags struct {
	req chart.Request
}

func (b *birthFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&b.req.Name, "name", "", "display name")
	f.StringVar(&b.req.Gender, "gender", "", "male or female (affects luck cycles)")
	f.StringVar(&b.req.Date, "date", "", "birth date, YYYY-MM-DD (required)")
	f.StringVar(&b.req.Time, "time", "", "local birth time, HH:MM (required)")
	f.StringVar(&b.req.City, "city", "", "birth city (required)")
	f.StringVar(&b.req.Country, "country", "", "birth country (required)")
	for _, name := range []string{"date", "time", "city", "country"} {
		cmd.MarkFlagRequired(name)
	}
}
