// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/bazi-destiny/internal/config"
	"github.com/jeranaias/bazi-destiny/internal/logging"
	"github.com/jeranaias/bazi-destiny/internal/server"
)

type serveOptions struct {
	host string
	port int
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		Long: `Run the web client and API.

The server reloads its config file on change. Upstream, stream and resume
settings apply to new requests immediately; host and port need a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "listen port (overrides config and $PORT)")
	return cmd
}

func (o *serveOptions) apply(cfg *config.Config) {
	if o.host != "" {
		cfg.Server.Host = o.host
	}
	if o.port != 0 {
		cfg.Server.Port = o.port
	}
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	cfg, path, err := root.loadConfig()
	if err != nil {
		return err
	}
	opts.apply(cfg)

	logger, level, err := logging.NewAtomic(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	calc, closeCache, err := newCalculator(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to set up chart calculator: %w", err)
	}
	defer closeCache()

	srv := server.New(cfg, calc).WithLogger(logger)
	if !cfg.Upstream.IsConfigured() {
		logger.Warn("STREAM_UNCONFIGURED", zap.String("hint", "set DEEPSEEK_API_KEY to enable readings"))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.ListenAndServe)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if path != "" {
		g.Go(func() error {
			return config.Watch(gctx, path, 0, func(next *config.Config, err error) {
				if err != nil {
					logger.Warn("CONFIG_RELOAD_FAILED", zap.String("path", path), zap.Error(err))
					return
				}
				opts.apply(next)
				if root.logLevel != "" {
					next.Logging.Level = root.logLevel
				}
				if next.Addr() != cfg.Addr() {
					logger.Warn("CONFIG_RESTART_REQUIRED", zap.String("addr", next.Addr()))
				}
				if lvl, err := logging.ParseLevel(next.Logging.Level); err == nil {
					level.SetLevel(lvl)
				}
				srv.UpdateConfig(next)
			})
		})
	}

	return g.Wait()
}
