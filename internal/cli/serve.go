package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/model"
	"github.com/skworld/advocate/internal/server"
	"github.com/skworld/advocate/internal/transport"
)

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides ADVOCATE_HTTP_ADDR)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the advocate daemon",
	Long: "Watches the maildrop inbox, screens everything that arrives, and\n" +
		"serves the local HTTP API for approvals, tokens and metrics.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTPAddr = serveAddr
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := transport.NewSenderLimiter(cfg.RateRPS, cfg.RateBurst)
	handle := func(path string) {
		env, err := transport.ReadEnvelope(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("unreadable envelope")
			_ = transport.Consume(path)
			return
		}
		if err := limiter.Check(env.Sender); err != nil {
			logger.Warn().Str("sender", env.Sender).Msg("sender rate limited, envelope dropped")
			_ = transport.Consume(path)
			return
		}
		if _, err := rt.engine.ScreenIncoming(ctx, env); err != nil &&
			!errors.Is(err, model.ErrMessageBlocked) {
			logger.Warn().Err(err).Str("sender", env.Sender).Msg("envelope rejected")
		}
		_ = transport.Consume(path)
	}

	inbox := rt.maildrop.Inbox(rt.keys.URI)
	if err := os.MkdirAll(inbox, 0750); err != nil {
		return err
	}

	watchErr := make(chan error, 1)
	if cfg.PollInterval > 0 {
		w := transport.NewPollWatcher(inbox, handle, cfg.PollInterval)
		go func() { watchErr <- w.Run(ctx) }()
		logger.Info().Str("inbox", inbox).Dur("interval", cfg.PollInterval).Msg("polling inbox")
	} else {
		w := transport.NewInboxWatcher(inbox, handle)
		go func() { watchErr <- w.Run(ctx) }()
		logger.Info().Str("inbox", inbox).Msg("watching inbox")
	}

	// Expired escalations accumulate as closed sessions; sweep hourly.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rt.engine.Sweep()
			}
		}
	}()

	srv := server.New(rt.engine, cfg.HTTPAddr, logger)
	httpErr := make(chan error, 1)
	go func() { httpErr <- srv.ListenAndServe() }()

	logger.Info().
		Str("identity", rt.keys.URI).
		Str("addr", cfg.HTTPAddr).
		Msg("advocate daemon up")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-watchErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("inbox watcher failed")
		}
	case err := <-httpErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
