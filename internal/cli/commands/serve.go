package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authguard"
	"github.com/goliatone/go-authguard/activitymap"
	"github.com/goliatone/go-authguard/internal/config"
	"github.com/goliatone/go-authguard/internal/logger"
	"github.com/goliatone/go-authguard/internal/server"
	"github.com/goliatone/go-authguard/metrics"
	"github.com/goliatone/go-authguard/provider/gotrue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve command
func NewServeCmd(opts *Options) *cobra.Command {
	var addr string
	var csrf bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the guarded web application",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg, csrf)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&csrf, "csrf", true, "Protect forms with a CSRF token")

	return cmd
}

// newApp builds the fiber application and returns a cleanup func releasing
// the token verifier.
func newApp(cfg *config.Config, csrf bool) (*fiber.App, func(), error) {
	if err := cfg.ValidateServer(); err != nil {
		return nil, nil, err
	}

	verifier, err := gotrue.NewTokenVerifier(gotrue.VerifierConfig{
		Secret:  cfg.GoTrue.JWTSecret,
		JWKSURL: cfg.GoTrue.JWKSURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector, err := metrics.NewCollector(registry)
	if err != nil {
		verifier.Close()
		return nil, nil, err
	}

	routes := cfg.AuthRoutes()
	app, err := server.New(server.Config{
		Routes:   routes,
		Verifier: verifier,
		Provider: func() (server.Provider, error) {
			return gotrue.NewClient(gotrue.Config{
				URL:     cfg.GoTrue.URL,
				APIKey:  cfg.GoTrue.APIKey,
				Timeout: cfg.GoTrue.Timeout,
				Logger:  logger.NewAdapter(logger.Logger, "gotrue"),
			})
		},
		Observer: collector,
		Activity: authguard.MultiActivitySink{
			collector,
			activitymap.NewLogSink(logger.Logger.With().Str("component", "audit").Logger(), activitymap.WithDefaultChannel("web")),
		},
		Gatherer:      registry,
		MetricsPath:   cfg.Server.MetricsPath,
		SecureCookies: cfg.Server.SecureCookies,
		CSRF:          csrf,
		Logger:        logger.NewAdapter(logger.Logger, "server"),
	})
	if err != nil {
		verifier.Close()
		return nil, nil, err
	}

	return app, verifier.Close, nil
}

func runServe(ctx context.Context, cfg *config.Config, csrf bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	app, cleanup, err := newApp(cfg, csrf)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("gotrue", cfg.GoTrue.URL).
			Msg("Starting server")
		errCh <- app.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Logger.Info().Msg("Shutting down server")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
