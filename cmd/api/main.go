// Package main provides the entrypoint for the RunnerVision API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/runnervision/runnervision/internal/api/middleware"
	"github.com/runnervision/runnervision/internal/app"
	"github.com/runnervision/runnervision/internal/config"
	"github.com/runnervision/runnervision/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "runnervision-api"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          "runnervision-api",
		Short:        "Serve running route recommendations over HTTP",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := zerolog.New(os.Stdout).With().
				Timestamp().
				Str("service", serviceName).
				Str("version", Version).
				Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, log, configPath); err != nil {
				log.Error().Err(err).Msg("api exited")
				return err
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML, TOML or JSON config file")
	return cmd
}

func run(ctx context.Context, log zerolog.Logger, configPath string) error {
	log.Info().Str("build_time", BuildTime).Msg("starting RunnerVision API")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	providers, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		ExportInterval: cfg.Telemetry.ExportInterval.Duration,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(flushCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry flush incomplete")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Float64("sample_ratio", cfg.Telemetry.SampleRatio).
			Msg("exporting traces and metrics")
	}

	metrics, err := middleware.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("http metrics: %w", err)
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("wire components: %w", err)
	}
	defer a.Close()

	if !a.Tokens.Enabled() {
		log.Warn().Msg("OPERATOR_TOKEN_KEY not set, ops status and admin endpoints reject every request")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.Router(Version, BuildTime, metrics),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// A recommendation may take the full request deadline plus encoding.
		WriteTimeout: cfg.Orchestrator.Timeouts.Request.Duration + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Dur("grace", cfg.Server.ShutdownTimeout.Duration).Msg("shutting down server")

		// In-flight recommendations see their request context cancelled and answer 503.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
