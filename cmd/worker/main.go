// Package main provides the entrypoint for the RunnerVision worker.
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

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/runnervision/runnervision/internal/api/response"
	"github.com/runnervision/runnervision/internal/app"
	"github.com/runnervision/runnervision/internal/config"
	"github.com/runnervision/runnervision/internal/telemetry"
	"github.com/runnervision/runnervision/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "runnervision-worker"

type options struct {
	configPath  string
	warmupEvery time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "runnervision-worker",
		Short:        "Run cache warmups from Pub/Sub and on a schedule",
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

			if err := run(ctx, log, opts); err != nil {
				log.Error().Err(err).Msg("worker exited")
				return err
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML, TOML or JSON config file")
	cmd.Flags().DurationVar(&opts.warmupEvery, "warmup-interval", 0, "also warm caches on this interval (0 disables)")
	return cmd
}

func run(ctx context.Context, log zerolog.Logger, opts options) error {
	log.Info().Str("build_time", BuildTime).Msg("starting RunnerVision worker")

	cfg, err := config.Load(opts.configPath)
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

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("wire components: %w", err)
	}
	defer a.Close()

	job := a.WarmupJob()
	dispatcher := worker.NewDispatcher(job, a.Registry, log)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           healthRouter(job),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.PubSub.ProjectID != "" {
		handler, err := worker.NewPubSubHandler(gctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.SubscriptionID,
			Dispatcher:       dispatcher,
			Logger:           log,
		})
		if err != nil {
			return fmt.Errorf("pubsub handler: %w", err)
		}
		defer handler.Close() //nolint:errcheck // best-effort on shutdown

		g.Go(func() error {
			if err := handler.Start(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("pubsub receive: %w", err)
			}
			return nil
		})
	} else {
		log.Warn().Msg("PUBSUB_PROJECT_ID not set, only scheduled warmups will run")
	}

	if opts.warmupEvery > 0 {
		g.Go(func() error {
			scheduleWarmups(gctx, dispatcher, opts.warmupEvery, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("worker stopped")
	return nil
}

// scheduleWarmups dispatches a warmup immediately and then once per interval
// until ctx ends.
func scheduleWarmups(ctx context.Context, d *worker.Dispatcher, every time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := d.Dispatch(ctx, worker.JobMessage{JobType: worker.JobCacheWarmup}); err != nil {
			log.Warn().Err(err).Msg("scheduled warmup failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type workerHealth struct {
	Status     string     `json:"status"`
	Version    string     `json:"version"`
	LastWarmup *time.Time `json:"lastWarmup,omitempty"`
	LastFailed int        `json:"lastWarmupFailed,omitempty"`
}

// healthRouter serves the liveness probe the hosting platform polls.
func healthRouter(job *worker.WarmupJob) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		body := workerHealth{Status: "healthy", Version: Version}
		if last := job.LastResult(); last != nil {
			started := last.StartTime.UTC()
			body.LastWarmup = &started
			body.LastFailed = last.Failed
		}
		response.JSON(w, req, http.StatusOK, body)
	})
	return r
}
