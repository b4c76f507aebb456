// Command runnervision is the operator CLI: ask for a recommendation without
// the API, inspect the stage plan, and mint operator tokens.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/runnervision/runnervision/internal/app"
	"github.com/runnervision/runnervision/internal/auth"
	"github.com/runnervision/runnervision/internal/config"
	"github.com/runnervision/runnervision/internal/intent"
	"github.com/runnervision/runnervision/pkg/polyline"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "runnervision",
		Short: "Running route recommendations from the command line",
		Long: `runnervision turns a free-text request such as "a quiet 8k loop, no construction"
	into a ranked set of running routes, using the same pipeline as the API.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML, TOML or JSON config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline progress to stderr")

	rootCmd.AddCommand(recommendCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(offline bool) (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, err
	}
	if offline {
		cfg = app.Offline(cfg)
	}
	return cfg, nil
}

func newLogger() zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Logger()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func recommendCmd() *cobra.Command {
	var (
		lat, lon float64
		offline  bool
	)

	cmd := &cobra.Command{
		Use:   "recommend [query]",
		Short: "Recommend a route for a free-text query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(offline)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, newLogger())
			if err != nil {
				return fmt.Errorf("wiring components: %w", err)
			}
			defer a.Close()

			var start *polyline.Coordinate
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
				start = &polyline.Coordinate{Lat: lat, Lon: lon}
			}

			rec, err := a.Orchestrator.HandleQuery(ctx, args[0], start)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "start latitude (defaults to the configured start)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "start longitude (defaults to the configured start)")
	cmd.Flags().BoolVar(&offline, "offline", false, "use synthetic routing and skip every network provider")

	return cmd
}

func planCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "plan [complexity]",
		Short: "Show which annotation stages run for a complexity",
		Long:  "Complexity is one of SIMPLE, SAFETY_FOCUSED or CONSTRAINED. Stages whose provider is not configured are omitted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := intent.ParseComplexity(strings.ToUpper(args[0]))
			if err != nil {
				return err
			}

			cfg, err := loadConfig(offline)
			if err != nil {
				return err
			}

			a, err := app.Build(cmd.Context(), cfg, newLogger())
			if err != nil {
				return fmt.Errorf("wiring components: %w", err)
			}
			defer a.Close()

			stages := a.Orchestrator.PlanFor(cmd.Context(), intent.Intent{Complexity: c})
			if len(stages) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no stages\n", c)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", c, strings.Join(stages.Strings(), ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "plan against the offline provider set")

	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the status and admin endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			tokens := auth.NewTokenService(auth.TokenConfig{
				SigningKey: cfg.Auth.OperatorTokenKey,
				Issuer:     cfg.Auth.Issuer,
				TTL:        cfg.Auth.TokenTTL.Duration,
			})

			token, expires, err := tokens.Issue(subject, scopes, ttl)
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"token":     token,
				"subject":   subject,
				"scopes":    scopes,
				"expiresAt": expires.UTC().Format(time.RFC3339),
			})
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "operator identity recorded on flag changes")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeStatus, auth.ScopeFlagsRead},
		"scopes to grant (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (0 uses the configured default)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
