package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnervision/runnervision/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "synthetic", cfg.Routing.Provider)
	assert.Equal(t, 0.15, cfg.Routing.Tolerance)
	assert.Equal(t, 0.05, cfg.Closures.Threshold)
	assert.Equal(t, 60, cfg.Safety.WindowDays)
	assert.Equal(t, 12*time.Second, cfg.Orchestrator.Timeouts.Request.Duration)
	assert.Equal(t, 8*time.Second, cfg.Orchestrator.Timeouts.Annotation.Duration)
	assert.Equal(t, 40.7580, cfg.Orchestrator.DefaultStart.Lat)
	assert.False(t, cfg.UsesPostgres())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "runnervision.yaml", `
env: staging
routing:
  tolerance: 0.2
safety:
  store: sqlite
  sqlite_path: /tmp/crashes.db
orchestrator:
  timeouts:
    weather: 1500ms
    request: 20s
  plan:
    SIMPLE: [weather, closures]
worker:
  spots:
    - name: riverside
      lat: 40.80
      lon: -73.97
      radius_meters: 1500
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 0.2, cfg.Routing.Tolerance)
	assert.Equal(t, "sqlite", cfg.Safety.Store)
	assert.Equal(t, "/tmp/crashes.db", cfg.Safety.SQLitePath)
	assert.Equal(t, 1500*time.Millisecond, cfg.Orchestrator.Timeouts.Weather.Duration)
	assert.Equal(t, 20*time.Second, cfg.Orchestrator.Timeouts.Request.Duration)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.Timeouts.Safety.Duration)
	assert.Equal(t, []string{"weather", "closures"}, cfg.Orchestrator.Plan["SIMPLE"])
	require.Len(t, cfg.Worker.Spots, 1)
	assert.Equal(t, "riverside", cfg.Worker.Spots[0].Name)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "runnervision.toml", `
env = "production"

[closures]
feed = "georss"
url = "https://example.com/closures.rss"
threshold = 0.1

[orchestrator.timeouts]
explanation = "2s"

[[worker.spots]]
name = "battery-park"
lat = 40.703
lon = -74.017
radius_meters = 1000
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "georss", cfg.Closures.Feed)
	assert.Equal(t, 0.1, cfg.Closures.Threshold)
	assert.Equal(t, 2*time.Second, cfg.Orchestrator.Timeouts.Explanation.Duration)
	require.Len(t, cfg.Worker.Spots, 1)
	assert.Equal(t, "battery-park", cfg.Worker.Spots[0].Name)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "runnervision.json", `{
		"llm": {"provider": "static", "classify": false},
		"orchestrator": {"default_target_km": 8, "timeouts": {"classification": "500ms"}}
	}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "static", cfg.LLM.Provider)
	assert.False(t, cfg.LLM.Classify)
	assert.True(t, cfg.LLM.Explain)
	assert.Equal(t, 8.0, cfg.Orchestrator.DefaultTargetKm)
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.Timeouts.Classification.Duration)
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	path := writeFile(t, "env.yml", "env: from-env-path\n")
	t.Setenv(config.EnvConfigPath, path)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env-path", cfg.Env)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "runnervision.yaml", "server:\n  port: \"9000\"\n")
	t.Setenv("APP_PORT", "7000")
	t.Setenv("ORS_API_KEY", "ors-key")
	t.Setenv("OWM_API_KEY", "owm-key")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("INCIDENT_STORE", "postgres")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("RATE_LIMIT_RECOMMEND", "12")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "openrouteservice", cfg.Routing.Provider)
	assert.Equal(t, "ors-key", cfg.Routing.APIKey)
	assert.Equal(t, "openweathermap", cfg.Weather.Provider)
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.True(t, cfg.UsesPostgres())
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 12, cfg.Server.RateLimits.Recommend)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = config.Load(writeFile(t, "config.ini", "x=1"))
	assert.ErrorContains(t, err, "unsupported config file extension")

	_, err = config.Load(writeFile(t, "bad.yaml", "orchestrator:\n  timeouts:\n    request: soon\n"))
	assert.ErrorContains(t, err, "parse yaml")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		field  string
	}{
		{"tolerance zero", func(c *config.Config) { c.Routing.Tolerance = 0 }, "routing.tolerance"},
		{"tolerance one", func(c *config.Config) { c.Routing.Tolerance = 1 }, "routing.tolerance"},
		{"threshold above one", func(c *config.Config) { c.Closures.Threshold = 1.5 }, "closures.threshold"},
		{"negative timeout", func(c *config.Config) { c.Orchestrator.Timeouts.Stage.Duration = -time.Second }, "orchestrator.timeouts.stage"},
		{"zero request deadline", func(c *config.Config) { c.Orchestrator.Timeouts.Request.Duration = 0 }, "orchestrator.timeouts.request"},
		{"annotation beyond request", func(c *config.Config) { c.Orchestrator.Timeouts.Annotation.Duration = time.Minute }, "orchestrator.timeouts.annotation"},
		{"unknown store", func(c *config.Config) { c.Safety.Store = "oracle" }, "safety.store"},
		{"ors without key", func(c *config.Config) { c.Routing.Provider = "openrouteservice" }, "routing.api_key"},
		{"georss without url", func(c *config.Config) { c.Closures.Feed = "georss" }, "closures.url"},
		{"too many candidates", func(c *config.Config) { c.Routing.Candidates = 9 }, "routing.candidates"},
		{"bad start", func(c *config.Config) { c.Orchestrator.DefaultStart.Lat = 91 }, "orchestrator.default_start"},
		{"postgres without host", func(c *config.Config) {
			c.Flags.Store = "postgres"
			c.Database.Host = ""
		}, "database.host"},
		{"sample ratio above one", func(c *config.Config) { c.Telemetry.SampleRatio = 2 }, "telemetry.sample_ratio"},
		{"telemetry without endpoint", func(c *config.Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.OTLPEndpoint = ""
		}, "telemetry.otlp_endpoint"},
		{"negative rate limit", func(c *config.Config) { c.Server.RateLimits.Admin = -1 }, "server.rate_limits.admin"},
		{"min above max conns", func(c *config.Config) { c.Database.MinConns = 20 }, "database.min_conns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, config.IsValidationError(err))

			var verrs config.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			var fields []string
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestDuration_Text(t *testing.T) {
	var d config.Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("ninety")))
}
