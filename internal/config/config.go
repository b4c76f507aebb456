// Package config loads runtime configuration from defaults, an optional file and the
// environment, in that order.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "RUNNERVISION_CONFIG"

// Duration is a time.Duration read from Go duration strings ("4s", "1m30s") in every file
// format.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func dur(d time.Duration) Duration { return Duration{Duration: d} }

// Config is the full runtime configuration.
type Config struct {
	Env          string             `yaml:"env" toml:"env" json:"env"`
	Server       ServerConfig       `yaml:"server" toml:"server" json:"server"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" toml:"telemetry" json:"telemetry"`
	Routing      RoutingConfig      `yaml:"routing" toml:"routing" json:"routing"`
	Weather      WeatherConfig      `yaml:"weather" toml:"weather" json:"weather"`
	Safety       SafetyConfig       `yaml:"safety" toml:"safety" json:"safety"`
	Closures     ClosuresConfig     `yaml:"closures" toml:"closures" json:"closures"`
	LLM          LLMConfig          `yaml:"llm" toml:"llm" json:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" toml:"orchestrator" json:"orchestrator"`
	Flags        FlagsConfig        `yaml:"flags" toml:"flags" json:"flags"`
	Database     DatabaseConfig     `yaml:"database" toml:"database" json:"database"`
	Auth         AuthConfig         `yaml:"auth" toml:"auth" json:"auth"`
	PubSub       PubSubConfig       `yaml:"pubsub" toml:"pubsub" json:"pubsub"`
	Worker       WorkerConfig       `yaml:"worker" toml:"worker" json:"worker"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            string           `yaml:"port" toml:"port" json:"port"`
	ShutdownTimeout Duration         `yaml:"shutdown_timeout" toml:"shutdown_timeout" json:"shutdown_timeout"`
	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS      bool             `yaml:"require_tls" toml:"require_tls" json:"require_tls"`
	RateLimits      RateLimitsConfig `yaml:"rate_limits" toml:"rate_limits" json:"rate_limits"`
}

// RateLimitsConfig sets request budgets per minute. Zero keeps the built-in budget.
type RateLimitsConfig struct {
	Recommend int `yaml:"recommend" toml:"recommend" json:"recommend"`
	Standard  int `yaml:"standard" toml:"standard" json:"standard"`
	Admin     int `yaml:"admin" toml:"admin" json:"admin"` // per operator
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled" json:"enabled"`
	OTLPEndpoint   string   `yaml:"otlp_endpoint" toml:"otlp_endpoint" json:"otlp_endpoint"`
	Insecure       bool     `yaml:"insecure" toml:"insecure" json:"insecure"`
	SampleRatio    float64  `yaml:"sample_ratio" toml:"sample_ratio" json:"sample_ratio"`
	ExportInterval Duration `yaml:"export_interval" toml:"export_interval" json:"export_interval"`
}

// RoutingConfig configures candidate generation.
type RoutingConfig struct {
	Provider       string   `yaml:"provider" toml:"provider" json:"provider"` // openrouteservice or synthetic
	APIKey         string   `yaml:"api_key" toml:"api_key" json:"api_key"`
	BaseURL        string   `yaml:"base_url" toml:"base_url" json:"base_url"`
	Profile        string   `yaml:"profile" toml:"profile" json:"profile"`
	Shape          string   `yaml:"shape" toml:"shape" json:"shape"` // loop or out_and_back
	Candidates     int      `yaml:"candidates" toml:"candidates" json:"candidates"`
	Tolerance      float64  `yaml:"tolerance" toml:"tolerance" json:"tolerance"`
	MaxAdjustments int      `yaml:"max_adjustments" toml:"max_adjustments" json:"max_adjustments"`
	CallTimeout    Duration `yaml:"call_timeout" toml:"call_timeout" json:"call_timeout"`
	RatePerSecond  float64  `yaml:"rate_per_second" toml:"rate_per_second" json:"rate_per_second"`
	Burst          int      `yaml:"burst" toml:"burst" json:"burst"`
	CacheTTL       Duration `yaml:"cache_ttl" toml:"cache_ttl" json:"cache_ttl"`
}

// WeatherConfig configures the weather checker.
type WeatherConfig struct {
	Provider string   `yaml:"provider" toml:"provider" json:"provider"` // openweathermap or none
	APIKey   string   `yaml:"api_key" toml:"api_key" json:"api_key"`
	BaseURL  string   `yaml:"base_url" toml:"base_url" json:"base_url"`
	CacheTTL Duration `yaml:"cache_ttl" toml:"cache_ttl" json:"cache_ttl"`
}

// SafetyConfig configures the incident store and scorer.
type SafetyConfig struct {
	Store        string  `yaml:"store" toml:"store" json:"store"` // postgres, sqlite, nycopendata, memory or none
	SQLitePath   string  `yaml:"sqlite_path" toml:"sqlite_path" json:"sqlite_path"`
	AppToken     string  `yaml:"app_token" toml:"app_token" json:"app_token"`
	BufferMeters float64 `yaml:"buffer_meters" toml:"buffer_meters" json:"buffer_meters"`
	WindowDays   int     `yaml:"window_days" toml:"window_days" json:"window_days"`
}

// ClosuresConfig configures the closure feed and filter.
type ClosuresConfig struct {
	Feed            string   `yaml:"feed" toml:"feed" json:"feed"` // nycdot, georss, static or none
	URL             string   `yaml:"url" toml:"url" json:"url"`
	AppToken        string   `yaml:"app_token" toml:"app_token" json:"app_token"`
	Threshold       float64  `yaml:"threshold" toml:"threshold" json:"threshold"`
	ProximityMeters float64  `yaml:"proximity_meters" toml:"proximity_meters" json:"proximity_meters"`
	SampleMeters    float64  `yaml:"sample_meters" toml:"sample_meters" json:"sample_meters"`
	CacheTTL        Duration `yaml:"cache_ttl" toml:"cache_ttl" json:"cache_ttl"`
}

// LLMConfig configures text generation. Classify and Explain choose where it is used.
type LLMConfig struct {
	Provider string   `yaml:"provider" toml:"provider" json:"provider"`
	Model    string   `yaml:"model" toml:"model" json:"model"`
	APIKey   string   `yaml:"api_key" toml:"api_key" json:"api_key"`
	BaseURL  string   `yaml:"base_url" toml:"base_url" json:"base_url"`
	Timeout  Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
	Classify bool     `yaml:"classify" toml:"classify" json:"classify"`
	Explain  bool     `yaml:"explain" toml:"explain" json:"explain"`
}

// Coordinate is a configured location.
type Coordinate struct {
	Lat float64 `yaml:"lat" toml:"lat" json:"lat"`
	Lon float64 `yaml:"lon" toml:"lon" json:"lon"`
}

// TimeoutsConfig bounds each phase of a request.
type TimeoutsConfig struct {
	Classification Duration `yaml:"classification" toml:"classification" json:"classification"`
	Stage          Duration `yaml:"stage" toml:"stage" json:"stage"`
	Safety         Duration `yaml:"safety" toml:"safety" json:"safety"`
	Weather        Duration `yaml:"weather" toml:"weather" json:"weather"`
	Closures       Duration `yaml:"closures" toml:"closures" json:"closures"`
	Annotation     Duration `yaml:"annotation" toml:"annotation" json:"annotation"`
	Explanation    Duration `yaml:"explanation" toml:"explanation" json:"explanation"`
	Request        Duration `yaml:"request" toml:"request" json:"request"`
}

// OrchestratorConfig configures planning and deadlines.
type OrchestratorConfig struct {
	DefaultTargetKm float64             `yaml:"default_target_km" toml:"default_target_km" json:"default_target_km"`
	DefaultStart    Coordinate          `yaml:"default_start" toml:"default_start" json:"default_start"`
	Timeouts        TimeoutsConfig      `yaml:"timeouts" toml:"timeouts" json:"timeouts"`
	Plan            map[string][]string `yaml:"plan" toml:"plan" json:"plan"` // complexity -> stages
}

// FlagsConfig configures feature flag storage.
type FlagsConfig struct {
	Store    string   `yaml:"store" toml:"store" json:"store"` // memory or postgres
	CacheTTL Duration `yaml:"cache_ttl" toml:"cache_ttl" json:"cache_ttl"`
}

// DatabaseConfig configures the Postgres pool shared by the incident store and flags.
// URL, when set, wins over the individual fields.
type DatabaseConfig struct {
	URL             string   `yaml:"url" toml:"url" json:"url"`
	Host            string   `yaml:"host" toml:"host" json:"host"`
	Port            int      `yaml:"port" toml:"port" json:"port"`
	User            string   `yaml:"user" toml:"user" json:"user"`
	Password        string   `yaml:"password" toml:"password" json:"password"`
	Name            string   `yaml:"name" toml:"name" json:"name"`
	SSLMode         string   `yaml:"ssl_mode" toml:"ssl_mode" json:"ssl_mode"`
	MaxConns        int      `yaml:"max_conns" toml:"max_conns" json:"max_conns"`
	MinConns        int      `yaml:"min_conns" toml:"min_conns" json:"min_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime" toml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// AuthConfig configures operator tokens.
type AuthConfig struct {
	OperatorTokenKey string   `yaml:"operator_token_key" toml:"operator_token_key" json:"operator_token_key"`
	Issuer           string   `yaml:"issuer" toml:"issuer" json:"issuer"`
	TokenTTL         Duration `yaml:"token_ttl" toml:"token_ttl" json:"token_ttl"`
}

// PubSubConfig configures the worker subscription.
type PubSubConfig struct {
	ProjectID      string `yaml:"project_id" toml:"project_id" json:"project_id"`
	SubscriptionID string `yaml:"subscription_id" toml:"subscription_id" json:"subscription_id"`
}

// Spot is a running spot whose caches the worker keeps warm.
type Spot struct {
	Name         string  `yaml:"name" toml:"name" json:"name"`
	Lat          float64 `yaml:"lat" toml:"lat" json:"lat"`
	Lon          float64 `yaml:"lon" toml:"lon" json:"lon"`
	RadiusMeters float64 `yaml:"radius_meters" toml:"radius_meters" json:"radius_meters"`
}

// WorkerConfig configures background jobs.
type WorkerConfig struct {
	Spots       []Spot `yaml:"spots" toml:"spots" json:"spots"`
	Concurrency int    `yaml:"concurrency" toml:"concurrency" json:"concurrency"`
}

// Default returns the built-in configuration. It runs offline: synthetic routes, no
// weather or closure vendors and an in-memory incident store.
func Default() Config {
	return Config{
		Env: "development",
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: dur(30 * time.Second),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   "localhost:4317",
			Insecure:       true,
			SampleRatio:    1,
			ExportInterval: dur(15 * time.Second),
		},
		Routing: RoutingConfig{
			Provider:       "synthetic",
			Profile:        "foot-walking",
			Shape:          "loop",
			Candidates:     8,
			Tolerance:      0.15,
			MaxAdjustments: 2,
			CallTimeout:    dur(4 * time.Second),
			RatePerSecond:  10,
			Burst:          4,
			CacheTTL:       dur(time.Hour),
		},
		Weather: WeatherConfig{Provider: "none", CacheTTL: dur(10 * time.Minute)},
		Safety: SafetyConfig{
			Store:        "memory",
			SQLitePath:   "runnervision.db",
			BufferMeters: 100,
			WindowDays:   60,
		},
		Closures: ClosuresConfig{
			Feed:            "none",
			Threshold:       0.05,
			ProximityMeters: 15,
			SampleMeters:    10,
			CacheTTL:        dur(5 * time.Minute),
		},
		LLM: LLMConfig{Provider: "none", Timeout: dur(5 * time.Second), Classify: true, Explain: true},
		Orchestrator: OrchestratorConfig{
			DefaultTargetKm: 5.0,
			DefaultStart:    Coordinate{Lat: 40.7580, Lon: -73.9855},
			Timeouts: TimeoutsConfig{
				Classification: dur(3 * time.Second),
				Stage:          dur(4 * time.Second),
				Safety:         dur(5 * time.Second),
				Weather:        dur(4 * time.Second),
				Closures:       dur(4 * time.Second),
				Annotation:     dur(8 * time.Second),
				Explanation:    dur(6 * time.Second),
				Request:        dur(12 * time.Second),
			},
		},
		Flags: FlagsConfig{Store: "memory", CacheTTL: dur(time.Minute)},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "runnervision",
			Password:        "localdev",
			Name:            "runnervision",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			ConnMaxLifetime: dur(5 * time.Minute),
		},
		Auth: AuthConfig{
			Issuer:   "runnervision",
			TokenTTL: dur(time.Hour),
		},
		PubSub: PubSubConfig{SubscriptionID: "runnervision-jobs"},
		Worker: WorkerConfig{
			Concurrency: 4,
			Spots: []Spot{
				{Name: "central-park", Lat: 40.7812, Lon: -73.9665, RadiusMeters: 3000},
				{Name: "hudson-river-park", Lat: 40.7295, Lon: -74.0110, RadiusMeters: 3000},
				{Name: "prospect-park", Lat: 40.6602, Lon: -73.9690, RadiusMeters: 2500},
			},
		},
	}
}

// Load builds the configuration: defaults, then the file at path (or $RUNNERVISION_CONFIG
// when path is empty), then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := LoadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes the file at path over cfg, choosing the format by extension. Keys
// absent from the file keep their current value.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse toml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension: %s", ext)
	}
	return nil
}

// ApplyEnvOverrides replaces values with the environment variables that are set.
func (c *Config) ApplyEnvOverrides() {
	c.Env = getEnvOrDefault("APP_ENV", c.Env)
	c.Server.Port = getEnvOrDefault("APP_PORT", c.Server.Port)
	c.Server.RequireTLS = getEnvBool("REQUIRE_TLS", c.Server.RequireTLS)
	c.Telemetry.Enabled = getEnvBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.Insecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", c.Telemetry.Insecure)

	c.Routing.Provider = getEnvOrDefault("ROUTING_PROVIDER", c.Routing.Provider)
	if key := os.Getenv("ORS_API_KEY"); key != "" {
		c.Routing.APIKey = key
		if os.Getenv("ROUTING_PROVIDER") == "" {
			c.Routing.Provider = "openrouteservice"
		}
	}

	c.Weather.Provider = getEnvOrDefault("WEATHER_PROVIDER", c.Weather.Provider)
	if key := os.Getenv("OWM_API_KEY"); key != "" {
		c.Weather.APIKey = key
		if os.Getenv("WEATHER_PROVIDER") == "" {
			c.Weather.Provider = "openweathermap"
		}
	}

	c.Safety.Store = getEnvOrDefault("INCIDENT_STORE", c.Safety.Store)
	c.Safety.SQLitePath = getEnvOrDefault("SQLITE_PATH", c.Safety.SQLitePath)
	c.Safety.AppToken = getEnvOrDefault("SOCRATA_APP_TOKEN", c.Safety.AppToken)

	c.Closures.Feed = getEnvOrDefault("CLOSURE_FEED", c.Closures.Feed)
	c.Closures.URL = getEnvOrDefault("CLOSURE_FEED_URL", c.Closures.URL)
	c.Closures.AppToken = getEnvOrDefault("SOCRATA_APP_TOKEN", c.Closures.AppToken)

	c.LLM.Provider = getEnvOrDefault("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnvOrDefault("LLM_MODEL", c.LLM.Model)
	switch c.LLM.Provider {
	case "openai":
		c.LLM.APIKey = getEnvOrDefault("OPENAI_API_KEY", c.LLM.APIKey)
	case "anthropic":
		c.LLM.APIKey = getEnvOrDefault("ANTHROPIC_API_KEY", c.LLM.APIKey)
	case "gemini":
		c.LLM.APIKey = getEnvOrDefault("GEMINI_API_KEY", c.LLM.APIKey)
	}

	c.Server.RateLimits.Recommend = getEnvInt("RATE_LIMIT_RECOMMEND", c.Server.RateLimits.Recommend)
	c.Flags.Store = getEnvOrDefault("FLAGS_STORE", c.Flags.Store)
	c.Database.URL = getEnvOrDefault("DATABASE_URL", c.Database.URL)
	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DB_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnvOrDefault("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnvOrDefault("DB_SSL_MODE", c.Database.SSLMode)
	c.Auth.OperatorTokenKey = getEnvOrDefault("OPERATOR_TOKEN_KEY", c.Auth.OperatorTokenKey)
	c.PubSub.ProjectID = getEnvOrDefault("PUBSUB_PROJECT_ID", c.PubSub.ProjectID)
	c.PubSub.SubscriptionID = getEnvOrDefault("PUBSUB_SUBSCRIPTION_ID", c.PubSub.SubscriptionID)

	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Orchestrator.Timeouts.Request = dur(d)
		}
	}
}

// UsesPostgres reports whether any component needs a database connection.
func (c *Config) UsesPostgres() bool {
	return c.Safety.Store == "postgres" || c.Flags.Store == "postgres"
}

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Validate checks ranges and provider names.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		add(field, "%q must be one of %s", value, strings.Join(allowed, ", "))
	}

	oneOf("routing.provider", c.Routing.Provider, "openrouteservice", "synthetic")
	oneOf("routing.shape", c.Routing.Shape, "loop", "out_and_back")
	oneOf("weather.provider", c.Weather.Provider, "openweathermap", "none")
	oneOf("safety.store", c.Safety.Store, "postgres", "sqlite", "nycopendata", "memory", "none")
	oneOf("closures.feed", c.Closures.Feed, "nycdot", "georss", "static", "none")
	oneOf("llm.provider", c.LLM.Provider, "openai", "anthropic", "gemini", "static", "none")
	oneOf("flags.store", c.Flags.Store, "memory", "postgres")

	nonNegative := func(field string, v int) {
		if v < 0 {
			add(field, "must not be negative, got %d", v)
		}
	}
	nonNegative("server.rate_limits.recommend", c.Server.RateLimits.Recommend)
	nonNegative("server.rate_limits.standard", c.Server.RateLimits.Standard)
	nonNegative("server.rate_limits.admin", c.Server.RateLimits.Admin)

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		add("telemetry.otlp_endpoint", "is required when telemetry is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		add("telemetry.sample_ratio", "must be within [0, 1], got %v", c.Telemetry.SampleRatio)
	}

	if c.Routing.Provider == "openrouteservice" && c.Routing.APIKey == "" {
		add("routing.api_key", "required for openrouteservice")
	}
	if c.Weather.Provider == "openweathermap" && c.Weather.APIKey == "" {
		add("weather.api_key", "required for openweathermap")
	}
	if c.Closures.Feed == "georss" && c.Closures.URL == "" {
		add("closures.url", "required for georss")
	}
	if c.Routing.Tolerance <= 0 || c.Routing.Tolerance >= 1 {
		add("routing.tolerance", "%v must be in (0, 1)", c.Routing.Tolerance)
	}
	if c.Routing.Candidates < 1 || c.Routing.Candidates > 8 {
		add("routing.candidates", "%d must be between 1 and 8", c.Routing.Candidates)
	}
	if c.Closures.Threshold < 0 || c.Closures.Threshold > 1 {
		add("closures.threshold", "%v must be in [0, 1]", c.Closures.Threshold)
	}
	if c.Safety.WindowDays <= 0 {
		add("safety.window_days", "must be positive")
	}
	if c.Orchestrator.DefaultTargetKm <= 0 {
		add("orchestrator.default_target_km", "must be positive")
	}
	start := c.Orchestrator.DefaultStart
	if start.Lat < -90 || start.Lat > 90 || start.Lon < -180 || start.Lon > 180 {
		add("orchestrator.default_start", "invalid coordinates %v,%v", start.Lat, start.Lon)
	}

	if c.UsesPostgres() && c.Database.URL == "" && c.Database.Host == "" {
		add("database.host", "required when a postgres store is configured")
	}
	if c.Database.MaxConns < 1 {
		add("database.max_conns", "must be positive")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		add("database.min_conns", "exceeds max_conns")
	}

	t := c.Orchestrator.Timeouts
	for field, d := range map[string]Duration{
		"classification": t.Classification,
		"stage":          t.Stage,
		"safety":         t.Safety,
		"weather":        t.Weather,
		"closures":       t.Closures,
		"annotation":     t.Annotation,
		"explanation":    t.Explanation,
		"request":        t.Request,
	} {
		if d.Duration <= 0 {
			add("orchestrator.timeouts."+field, "must be positive")
		}
	}
	if t.Annotation.Duration > t.Request.Duration && t.Request.Duration > 0 {
		add("orchestrator.timeouts.annotation", "exceeds the request deadline")
	}

	if len(errs) == 0 {
		return nil
	}
	// Map iteration above is unordered.
	slices.SortStableFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errs
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var ve ValidationErrors
	return errors.As(err, &ve)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}
