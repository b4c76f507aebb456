// Package openweathermap provides a weather.Provider backed by the OpenWeatherMap current
// weather API.
package openweathermap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnervision/runnervision/internal/provider/resilience"
	"github.com/runnervision/runnervision/internal/weather"
)

const (
	// ProviderName identifies this weather provider.
	ProviderName = "openweathermap"

	// DefaultBaseURL is the OpenWeatherMap API base URL.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"
)

// ClientConfig holds configuration for the OpenWeatherMap client.
type ClientConfig struct {
	APIKey  string
	BaseURL string

	// HTTPClient defaults to a resilience.Client registered under ProviderName.
	HTTPClient resilience.Doer

	Registry *resilience.Registry
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Client is an OpenWeatherMap API client.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient resilience.Doer
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClient creates a new OpenWeatherMap client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		endpoint:   cfg.BaseURL + "/weather",
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("provider", ProviderName).Logger(),
		now:        cfg.Now,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// GetCurrentWeather fetches current weather for a location in metric units.
func (c *Client) GetCurrentWeather(ctx context.Context, lat, lon float64) (*weather.Observation, error) {
	q := url.Values{
		"lat":   {strconv.FormatFloat(lat, 'f', 6, 64)},
		"lon":   {strconv.FormatFloat(lon, 'f', 6, 64)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}

	var body currentWeatherResponse
	if err := c.fetch(ctx, q, &body); err != nil {
		return nil, err
	}

	obs := body.observation(c.now())
	c.logger.Debug().
		Str("condition", string(obs.Condition)).
		Float64("temperature", obs.Temperature).
		Msg("received current weather")
	return obs, nil
}

func (c *Client) fetch(ctx context.Context, q url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return fmt.Errorf("openweathermap: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openweathermap: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("openweathermap: decode body: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	switch status := resp.StatusCode; {
	case status == http.StatusOK:
		return nil
	case status == http.StatusNotFound:
		return weather.ErrNoDataForLocation
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: API key rejected", weather.ErrProviderUnavailable)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited", weather.ErrProviderUnavailable)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: unexpected status code: %d %s", weather.ErrProviderUnavailable, status, snippet)
	}
}

type currentWeatherResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather []struct {
		ID          int    `json:"id"`
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Visibility int `json:"visibility"`
	Wind       struct {
		Speed float64 `json:"speed"`
		Gust  float64 `json:"gust"`
	} `json:"wind"`
	Dt int64 `json:"dt"`
}

func (r *currentWeatherResponse) observation(fetchedAt time.Time) *weather.Observation {
	obs := &weather.Observation{
		Lat:         r.Coord.Lat,
		Lon:         r.Coord.Lon,
		Temperature: r.Main.Temp,
		Humidity:    r.Main.Humidity,
		WindSpeed:   r.Wind.Speed,
		WindGust:    r.Wind.Gust,
		Visibility:  float64(r.Visibility),
		ObservedAt:  time.Unix(r.Dt, 0),
		FetchedAt:   fetchedAt,
		Condition:   weather.ConditionUnknown,
	}
	if len(r.Weather) > 0 {
		w := r.Weather[0]
		obs.Condition = conditionForID(w.ID)
		if obs.Condition == weather.ConditionUnknown {
			obs.Condition = conditionForGroup(w.Main)
		}
		obs.Description = w.Description
	}
	return obs
}

// codeRanges maps OpenWeatherMap condition codes, grouped by hundreds, onto
// conditions. Single atmosphere codes come before their 7xx range.
var codeRanges = []struct {
	lo, hi    int
	condition weather.Condition
}{
	{200, 299, weather.ConditionThunderstorm},
	{300, 399, weather.ConditionDrizzle},
	{500, 599, weather.ConditionRain},
	{600, 699, weather.ConditionSnow},
	{701, 701, weather.ConditionMist},
	{741, 741, weather.ConditionFog},
	{771, 771, weather.ConditionThunderstorm}, // squall
	{781, 781, weather.ConditionThunderstorm}, // tornado
	{700, 799, weather.ConditionHaze},
	{800, 800, weather.ConditionClear},
	{801, 899, weather.ConditionClouds},
}

func conditionForID(id int) weather.Condition {
	for _, r := range codeRanges {
		if id >= r.lo && id <= r.hi {
			return r.condition
		}
	}
	return weather.ConditionUnknown
}

// groupConditions covers answers that carry a group name but no code.
var groupConditions = map[string]weather.Condition{
	"Clear":        weather.ConditionClear,
	"Clouds":       weather.ConditionClouds,
	"Rain":         weather.ConditionRain,
	"Drizzle":      weather.ConditionDrizzle,
	"Thunderstorm": weather.ConditionThunderstorm,
	"Squall":       weather.ConditionThunderstorm,
	"Tornado":      weather.ConditionThunderstorm,
	"Snow":         weather.ConditionSnow,
	"Mist":         weather.ConditionMist,
	"Fog":          weather.ConditionFog,
	"Haze":         weather.ConditionHaze,
	"Smoke":        weather.ConditionHaze,
	"Dust":         weather.ConditionHaze,
	"Sand":         weather.ConditionHaze,
	"Ash":          weather.ConditionHaze,
}

func conditionForGroup(main string) weather.Condition {
	if c, ok := groupConditions[main]; ok {
		return c
	}
	return weather.ConditionUnknown
}
