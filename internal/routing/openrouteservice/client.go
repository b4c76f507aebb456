// Package openrouteservice provides a routing.Provider backed by the OpenRouteService
// directions API.
package openrouteservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnervision/runnervision/internal/provider/resilience"
	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/pkg/polyline"
)

const (
	// ProviderName identifies this routing provider.
	ProviderName = "openrouteservice"

	// DefaultBaseURL is the OpenRouteService API base URL.
	DefaultBaseURL = "https://api.openrouteservice.org"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultLoopPoints is how many intermediate points ORS spreads around a loop.
	DefaultLoopPoints = 3
)

// Shape selects how a request is turned into ORS coordinates.
type Shape string

const (
	// ShapeLoop uses the ORS round_trip option. The bearing seeds the loop so
	// different bearings come back as different loops.
	ShapeLoop Shape = "loop"

	// ShapeOutAndBack routes to a turnaround half the distance along the
	// bearing and back to the start.
	ShapeOutAndBack Shape = "out_and_back"
)

// ClientConfig holds configuration for the OpenRouteService client.
type ClientConfig struct {
	// APIKey is the ORS API key (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to ORS API).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient resilience.Doer

	// Timeout is the request timeout (optional, defaults to 10s).
	Timeout time.Duration

	// Shape defaults to ShapeLoop.
	Shape Shape

	// LoopPoints defaults to DefaultLoopPoints.
	LoopPoints int

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// Client is an OpenRouteService API client.
type Client struct {
	apiKey     string
	baseURL    string
	shape      Shape
	loopPoints int
	httpClient resilience.Doer
	logger     zerolog.Logger
}

// NewClient creates a new OpenRouteService client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Shape == "" {
		cfg.Shape = ShapeLoop
	}
	if cfg.LoopPoints <= 0 {
		cfg.LoopPoints = DefaultLoopPoints
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = cfg.Timeout
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		shape:      cfg.Shape,
		loopPoints: cfg.LoopPoints,
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("provider", ProviderName).Logger(),
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

func (c *Client) buildRequest(req routing.RouteRequest) directionsRequest {
	start := []float64{req.Start.Lon, req.Start.Lat}
	body := directionsRequest{Geometry: true, Units: "m"}

	switch c.shape {
	case ShapeOutAndBack:
		turn := polyline.Destination(req.Start, req.BearingDegrees, req.DistanceKm*1000/2)
		body.Coordinates = [][]float64{start, {turn.Lon, turn.Lat}, start}
	default:
		body.Coordinates = [][]float64{start}
		body.Options = &options{RoundTrip: &roundTrip{
			Length: req.DistanceKm * 1000,
			Points: c.loopPoints,
			Seed:   loopSeed(req.BearingDegrees),
		}}
	}
	return body
}

// loopSeed maps a bearing onto a stable ORS seed, one per whole degree.
func loopSeed(bearing float64) int {
	b := math.Mod(bearing, 360)
	if b < 0 {
		b += 360
	}
	return int(math.Round(b)) % 360
}

// ComputeRoute asks ORS for one route from req.Start of roughly req.DistanceKm.
// The street network decides the actual length.
func (c *Client) ComputeRoute(ctx context.Context, req routing.RouteRequest) (*routing.Route, error) {
	if !req.Start.Valid() {
		return nil, newError("INVALID_START", "invalid start coordinates", routing.ErrInvalidCoordinates)
	}

	profile := req.Profile
	if profile == "" {
		profile = routing.ProfileWalk
	}

	payload, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/directions/%s", c.baseURL, profile)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, application/geo+json")
	httpReq.Header.Set("Authorization", c.apiKey)

	c.logger.Debug().
		Str("profile", string(profile)).
		Str("shape", string(c.shape)).
		Float64("bearing", req.BearingDegrees).
		Float64("distance_km", req.DistanceKm).
		Msg("requesting route")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, newError("REQUEST_FAILED", "failed to reach routing provider", routing.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}

	var decoded directionsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(decoded.Routes) == 0 {
		return nil, newError("NO_ROUTE", "provider returned no routes", routing.ErrNoRoute)
	}

	first := decoded.Routes[0]
	geometry, err := polyline.Decode(first.Geometry)
	if err != nil {
		return nil, newError("BAD_GEOMETRY", "route geometry could not be decoded", err)
	}

	return &routing.Route{
		Geometry:        geometry,
		DistanceMeters:  first.Summary.Distance,
		DurationSeconds: first.Summary.Duration,
		Provider:        ProviderName,
	}, nil
}

func newError(code, message string, err error) *routing.Error {
	return &routing.Error{Provider: ProviderName, Code: code, Message: message, Err: err}
}

// statusError maps a non-200 answer onto a routing error. ORS reports "no route"
// as a 400 or 404 carrying one of its internal codes.
func statusError(status int, body []byte) error {
	var decoded errorResponse
	if json.Unmarshal(body, &decoded) != nil {
		return newError(fmt.Sprintf("HTTP_%d", status),
			fmt.Sprintf("routing provider returned status %d", status), routing.ErrProviderUnavailable)
	}
	msg := decoded.Error.Message

	switch {
	case status == http.StatusTooManyRequests:
		return newError("RATE_LIMIT", "API rate limit exceeded, please try again later", routing.ErrRateLimitExceeded)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return newError("FORBIDDEN", "API access denied, check the ORS key", routing.ErrProviderUnavailable)
	case status == http.StatusNotFound,
		decoded.Error.Code == codeRouteNotFound,
		decoded.Error.Code == codePointNotFound:
		if msg == "" {
			msg = "no route found from the start point"
		}
		return newError("NO_ROUTE", msg, routing.ErrNoRoute)
	case status == http.StatusBadRequest:
		return newError("BAD_REQUEST", msg, routing.ErrInvalidCoordinates)
	case status >= 500:
		return newError(fmt.Sprintf("SERVER_%d", status), "routing provider is temporarily unavailable", routing.ErrProviderUnavailable)
	default:
		return newError(fmt.Sprintf("HTTP_%d", status), msg, routing.ErrProviderUnavailable)
	}
}
