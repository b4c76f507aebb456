// Package handler provides HTTP handlers for the RunnerVision API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/runnervision/runnervision/internal/api/models"
	"github.com/runnervision/runnervision/internal/api/response"
	"github.com/runnervision/runnervision/internal/featureflags"
	"github.com/runnervision/runnervision/internal/provider/resilience"
)

// readinessTimeout bounds the dependency checks of the readiness probe.
const readinessTimeout = 2 * time.Second

// Pinger checks a backing store, typically the Postgres pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsConfig configures the ops handler.
type OpsConfig struct {
	Version   string
	BuildTime string
	// Database is optional; readiness skips the check when nil.
	Database Pinger
	Registry *resilience.Registry
	Flags    *featureflags.Service
	Now      func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg       OpsConfig
	startedAt time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OpsHandler{cfg: cfg, startedAt: cfg.Now()}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.cfg.Now()),
		Details: map[string]any{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.cfg.Now()),
	}

	if h.cfg.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := h.cfg.Database.Ping(ctx); err != nil {
			health.Status = models.HealthStatusFail
			health.Details = map[string]any{"database": err.Error()}
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
		health.Details = map[string]any{"database": "ok"}
	}

	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider circuit state and
// active degradation flags.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	now := h.cfg.Now()
	status := models.SystemStatus{
		Status:        models.HealthStatusOK,
		Time:          models.Timestamp(now),
		Version:       h.cfg.Version,
		StartedAt:     models.Timestamp(h.startedAt),
		UptimeSeconds: int64(now.Sub(h.startedAt).Seconds()),
		Subsystems:    []models.SubsystemStatus{},
		Providers:     []models.ProviderStatus{},
	}

	if h.cfg.Database != nil {
		sub := models.SubsystemStatus{Name: "postgres", Status: models.HealthStatusOK}
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		if err := h.cfg.Database.Ping(ctx); err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusFail
			sub.Detail = &detail
		}
		cancel()
		status.Subsystems = append(status.Subsystems, sub)
		status.Status = status.Status.Worse(sub.Status)
	}

	if h.cfg.Registry != nil {
		for _, p := range h.cfg.Registry.All() {
			ps := providerStatus(p)
			status.Providers = append(status.Providers, ps)
			status.Status = status.Status.Worse(ps.Status)
		}
	}

	status.ActiveDegradationFlags = h.cfg.Flags.Active(r.Context())

	response.JSON(w, r, http.StatusOK, status)
}

func providerStatus(p resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:            p.Name,
		Status:              models.HealthStatus(p.Status()),
		CircuitState:        p.CircuitState.String(),
		ConsecutiveFailures: p.Counts.ConsecutiveFailures,
	}
	if p.LastSuccessAt != nil {
		ts := models.Timestamp(*p.LastSuccessAt)
		ps.LastSuccessAt = &ts
	}
	if p.LastFailureAt != nil {
		ts := models.Timestamp(*p.LastFailureAt)
		ps.LastFailureAt = &ts
	}
	if p.LastError != "" {
		msg := p.LastError
		ps.Message = &msg
	}
	return ps
}
