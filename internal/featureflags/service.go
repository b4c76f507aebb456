package featureflags

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a loaded snapshot is served before the repository is read again.
const DefaultCacheTTL = time.Minute

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository   Repository
	Logger       zerolog.Logger
	CacheTTL     time.Duration
	DefaultFlags map[string]*Flag
	Now          func() time.Time
}

// Service evaluates flags from a cached snapshot of the repository. The whole
// set is loaded at once; the pipeline reads several flags per request and the
// set is small.
//
// When the repository fails the previous snapshot keeps being served, and
// without any snapshot the defaults apply. A flag outage never fails a request.
type Service struct {
	repo     Repository
	logger   zerolog.Logger
	cacheTTL time.Duration
	defaults map[string]*Flag
	now      func() time.Time

	loads singleflight.Group

	mu       sync.RWMutex
	snapshot map[string]*Flag
	expires  time.Time
}

// NewService creates a new feature flag service. A nil Repository makes the
// service read-only over the defaults.
func NewService(cfg ServiceConfig) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.DefaultFlags == nil {
		cfg.DefaultFlags = DefaultFlags()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		repo:     cfg.Repository,
		logger:   cfg.Logger,
		cacheTTL: cfg.CacheTTL,
		defaults: cfg.DefaultFlags,
		now:      cfg.Now,
	}
}

// current returns the merged defaults and repository flags, reloading when the
// snapshot has expired. Concurrent callers share one repository read.
func (s *Service) current(ctx context.Context) map[string]*Flag {
	s.mu.RLock()
	snap, fresh := s.snapshot, s.now().Before(s.expires)
	s.mu.RUnlock()
	if fresh || s.repo == nil {
		return s.merge(snap)
	}

	v, _, _ := s.loads.Do("all", func() (any, error) {
		stored, err := s.repo.GetAllFlags(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to load feature flags, serving last known values")
			// A failed load is not retried until the TTL passes.
			s.store(snap)
			return snap, nil
		}
		s.store(stored)
		return stored, nil
	})
	stored, _ := v.(map[string]*Flag)
	return s.merge(stored)
}

func (s *Service) store(snap map[string]*Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.expires = s.now().Add(s.cacheTTL)
}

func (s *Service) merge(stored map[string]*Flag) map[string]*Flag {
	out := make(map[string]*Flag, len(s.defaults)+len(stored))
	maps.Copy(out, s.defaults)
	maps.Copy(out, stored)
	return out
}

// GetFlag returns the flag for key, or nil when neither the repository nor the
// defaults know it.
func (s *Service) GetFlag(ctx context.Context, key string) *Flag {
	return s.current(ctx)[key]
}

// GetAllFlags returns every known flag, repository values over defaults.
func (s *Service) GetAllFlags(ctx context.Context) map[string]*Flag {
	return s.current(ctx)
}

// Active returns the sorted keys of the flags that are currently on.
func (s *Service) Active(ctx context.Context) []string {
	if s == nil {
		return nil
	}
	var keys []string
	for key, flag := range s.current(ctx) {
		if flag.BoolValue(false) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// SetFlag updates a single flag.
func (s *Service) SetFlag(ctx context.Context, flag *Flag) error {
	return s.SetFlags(ctx, []*Flag{flag})
}

// SetFlags writes flags through to the repository in one call and drops the
// snapshot so the next read sees them.
func (s *Service) SetFlags(ctx context.Context, flags []*Flag) error {
	if s.repo == nil {
		return ErrReadOnly
	}
	if len(flags) == 0 {
		return nil
	}

	now := s.now()
	for _, flag := range flags {
		flag.UpdatedAt = now
	}

	var err error
	if len(flags) == 1 {
		err = s.repo.SetFlag(ctx, flags[0])
	} else {
		err = s.repo.SetFlags(ctx, flags)
	}
	if err != nil {
		return err
	}

	s.InvalidateCache()
	return nil
}

// DeleteFlag removes a stored flag so its default applies again.
func (s *Service) DeleteFlag(ctx context.Context, key string) error {
	if s.repo == nil {
		return ErrReadOnly
	}
	if err := s.repo.DeleteFlag(ctx, key); err != nil {
		return err
	}
	s.InvalidateCache()
	return nil
}

// InvalidateCache forces the next read to go to the repository.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires = time.Time{}
}

// IsEnabled reports whether the flag with the given key is on.
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	return s.GetFlag(ctx, key).BoolValue(false)
}

// IsDisabled is the inverse of IsEnabled.
func (s *Service) IsDisabled(ctx context.Context, key string) bool {
	return !s.IsEnabled(ctx, key)
}

// IsReadOnly reports whether writes will be rejected.
func (s *Service) IsReadOnly() bool {
	return s == nil || s.repo == nil
}

// Convenience methods for well-known flags. A nil *Service reports every flag as off.

// PlanForceFull reports whether every annotation stage should run.
func (s *Service) PlanForceFull(ctx context.Context) bool {
	return s != nil && s.IsEnabled(ctx, FlagPlanForceFull)
}

// ExplanationsGeneratedDisabled reports whether the template explanation is forced.
func (s *Service) ExplanationsGeneratedDisabled(ctx context.Context) bool {
	return s != nil && s.IsEnabled(ctx, FlagExplanationsGeneratedDisabled)
}

// IntentLLMDisabled reports whether queries are classified by keywords only.
func (s *Service) IntentLLMDisabled(ctx context.Context) bool {
	return s != nil && s.IsEnabled(ctx, FlagIntentLLMDisabled)
}

// IsNotFound reports whether err means the flag does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlagNotFound)
}
