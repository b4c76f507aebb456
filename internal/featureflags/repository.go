package featureflags

import (
	"context"
	"errors"
)

var (
	ErrFlagNotFound = errors.New("feature flag not found")
	// ErrReadOnly is returned by writes when the service has no repository.
	ErrReadOnly     = errors.New("feature flags are read-only")
	ErrUnknownFlag  = errors.New("unknown feature flag")
	ErrInvalidValue = errors.New("invalid feature flag value")
)

// Repository stores operator-set values. A key with no stored value falls back
// to its definition's default in Service.
type Repository interface {
	GetFlag(ctx context.Context, key string) (*Flag, error)
	GetAllFlags(ctx context.Context) (map[string]*Flag, error)
	SetFlag(ctx context.Context, flag *Flag) error

	// SetFlags stores every flag or none of them.
	SetFlags(ctx context.Context, flags []*Flag) error

	// DeleteFlag returns ErrFlagNotFound when key has no stored value.
	DeleteFlag(ctx context.Context, key string) error
}
