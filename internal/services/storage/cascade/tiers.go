package cascade

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
	"github.com/louisbranch/tierstore/internal/services/storage/memory"
	"github.com/louisbranch/tierstore/internal/services/storage/persist"
	"github.com/louisbranch/tierstore/internal/services/storage/tier"
)

// Tier names, in precedence order.
const (
	TierCache   = "cache"
	TierSession = "session"
	TierDevice  = "device"
	TierDrive   = "drive"
	TierGithub  = "github"
)

var precedence = map[string]int{
	TierCache:   0,
	TierSession: 1,
	TierDevice:  2,
	TierDrive:   3,
	TierGithub:  4,
}

func rank(name string) int {
	if r, ok := precedence[name]; ok {
		return r
	}
	return len(precedence)
}

// Tier is one level of the cascade.
//
// Lookup reports a miss with ok false and a nil error. Errors whose code is
// unavailable (see errors.Code.Unavailable) are treated by Get as a miss for
// that tier; any other error is returned to the caller.
type Tier interface {
	Name() string
	Lookup(ctx context.Context, key string, cfg Config) (value any, ok bool, err error)
	Store(ctx context.Context, key string, value any, cfg Config) error
}

type cacheTier struct {
	cache *memory.Cache
}

func (t cacheTier) Name() string { return TierCache }

func (t cacheTier) Lookup(_ context.Context, key string, _ Config) (any, bool, error) {
	entry, ok := t.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (t cacheTier) Store(_ context.Context, key string, value any, cfg Config) error {
	return t.cache.SetWithTTL(key, value, t.ttl(cfg))
}

func (t cacheTier) ttl(cfg Config) time.Duration {
	return ttlOr(cfg.CacheTTL, t.cache.TTL())
}

type storeTier struct {
	name  string
	store *persist.Store
	ttlOf func(Config) *time.Duration
}

func (t storeTier) Name() string { return t.name }

func (t storeTier) Lookup(ctx context.Context, key string, _ Config) (any, bool, error) {
	entry, err := t.store.Get(ctx, key)
	switch {
	case err == nil:
		return entry.Value, true, nil
	case errors.Is(err, tier.ErrNotFound), errors.Is(err, tier.ErrExpired):
		return nil, false, nil
	case apperrors.CodeOf(err) != apperrors.CodeUnknown:
		return nil, false, err
	default:
		return nil, false, apperrors.Wrap(apperrors.CodeTierUnavailable, t.name+" tier read", err)
	}
}

func (t storeTier) Store(ctx context.Context, key string, value any, cfg Config) error {
	return t.store.SetWithTTL(ctx, key, value, t.ttl(cfg))
}

func (t storeTier) ttl(cfg Config) time.Duration {
	return ttlOr(t.ttlOf(cfg), t.store.TTL())
}
