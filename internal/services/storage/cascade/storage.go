// Package cascade is the storage orchestrator. It reads through an ordered
// list of tiers and writes to all of them, keeping a registry of the keys it
// has written.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
	"github.com/louisbranch/tierstore/internal/platform/timeouts"
	"github.com/louisbranch/tierstore/internal/services/storage/memory"
	"github.com/louisbranch/tierstore/internal/services/storage/persist"
	"github.com/louisbranch/tierstore/internal/services/storage/secure"
	"github.com/louisbranch/tierstore/internal/services/storage/tier"
	"github.com/louisbranch/tierstore/internal/services/storage/ttltimer"
)

const tracerName = "github.com/louisbranch/tierstore/internal/services/storage/cascade"

// Storage is the orchestrator. All methods are safe for concurrent use,
// including while Initialize is attaching remote tiers.
//
// Get consults tiers one at a time in precedence order and returns the first
// hit without copying it into higher tiers. Set writes every tier and never
// fails because one tier did.
type Storage struct {
	cache   *memory.Cache
	session *persist.Store
	device  *persist.Store

	initTimeout time.Duration
	now         tier.Now
	logf        func(string, ...any)
	tracer      trace.Tracer

	tiersMu sync.RWMutex
	tiers   []Tier

	// remoteLookups collapses concurrent remote reads of the same key.
	remoteLookups singleflight.Group

	regMu    sync.Mutex
	registry registry

	timer ttltimer.Timer
}

// Option configures a Storage.
type Option func(*Storage)

// WithInitTimeout bounds each remote initializer run by Initialize.
func WithInitTimeout(timeout time.Duration) Option {
	return func(s *Storage) {
		if timeout > 0 {
			s.initTimeout = timeout
		}
	}
}

// WithNow sets the clock used for registry expiry.
func WithNow(now tier.Now) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogf sets the logger for tier failures.
func WithLogf(logf func(string, ...any)) Option {
	return func(s *Storage) {
		if logf != nil {
			s.logf = logf
		}
	}
}

// WithTracerProvider sets the provider of the Get and Set spans.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *Storage) {
		if provider != nil {
			s.tracer = provider.Tracer(tracerName)
		}
	}
}

// New creates a Storage over the three local tiers. Remote tiers are attached
// later through Attach or Initialize.
func New(cache *memory.Cache, session, device *persist.Store, opts ...Option) (*Storage, error) {
	if cache == nil {
		return nil, apperrors.InvalidArgument("cache")
	}
	if session == nil {
		return nil, apperrors.InvalidArgument("session")
	}
	if device == nil {
		return nil, apperrors.InvalidArgument("device")
	}
	s := &Storage{
		cache:       cache,
		session:     session,
		device:      device,
		initTimeout: timeouts.RemoteInit,
		now:         time.Now,
		logf:        log.Printf,
		tracer:      otel.Tracer(tracerName),
		registry:    newRegistry(),
		tiers: []Tier{
			cacheTier{cache: cache},
			storeTier{name: TierSession, store: session, ttlOf: func(cfg Config) *time.Duration { return cfg.SessionTTL }},
			storeTier{name: TierDevice, store: device, ttlOf: func(cfg Config) *time.Duration { return cfg.LocalTTL }},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Attach adds t to the cascade at its precedence position, replacing any
// tier with the same name.
func (s *Storage) Attach(t Tier) {
	if t == nil {
		return
	}
	s.tiersMu.Lock()
	defer s.tiersMu.Unlock()

	tiers := make([]Tier, 0, len(s.tiers)+1)
	for _, existing := range s.tiers {
		if existing.Name() != t.Name() {
			tiers = append(tiers, existing)
		}
	}
	tiers = append(tiers, t)
	sort.SliceStable(tiers, func(i, j int) bool {
		return rank(tiers[i].Name()) < rank(tiers[j].Name())
	})
	s.tiers = tiers
}

// Tiers returns the names of the present tiers in precedence order.
func (s *Storage) Tiers() []string {
	tiers := s.snapshot()
	names := make([]string, 0, len(tiers))
	for _, t := range tiers {
		names = append(names, t.Name())
	}
	return names
}

// HasTier reports whether tier name is present.
func (s *Storage) HasTier(name string) bool {
	for _, t := range s.snapshot() {
		if t.Name() == name {
			return true
		}
	}
	return false
}

func (s *Storage) snapshot() []Tier {
	s.tiersMu.RLock()
	defer s.tiersMu.RUnlock()
	return append([]Tier(nil), s.tiers...)
}

// Get returns the first value found for key, or ok false when no tier holds
// it. With cfg.Secure and a private key the found value is opened; a value
// that cannot be opened is an error, never returned as ciphertext.
func (s *Storage) Get(ctx context.Context, key string, cfg Config) (value any, ok bool, err error) {
	key, err = tier.NormalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	ctx, span := s.tracer.Start(ctx, "storage.Get", trace.WithAttributes(
		attribute.String("storage.key", key),
		attribute.Bool("storage.secure", cfg.Secure),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("storage.hit", ok))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	for _, t := range s.snapshot() {
		found, hit, lookupErr := s.lookup(ctx, t, key, cfg)
		if lookupErr != nil {
			if apperrors.CodeOf(lookupErr).Unavailable() {
				s.logf("storage: %s tier unavailable reading %q, skipping: %v", t.Name(), key, lookupErr)
				span.AddEvent("tier unavailable", trace.WithAttributes(attribute.String("storage.tier", t.Name())))
				continue
			}
			return nil, false, fmt.Errorf("get %q from %s: %w", key, t.Name(), lookupErr)
		}
		if !hit {
			continue
		}
		span.SetAttributes(attribute.String("storage.tier", t.Name()))
		if cfg.Secure && strings.TrimSpace(cfg.PrivateKey) != "" {
			opened, openErr := secure.Open(found, cfg.PrivateKey)
			if openErr != nil {
				return nil, false, fmt.Errorf("get %q from %s: %w", key, t.Name(), openErr)
			}
			return opened, true, nil
		}
		return found, true, nil
	}
	return nil, false, nil
}

type lookupResult struct {
	value any
	ok    bool
}

// lookup reads one tier. Remote reads of the same key and file share one
// request. The shared request runs detached from any one caller, so a caller
// that gives up returns its own context error while the others still get the
// result.
func (s *Storage) lookup(ctx context.Context, t Tier, key string, cfg Config) (any, bool, error) {
	if rank(t.Name()) <= rank(TierDevice) {
		return t.Lookup(ctx, key, cfg)
	}
	flightKey := t.Name() + "\x00" + key + "\x00" + cfg.GoogleID + "\x00" + cfg.GithubFilename
	ch := s.remoteLookups.DoChan(flightKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.RemoteLookup)
		defer cancel()
		value, ok, err := t.Lookup(flightCtx, key, cfg)
		return lookupResult{value: value, ok: ok}, err
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(lookupResult)
		return r.value, r.ok, nil
	}
}

// Set writes value to every present tier that applies to cfg. With
// cfg.Secure the value is sealed to cfg.PublicKey first; a sealing failure is
// the only error Set returns. Tier write failures are logged.
func (s *Storage) Set(ctx context.Context, key string, value any, cfg Config) (err error) {
	key, err = tier.NormalizeKey(key)
	if err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "storage.Set", trace.WithAttributes(
		attribute.String("storage.key", key),
		attribute.Bool("storage.secure", cfg.Secure),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	stored := value
	if cfg.Secure {
		sealed, sealErr := secure.Seal(value, cfg.PublicKey)
		if sealErr != nil {
			return fmt.Errorf("set %q: %w", key, sealErr)
		}
		stored = sealed
	}

	var failed []string
	for _, t := range s.snapshot() {
		if writeErr := t.Store(ctx, key, stored, cfg); writeErr != nil {
			failed = append(failed, t.Name())
			s.logf("storage: write %q to %s tier failed: %v", key, t.Name(), writeErr)
		}
	}
	if len(failed) > 0 {
		span.SetAttributes(attribute.StringSlice("storage.failed_tiers", failed))
	}

	expiresAt := cfg.Expires
	if expiresAt.IsZero() {
		expiresAt = s.localExpiry(cfg)
	}
	s.regMu.Lock()
	s.registry.keys[key] = expiresAt
	if cfg.Secure {
		s.registry.secure[key] = struct{}{}
	} else {
		delete(s.registry.secure, key)
	}
	s.regMu.Unlock()
	return nil
}

// localExpiry is the latest expiry among the local tier writes for cfg, or
// zero when any of them never expires.
func (s *Storage) localExpiry(cfg Config) time.Time {
	now := s.now()
	ttls := []time.Duration{
		ttlOr(cfg.CacheTTL, s.cache.TTL()),
		ttlOr(cfg.SessionTTL, s.session.TTL()),
		ttlOr(cfg.LocalTTL, s.device.TTL()),
	}
	var latest time.Time
	for _, ttl := range ttls {
		expiresAt := tier.ExpiresAt(now, ttl)
		if expiresAt.IsZero() {
			return time.Time{}
		}
		if expiresAt.After(latest) {
			latest = expiresAt
		}
	}
	return latest
}

// Delete removes key from the local tiers and both registries. Remote files
// are left alone.
func (s *Storage) Delete(ctx context.Context, key string) error {
	key, err := tier.NormalizeKey(key)
	if err != nil {
		return err
	}
	s.cache.Delete(key)
	var errs []error
	if err := s.session.Delete(ctx, key); err != nil {
		errs = append(errs, err)
	}
	if err := s.device.Delete(ctx, key); err != nil {
		errs = append(errs, err)
	}
	s.UnregisterKey(key)
	if len(errs) > 0 {
		return fmt.Errorf("delete %q: %w", key, errors.Join(errs...))
	}
	return nil
}

// Prune sweeps every local tier and the registry.
func (s *Storage) Prune(ctx context.Context) {
	if n := s.cache.Prune(); n > 0 {
		s.logf("storage: pruned %d cache entries", n)
	}
	for _, store := range []*persist.Store{s.session, s.device} {
		n, err := store.Prune(ctx)
		if err != nil {
			s.logf("storage: prune %s: %v", store.Name(), err)
		}
		if n > 0 {
			s.logf("storage: pruned %d %s entries", n, store.Name())
		}
	}
	s.RegistryPrune()
}

// StartPruning runs RegistryPrune every interval, replacing any running
// schedule.
func (s *Storage) StartPruning(interval time.Duration) {
	s.timer.Start(s.pruneRegistry, interval)
}

// PausePruning stops registry pruning and keeps the interval.
func (s *Storage) PausePruning() {
	s.timer.Pause()
}

// ResumePruning restarts registry pruning with the kept interval.
func (s *Storage) ResumePruning() {
	s.timer.Resume(s.pruneRegistry)
}

// StopPruning stops registry pruning and forgets the interval.
func (s *Storage) StopPruning() {
	s.timer.Stop()
}

func (s *Storage) pruneRegistry() {
	s.RegistryPrune()
}
