// Package persist implements the persistent tiers. A Store keeps JSON entries
// with optional expiry in a string Backend and mirrors the keys it has seen in
// an in-memory registry.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/tierstore/internal/services/storage/tier"
	"github.com/louisbranch/tierstore/internal/services/storage/ttltimer"
)

// DefaultTTL applies to Set calls that don't name a TTL.
const DefaultTTL = 30 * time.Minute

// Store is a persistent tier over a Backend. All methods are safe for
// concurrent use.
//
// Keys and HasKey answer from the registry alone and do not consult the
// backend or expiry. Has and Get do both.
type Store struct {
	name    string
	backend Backend
	ttl     time.Duration
	now     tier.Now
	logf    func(string, ...any)

	mu       sync.Mutex
	registry map[string]struct{}

	timer ttltimer.Timer
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the default time-to-live for Set. Non-positive values make
// Set store entries that never expire.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithNow sets the clock used for expiry decisions.
func WithNow(now tier.Now) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogf sets the logger used by background pruning.
func WithLogf(logf func(string, ...any)) Option {
	return func(s *Store) {
		if logf != nil {
			s.logf = logf
		}
	}
}

// Open creates a Store named name over backend. When the backend can list its
// keys the registry starts with them, so entries written before a restart are
// visible to Keys and Prune.
func Open(ctx context.Context, name string, backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("%s store: backend is required", name)
	}
	s := &Store{
		name:     name,
		backend:  backend,
		ttl:      DefaultTTL,
		now:      time.Now,
		logf:     log.Printf,
		registry: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if enumerator, ok := backend.(Enumerator); ok {
		keys, err := enumerator.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s store: list keys: %w", name, err)
		}
		for _, key := range keys {
			s.registry[key] = struct{}{}
		}
	}
	return s, nil
}

// Name returns the tier name given to Open.
func (s *Store) Name() string {
	return s.name
}

// TTL returns the default time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Set stores value under key with the default TTL.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

// SetWithTTL stores value under key. A non-positive ttl writes the bare JSON
// value, which never expires.
func (s *Store) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	key, err := tier.NormalizeKey(key)
	if err != nil {
		return err
	}
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("%s set %q: %w", s.name, key, err)
	}
	return s.write(ctx, key, raw, ttl)
}

// SetObject stores a structured value under key. A string holding JSON is
// stored as that JSON rather than as a quoted string.
func (s *Store) SetObject(ctx context.Context, key string, v any, ttl time.Duration) error {
	if text, ok := v.(string); ok && json.Valid([]byte(text)) {
		v = json.RawMessage(text)
	}
	return s.SetWithTTL(ctx, key, v, ttl)
}

func (s *Store) write(ctx context.Context, key string, raw json.RawMessage, ttl time.Duration) error {
	stored, err := encodeItem(raw, tier.ExpiresAt(s.now(), ttl))
	if err != nil {
		return fmt.Errorf("%s set %q: %w", s.name, key, err)
	}
	if err := s.backend.SetItem(ctx, key, stored); err != nil {
		return fmt.Errorf("%s set %q: %w", s.name, key, err)
	}
	s.register(key)
	return nil
}

// Get returns the live entry for key. It returns tier.ErrNotFound when the
// backend does not hold key and tier.ErrExpired, after deleting the entry,
// when the entry has expired.
func (s *Store) Get(ctx context.Context, key string) (tier.Entry, error) {
	key, err := tier.NormalizeKey(key)
	if err != nil {
		return tier.Entry{}, err
	}
	raw, expiresAt, err := s.load(ctx, key)
	if err != nil {
		return tier.Entry{}, err
	}
	value, err := decodeValue(raw)
	if err != nil {
		return tier.Entry{}, fmt.Errorf("%s get %q: %w", s.name, key, err)
	}
	return tier.Entry{Key: key, Value: value, ExpiresAt: expiresAt}, nil
}

// GetObject decodes the live value for key into target. Errors match Get.
func (s *Store) GetObject(ctx context.Context, key string, target any) error {
	raw, _, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%s get %q: decode object: %w", s.name, key, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, key string) (json.RawMessage, time.Time, error) {
	key, err := tier.NormalizeKey(key)
	if err != nil {
		return nil, time.Time{}, err
	}
	stored, ok, err := s.backend.GetItem(ctx, key)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%s get %q: %w", s.name, key, err)
	}
	if !ok {
		s.unregister(key)
		return nil, time.Time{}, tier.ErrNotFound
	}
	s.register(key)

	raw, expiresAt := decodeItem(stored)
	if (tier.Entry{ExpiresAt: expiresAt}).Expired(s.now()) {
		if err := s.Delete(ctx, key); err != nil {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, tier.ErrExpired
	}
	return raw, expiresAt, nil
}

// Has reports whether key holds a live entry, deleting it if expired.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, _, err := s.load(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, tier.ErrNotFound), errors.Is(err, tier.ErrExpired):
		return false, nil
	default:
		return false, err
	}
}

// HasKey reports registry membership only.
func (s *Store) HasKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registry[strings.TrimSpace(key)]
	return ok
}

// Keys returns the registry in key order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.registry))
	for key := range s.registry {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Delete removes key from the backend and the registry.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := tier.NormalizeKey(key)
	if err != nil {
		return err
	}
	if err := s.backend.RemoveItem(ctx, key); err != nil {
		return fmt.Errorf("%s delete %q: %w", s.name, key, err)
	}
	s.unregister(key)
	return nil
}

// Clear empties the backend and the registry.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("%s clear: %w", s.name, err)
	}
	s.mu.Lock()
	s.registry = make(map[string]struct{})
	s.mu.Unlock()
	return nil
}

// Prune reads every registered key, letting Get delete expired entries, and
// returns how many expired entries it removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	var (
		removed int
		errs    []error
	)
	for _, key := range s.Keys() {
		_, _, err := s.load(ctx, key)
		switch {
		case errors.Is(err, tier.ErrExpired):
			removed++
		case err == nil, errors.Is(err, tier.ErrNotFound):
		default:
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

// StartPruning runs Prune every interval, replacing any running schedule.
func (s *Store) StartPruning(interval time.Duration) {
	s.timer.Start(s.prune, interval)
}

// PausePruning stops background pruning and keeps the interval.
func (s *Store) PausePruning() {
	s.timer.Pause()
}

// ResumePruning restarts background pruning with the kept interval.
func (s *Store) ResumePruning() {
	s.timer.Resume(s.prune)
}

// StopPruning stops background pruning and forgets the interval.
func (s *Store) StopPruning() {
	s.timer.Stop()
}

func (s *Store) prune() {
	if _, err := s.Prune(context.Background()); err != nil {
		s.logf("%s: prune: %v", s.name, err)
	}
}

func (s *Store) register(key string) {
	s.mu.Lock()
	s.registry[key] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) unregister(key string) {
	s.mu.Lock()
	delete(s.registry, key)
	s.mu.Unlock()
}
