package cascade

import (
	"sort"
	"strings"
	"time"
)

// registry records every key the Storage has written, independent of which
// tiers still hold it. secure is always a subset of keys.
type registry struct {
	keys   map[string]time.Time
	secure map[string]struct{}
}

func newRegistry() registry {
	return registry{
		keys:   make(map[string]time.Time),
		secure: make(map[string]struct{}),
	}
}

// RegisterKey records key with its expiry; a zero expiresAt never expires.
// Registering a secure key again keeps it secure.
func (s *Storage) RegisterKey(key string, expiresAt time.Time) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.registry.keys[key] = expiresAt
}

// UnregisterKey forgets key in both registries.
func (s *Storage) UnregisterKey(key string) {
	key = strings.TrimSpace(key)
	s.regMu.Lock()
	defer s.regMu.Unlock()
	delete(s.registry.keys, key)
	delete(s.registry.secure, key)
}

// KeyRegistered reports whether key is in the registry.
func (s *Storage) KeyRegistered(key string) bool {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	_, ok := s.registry.keys[strings.TrimSpace(key)]
	return ok
}

// RegisterSecureKey records key in both registries.
func (s *Storage) RegisterSecureKey(key string, expiresAt time.Time) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.registry.keys[key] = expiresAt
	s.registry.secure[key] = struct{}{}
}

// UnregisterSecureKey forgets key in both registries.
func (s *Storage) UnregisterSecureKey(key string) {
	s.UnregisterKey(key)
}

// SecureKeyRegistered reports whether key is in the secure registry.
func (s *Storage) SecureKeyRegistered(key string) bool {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	_, ok := s.registry.secure[strings.TrimSpace(key)]
	return ok
}

// RegisteredKeys returns the registry in key order.
func (s *Storage) RegisteredKeys() []string {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return sortedKeys(s.registry.keys)
}

// SecureKeys returns the secure registry in key order.
func (s *Storage) SecureKeys() []string {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return sortedKeys(s.registry.secure)
}

// RegistryPrune unregisters every key whose expiry has passed and returns
// how many it removed. Tier contents are not touched.
func (s *Storage) RegistryPrune() int {
	now := s.now()
	s.regMu.Lock()
	defer s.regMu.Unlock()

	removed := 0
	for key, expiresAt := range s.registry.keys {
		if expiresAt.IsZero() || now.Before(expiresAt) {
			continue
		}
		delete(s.registry.keys, key)
		delete(s.registry.secure, key)
		removed++
	}
	return removed
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
