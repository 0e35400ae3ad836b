// Package tier declares the entry shape and key rules shared by every storage
// tier.
package tier

import (
	"errors"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
)

var (
	// ErrNotFound reports a key the tier never held.
	ErrNotFound = errors.New("tier: key not found")
	// ErrExpired reports a key whose entry had expired; the entry is deleted
	// by the read that returns this error.
	ErrExpired = errors.New("tier: key has expired")
)

// Entry is the atomic unit stored in any tier.
type Entry struct {
	Key   string
	Value any
	// ExpiresAt is zero when the entry never expires.
	ExpiresAt time.Time
}

// Expired reports whether the entry is expired at now. An entry is expired
// from its expiry instant onward.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Now returns the current time; tiers accept one so TTL behavior is testable.
type Now func() time.Time

// ExpiresAt computes the expiry instant for ttl written at now. Non-positive
// ttls never expire.
func ExpiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// NormalizeKey trims key and rejects empty keys with a validation error
// naming the key parameter.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", apperrors.InvalidArgument("key")
	}
	return key, nil
}

// UnixMillis encodes t for persisted envelopes; zero time encodes as 0.
func UnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

// FromUnixMillis decodes UnixMillis output.
func FromUnixMillis(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}
