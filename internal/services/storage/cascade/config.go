package cascade

import (
	"strconv"
	"strings"
	"time"
)

// Config is the per-call configuration of Get and Set. The zero value reads
// and writes the local tiers with their default TTLs.
type Config struct {
	// CacheTTL, SessionTTL and LocalTTL override the volatile, session and
	// device tier TTLs. Nil keeps the tier default; a non-positive duration
	// never expires.
	CacheTTL   *time.Duration
	SessionTTL *time.Duration
	LocalTTL   *time.Duration

	// GoogleID names the Drive file backing the key. Empty skips Drive.
	GoogleID string
	// GithubFilename names the repository file backing the key. Empty skips
	// GitHub.
	GithubFilename string

	// PublicKey seals values on Set and PrivateKey opens them on Get, both
	// base64 Curve25519 keys. They are used only when Secure is set.
	PrivateKey string
	PublicKey  string
	Secure     bool

	// Tags, Owner and Custom annotate remote writes.
	Tags   []string
	Owner  string
	Custom map[string]string
	// Expires overrides the registry expiry recorded by Set.
	Expires time.Time
}

// TTL returns a pointer to d for the Config TTL fields.
func TTL(d time.Duration) *time.Duration {
	return &d
}

func ttlOr(ttl *time.Duration, fallback time.Duration) time.Duration {
	if ttl == nil {
		return fallback
	}
	return *ttl
}

// remoteProperties flattens the annotation fields for remote metadata.
func (c Config) remoteProperties() map[string]string {
	props := make(map[string]string, len(c.Custom)+3)
	for key, value := range c.Custom {
		props[key] = value
	}
	if len(c.Tags) > 0 {
		props["tags"] = strings.Join(c.Tags, ",")
	}
	if owner := strings.TrimSpace(c.Owner); owner != "" {
		props["owner"] = owner
	}
	if !c.Expires.IsZero() {
		props["expires"] = strconv.FormatInt(c.Expires.UTC().UnixMilli(), 10)
	}
	if len(props) == 0 {
		return nil
	}
	return props
}
