// Package memory implements the volatile cache tier: an in-process table of
// entries that is lost when the process exits.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/louisbranch/tierstore/internal/services/storage/tier"
	"github.com/louisbranch/tierstore/internal/services/storage/ttltimer"
)

// DefaultTTL applies to Set calls that don't name a TTL.
const DefaultTTL = 5 * time.Minute

const (
	entriesTable = "entries"
	indexID      = "id"
	indexExpiry  = "expiry"
)

// row is the stored form of an entry. Rows are never mutated after insert;
// Set replaces the whole row.
type row struct {
	Key       string
	Value     any
	ExpiresAt time.Time
	// ExpiryKey sorts rows by expiry; empty for rows that never expire, which
	// keeps them out of the expiry index entirely.
	ExpiryKey string
}

func expiryKey(expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return ""
	}
	return fmt.Sprintf("%020d", expiresAt.UnixNano())
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		entriesTable: {
			Name: entriesTable,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
				indexExpiry: {
					Name:         indexExpiry,
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "ExpiryKey"},
				},
			},
		},
	},
}

// Cache is the volatile tier. All methods are safe for concurrent use.
//
// Get and Has delete expired entries as they find them. Keys and Len report
// the raw table and do not prune; call Prune first, or pair them with Has,
// when an expiry-correct enumeration is needed. Values, Entries, Filter, Map
// and Find go through Get and therefore only see live entries.
type Cache struct {
	mu    sync.Mutex
	db    *memdb.MemDB
	ttl   time.Duration
	now   tier.Now
	timer ttltimer.Timer
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the default time-to-live for Set. Non-positive values make
// Set store entries that never expire.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithNow sets the clock used for expiry decisions.
func WithNow(now tier.Now) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) (*Cache, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	c := &Cache{
		db:  db,
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the default time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value any) error {
	return c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key. A non-positive ttl never expires. An
// existing entry is replaced together with its expiry.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) error {
	key, err := tier.NormalizeKey(key)
	if err != nil {
		return err
	}
	expiresAt := tier.ExpiresAt(c.now(), ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	txn := c.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(entriesTable, indexID, key); err != nil {
		return fmt.Errorf("replace cache entry %q: %w", key, err)
	}
	if err := txn.Insert(entriesTable, &row{
		Key:       key,
		Value:     value,
		ExpiresAt: expiresAt,
		ExpiryKey: expiryKey(expiresAt),
	}); err != nil {
		return fmt.Errorf("insert cache entry %q: %w", key, err)
	}
	txn.Commit()
	return nil
}

// Get returns the live entry for key. An expired entry is deleted and
// reported as absent.
func (c *Cache) Get(key string) (tier.Entry, bool) {
	key, err := tier.NormalizeKey(key)
	if err != nil {
		return tier.Entry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache) getLocked(key string) (tier.Entry, bool) {
	raw, err := c.db.Txn(false).First(entriesTable, indexID, key)
	if err != nil || raw == nil {
		return tier.Entry{}, false
	}
	r := raw.(*row)
	entry := tier.Entry{Key: r.Key, Value: r.Value, ExpiresAt: r.ExpiresAt}
	if entry.Expired(c.now()) {
		c.deleteLocked(key)
		return tier.Entry{}, false
	}
	return entry, true
}

// Has reports whether key holds a live entry, deleting it if expired.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	key, err := tier.NormalizeKey(key)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(key)
}

// DeleteMany removes every key in keys.
func (c *Cache) DeleteMany(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if normalized, err := tier.NormalizeKey(key); err == nil {
			c.deleteLocked(normalized)
		}
	}
}

func (c *Cache) deleteLocked(key string) {
	txn := c.db.Txn(true)
	defer txn.Abort()
	if n, err := txn.DeleteAll(entriesTable, indexID, key); err == nil && n > 0 {
		txn.Commit()
	}
}

// Clear drops every entry regardless of expiry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	txn := c.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(entriesTable, indexID+"_prefix", ""); err == nil {
		txn.Commit()
	}
}

// Prune removes every entry whose expiry has passed and returns how many it
// removed. Only rows in the expiry index are visited.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	txn := c.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(entriesTable, indexExpiry+"_prefix", "")
	if err != nil {
		return 0
	}
	var expired []*row
	for raw := it.Next(); raw != nil; raw = it.Next() {
		r := raw.(*row)
		if now.Before(r.ExpiresAt) {
			// The index is ordered by expiry; everything after is live.
			break
		}
		expired = append(expired, r)
	}
	for _, r := range expired {
		if err := txn.Delete(entriesTable, r); err != nil {
			return 0
		}
	}
	txn.Commit()
	return len(expired)
}

// Keys returns every stored key, expired or not, in key order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, err := c.db.Txn(false).Get(entriesTable, indexID+"_prefix", "")
	if err != nil {
		return nil
	}
	var keys []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		keys = append(keys, raw.(*row).Key)
	}
	return keys
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	return len(c.Keys())
}

// Entries returns every live entry in key order.
func (c *Cache) Entries() []tier.Entry {
	keys := c.Keys()
	entries := make([]tier.Entry, 0, len(keys))
	for _, key := range keys {
		if entry, ok := c.Get(key); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Values returns every live value in key order.
func (c *Cache) Values() []any {
	entries := c.Entries()
	values := make([]any, 0, len(entries))
	for _, entry := range entries {
		values = append(values, entry.Value)
	}
	return values
}

// Filter returns the live entries whose value satisfies keep.
func (c *Cache) Filter(keep func(key string, value any) bool) []tier.Entry {
	var matched []tier.Entry
	for _, entry := range c.Entries() {
		if keep(entry.Key, entry.Value) {
			matched = append(matched, entry)
		}
	}
	return matched
}

// Map applies fn to every live entry and returns the results in key order.
func (c *Cache) Map(fn func(key string, value any) any) []any {
	entries := c.Entries()
	mapped := make([]any, 0, len(entries))
	for _, entry := range entries {
		mapped = append(mapped, fn(entry.Key, entry.Value))
	}
	return mapped
}

// Find returns the first live entry, in key order, whose value satisfies
// match.
func (c *Cache) Find(match func(key string, value any) bool) (tier.Entry, bool) {
	for _, entry := range c.Entries() {
		if match(entry.Key, entry.Value) {
			return entry, true
		}
	}
	return tier.Entry{}, false
}

// StartPruning runs Prune every interval, replacing any running schedule.
func (c *Cache) StartPruning(interval time.Duration) {
	c.timer.Start(c.prune, interval)
}

// PausePruning stops background pruning and keeps the interval.
func (c *Cache) PausePruning() {
	c.timer.Pause()
}

// ResumePruning restarts background pruning with the kept interval.
func (c *Cache) ResumePruning() {
	c.timer.Resume(c.prune)
}

// StopPruning stops background pruning and forgets the interval.
func (c *Cache) StopPruning() {
	c.timer.Stop()
}

func (c *Cache) prune() {
	c.Prune()
}
