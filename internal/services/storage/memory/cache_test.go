package memory

import (
	"reflect"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, clock *fakeClock, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithNow(clock.Now)}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(c.StopPruning)
	return c
}

func TestSetGetExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	if err := c.SetWithTTL("foo", 123, 1000*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	entry, ok := c.Get("foo")
	if !ok {
		t.Fatal("expected foo present")
	}
	if entry.Value != 123 {
		t.Fatalf("value = %v, want 123", entry.Value)
	}

	clock.Advance(1001 * time.Millisecond)
	if c.Has("foo") {
		t.Fatal("expected foo expired")
	}
	if _, ok := c.Get("foo"); ok {
		t.Fatal("expected get miss after expiry")
	}
}

func TestExpiryMonotonicity(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	ttl := 500 * time.Millisecond

	if err := c.SetWithTTL("k", "v", ttl); err != nil {
		t.Fatalf("set: %v", err)
	}
	for elapsed := time.Duration(0); elapsed < ttl; elapsed += 100 * time.Millisecond {
		if !c.Has("k") {
			t.Fatalf("expected present at +%v", elapsed)
		}
		clock.Advance(100 * time.Millisecond)
	}
	if c.Has("k") {
		t.Fatal("expected absent at expiry instant")
	}
}

func TestNonPositiveTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	if err := c.SetWithTTL("zero", 1, 0); err != nil {
		t.Fatalf("set zero: %v", err)
	}
	if err := c.SetWithTTL("negative", 2, -time.Second); err != nil {
		t.Fatalf("set negative: %v", err)
	}
	clock.Advance(10 * 365 * 24 * time.Hour)

	if !c.Has("zero") || !c.Has("negative") {
		t.Fatal("expected no-expiry entries to survive")
	}
	entry, _ := c.Get("zero")
	if !entry.ExpiresAt.IsZero() {
		t.Fatalf("expires = %v, want zero", entry.ExpiresAt)
	}
}

func TestSetUsesDefaultTTL(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, WithTTL(time.Minute))

	if err := c.Set("k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	entry, _ := c.Get("k")
	if want := clock.Now().Add(time.Minute); !entry.ExpiresAt.Equal(want) {
		t.Fatalf("expires = %v, want %v", entry.ExpiresAt, want)
	}
}

func TestSetReplacesValueAndExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	if err := c.SetWithTTL("k", "old", time.Second); err != nil {
		t.Fatalf("set old: %v", err)
	}
	if err := c.SetWithTTL("k", "new", 0); err != nil {
		t.Fatalf("set new: %v", err)
	}
	clock.Advance(time.Hour)

	entry, ok := c.Get("k")
	if !ok {
		t.Fatal("expected replacement to drop old expiry")
	}
	if entry.Value != "new" {
		t.Fatalf("value = %v, want new", entry.Value)
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
}

func TestSetRejectsEmptyKey(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	err := c.Set("  ", 1)
	if !apperrors.HasCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}

func TestPruneRemovesExpiredFromKeys(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	_ = c.SetWithTTL("short", 1, time.Second)
	_ = c.SetWithTTL("long", 2, time.Hour)
	_ = c.SetWithTTL("forever", 3, 0)
	clock.Advance(2 * time.Second)

	if got := c.Keys(); !reflect.DeepEqual(got, []string{"forever", "long", "short"}) {
		t.Fatalf("raw keys before prune = %v", got)
	}
	if removed := c.Prune(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if got := c.Keys(); !reflect.DeepEqual(got, []string{"forever", "long"}) {
		t.Fatalf("keys after prune = %v", got)
	}
}

func TestBulkViewsSkipExpired(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	_ = c.SetWithTTL("a", 1, time.Second)
	_ = c.SetWithTTL("b", 2, time.Hour)
	_ = c.SetWithTTL("c", 3, time.Hour)
	clock.Advance(2 * time.Second)

	if got := c.Values(); !reflect.DeepEqual(got, []any{2, 3}) {
		t.Fatalf("values = %v", got)
	}
	odd := c.Filter(func(_ string, v any) bool { return v.(int)%2 == 1 })
	if len(odd) != 1 || odd[0].Key != "c" {
		t.Fatalf("filter = %v", odd)
	}
	doubled := c.Map(func(_ string, v any) any { return v.(int) * 2 })
	if !reflect.DeepEqual(doubled, []any{4, 6}) {
		t.Fatalf("map = %v", doubled)
	}
	found, ok := c.Find(func(_ string, v any) bool { return v.(int) > 1 })
	if !ok || found.Key != "b" {
		t.Fatalf("find = %v, %v", found, ok)
	}
	// Values went through Get, so the expired row is gone.
	if got := c.Keys(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("keys = %v", got)
	}
}

func TestDeleteManyAndClear(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	for _, key := range []string{"a", "b", "c", "d"} {
		_ = c.Set(key, key)
	}

	c.DeleteMany([]string{"a", "c", ""})
	if got := c.Keys(); !reflect.DeepEqual(got, []string{"b", "d"}) {
		t.Fatalf("keys = %v", got)
	}
	c.Delete("b")
	if c.Has("b") {
		t.Fatal("expected b deleted")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len after clear = %d", c.Len())
	}
}

func TestBackgroundPruning(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	_ = c.SetWithTTL("k", 1, time.Second)
	clock.Advance(time.Minute)

	c.StartPruning(5 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected background prune to remove expired entry")
		}
		time.Sleep(time.Millisecond)
	}

	c.PausePruning()
	time.Sleep(20 * time.Millisecond)
	_ = c.SetWithTTL("k2", 1, time.Second)
	clock.Advance(time.Minute)
	time.Sleep(30 * time.Millisecond)
	if c.Len() != 1 {
		t.Fatalf("len while paused = %d, want 1", c.Len())
	}
	c.ResumePruning()
	deadline = time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected resumed prune to remove expired entry")
		}
		time.Sleep(time.Millisecond)
	}
}
