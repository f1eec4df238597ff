package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	clock := &fakeClock{t: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)}
	cache.now = clock.now
	ctx := context.Background()
	companyID := "company-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, companyID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, companyID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, companyID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, companyID, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, companyID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, companyID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, companyID, "expiring", []byte("temp"), 10*time.Second)

		val, _ := cache.Get(ctx, companyID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		clock.advance(11 * time.Second)

		val, _ = cache.Get(ctx, companyID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, companyID, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, companyID, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, companyID, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' becomes the oldest.
		_, _ = small.Get(ctx, companyID, "a")
		_ = small.Set(ctx, companyID, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, companyID, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, companyID, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("CompanyIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "company-001", "dashboard", []byte("one"), time.Minute)
		_ = cache.Set(ctx, "company-002", "dashboard", []byte("two"), time.Minute)

		val1, _ := cache.Get(ctx, "company-001", "dashboard")
		val2, _ := cache.Get(ctx, "company-002", "dashboard")

		if string(val1) != "one" {
			t.Errorf("expected 'one', got '%s'", string(val1))
		}
		if string(val2) != "two" {
			t.Errorf("expected 'two', got '%s'", string(val2))
		}
	})

	t.Run("RequiresCompanyID", func(t *testing.T) {
		err := cache.Set(ctx, "", "key", []byte("value"), time.Minute)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}

		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty companyID")
		}
		if _, err := cache.IncrementCounter(ctx, "", "scans", time.Minute); err == nil {
			t.Error("expected error for empty companyID")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := time.Minute

		count1, err := cache.IncrementCounter(ctx, companyID, "scans", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		clock.advance(30 * time.Second)
		if count2, _ := cache.IncrementCounter(ctx, companyID, "scans", window); count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		clock.advance(31 * time.Second)
		if count3, _ := cache.IncrementCounter(ctx, companyID, "scans", window); count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("JSONHelpers", func(t *testing.T) {
		in := domain.DetectionStats{Total: 3, Resolved: 1, Unresolved: 2}
		if err := SetJSON(ctx, cache, companyID, "stats", in, time.Minute); err != nil {
			t.Fatalf("SetJSON failed: %v", err)
		}

		var out domain.DetectionStats
		ok, err := GetJSON(ctx, cache, companyID, "stats", &out)
		if err != nil || !ok {
			t.Fatalf("GetJSON failed: ok=%v err=%v", ok, err)
		}
		if out.Total != 3 || out.Unresolved != 2 {
			t.Errorf("unexpected decoded stats: %+v", out)
		}

		ok, err = GetJSON(ctx, cache, companyID, "missing", &out)
		if err != nil || ok {
			t.Errorf("expected clean miss, got ok=%v err=%v", ok, err)
		}

		_ = cache.Set(ctx, companyID, "garbage", []byte("{"), time.Minute)
		if _, err := GetJSON(ctx, cache, companyID, "garbage", &out); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, companyID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, companyID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, companyID, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		if val, _ := testCache.Get(ctx, companyID, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
		if RedisClient(c) != nil {
			t.Error("memory cache should expose no redis client")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
