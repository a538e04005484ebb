package cache

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGetPut(t *testing.T) {
	c := New[string](Options{Name: "test-getput"})

	if _, ok := c.Get("missing"); ok {
		t.Error("empty cache should miss")
	}

	c.Put("a", "1")
	value, ok := c.Get("a")
	if !ok || value != "1" {
		t.Errorf("Get returned (%q, %t), want (\"1\", true)", value, ok)
	}

	c.Put("a", "2")
	if value, _ := c.Get("a"); value != "2" {
		t.Errorf("Get after overwrite returned %q, want %q", value, "2")
	}
}

func TestPutIfAbsent(t *testing.T) {
	c := New[string](Options{Name: "test-pia"})

	if !c.PutIfAbsent("a", "first") {
		t.Error("first PutIfAbsent should insert")
	}
	if c.PutIfAbsent("a", "second") {
		t.Error("second PutIfAbsent should not insert")
	}
	if value, _ := c.Get("a"); value != "first" {
		t.Errorf("value should be unchanged, got %q", value)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New[string](Options{Name: "test-ttl", TTL: 50 * time.Millisecond})

	c.Put("a", "1")
	if _, ok := c.Get("a"); !ok {
		t.Fatal("fresh entry should hit")
	}

	time.Sleep(80 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("expired entry should miss")
	}
	if c.Contains("a") {
		t.Error("expired entry should not be contained")
	}
}

func TestCleanUp(t *testing.T) {
	c := New[string](Options{Name: "test-cleanup", TTL: 30 * time.Millisecond})

	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("key-%d", i), "v")
	}
	time.Sleep(60 * time.Millisecond)

	c.CleanUp()

	if size := c.Size(); size != 0 {
		t.Errorf("CleanUp should remove all expired entries, %d left", size)
	}
	if stats := c.Stats(); stats.Evictions < 10 {
		t.Errorf("evictions not counted, got %d", stats.Evictions)
	}
}

func TestMaxEntries(t *testing.T) {
	c := New[int](Options{Name: "test-bound", MaxEntries: 64, NumShards: 4})

	for i := 0; i < 1000; i++ {
		c.Put(fmt.Sprintf("key-%d", i), i)
	}

	if size := c.Size(); size > 64 {
		t.Errorf("cache grew to %d entries, bound is 64", size)
	}
	if stats := c.Stats(); stats.Evictions == 0 {
		t.Error("bounded cache under pressure should evict")
	}
}

func TestGetOrLoad(t *testing.T) {
	c := New[string](Options{Name: "test-load"})

	loads := 0
	loader := func(key string) (string, bool) {
		loads++
		if key == "absent" {
			return "", false
		}
		return "loaded:" + key, true
	}

	value, ok := c.GetOrLoad("a", loader)
	if !ok || value != "loaded:a" {
		t.Fatalf("GetOrLoad returned (%q, %t)", value, ok)
	}
	if loads != 1 {
		t.Fatalf("loader should have run once, ran %d times", loads)
	}

	// second call is served from the cache
	if _, ok := c.GetOrLoad("a", loader); !ok {
		t.Fatal("GetOrLoad should hit")
	}
	if loads != 1 {
		t.Errorf("loader should not run on a hit, ran %d times", loads)
	}

	// a loader reporting absence caches nothing
	if _, ok := c.GetOrLoad("absent", loader); ok {
		t.Error("GetOrLoad should report absence")
	}
	if c.Contains("absent") {
		t.Error("absent keys must not be cached")
	}
}

func TestInvalidate(t *testing.T) {
	c := New[string](Options{Name: "test-inv"})

	c.Put("p1/inv/main", "a")
	c.Put("p1/inv/alt", "b")
	c.Put("p2/inv/main", "c")

	c.Invalidate("p1/inv/alt")
	if c.Contains("p1/inv/alt") {
		t.Error("invalidated key should be gone")
	}

	removed := c.InvalidateIf(func(key string) bool {
		return strings.HasPrefix(key, "p1/")
	})
	if removed != 1 {
		t.Errorf("InvalidateIf removed %d entries, want 1", removed)
	}
	if !c.Contains("p2/inv/main") {
		t.Error("unmatched key should survive InvalidateIf")
	}

	c.InvalidateAll()
	if c.Size() != 0 {
		t.Error("InvalidateAll should empty the cache")
	}
}

func TestStats(t *testing.T) {
	c := New[string](Options{Name: "test-stats"})

	c.Put("a", "1")
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 2 {
		t.Errorf("hits = %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("misses = %d, want 1", stats.Misses)
	}
	if rate := stats.HitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("hit rate = %f, want 2/3", rate)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](Options{Name: "test-conc", MaxEntries: 128})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("key-%d", i%64)
				c.Put(key, worker)
				c.Get(key)
				if i%50 == 0 {
					c.Invalidate(key)
				}
			}
		}(w)
	}
	wg.Wait()

	if size := c.Size(); size > 128 {
		t.Errorf("cache exceeded its bound under concurrency: %d", size)
	}
}

func TestNoopCache(t *testing.T) {
	c := NewNoop[string]()

	c.Put("a", "1")
	if _, ok := c.Get("a"); ok {
		t.Error("noop cache should never hit")
	}
	if c.PutIfAbsent("a", "1") {
		t.Error("noop PutIfAbsent should never insert")
	}

	// loaders still run, results are just not cached
	value, ok := c.GetOrLoad("a", func(key string) (string, bool) {
		return "loaded", true
	})
	if !ok || value != "loaded" {
		t.Errorf("noop GetOrLoad returned (%q, %t)", value, ok)
	}
	if c.Size() != 0 || c.Contains("a") {
		t.Error("noop cache should stay empty")
	}
}
