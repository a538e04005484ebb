package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dSync/lib/shared"
)

// StoreFactory is a function that creates a new instance of an ISharedStore
// implementation under test.
type StoreFactory func(t *testing.T) shared.ISharedStore

// RunSharedStoreTests runs a conformance test suite for an ISharedStore
// implementation. Every implementation must pass this suite, in particular
// the atomicity guarantee of SetIfAbsent that the lock manager depends on.
func RunSharedStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("SetETTL", func(t *testing.T) {
			testSetETTL(t, factory(t))
		})

		t.Run("SetIfAbsent", func(t *testing.T) {
			testSetIfAbsent(t, factory(t))
		})

		t.Run("SetIfAbsentConcurrent", func(t *testing.T) {
			testSetIfAbsentConcurrent(t, factory(t))
		})

		t.Run("Expire", func(t *testing.T) {
			testExpire(t, factory(t))
		})

		t.Run("KeysByPrefix", func(t *testing.T) {
			testKeysByPrefix(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, store shared.ISharedStore) {
	defer func() { _ = store.Close() }()

	if err := store.Set("key1", []byte("value1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, loaded, err := store.Get("key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !loaded {
		t.Fatal("Get should find the key")
	}
	if !bytes.Equal(value, []byte("value1")) {
		t.Errorf("Get returned %q, want %q", value, "value1")
	}

	// overwrite
	if err := store.Set("key1", []byte("value2")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, _, _ = store.Get("key1")
	if !bytes.Equal(value, []byte("value2")) {
		t.Errorf("Get after overwrite returned %q, want %q", value, "value2")
	}

	// missing key
	_, loaded, err = store.Get("missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded {
		t.Error("Get should not find a missing key")
	}
}

func testDelete(t *testing.T, store shared.ISharedStore) {
	defer func() { _ = store.Close() }()

	if err := store.Set("key1", []byte("value1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Delete("key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, loaded, _ := store.Get("key1")
	if loaded {
		t.Error("key should be gone after Delete")
	}

	// deleting a missing key must not error
	if err := store.Delete("missing"); err != nil {
		t.Errorf("Delete of missing key should be a no-op, got %v", err)
	}
}

func testSetETTL(t *testing.T, store shared.ISharedStore) {
	defer func() { _ = store.Close() }()

	if err := store.SetE("short", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("SetE failed: %v", err)
	}
	if err := store.SetE("long", []byte("v"), time.Minute); err != nil {
		t.Fatalf("SetE failed: %v", err)
	}

	if _, loaded, _ := store.Get("short"); !loaded {
		t.Fatal("key should exist right after SetE")
	}

	time.Sleep(120 * time.Millisecond)

	if _, loaded, _ := store.Get("short"); loaded {
		t.Error("key should be expired")
	}
	if _, loaded, _ := store.Get("long"); !loaded {
		t.Error("unexpired key should still exist")
	}
}

func testSetIfAbsent(t *testing.T, store shared.ISharedStore) {
	defer func() { _ = store.Close() }()

	inserted, err := store.SetIfAbsent("key1", []byte("first"), time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent failed: %v", err)
	}
	if !inserted {
		t.Fatal("first SetIfAbsent should insert")
	}

	inserted, err = store.SetIfAbsent("key1", []byte("second"), time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent failed: %v", err)
	}
	if inserted {
		t.Error("second SetIfAbsent should not insert")
	}

	value, _, _ := store.Get("key1")
	if !bytes.Equal(value, []byte("first")) {
		t.Errorf("value should be unchanged, got %q", value)
	}

	// after expiry the key is up for grabs again
	if _, err := store.SetIfAbsent("key2", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("SetIfAbsent failed: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	inserted, err = store.SetIfAbsent("key2", []byte("v2"), time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent failed: %v", err)
	}
	if !inserted {
		t.Error("SetIfAbsent should insert after the previous value expired")
	}
}

func testSetIfAbsentConcurrent(t *testing.T, store shared.ISharedStore) {
	defer func() { _ = store.Close() }()

	const contenders = 32

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			inserted, err := store.SetIfAbsent("contested", []byte(fmt.Sprintf("owner-%d", n)), time.Minute)
			if err != nil {
				t.Errorf("SetIfAbsent failed: %v", err)
				return
			}
			if inserted {
				successes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Errorf("exactly one concurrent SetIfAbsent should win, got %d", got)
	}
}

func testExpire(t *testing.T, store shared.ISharedStore) {
	defer func() { _ = store.Close() }()

	if err := store.SetE("key1", []byte("v"), 80*time.Millisecond); err != nil {
		t.Fatalf("SetE failed: %v", err)
	}

	// keep refreshing past the original TTL
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		if err := store.Expire("key1", 80*time.Millisecond); err != nil {
			t.Fatalf("Expire failed: %v", err)
		}
	}

	if _, loaded, _ := store.Get("key1"); !loaded {
		t.Error("refreshed key should still exist")
	}

	// refreshing a missing key is a no-op
	if err := store.Expire("missing", time.Minute); err != nil {
		t.Errorf("Expire of missing key should be a no-op, got %v", err)
	}
	if _, loaded, _ := store.Get("missing"); loaded {
		t.Error("Expire must not create keys")
	}
}

func testKeysByPrefix(t *testing.T, store shared.ISharedStore) {
	defer func() { _ = store.Close() }()

	for _, key := range []string{"app:lock:a", "app:lock:b", "app:data:c", "other:lock:d"} {
		if err := store.Set(key, []byte("v")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	keys, err := store.Keys("app:lock:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Keys returned %d keys, want 2: %v", len(keys), keys)
	}
	for _, key := range keys {
		if key != "app:lock:a" && key != "app:lock:b" {
			t.Errorf("unexpected key %q", key)
		}
	}
}
