package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type point struct {
	X, Y float64
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	if err := mc.Set(ctx, "p", point{1, 2}, time.Minute); err != nil {
		t.Fatal(err)
	}
	var got point
	if err := mc.Get(ctx, "p", &got); err != nil || got != (point{1, 2}) {
		t.Fatalf("get: %+v, %v", got, err)
	}

	var s string
	_ = mc.Set(ctx, "s", "text", 0)
	if err := mc.Get(ctx, "s", &s); err != nil || s != "text" {
		t.Errorf("string value: %q, %v", s, err)
	}

	if err := mc.Get(ctx, "missing", &got); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected miss, got %v", err)
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()

	_ = mc.Set(ctx, "a", 1, 0)
	_ = mc.Set(ctx, "b", 2, 0)
	var v int
	_ = mc.Get(ctx, "a", &v) // a is now most recent
	_ = mc.Set(ctx, "c", 3, 0)

	if ok, _ := mc.Exists(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if ok, _ := mc.Exists(ctx, k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	if mc.Len() != 2 {
		t.Errorf("len: got %d", mc.Len())
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	now := time.Unix(1000, 0)
	mc.now = func() time.Time { return now }

	_ = mc.Set(ctx, "k", 1, time.Second)
	now = now.Add(2 * time.Second)

	var v int
	if err := mc.Get(ctx, "k", &v); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expired entry returned: %v", err)
	}

	_ = mc.Set(ctx, "old", 1, time.Second)
	_ = mc.Set(ctx, "new", 1, time.Hour)
	now = now.Add(2 * time.Second)
	mc.removeExpired()
	if mc.Len() != 1 {
		t.Errorf("cleanup should leave one entry, got %d", mc.Len())
	}
}

func TestMemoryCacheTryLock(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	if ok, _ := mc.TryLock(ctx, "hit:1", time.Minute); !ok {
		t.Fatal("first lock should succeed")
	}
	if ok, _ := mc.TryLock(ctx, "hit:1", time.Minute); ok {
		t.Error("second lock should fail")
	}
	_ = mc.Delete(ctx, "hit:1")
	if ok, _ := mc.TryLock(ctx, "hit:1", time.Minute); !ok {
		t.Error("lock should succeed after delete")
	}
}

func TestLayeredCache(t *testing.T) {
	ctx := context.Background()
	l2 := NewMemoryCache()
	lc := NewLayeredCache(l2, 10, time.Minute)
	defer lc.Close()

	if err := lc.Set(ctx, "p", point{3, 4}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if ok, _ := l2.Exists(ctx, "p"); !ok {
		t.Fatal("write should reach L2")
	}

	// fill L1 from L2 on miss
	_ = l2.Set(ctx, "q", point{5, 6}, time.Hour)
	var got point
	if err := lc.Get(ctx, "q", &got); err != nil || got != (point{5, 6}) {
		t.Fatalf("L2 read: %+v, %v", got, err)
	}
	if ok, _ := lc.l1.Exists(ctx, "q"); !ok {
		t.Error("L2 hit should populate L1")
	}

	_ = lc.Delete(ctx, "p")
	if err := lc.Get(ctx, "p", &got); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("deleted key: %v", err)
	}
}

func TestGenerateKeyAndHash(t *testing.T) {
	if got := GenerateKey("fit", "profile", 3); got != "fit:profile:3" {
		t.Errorf("GenerateKey: %s", got)
	}
	if h := HashKey([]byte("abc")); len(h) != 64 || h != HashKey([]byte("abc")) {
		t.Errorf("HashKey not stable hex sha256: %s", h)
	}
}
