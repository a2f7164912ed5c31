package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jassus213/go-admission/store"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *store.RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, store.NewRedis(client)
}

func TestRedisStore_IncrementSetsWindow(t *testing.T) {
	t.Parallel()

	mr, st := newTestRedis(t)
	ctx := context.Background()

	before := time.Now()
	c, err := st.Increment(ctx, "rl:email:1.2.3.4", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Count != 1 {
		t.Fatalf("expected 1 got %d", c.Count)
	}
	if c.ResetAt.Before(before.Add(59*time.Minute)) || c.ResetAt.After(time.Now().Add(time.Hour)) {
		t.Fatalf("reset %v outside expected window", c.ResetAt)
	}
	if ttl := mr.TTL("rl:email:1.2.3.4"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %v", ttl)
	}

	c, err = st.Increment(ctx, "rl:email:1.2.3.4", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Count != 2 {
		t.Fatalf("expected 2 got %d", c.Count)
	}
}

func TestRedisStore_ResetsAfterExpiry(t *testing.T) {
	t.Parallel()

	mr, st := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := st.Increment(ctx, "k", time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	mr.FastForward(time.Minute)

	c, err := st.Increment(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Count != 1 {
		t.Fatalf("expected fresh window, got %d", c.Count)
	}
}

func TestRedisStore_RepairsMissingTTL(t *testing.T) {
	t.Parallel()

	mr, st := newTestRedis(t)
	if err := mr.Set("k", "4"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	c, err := st.Increment(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Count != 5 {
		t.Fatalf("expected 5 got %d", c.Count)
	}
	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Fatalf("expected ttl to be repaired, got %v", ttl)
	}
}

func TestRedisStore_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	_, st := newTestRedis(t)
	const workers = 25
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]int{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := st.Increment(context.Background(), "hot", time.Minute)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			seen[c.Count]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers {
		t.Fatalf("expected %d distinct counts, got %d", workers, len(seen))
	}
}

func TestRedisStore_PingFailsWhenDown(t *testing.T) {
	t.Parallel()

	mr, st := newTestRedis(t)
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("expected ping ok, got %v", err)
	}
	mr.Close()
	if err := st.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error after shutdown")
	}
}
