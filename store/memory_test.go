package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jassus213/go-admission/store"
)

func TestMemoryStore_CountsWithinWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	st := store.NewMemory(context.Background(), 0, store.WithMemoryClock(clock.Now))
	start := clock.Now()

	for i := int64(1); i <= 3; i++ {
		c, err := st.Increment(context.Background(), "k", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Count != i {
			t.Fatalf("expected count %d got %d", i, c.Count)
		}
		if !c.ResetAt.Equal(start.Add(time.Minute)) {
			t.Fatalf("window must stay anchored at first hit, got reset %v", c.ResetAt)
		}
		clock.Advance(10 * time.Second)
	}
}

func TestMemoryStore_ResetsExactlyAtWindowEnd(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	st := store.NewMemory(context.Background(), 0, store.WithMemoryClock(clock.Now))
	ctx := context.Background()

	if _, err := st.Increment(ctx, "k", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(time.Minute - time.Nanosecond)
	c, _ := st.Increment(ctx, "k", time.Minute)
	if c.Count != 2 {
		t.Fatalf("expected count 2 before rollover, got %d", c.Count)
	}

	clock.Advance(time.Nanosecond)
	c, _ = st.Increment(ctx, "k", time.Minute)
	if c.Count != 1 {
		t.Fatalf("expected reset at now-windowStart == window, got %d", c.Count)
	}
	if !c.ResetAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("expected new window anchored at now")
	}
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	st := store.NewMemory(context.Background(), 0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = st.Increment(ctx, "a", time.Minute)
	}
	c, _ := st.Increment(ctx, "b", time.Minute)
	if c.Count != 1 {
		t.Fatalf("expected independent counter, got %d", c.Count)
	}
}

func TestMemoryStore_ConcurrentIncrementsAreAtomic(t *testing.T) {
	t.Parallel()

	st := store.NewMemory(context.Background(), 0)
	const workers = 64
	var (
		wg   sync.WaitGroup
		seen [workers + 1]atomic.Int32
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
			seen[c.Count].Add(1)
		}()
	}
	wg.Wait()

	for n := 1; n <= workers; n++ {
		if seen[n].Load() != 1 {
			t.Fatalf("count %d observed %d times, want exactly once", n, seen[n].Load())
		}
	}
}

func TestMemoryStore_SweepRemovesExpired(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	st := store.NewMemory(context.Background(), 0, store.WithMemoryClock(clock.Now))
	ctx := context.Background()
	_, _ = st.Increment(ctx, "short", time.Second)
	_, _ = st.Increment(ctx, "long", time.Hour)

	clock.Advance(2 * time.Second)
	if removed := st.Sweep(); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if st.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", st.Len())
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()

	st := store.NewMemory(context.Background(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := st.Increment(ctx, "k", time.Minute); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}
