package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newMemoryForTest(t *testing.T) (*Memory, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := NewMemory(clock)
	t.Cleanup(store.Close)
	return store, clock
}

func TestMemorySetGet(t *testing.T) {
	store, _ := newMemoryForTest(t)
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "v" {
		t.Fatalf("Get = %q, want %q", got, "v")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	store, clock := newMemoryForTest(t)
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}

	clock.Advance(59 * time.Second)
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	clock.Advance(2 * time.Second)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after expiry = %v, want ErrNotFound", err)
	}
}

func TestMemoryGetAndDeleteOnce(t *testing.T) {
	store, _ := newMemoryForTest(t)
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "code", "123456", time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}

	got, err := store.GetAndDelete(ctx, "code")
	if err != nil {
		t.Fatalf("first GetAndDelete: %v", err)
	}
	if got != "123456" {
		t.Fatalf("GetAndDelete = %q, want %q", got, "123456")
	}

	if _, err := store.GetAndDelete(ctx, "code"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second GetAndDelete = %v, want ErrNotFound", err)
	}
}

func TestMemoryIncrementWindow(t *testing.T) {
	store, clock := newMemoryForTest(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrementWithTTL(ctx, "ctr", time.Hour)
		if err != nil {
			t.Fatalf("IncrementWithTTL: %v", err)
		}
		if got != want {
			t.Fatalf("IncrementWithTTL = %d, want %d", got, want)
		}
	}

	// TTL is anchored at the first hit, later hits do not extend it.
	clock.Advance(59 * time.Minute)
	if _, err := store.IncrementWithTTL(ctx, "ctr", time.Hour); err != nil {
		t.Fatalf("IncrementWithTTL near window end: %v", err)
	}
	clock.Advance(2 * time.Minute)

	got, err := store.IncrementWithTTL(ctx, "ctr", time.Hour)
	if err != nil {
		t.Fatalf("IncrementWithTTL after window: %v", err)
	}
	if got != 1 {
		t.Fatalf("counter after window = %d, want 1", got)
	}
}

func TestMemoryTTL(t *testing.T) {
	store, clock := newMemoryForTest(t)
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "k", "v", 5*time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	clock.Advance(time.Minute)

	d, err := store.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if d != 4*time.Minute {
		t.Fatalf("TTL = %v, want %v", d, 4*time.Minute)
	}

	if _, err := store.TTL(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("TTL missing = %v, want ErrNotFound", err)
	}
}

func TestMemoryJanitorSweep(t *testing.T) {
	store, clock := newMemoryForTest(t)
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "short", "v", 30*time.Second); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	if err := store.SetWithTTL(ctx, "long", "v", time.Hour); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}

	clock.Advance(time.Minute)
	removed := store.sweep()
	if removed != 1 {
		t.Fatalf("sweep removed %d entries, want 1", removed)
	}

	store.mu.Lock()
	_, shortLeft := store.entries["short"]
	_, longLeft := store.entries["long"]
	store.mu.Unlock()
	if shortLeft {
		t.Fatal("expired entry survived the sweep")
	}
	if !longLeft {
		t.Fatal("live entry was swept")
	}
}

func TestMemoryDelete(t *testing.T) {
	store, _ := newMemoryForTest(t)
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "a", "1", time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	if err := store.Delete(ctx, "a", "never-existed"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}
