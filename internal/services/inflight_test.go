package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryInFlight(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryInFlight()

	if !m.TryAcquire(ctx, 1) {
		t.Fatal("first acquire should succeed")
	}
	if m.TryAcquire(ctx, 1) {
		t.Error("second acquire of the same config should fail")
	}
	if !m.TryAcquire(ctx, 2) {
		t.Error("other configs are independent")
	}
	if !m.Held(ctx, 1) {
		t.Error("config 1 should be held")
	}
	m.Release(ctx, 1)
	if m.Held(ctx, 1) || !m.TryAcquire(ctx, 1) {
		t.Error("released config should be acquirable again")
	}
}

func TestMemoryInFlight_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryInFlight()

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.TryAcquire(ctx, 7) {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 {
		t.Errorf("%d goroutines acquired the same config", won.Load())
	}
}

func TestDBInFlight(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	a := NewDBInFlight(db, "node-a", 10*time.Minute)
	b := NewDBInFlight(db, "node-b", 10*time.Minute)
	a.now = func() time.Time { return now }
	b.now = func() time.Time { return now }

	if !a.TryAcquire(ctx, 1) {
		t.Fatal("node-a should acquire")
	}
	if b.TryAcquire(ctx, 1) {
		t.Error("node-b must not acquire a held lock")
	}
	if !b.Held(ctx, 1) {
		t.Error("lock should be visible to node-b")
	}

	// only the holder releases
	b.Release(ctx, 1)
	if !a.Held(ctx, 1) {
		t.Error("node-b released a lock it does not hold")
	}
	a.Release(ctx, 1)
	if !b.TryAcquire(ctx, 1) {
		t.Error("node-b should acquire after release")
	}

	// a worker on node-a finishing node-b's task releases on its behalf
	if a.Owner() != "node-a" || b.Owner() != "node-b" {
		t.Errorf("owners = %q, %q", a.Owner(), b.Owner())
	}
	a.ReleaseAs(ctx, 1, b.Owner())
	if b.Held(ctx, 1) {
		t.Error("ReleaseAs should drop the row of the given owner")
	}
	if !b.TryAcquire(ctx, 1) {
		t.Fatal("node-b should acquire again")
	}

	// node-b dies, node-a takes over once the lock expired
	later := now.Add(11 * time.Minute)
	a.now = func() time.Time { return later }
	if a.Held(ctx, 1) {
		t.Error("expired lock should not count as held")
	}
	if !a.TryAcquire(ctx, 1) {
		t.Error("node-a should take over an expired lock")
	}
}
