package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/kapilsinha/privadex/internal/chain"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
)

func planID(b byte) chain.PlanID {
	var id chain.PlanID
	for i := range id {
		id[i] = b
	}
	return id
}

// fixedClock lets tests move the assigner's time by hand.
type fixedClock struct{ now time.Time }

func (c *fixedClock) fn() func() time.Time {
	return func() time.Time { return c.now }
}

func newAssigner(lease time.Duration) (*PlanAssigner, *fixedClock) {
	clock := &fixedClock{now: time.UnixMilli(1_700_000_000_000)}
	a := NewPlanAssigner(NewMemoryStore(), lease)
	a.now = clock.fn()
	return a, clock
}

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	a, _ := newAssigner(time.Minute)
	id := planID(1)

	if _, ok, err := a.Acquire(ctx, id); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, err := a.Acquire(ctx, id); err != nil || ok {
		t.Fatalf("second acquire should lose: ok=%v err=%v", ok, err)
	}
}

func TestExpiredLeaseIsReacquirable(t *testing.T) {
	ctx := context.Background()
	a, clock := newAssigner(time.Minute)
	id := planID(1)

	if _, ok, _ := a.Acquire(ctx, id); !ok {
		t.Fatal("initial acquire failed")
	}
	// Expiry exactly at now - lease already permits the takeover.
	clock.now = clock.now.Add(time.Minute)
	if _, ok, err := a.Acquire(ctx, id); err != nil || !ok {
		t.Fatalf("takeover after expiry: ok=%v err=%v", ok, err)
	}
}

func TestRefreshDetectsTakeover(t *testing.T) {
	ctx := context.Background()
	a, clock := newAssigner(time.Minute)
	id := planID(1)

	epoch, ok, _ := a.Acquire(ctx, id)
	if !ok {
		t.Fatal("acquire failed")
	}
	clock.now = clock.now.Add(2 * time.Minute)
	if _, _, err := a.Acquire(ctx, id); err != nil {
		t.Fatalf("takeover acquire: %v", err)
	}
	_, err := a.Refresh(ctx, id, epoch)
	if !xerrors.IsCode(err, xerrors.CodeLeaseLost) {
		t.Fatalf("stale refresh should report a lost lease, got %v", err)
	}
}

func TestReleaseThenImmediateAcquire(t *testing.T) {
	ctx := context.Background()
	a, _ := newAssigner(time.Minute)
	id := planID(1)

	if _, ok, _ := a.Acquire(ctx, id); !ok {
		t.Fatal("acquire failed")
	}
	if err := a.Release(ctx, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, err := a.Acquire(ctx, id); err != nil || !ok {
		t.Fatalf("re-acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRegisterListDeregister(t *testing.T) {
	ctx := context.Background()
	a, _ := newAssigner(time.Minute)

	if err := a.Register(ctx, planID(1)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := a.Register(ctx, planID(2)); err != nil {
		t.Fatalf("register: %v", err)
	}
	ids, err := a.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("listed %d plans, want 2", len(ids))
	}
	if err := a.Deregister(ctx, planID(1)); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	ids, _ = a.List(ctx)
	if len(ids) != 1 || ids[0] != planID(2) {
		t.Fatalf("after deregister, list = %v", ids)
	}
}

func TestRegisteredPlanIsUnallocated(t *testing.T) {
	ctx := context.Background()
	a, _ := newAssigner(time.Minute)
	id := planID(9)

	if err := a.Register(ctx, id); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok, err := a.Acquire(ctx, id); err != nil || !ok {
		t.Fatalf("acquire of a fresh registration: ok=%v err=%v", ok, err)
	}
}
