package coordinator

import (
	"context"
	"testing"

	"github.com/kapilsinha/privadex/internal/chain"
)

func testSigner() chain.Address {
	addr, _ := chain.HexToEthAddress("0x05a81d8564a3ea298660e34e03e5eff9a29d7a2a")
	return chain.NewEthAddress(addr)
}

func newNonceManager(t *testing.T) (*NonceManager, Store) {
	t.Helper()
	store := NewMemoryStore()
	return NewNonceManager(store, 1, testSigner()), store
}

func stepID(b byte) chain.StepID {
	var id chain.StepID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestColdStartInitialisesFromSystemNonce(t *testing.T) {
	ctx := context.Background()
	nm, store := newNonceManager(t)

	nonce, err := nm.Acquire(ctx, stepID(1), 10_000, 40)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if nonce != 40 {
		t.Fatalf("cold start nonce = %d, want the on-chain nonce 40", nonce)
	}
	doc, _ := store.Get(ctx, nm.key())
	if n, _ := NumberAt(doc, "next_nonce"); n != 41 {
		t.Fatalf("next_nonce = %d, want 41", n)
	}
	if n, _ := NumberAt(doc, "block_at_last_confirmed_nonce"); n != 10_000 {
		t.Fatalf("block_at_last_confirmed_nonce = %d, want 10000", n)
	}
}

func TestFreshAssignmentTakesNextNonce(t *testing.T) {
	ctx := context.Background()
	nm, _ := newNonceManager(t)

	if _, err := nm.Acquire(ctx, stepID(1), 100, 0); err != nil {
		t.Fatalf("cold start: %v", err)
	}
	nonce, err := nm.Acquire(ctx, stepID(2), 101, 0)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if nonce != 1 {
		t.Fatalf("second nonce = %d, want 1", nonce)
	}
}

func TestExistingAssignmentIsStable(t *testing.T) {
	ctx := context.Background()
	nm, _ := newNonceManager(t)

	first, err := nm.Acquire(ctx, stepID(1), 100, 7)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	again, err := nm.Acquire(ctx, stepID(1), 150, 99)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if first != again {
		t.Fatalf("re-acquire returned %d, want the original %d", again, first)
	}
}

func TestReclaimIsFIFO(t *testing.T) {
	ctx := context.Background()
	nm, store := newNonceManager(t)

	// Three live assignments: nonces 5, 6, 7.
	for i, b := range []byte{1, 2, 3} {
		if _, err := nm.Acquire(ctx, stepID(b), uint64(100+i), 5); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	// Drop 5 then 7; the keeper (6) stays pending.
	if err := nm.Drop(ctx, stepID(1)); err != nil {
		t.Fatalf("drop 5: %v", err)
	}
	if err := nm.Drop(ctx, stepID(3)); err != nil {
		t.Fatalf("drop 7: %v", err)
	}

	nonce, err := nm.Acquire(ctx, stepID(4), 200, 99)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if nonce != 5 {
		t.Fatalf("reclaimed %d, want 5 (head of the dropped list)", nonce)
	}
	nonce, err = nm.Acquire(ctx, stepID(5), 201, 99)
	if err != nil {
		t.Fatalf("second reclaim: %v", err)
	}
	if nonce != 7 {
		t.Fatalf("second reclaim %d, want 7", nonce)
	}
	doc, _ := store.Get(ctx, nm.key())
	if n := listLen(doc["dropped_nonces"]); n != 0 {
		t.Fatalf("dropped_nonces still holds %d entries", n)
	}
}

func listLen(v any) int {
	list, ok := v.([]any)
	if !ok {
		return 0
	}
	return len(list)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	nm, store := newNonceManager(t)

	if _, err := nm.Acquire(ctx, stepID(1), 100, 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := nm.Finalize(ctx, stepID(1), 110); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := nm.Finalize(ctx, stepID(1), 111); err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	doc, _ := store.Get(ctx, nm.key())
	if HasPath(doc, "pending", stepAttr(stepID(1))) {
		t.Fatal("pending entry survived finalize")
	}
}

func TestDropAfterFinalizeIsNoOp(t *testing.T) {
	ctx := context.Background()
	nm, store := newNonceManager(t)

	if _, err := nm.Acquire(ctx, stepID(1), 100, 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := nm.Finalize(ctx, stepID(1), 110); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := nm.Drop(ctx, stepID(1)); err != nil {
		t.Fatalf("drop after finalize should be a no-op: %v", err)
	}
	doc, _ := store.Get(ctx, nm.key())
	if n := listLen(doc["dropped_nonces"]); n != 0 {
		t.Fatal("finalized nonce leaked into the dropped list")
	}
}
