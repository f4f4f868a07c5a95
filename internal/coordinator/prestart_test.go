package coordinator

import (
	"context"
	"testing"

	"github.com/kapilsinha/privadex/internal/chain"
)

func TestPrestartDedupFirstWins(t *testing.T) {
	ctx := context.Background()
	dedup := NewPrestartDedup(NewMemoryStore())

	hash, err := chain.HexToHash("0x000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	if err != nil {
		t.Fatalf("parse hash: %v", err)
	}
	fresh, err := dedup.Register(ctx, hash)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	if !fresh {
		t.Fatal("first registration should win")
	}
	fresh, err = dedup.Register(ctx, hash)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if fresh {
		t.Fatal("replayed hash must be rejected")
	}
}

func TestPrestartDedupGrowsMonotonically(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dedup := NewPrestartDedup(store)

	for b := byte(0); b < 5; b++ {
		var h chain.Hash
		h[0] = b
		if _, err := dedup.Register(ctx, h); err != nil {
			t.Fatalf("register %d: %v", b, err)
		}
	}
	doc, _ := store.Get(ctx, prestartDedupKey)
	if got := len(StringsAt(doc, "consumed_tx_hashes")); got != 5 {
		t.Fatalf("consumed set has %d entries, want 5", got)
	}
}
