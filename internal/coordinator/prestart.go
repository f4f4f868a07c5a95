package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/kapilsinha/privadex/internal/chain"
)

// prestartDedupKey is the single document of consumed prestart hashes.
const prestartDedupKey = "prestart_dedup"

// PrestartDedup guards against two plans claiming the same user deposit.
// The consumed set only ever grows; the conditional add is what makes the
// first plan win and every later one abort.
type PrestartDedup struct {
	store Store
	now   func() time.Time
}

// NewPrestartDedup creates the dedup guard.
func NewPrestartDedup(store Store) *PrestartDedup {
	return &PrestartDedup{store: store, now: time.Now}
}

// Register records the prestart transaction hash if it has never been seen.
// Returns true when this plan consumed the hash, false when another plan
// got there first.
func (p *PrestartDedup) Register(ctx context.Context, txHash chain.Hash) (bool, error) {
	hexHash := txHash.Hex()
	_, err := p.store.ConditionalUpdate(ctx, prestartDedupKey,
		[]Condition{
			{Op: CondNotContains, Path: []string{"consumed_tx_hashes"}, Value: hexHash},
		},
		[]Mutation{
			{Op: MutSet, Path: []string{"last_update_epoch_ms"}, Value: p.now().UnixMilli()},
			{Op: MutSetAdd, Path: []string{"consumed_tx_hashes"}, Value: hexHash},
		},
	)
	if errors.Is(err, ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
