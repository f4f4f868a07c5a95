// Package bridge holds the destination-side arrival check shared by the
// chain adapters.
package bridge

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/kapilsinha/privadex/internal/chain"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
	"github.com/kapilsinha/privadex/internal/plan"
)

// BalanceReader is the slice of an adapter the arrival check needs.
type BalanceReader interface {
	Balance(ctx context.Context, token chain.TokenKey, addr chain.Address) (*chain.Amount, error)
}

// PollArrival observes a bridge message landing by watching the escrow's
// destination-token balance rise past the level sampled before the source
// extrinsic was submitted. A message cannot be keyed to a destination
// event directly, so the credited amount is matched by window: at least
// the transferred amount minus twice the estimated bridge fee (the fee is
// charged out of the transferred asset on arrival).
func PollArrival(ctx context.Context, reader BalanceReader, step *plan.Step) (chain.DestPollResult, error) {
	if !step.IsCrossChain() {
		return chain.DestPollResult{}, xerrors.New(xerrors.CodeInvalidArgument,
			"destination poll on a single-chain step")
	}
	if step.Cross.DestBalanceBefore == nil || step.AmountIn == nil {
		return chain.DestPollResult{}, xerrors.New(xerrors.CodeInvalidArgument,
			"destination poll before balance baseline was sampled")
	}

	now, err := reader.Balance(ctx, step.Xcm.DestToken.Key, step.Common.DestAddr)
	if err != nil {
		return chain.DestPollResult{}, err
	}
	if now.Cmp(step.Cross.DestBalanceBefore) <= 0 {
		return chain.DestPollResult{}, nil
	}
	delta := new(uint256.Int).Sub(now, step.Cross.DestBalanceBefore)

	threshold := new(uint256.Int).Set(step.AmountIn)
	if step.Xcm.BridgeFee != nil {
		fee2 := new(uint256.Int).Lsh(step.Xcm.BridgeFee, 1)
		if threshold.Cmp(fee2) > 0 {
			threshold.Sub(threshold, fee2)
		} else {
			threshold.SetOne()
		}
	}
	if delta.Cmp(threshold) < 0 {
		// Some other credit landed but not ours yet.
		return chain.DestPollResult{}, nil
	}
	return chain.DestPollResult{Arrived: true, AmountReceived: delta}, nil
}
