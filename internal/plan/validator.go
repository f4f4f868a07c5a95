package plan

import (
	"fmt"

	"github.com/kapilsinha/privadex/internal/chain"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
)

// EscrowLookup resolves the pool escrow address on a chain. The registry
// provides it in production; tests hand in a fake.
type EscrowLookup func(chain.ID) (chain.Address, bool)

// Validate checks the structural invariants of a freshly loaded plan.
// A failure is an INVALID_PLAN error: the plan aborts and is never retried.
func Validate(p *ExecutionPlan, escrow EscrowLookup) error {
	if p == nil {
		return invalid("plan is nil")
	}
	if len(p.Paths) == 0 {
		return invalid("plan has no paths")
	}
	if p.Prestart == nil || p.Postend == nil {
		return invalid("plan lacks prestart or postend transfer")
	}
	if !isTransferKind(p.Prestart.Kind) {
		return invalid("prestart must be a native or ERC-20 transfer")
	}
	if !isTransferKind(p.Postend.Kind) {
		return invalid("postend must be a native or ERC-20 transfer")
	}
	if p.Prestart.Eth == nil || p.Prestart.Eth.TxHash.IsZero() {
		// The deposit is the user's transaction; the plan must arrive with
		// its hash already observed.
		return invalid("prestart carries no transaction hash")
	}
	if !p.Prestart.Common.SrcAddr.Equal(p.UserSrcAddr) {
		return invalid("prestart source must be the user's source address")
	}
	if !p.Postend.Common.DestAddr.Equal(p.UserDestAddr) {
		return invalid("postend destination must be the user's destination address")
	}
	if escrow != nil {
		if esc, ok := escrow(p.Prestart.SrcChain()); !ok || !p.Prestart.Common.DestAddr.Equal(esc) {
			return invalid("prestart destination must be the source-chain escrow")
		}
		if esc, ok := escrow(p.Postend.SrcChain()); !ok || !p.Postend.Common.SrcAddr.Equal(esc) {
			return invalid("postend source must be the destination-chain escrow")
		}
	}

	for pi, path := range p.Paths {
		if err := validatePath(pi, path); err != nil {
			return err
		}
	}
	return nil
}

func validatePath(pi int, path *Path) error {
	if len(path.Steps) == 0 {
		return invalid(fmt.Sprintf("path %d has no steps", pi))
	}
	if path.Steps[0].AmountIn == nil {
		return invalid(fmt.Sprintf("path %d first step has no amount in", pi))
	}
	for si, step := range path.Steps {
		switch step.Kind {
		case KindWrap, KindUnwrap:
			if !step.Common.SrcAddr.Equal(step.Common.DestAddr) {
				return invalid(fmt.Sprintf("path %d step %d: wrap/unwrap source and destination must match", pi, si))
			}
		case KindDexSwap:
			if len(step.DexSwap.TokenPath) < 2 {
				return invalid(fmt.Sprintf("path %d step %d: swap needs at least two tokens", pi, si))
			}
			first := step.DexSwap.TokenPath[0].Chain
			for _, tok := range step.DexSwap.TokenPath[1:] {
				if tok.Chain != first {
					return invalid(fmt.Sprintf("path %d step %d: swap token path crosses chains", pi, si))
				}
			}
		case KindXcmTransfer:
			if step.Xcm.DestLocation.HasPlaceholder() {
				return invalid(fmt.Sprintf("path %d step %d: bridge destination still has a placeholder", pi, si))
			}
		}
	}
	for i := 0; i+1 < len(path.Steps); i++ {
		if err := validateAdjacent(pi, i, path.Steps[i], path.Steps[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// validateAdjacent enforces the pairing rules: bare transfers only appear
// at the plan's edges, wrap/unwrap pairs that a router function should
// have absorbed are rejected, and consecutive swaps may not share a
// router (they belong in one token path).
func validateAdjacent(pi, i int, cur, next *Step) error {
	if cur.Kind == KindEthSend || next.Kind == KindEthSend {
		return invalid(fmt.Sprintf("path %d: native transfer inside a path (steps %d-%d)", pi, i, i+1))
	}
	if cur.Kind == KindErc20Transfer || next.Kind == KindErc20Transfer {
		return invalid(fmt.Sprintf("path %d: token transfer inside a path (steps %d-%d)", pi, i, i+1))
	}
	switch {
	case cur.Kind == KindWrap && next.Kind == KindWrap,
		cur.Kind == KindUnwrap && next.Kind == KindUnwrap:
		return invalid(fmt.Sprintf("path %d: consecutive wraps (steps %d-%d)", pi, i, i+1))
	case cur.Kind == KindWrap && next.Kind == KindUnwrap,
		cur.Kind == KindUnwrap && next.Kind == KindWrap:
		return invalid(fmt.Sprintf("path %d: wrap/unwrap round trip (steps %d-%d)", pi, i, i+1))
	case cur.Kind == KindWrap && next.Kind == KindDexSwap:
		// Wrap then swap should have been a swapExactETHForTokens.
		return invalid(fmt.Sprintf("path %d: swap after wrap (steps %d-%d)", pi, i, i+1))
	case cur.Kind == KindDexSwap && next.Kind == KindUnwrap:
		// Swap then unwrap should have been a swapExactTokensForETH.
		return invalid(fmt.Sprintf("path %d: unwrap after swap (steps %d-%d)", pi, i, i+1))
	case cur.Kind == KindDexSwap && next.Kind == KindDexSwap:
		if cur.SrcChain() == next.SrcChain() && cur.DexSwap.RouterAddr == next.DexSwap.RouterAddr {
			return invalid(fmt.Sprintf("path %d: consecutive swaps on the same router (steps %d-%d)", pi, i, i+1))
		}
	}
	// Token continuity where both sides state their tokens explicitly.
	if dest, src := cur.DestToken(), next.SrcToken(); dest != nil && src != nil {
		if !dest.Equal(*src) {
			return invalid(fmt.Sprintf("path %d: step %d output token does not feed step %d", pi, i, i+1))
		}
	}
	return nil
}

func isTransferKind(k StepKind) bool {
	return k == KindEthSend || k == KindErc20Transfer
}

func invalid(msg string) error {
	return xerrors.New(xerrors.CodeInvalidPlan, msg)
}
