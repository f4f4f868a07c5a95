package plan

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/kapilsinha/privadex/internal/chain"
)

const (
	srcChainID  = chain.ID(1)
	destChainID = chain.ID(2)
)

func ethAddr(b byte) chain.Address {
	var a chain.EthAddress
	for i := range a {
		a[i] = b
	}
	return chain.NewEthAddress(a)
}

var (
	userAddr   = ethAddr(0xaa)
	escrowAddr = ethAddr(0xee)
	routerAddr = func() chain.EthAddress {
		var a chain.EthAddress
		a[0] = 0xdd
		return a
	}()
)

func token(b byte) chain.UniversalTokenID {
	var contract chain.EthAddress
	contract[0] = b
	return chain.UniversalTokenID{Chain: srcChainID, Key: chain.ERC20Token(contract)}
}

func escrowLookup(chain.ID) (chain.Address, bool) {
	return escrowAddr, true
}

func transferStep(src, dest chain.Address, amount uint64) *Step {
	s := NewEthStep(KindEthSend, CommonMeta{SrcAddr: src, DestAddr: dest, SrcChain: srcChainID})
	if amount > 0 {
		s.AmountIn = uint256.NewInt(amount)
	}
	return s
}

func swapStep(amount uint64) *Step {
	s := &Step{
		ID:   chain.NewStepID(),
		Kind: KindDexSwap,
		DexSwap: &DexSwapDetail{
			RouterAddr: routerAddr,
			RouterFunc: SwapExactTokensForTokens,
			TokenPath:  []chain.UniversalTokenID{token(1), token(2)},
		},
		Common: CommonMeta{SrcAddr: escrowAddr, DestAddr: escrowAddr, SrcChain: srcChainID},
		Eth:    &EthStatus{Phase: EthNotStarted},
	}
	if amount > 0 {
		s.AmountIn = uint256.NewInt(amount)
	}
	return s
}

// simplePlan builds the single-swap plan most tests start from: prestart
// observed (submitted), one swap, postend pending.
func simplePlan(t *testing.T) *ExecutionPlan {
	t.Helper()
	prestart := transferStep(userAddr, escrowAddr, 100)
	prestart.Eth.Phase = EthSubmitted
	prestart.Eth.TxHash[0] = 0x11
	prestart.Eth.DeadlineBlock = 1 << 30

	postend := transferStep(escrowAddr, userAddr, 0)
	return &ExecutionPlan{
		ID:           chain.NewPlanID(),
		UserSrcAddr:  userAddr,
		UserDestAddr: userAddr,
		SrcToken:     token(1),
		DestToken:    token(2),
		Prestart:     prestart,
		Paths:        []*Path{{Steps: []*Step{swapStep(100)}}},
		Postend:      postend,
		Status:       NotStarted,
	}
}

func TestPathStatusCollapses(t *testing.T) {
	p := simplePlan(t)
	path := p.Paths[0]
	if got := path.Simple(); got != StatusNotStarted {
		t.Fatalf("fresh path status = %s", got)
	}
	path.Steps[0].Eth.Phase = EthSubmitted
	if got := path.Simple(); got != StatusInProgress {
		t.Fatalf("submitted path status = %s", got)
	}
	path.Steps[0].Eth.Phase = EthConfirmed
	if got := path.Simple(); got != StatusSucceeded {
		t.Fatalf("confirmed path status = %s", got)
	}
	path.Steps[0].Eth.Phase = EthDropped
	if got := path.Simple(); got != StatusDropped {
		t.Fatalf("dropped path status = %s", got)
	}
}

func TestStatusesNeverRegressFromTerminal(t *testing.T) {
	p := simplePlan(t)
	p.Status = Dropped
	Advance(p)
	if p.Status != Dropped {
		t.Fatalf("terminal plan advanced to %s", p.Status)
	}
	if _, _, ok := NextActionable(p); ok {
		t.Fatal("terminal plan still offered an action")
	}
}
