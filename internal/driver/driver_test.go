package driver

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/kapilsinha/privadex/internal/chain"
	"github.com/kapilsinha/privadex/internal/coordinator"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
	"github.com/kapilsinha/privadex/internal/plan"
	"github.com/kapilsinha/privadex/internal/storage/mysql"
)

const (
	evmChain  = chain.ID(1)
	subChain  = chain.ID(3)
	destChain = chain.ID(1)
)

// Well-known throwaway key; tests never touch a network.
const testEVMKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func testSigner(t *testing.T) *chain.Signer {
	t.Helper()
	signer, err := chain.NewSigner(testEVMKey, "//Alice", 42)
	if err != nil {
		t.Fatalf("build signer: %v", err)
	}
	return signer
}

// fakeAdapter scripts chain behaviour per test.
type fakeAdapter struct {
	id     chain.ID
	family chain.Family
	escrow chain.Address
	block  uint64

	accountNonce uint64
	submitFn     func(step *plan.Step, nonce uint64) (chain.TxHandle, error)
	pollFn       func(step *plan.Step) (chain.PollResult, error)
	balanceFn    func(token chain.TokenKey, addr chain.Address) (*chain.Amount, error)
	pollDestFn   func(step *plan.Step) (chain.DestPollResult, error)

	submits int
}

func (f *fakeAdapter) ChainID() chain.ID     { return f.id }
func (f *fakeAdapter) Family() chain.Family  { return f.family }
func (f *fakeAdapter) Escrow() chain.Address { return f.escrow }

func (f *fakeAdapter) AccountNonce(context.Context, chain.Address) (uint64, error) {
	return f.accountNonce, nil
}

func (f *fakeAdapter) CurrentBlock(context.Context) (uint64, error) {
	f.block++
	return f.block, nil
}

func (f *fakeAdapter) Submit(_ context.Context, step *plan.Step, nonce uint64) (chain.TxHandle, error) {
	f.submits++
	handle, err := f.submitFn(step, nonce)
	// A successful broadcast raises the account's pending nonce, which is
	// what AccountNonce reports on a real chain.
	if err == nil && nonce >= f.accountNonce {
		f.accountNonce = nonce + 1
	}
	return handle, err
}

func (f *fakeAdapter) Poll(_ context.Context, step *plan.Step) (chain.PollResult, error) {
	return f.pollFn(step)
}

func (f *fakeAdapter) Balance(_ context.Context, token chain.TokenKey, addr chain.Address) (*chain.Amount, error) {
	if f.balanceFn == nil {
		return new(uint256.Int), nil
	}
	return f.balanceFn(token, addr)
}

func (f *fakeAdapter) PollDestination(_ context.Context, step *plan.Step) (chain.DestPollResult, error) {
	return f.pollDestFn(step)
}

func submitOK(step *plan.Step, nonce uint64) (chain.TxHandle, error) {
	var hash chain.Hash
	copy(hash[:], step.ID[:])
	hash[31] = byte(nonce)
	return chain.TxHandle{
		Chain:          step.SrcChain(),
		Hash:           hash,
		Nonce:          nonce,
		BlockSubmitted: 10,
		DeadlineBlock:  10 + 64,
	}, nil
}

// pollAlwaysFinal confirms anything submitted with the given output; the
// prestart (whose hash is preset) finalizes with its own amount.
func pollAlwaysFinal(out uint64) func(step *plan.Step) (chain.PollResult, error) {
	return func(step *plan.Step) (chain.PollResult, error) {
		amount := uint256.NewInt(out)
		if step.Kind == plan.KindEthSend && step.AmountIn != nil {
			amount = new(uint256.Int).Set(step.AmountIn)
		}
		return chain.PollResult{
			Outcome:      chain.PollFinalized,
			Block:        20,
			EffectiveOut: amount,
			GasFee:       uint256.NewInt(1_000),
		}, nil
	}
}

func ethAddr(b byte) chain.Address {
	var a chain.EthAddress
	for i := range a {
		a[i] = b
	}
	return chain.NewEthAddress(a)
}

func subAddr(b byte) chain.Address {
	var a chain.SubstrateAddress
	for i := range a {
		a[i] = b
	}
	return chain.NewSubstrateAddress(a)
}

var (
	userAddr   = ethAddr(0xaa)
	escrowEth  = ethAddr(0xee)
	escrowSub  = subAddr(0xcc)
	routerAddr = func() chain.EthAddress {
		var a chain.EthAddress
		a[0] = 0xdd
		return a
	}()
)

func erc20(b byte) chain.UniversalTokenID {
	var contract chain.EthAddress
	contract[0] = b
	return chain.UniversalTokenID{Chain: evmChain, Key: chain.ERC20Token(contract)}
}

func swapPlan(prestartHashByte byte) *plan.ExecutionPlan {
	prestart := plan.NewEthStep(plan.KindEthSend,
		plan.CommonMeta{SrcAddr: userAddr, DestAddr: escrowEth, SrcChain: evmChain})
	prestart.AmountIn = uint256.NewInt(100)
	prestart.Eth.Phase = plan.EthSubmitted
	prestart.Eth.TxHash[0] = prestartHashByte
	prestart.Eth.DeadlineBlock = 1 << 30

	swap := &plan.Step{
		ID:   chain.NewStepID(),
		Kind: plan.KindDexSwap,
		DexSwap: &plan.DexSwapDetail{
			RouterAddr: routerAddr,
			RouterFunc: plan.SwapExactTokensForTokens,
			TokenPath:  []chain.UniversalTokenID{erc20(1), erc20(2)},
		},
		AmountIn: uint256.NewInt(100),
		Common:   plan.CommonMeta{SrcAddr: escrowEth, DestAddr: escrowEth, SrcChain: evmChain},
		Eth:      &plan.EthStatus{Phase: plan.EthNotStarted},
	}

	postend := plan.NewEthStep(plan.KindEthSend,
		plan.CommonMeta{SrcAddr: escrowEth, DestAddr: userAddr, SrcChain: evmChain})

	return &plan.ExecutionPlan{
		ID:           chain.NewPlanID(),
		UserSrcAddr:  userAddr,
		UserDestAddr: userAddr,
		SrcToken:     erc20(1),
		DestToken:    erc20(2),
		Prestart:     prestart,
		Paths:        []*plan.Path{{Steps: []*plan.Step{swap}}},
		Postend:      postend,
		Status:       plan.NotStarted,
	}
}

type harness struct {
	worker  *Worker
	store   coordinator.Store
	repo    mysql.PlanRepository
	service *Service
}

func newHarness(t *testing.T, adapters ...Adapter) *harness {
	t.Helper()
	store := coordinator.NewMemoryStore()
	repo := mysql.NewMemoryPlanRepository()
	worker := NewWorker(Config{
		WorkerID:               "test-worker",
		PollInterval:           time.Second,
		IterationBudget:        5 * time.Second,
		MaxActionsPerIteration: 8,
		RetryBudget:            3,
	}, store, repo, testSigner(t), adapters, nil, nil, time.Minute)

	service := NewService(repo, worker.Assigner(), nil, func(id chain.ID) (chain.Address, bool) {
		for _, a := range adapters {
			if a.ChainID() == id {
				if esc, ok := escrowOf(a); ok {
					return esc, true
				}
			}
		}
		return chain.Address{}, false
	})
	return &harness{worker: worker, store: store, repo: repo, service: service}
}

func (h *harness) drive(t *testing.T, id chain.PlanID, rounds int) *plan.ExecutionPlan {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < rounds; i++ {
		h.worker.RunOnce(ctx)
		p, err := h.repo.Load(ctx, id)
		if err != nil {
			t.Fatalf("load plan: %v", err)
		}
		if p.Terminal() {
			return p
		}
	}
	p, err := h.repo.Load(ctx, id)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	return p
}

func nonceDoc(t *testing.T, h *harness, id chain.ID) coordinator.Document {
	t.Helper()
	signer, _ := h.worker.signer.AddressFor(chain.FamilyEVM)
	doc, err := h.store.Get(context.Background(),
		"nonce/1/"+signer.String())
	if err != nil {
		t.Fatalf("read nonce record: %v", err)
	}
	return doc
}

func TestHappySingleChainSwap(t *testing.T) {
	adapter := &fakeAdapter{
		id: evmChain, family: chain.FamilyEVM, escrow: escrowEth,
		submitFn: submitOK,
		pollFn:   pollAlwaysFinal(95),
	}
	h := newHarness(t, adapter)
	p := swapPlan(0x01)
	if err := h.service.Register(context.Background(), p); err != nil {
		t.Fatalf("register: %v", err)
	}

	final := h.drive(t, p.ID, 6)
	if final.Status != plan.Confirmed {
		t.Fatalf("plan status = %s (%s), want confirmed", final.Status, final.StatusReason)
	}

	// 95 units came out of the swap; the payout is 95 * 9995 / 10000.
	if got := final.Postend.AmountIn.Uint64(); got != 94 {
		t.Fatalf("payout = %d, want 94", got)
	}

	doc := nonceDoc(t, h, evmChain)
	if n, _ := coordinator.NumberAt(doc, "next_nonce"); n != 2 {
		t.Fatalf("next_nonce = %d, want 2", n)
	}
	if pending, ok := doc["pending"].(map[string]any); ok && len(pending) != 0 {
		t.Fatalf("pending not drained: %v", pending)
	}
	if dropped, ok := doc["dropped_nonces"].([]any); ok && len(dropped) != 0 {
		t.Fatalf("dropped_nonces not empty: %v", dropped)
	}

	// The terminal plan left the allocation record.
	ids, _ := h.worker.Assigner().List(context.Background())
	if len(ids) != 0 {
		t.Fatalf("plan still registered after confirmation: %v", ids)
	}
}

func TestRejectedSubmissionReclaimsNonceAndRetries(t *testing.T) {
	rejections := 1
	adapter := &fakeAdapter{
		id: evmChain, family: chain.FamilyEVM, escrow: escrowEth,
		pollFn: pollAlwaysFinal(95),
	}
	adapter.submitFn = func(step *plan.Step, nonce uint64) (chain.TxHandle, error) {
		if step.Kind == plan.KindDexSwap && rejections > 0 {
			rejections--
			return chain.TxHandle{}, xerrors.New(xerrors.CodePermanentRejection, "out of gas allowance")
		}
		return submitOK(step, nonce)
	}
	h := newHarness(t, adapter)
	p := swapPlan(0x02)
	if err := h.service.Register(context.Background(), p); err != nil {
		t.Fatalf("register: %v", err)
	}

	final := h.drive(t, p.ID, 8)
	if final.Status != plan.Confirmed {
		t.Fatalf("plan status = %s (%s), want confirmed after retry", final.Status, final.StatusReason)
	}
	swap := final.Paths[0].Steps[0]
	if swap.Attempts != 1 {
		t.Fatalf("swap attempts = %d, want 1", swap.Attempts)
	}
	// The rejected nonce was reclaimed, not skipped.
	if swap.Eth.Nonce != 0 {
		t.Fatalf("swap resubmitted at nonce %d, want the reclaimed 0", swap.Eth.Nonce)
	}
}

func TestExhaustedRetriesDropPlanWithoutPostend(t *testing.T) {
	adapter := &fakeAdapter{
		id: evmChain, family: chain.FamilyEVM, escrow: escrowEth,
		pollFn: pollAlwaysFinal(95),
	}
	adapter.submitFn = func(step *plan.Step, nonce uint64) (chain.TxHandle, error) {
		if step.Kind == plan.KindDexSwap {
			return chain.TxHandle{}, xerrors.New(xerrors.CodePermanentRejection, "always rejected")
		}
		return submitOK(step, nonce)
	}
	h := newHarness(t, adapter)
	p := swapPlan(0x03)
	if err := h.service.Register(context.Background(), p); err != nil {
		t.Fatalf("register: %v", err)
	}

	final := h.drive(t, p.ID, 10)
	if final.Status != plan.Dropped {
		t.Fatalf("plan status = %s, want dropped", final.Status)
	}
	if final.Paths[0].Steps[0].Attempts != 3 {
		t.Fatalf("attempts = %d, want the full budget of 3", final.Paths[0].Steps[0].Attempts)
	}
	if final.Postend.Eth.Phase != plan.EthNotStarted {
		t.Fatal("postend must not be issued for a dropped plan")
	}
	ids, _ := h.worker.Assigner().List(context.Background())
	if len(ids) != 0 {
		t.Fatalf("dropped plan still registered: %v", ids)
	}
}

func TestPrestartReplayAbortsSecondPlan(t *testing.T) {
	adapter := &fakeAdapter{
		id: evmChain, family: chain.FamilyEVM, escrow: escrowEth,
		submitFn: submitOK,
		pollFn:   pollAlwaysFinal(95),
	}
	h := newHarness(t, adapter)
	ctx := context.Background()

	p1 := swapPlan(0x42)
	p2 := swapPlan(0x42) // same prestart hash
	if err := h.service.Register(ctx, p1); err != nil {
		t.Fatalf("register p1: %v", err)
	}
	final1 := h.drive(t, p1.ID, 6)
	if final1.Status != plan.Confirmed {
		t.Fatalf("p1 status = %s, want confirmed", final1.Status)
	}

	if err := h.service.Register(ctx, p2); err != nil {
		t.Fatalf("register p2: %v", err)
	}
	final2 := h.drive(t, p2.ID, 4)
	if final2.Status != plan.Aborted {
		t.Fatalf("p2 status = %s, want aborted", final2.Status)
	}
	if final2.StatusReason == "" {
		t.Fatal("aborted plan carries no reason")
	}
}

func TestCrossChainBridgePropagatesArrivalAmount(t *testing.T) {
	// Bridge transfer from the Substrate chain into the EVM chain's
	// escrow, then a payout on the EVM side.
	srcAdapter := &fakeAdapter{
		id: subChain, family: chain.FamilySubstrate, escrow: escrowSub,
		submitFn: submitOK,
	}
	srcAdapter.pollFn = func(step *plan.Step) (chain.PollResult, error) {
		return chain.PollResult{
			Outcome:   chain.PollFinalized,
			Block:     30,
			MessageID: "0xfeed",
			EffectiveOut: func() *chain.Amount {
				return new(uint256.Int).Set(step.AmountIn)
			}(),
		}, nil
	}
	destBalance := uint64(0)
	destAdapter := &fakeAdapter{
		id: destChain, family: chain.FamilyEVM, escrow: escrowEth,
		submitFn: submitOK,
		pollFn:   pollAlwaysFinal(95),
	}
	destAdapter.balanceFn = func(chain.TokenKey, chain.Address) (*chain.Amount, error) {
		return uint256.NewInt(destBalance), nil
	}
	destAdapter.pollDestFn = func(step *plan.Step) (chain.DestPollResult, error) {
		return chain.DestPollResult{Arrived: true, AmountReceived: uint256.NewInt(95)}, nil
	}

	h := newHarness(t, srcAdapter, destAdapter)

	prestart := plan.NewEthStep(plan.KindEthSend,
		plan.CommonMeta{SrcAddr: userAddr, DestAddr: escrowEth, SrcChain: destChain})
	prestart.AmountIn = uint256.NewInt(100)
	prestart.Eth.Phase = plan.EthSubmitted
	prestart.Eth.TxHash[0] = 0x77
	prestart.Eth.DeadlineBlock = 1 << 30

	xcm := plan.NewXcmStep(plan.XcmTransferDetail{
		SrcToken:  chain.UniversalTokenID{Chain: subChain, Key: chain.NativeToken()},
		DestToken: chain.UniversalTokenID{Chain: destChain, Key: chain.XC20Token("7")},
		BridgeFee: uint256.NewInt(1),
	}, plan.CommonMeta{SrcAddr: escrowSub, DestAddr: escrowEth, SrcChain: subChain})
	xcm.AmountIn = uint256.NewInt(100)

	postend := plan.NewEthStep(plan.KindEthSend,
		plan.CommonMeta{SrcAddr: escrowEth, DestAddr: userAddr, SrcChain: destChain})

	p := &plan.ExecutionPlan{
		ID:           chain.NewPlanID(),
		UserSrcAddr:  userAddr,
		UserDestAddr: userAddr,
		SrcToken:     chain.UniversalTokenID{Chain: subChain, Key: chain.NativeToken()},
		DestToken:    chain.UniversalTokenID{Chain: destChain, Key: chain.XC20Token("7")},
		Prestart:     prestart,
		Paths:        []*plan.Path{{Steps: []*plan.Step{xcm}}},
		Postend:      postend,
		Status:       plan.NotStarted,
	}
	if err := h.service.Register(context.Background(), p); err != nil {
		t.Fatalf("register: %v", err)
	}

	final := h.drive(t, p.ID, 8)
	if final.Status != plan.Confirmed {
		t.Fatalf("plan status = %s (%s), want confirmed", final.Status, final.StatusReason)
	}
	bridgeStep := final.Paths[0].Steps[0]
	if bridgeStep.Cross.Phase != plan.CrossDestConfirmed {
		t.Fatalf("bridge phase = %s", bridgeStep.Cross.Phase)
	}
	if bridgeStep.Cross.MessageID != "0xfeed" {
		t.Fatalf("message id = %q", bridgeStep.Cross.MessageID)
	}
	if !bridgeStep.Cross.NonceReleased {
		t.Fatal("source nonce was never released")
	}
	if got := final.Paths[0].AmountOut.Uint64(); got != 95 {
		t.Fatalf("path output = %d, want the arrival amount 95", got)
	}
}

func TestNonceAlreadyUsedReconcilesViaDeterministicSigning(t *testing.T) {
	adapter := &fakeAdapter{
		id: evmChain, family: chain.FamilyEVM, escrow: escrowEth,
		pollFn: pollAlwaysFinal(95),
	}
	adapter.submitFn = func(step *plan.Step, nonce uint64) (chain.TxHandle, error) {
		if step.Kind == plan.KindDexSwap {
			// Another worker's identical broadcast already occupies the
			// nonce, so the account's pending nonce has moved past it.
			if nonce >= adapter.accountNonce {
				adapter.accountNonce = nonce + 1
			}
			return chain.TxHandle{}, xerrors.New(xerrors.CodeNonceAlreadyUsed, "already known")
		}
		return submitOK(step, nonce)
	}
	h := newHarness(t, deterministicFake{adapter})
	p := swapPlan(0x55)
	if err := h.service.Register(context.Background(), p); err != nil {
		t.Fatalf("register: %v", err)
	}

	final := h.drive(t, p.ID, 8)
	if final.Status != plan.Confirmed {
		t.Fatalf("plan status = %s (%s), want confirmed via reconciliation", final.Status, final.StatusReason)
	}
	if final.Paths[0].Steps[0].Attempts != 0 {
		t.Fatal("reconciliation must not charge the retry budget")
	}
}

// deterministicFake wraps fakeAdapter with a SignedHash so the driver can
// reconcile without the original broadcast.
type deterministicFake struct{ *fakeAdapter }

func (d deterministicFake) SignedHash(step *plan.Step, nonce uint64) (chain.Hash, error) {
	handle, _ := submitOK(step, nonce)
	return handle.Hash, nil
}

func TestSubmitBudgetSpansPlansInOneSweep(t *testing.T) {
	swapSubmits := 0
	adapter := &fakeAdapter{
		id: evmChain, family: chain.FamilyEVM, escrow: escrowEth,
		pollFn: pollAlwaysFinal(95),
	}
	adapter.submitFn = func(step *plan.Step, nonce uint64) (chain.TxHandle, error) {
		if step.Kind == plan.KindDexSwap {
			swapSubmits++
		}
		return submitOK(step, nonce)
	}
	h := newHarness(t, adapter)
	ctx := context.Background()

	// Two plans sharing the same (chain, signer) pair.
	p1 := swapPlan(0x61)
	p2 := swapPlan(0x62)
	if err := h.service.Register(ctx, p1); err != nil {
		t.Fatalf("register p1: %v", err)
	}
	if err := h.service.Register(ctx, p2); err != nil {
		t.Fatalf("register p2: %v", err)
	}

	h.worker.RunOnce(ctx)
	if swapSubmits != 1 {
		t.Fatalf("one sweep performed %d swap submits on the same pair, want 1", swapSubmits)
	}

	// Later sweeps drive both plans home.
	for i := 0; i < 8; i++ {
		h.worker.RunOnce(ctx)
	}
	for _, id := range []chain.PlanID{p1.ID, p2.ID} {
		final, err := h.repo.Load(ctx, id)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if final.Status != plan.Confirmed {
			t.Fatalf("plan %s status = %s (%s), want confirmed", id, final.Status, final.StatusReason)
		}
	}
}
