package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/kapilsinha/privadex/internal/chain"
	"github.com/kapilsinha/privadex/internal/chain/registry"
	"github.com/kapilsinha/privadex/internal/plan"
)

const testKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	signer, err := chain.NewSigner(testKey, "", 0)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	info := &registry.ChainInfo{
		ID:          1,
		Name:        "testchain",
		Family:      chain.FamilyEVM,
		EVMChainID:  1284,
		GasPriceWei: 125_000_000_000,
		BlocksAlive: 64,
	}
	return &Adapter{
		info:   info,
		signer: signer,
		evmID:  new(big.Int).SetUint64(info.EVMChainID),
	}
}

func ethAddr(b byte) chain.Address {
	var a chain.EthAddress
	for i := range a {
		a[i] = b
	}
	return chain.NewEthAddress(a)
}

func swapStep() *plan.Step {
	var router, tok1, tok2 chain.EthAddress
	router[0], tok1[0], tok2[0] = 0xdd, 0x01, 0x02
	return &plan.Step{
		ID:   chain.NewStepID(),
		Kind: plan.KindDexSwap,
		DexSwap: &plan.DexSwapDetail{
			RouterAddr: router,
			RouterFunc: plan.SwapExactTokensForTokens,
			TokenPath: []chain.UniversalTokenID{
				{Chain: 1, Key: chain.ERC20Token(tok1)},
				{Chain: 1, Key: chain.ERC20Token(tok2)},
			},
			MinAmountOut: uint256.NewInt(90),
		},
		AmountIn: uint256.NewInt(100),
		Common:   plan.CommonMeta{SrcAddr: ethAddr(0xee), DestAddr: ethAddr(0xee), SrcChain: 1},
		Eth:      &plan.EthStatus{Phase: plan.EthNotStarted},
	}
}

// Two signings of the same step at the same nonce must hash identically;
// the lease-overlap correctness argument rests on this.
func TestSigningIsDeterministic(t *testing.T) {
	adapter := testAdapter(t)
	step := swapStep()

	first, err := adapter.SignedHash(step, 5)
	if err != nil {
		t.Fatalf("first signing: %v", err)
	}
	second, err := adapter.SignedHash(step, 5)
	if err != nil {
		t.Fatalf("second signing: %v", err)
	}
	if first != second {
		t.Fatalf("signing not deterministic: %s vs %s", first.Hex(), second.Hex())
	}

	other, err := adapter.SignedHash(step, 6)
	if err != nil {
		t.Fatalf("third signing: %v", err)
	}
	if first == other {
		t.Fatal("different nonces produced the same transaction hash")
	}
}

func TestNativeSendUsesPinnedGasTerms(t *testing.T) {
	adapter := testAdapter(t)
	step := plan.NewEthStep(plan.KindEthSend,
		plan.CommonMeta{SrcAddr: ethAddr(0xee), DestAddr: ethAddr(0xaa), SrcChain: 1})
	step.AmountIn = uint256.NewInt(1_000)

	tx, err := adapter.buildSigned(step, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tx.Gas() != 21_000 {
		t.Fatalf("gas limit = %d, want the default 21000", tx.Gas())
	}
	if tx.GasPrice().Uint64() != 125_000_000_000 {
		t.Fatalf("gas price = %s, want the registry's pinned price", tx.GasPrice())
	}
	if tx.Value().Uint64() != 1_000 {
		t.Fatalf("value = %s", tx.Value())
	}
	if len(tx.Data()) != 0 {
		t.Fatal("native send carries calldata")
	}
}

func TestSwapCalldataSelectsRouterFunction(t *testing.T) {
	adapter := testAdapter(t)
	step := swapStep()

	tx, err := adapter.buildSigned(step, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	method, err := routerABI.MethodById(tx.Data()[:4])
	if err != nil {
		t.Fatalf("selector lookup: %v", err)
	}
	if method.Name != "swapExactTokensForTokens" {
		t.Fatalf("selected %s", method.Name)
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if amountIn := args[0].(*big.Int); amountIn.Uint64() != 100 {
		t.Fatalf("amountIn = %s", amountIn)
	}
	if minOut := args[1].(*big.Int); minOut.Uint64() != 90 {
		t.Fatalf("amountOutMin = %s", minOut)
	}
	if deadline := args[4].(*big.Int); deadline.Cmp(maxDeadline) != 0 {
		t.Fatalf("deadline not pinned: %s", deadline)
	}
}

func TestEffectiveOutputFromSwapReceipt(t *testing.T) {
	step := swapStep()
	outToken, _ := step.DexSwap.TokenPath[1].Key.EthContract()
	dest, _ := step.Common.DestAddr.AsEth()

	mkTransfer := func(contract, to common.Address, amount uint64) *coretypes.Log {
		value := new(big.Int).SetUint64(amount)
		data := make([]byte, 32)
		value.FillBytes(data)
		return &coretypes.Log{
			Address: contract,
			Topics: []common.Hash{
				crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")),
				common.Hash{},
				common.BytesToHash(to.Bytes()),
			},
			Data: data,
		}
	}
	inToken, _ := step.DexSwap.TokenPath[0].Key.EthContract()
	receipt := &coretypes.Receipt{
		Status: coretypes.ReceiptStatusSuccessful,
		Logs: []*coretypes.Log{
			// The input leg into the pair, then the output leg to us.
			mkTransfer(common.Address(inToken), common.Address{0x01}, 100),
			mkTransfer(common.Address(outToken), common.Address(dest), 95),
		},
	}
	out, err := effectiveOutput(step, receipt)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Uint64() != 95 {
		t.Fatalf("effective out = %s, want 95", out)
	}
}

func TestEffectiveOutputRejectsMissingTransfer(t *testing.T) {
	step := swapStep()
	receipt := &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful}
	if _, err := effectiveOutput(step, receipt); err == nil {
		t.Fatal("a swap receipt without a matching Transfer must not parse")
	}
}
