// Package evm drives EVM parachains: it builds, signs, broadcasts and
// polls the engine's native sends, ERC-20 transfers, wrap/unwrap calls and
// DEX router swaps.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/kapilsinha/privadex/internal/chain"
	"github.com/kapilsinha/privadex/internal/chain/bridge"
	"github.com/kapilsinha/privadex/internal/chain/registry"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
	"github.com/kapilsinha/privadex/internal/plan"
)

// callTimeout bounds every RPC; expiry surfaces as a transient error.
const callTimeout = 15 * time.Second

// Adapter submits and confirms transactions on one EVM chain. Signing is
// deterministic for a fixed (step, nonce, signer): gas terms come from the
// registry, the swap deadline is pinned, and ECDSA uses RFC-6979 nonces,
// so two workers re-signing the same step broadcast the same hash.
type Adapter struct {
	info   *registry.ChainInfo
	client *ethclient.Client
	signer *chain.Signer
	evmID  *big.Int
}

// New dials the chain's RPC endpoint.
func New(ctx context.Context, info *registry.ChainInfo, signer *chain.Signer) (*Adapter, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	client, err := ethclient.DialContext(ctx, info.RPCURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientNetwork, err,
			fmt.Sprintf("dial %s rpc", info.Name))
	}
	if info.EVMChainID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("chain %s has no evm_chain_id", info.Name))
	}
	return &Adapter{
		info:   info,
		client: client,
		signer: signer,
		evmID:  new(big.Int).SetUint64(info.EVMChainID),
	}, nil
}

// ChainID returns the registry id this adapter serves.
func (a *Adapter) ChainID() chain.ID { return a.info.ID }

// Family returns the chain family.
func (a *Adapter) Family() chain.Family { return chain.FamilyEVM }

// Close releases the RPC connection.
func (a *Adapter) Close() { a.client.Close() }

// AccountNonce returns the signer's next account nonce as the chain sees
// it, including pending transactions. Used only to initialise or repair
// the shared nonce record.
func (a *Adapter) AccountNonce(ctx context.Context, signer chain.Address) (uint64, error) {
	eth, ok := signer.AsEth()
	if !ok {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "evm adapter needs an EVM signer address")
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	nonce, err := a.client.PendingNonceAt(ctx, common.Address(eth))
	if err != nil {
		return 0, classifyRPC(err, "query account nonce")
	}
	return nonce, nil
}

// CurrentBlock returns the latest block number.
func (a *Adapter) CurrentBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	n, err := a.client.BlockNumber(ctx)
	if err != nil {
		return 0, classifyRPC(err, "query block number")
	}
	return n, nil
}

// Submit signs and broadcasts the step's transaction at the given nonce.
func (a *Adapter) Submit(ctx context.Context, step *plan.Step, nonce uint64) (chain.TxHandle, error) {
	signed, err := a.buildSigned(step, nonce)
	if err != nil {
		return chain.TxHandle{}, err
	}
	curBlock, err := a.CurrentBlock(ctx)
	if err != nil {
		return chain.TxHandle{}, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := a.client.SendTransaction(sendCtx, signed); err != nil {
		return chain.TxHandle{}, classifySend(err)
	}

	var hash chain.Hash
	copy(hash[:], signed.Hash().Bytes())
	return chain.TxHandle{
		Chain:          a.info.ID,
		Hash:           hash,
		Nonce:          nonce,
		BlockSubmitted: curBlock,
		DeadlineBlock:  curBlock + a.info.BlocksAlive,
	}, nil
}

// SignedHash computes the transaction hash the step would broadcast at the
// given nonce, without sending it. Used to reconcile NonceAlreadyUsed.
func (a *Adapter) SignedHash(step *plan.Step, nonce uint64) (chain.Hash, error) {
	signed, err := a.buildSigned(step, nonce)
	if err != nil {
		return chain.Hash{}, err
	}
	var hash chain.Hash
	copy(hash[:], signed.Hash().Bytes())
	return hash, nil
}

func (a *Adapter) buildSigned(step *plan.Step, nonce uint64) (*coretypes.Transaction, error) {
	key, ok := a.signer.EVMKey()
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "no EVM signing key configured")
	}
	if step.AmountIn == nil {
		return nil, xerrors.New(xerrors.CodeInvalidPlan, "step has no amount in")
	}
	amount := step.AmountIn.ToBig()
	gasPrice := new(big.Int).SetUint64(a.info.GasPriceWei)

	var (
		to       common.Address
		value    = new(big.Int)
		data     []byte
		gasLimit uint64
		err      error
	)
	switch step.Kind {
	case plan.KindEthSend:
		dest, ok := step.Common.DestAddr.AsEth()
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidPlan, "native send to non-EVM address")
		}
		to = common.Address(dest)
		value = amount
		gasLimit = orDefault(a.info.GasLimitSend, 21_000)

	case plan.KindErc20Transfer:
		dest, ok := step.Common.DestAddr.AsEth()
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidPlan, "token transfer to non-EVM address")
		}
		contract, ok := step.Erc20.Token.Key.EthContract()
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidPlan, "token has no EVM contract")
		}
		to = common.Address(contract)
		data, err = packTransfer(common.Address(dest), amount)
		gasLimit = orDefault(a.info.GasLimitERC20, 90_000)

	case plan.KindWrap:
		weth, ok := a.info.WETHAddress()
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidPlan, "chain has no wrapped-native contract")
		}
		to = common.Address(weth)
		value = amount
		data, err = packDeposit()
		gasLimit = orDefault(a.info.GasLimitWrap, 80_000)

	case plan.KindUnwrap:
		weth, ok := a.info.WETHAddress()
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidPlan, "chain has no wrapped-native contract")
		}
		to = common.Address(weth)
		data, err = packWithdraw(amount)
		gasLimit = orDefault(a.info.GasLimitWrap, 80_000)

	case plan.KindDexSwap:
		to = common.Address(step.DexSwap.RouterAddr)
		data, err = a.packSwap(step, amount)
		gasLimit = orDefault(a.info.GasLimitDexSwap, 400_000)
		if step.DexSwap.RouterFunc == plan.SwapExactETHForTokens {
			value = amount
		}

	default:
		return nil, xerrors.New(xerrors.CodeInvalidPlan,
			fmt.Sprintf("step kind %q is not an EVM step", step.Kind))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidPlan, err, "pack calldata")
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(a.evmID), key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePermanentRejection, err, "sign transaction")
	}
	return signed, nil
}

func (a *Adapter) packSwap(step *plan.Step, amount *big.Int) ([]byte, error) {
	dest, ok := step.Common.DestAddr.AsEth()
	if !ok {
		return nil, fmt.Errorf("swap output to non-EVM address")
	}
	path := make([]common.Address, 0, len(step.DexSwap.TokenPath))
	for _, tok := range step.DexSwap.TokenPath {
		switch tok.Key.Kind {
		case chain.TokenNative:
			weth, ok := a.info.WETHAddress()
			if !ok {
				return nil, fmt.Errorf("native token in path but chain has no wrapped contract")
			}
			path = append(path, common.Address(weth))
		default:
			contract, ok := tok.Key.EthContract()
			if !ok {
				return nil, fmt.Errorf("token %s has no EVM contract", tok)
			}
			path = append(path, common.Address(contract))
		}
	}
	minOut := new(big.Int)
	if step.DexSwap.MinAmountOut != nil {
		minOut = step.DexSwap.MinAmountOut.ToBig()
	}
	switch step.DexSwap.RouterFunc {
	case plan.SwapExactETHForTokens:
		return packSwapExactETHForTokens(minOut, path, common.Address(dest))
	case plan.SwapExactTokensForTokens:
		return packSwapExactTokensForTokens(amount, minOut, path, common.Address(dest))
	case plan.SwapExactTokensForETH:
		return packSwapExactTokensForETH(amount, minOut, path, common.Address(dest))
	}
	return nil, fmt.Errorf("unknown router function %q", step.DexSwap.RouterFunc)
}

// Poll inspects a submitted step. Outcomes map one-to-one onto the nonce
// protocol: finalized and reverted transactions consumed their nonce,
// dropped ones free it for reclamation.
func (a *Adapter) Poll(ctx context.Context, step *plan.Step) (chain.PollResult, error) {
	if step.Eth == nil || step.Eth.TxHash.IsZero() {
		return chain.PollResult{}, xerrors.New(xerrors.CodeInvalidArgument, "poll on unsubmitted step")
	}
	curBlock, err := a.CurrentBlock(ctx)
	if err != nil {
		return chain.PollResult{}, err
	}

	rcptCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	receipt, err := a.client.TransactionReceipt(rcptCtx, common.Hash(step.Eth.TxHash))
	if err != nil {
		if isNotFound(err) {
			if curBlock > step.Eth.DeadlineBlock {
				return chain.PollResult{
					Outcome: chain.PollDropped,
					Reason:  fmt.Sprintf("not included within %d blocks", a.info.BlocksAlive),
				}, nil
			}
			return chain.PollResult{Outcome: chain.PollPending}, nil
		}
		return chain.PollResult{}, classifyRPC(err, "query receipt")
	}

	block := receipt.BlockNumber.Uint64()
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return chain.PollResult{
			Outcome: chain.PollReverted,
			Block:   block,
			GasFee:  gasFee(receipt),
			Reason:  "execution reverted",
		}, nil
	}
	// One confirmation depth below head counts as final on the parachains
	// we target; their finality gadget runs well inside this margin.
	if curBlock <= block {
		return chain.PollResult{Outcome: chain.PollIncluded, Block: block}, nil
	}

	out, err := effectiveOutput(step, receipt)
	if err != nil {
		return chain.PollResult{}, err
	}
	return chain.PollResult{
		Outcome:      chain.PollFinalized,
		Block:        block,
		EffectiveOut: out,
		GasFee:       gasFee(receipt),
	}, nil
}

// Balance reads an address's balance of a token on this chain.
func (a *Adapter) Balance(ctx context.Context, token chain.TokenKey, addr chain.Address) (*chain.Amount, error) {
	eth, ok := addr.AsEth()
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "evm balance for non-EVM address")
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if token.Kind == chain.TokenNative {
		bal, err := a.client.BalanceAt(ctx, common.Address(eth), nil)
		if err != nil {
			return nil, classifyRPC(err, "query balance")
		}
		out, _ := uint256.FromBig(bal)
		return out, nil
	}

	contract, ok := token.EthContract()
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token has no EVM contract")
	}
	data, err := erc20ABI.Pack("balanceOf", common.Address(eth))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "pack balanceOf")
	}
	to := common.Address(contract)
	raw, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, classifyRPC(err, "call balanceOf")
	}
	out, _ := uint256.FromBig(new(big.Int).SetBytes(raw))
	return out, nil
}

// PollDestination observes a bridge arrival on this chain as the escrow's
// destination-token balance rising past the level sampled before the
// source extrinsic went out. The matching rule tolerates the destination
// fee being charged against the transferred amount.
func (a *Adapter) PollDestination(ctx context.Context, step *plan.Step) (chain.DestPollResult, error) {
	return bridge.PollArrival(ctx, a, step)
}

func orDefault(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

func gasFee(receipt *coretypes.Receipt) *chain.Amount {
	price := receipt.EffectiveGasPrice
	if price == nil {
		return nil
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(receipt.GasUsed))
	out, overflow := uint256.FromBig(fee)
	if overflow {
		return nil
	}
	return out
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}

// classifySend maps broadcast failures onto the engine's error kinds.
func classifySend(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "replacement transaction"):
		return xerrors.Wrap(xerrors.CodeNonceAlreadyUsed, err, "broadcast")
	case isNetworkError(msg):
		return xerrors.Wrap(xerrors.CodeTransientNetwork, err, "broadcast")
	default:
		return xerrors.Wrap(xerrors.CodePermanentRejection, err, "broadcast")
	}
}

// classifyRPC treats every read failure as transient: the next iteration
// retries with no state change.
func classifyRPC(err error, op string) error {
	return xerrors.Wrap(xerrors.CodeTransientNetwork, err, op)
}

func isNetworkError(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "reset")
}

// Escrow returns the pool escrow address on this chain.
func (a *Adapter) Escrow() chain.Address { return a.info.Escrow() }
