package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/kapilsinha/privadex/internal/chain"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
	"github.com/kapilsinha/privadex/internal/plan"
)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// effectiveOutput derives a finalized step's observed output from its
// receipt. Native sends and wrap/unwrap calls move exactly the input
// amount; token moves are read from the emitted Transfer logs.
func effectiveOutput(step *plan.Step, receipt *coretypes.Receipt) (*chain.Amount, error) {
	switch step.Kind {
	case plan.KindEthSend, plan.KindWrap, plan.KindUnwrap:
		if step.AmountIn == nil {
			return nil, xerrors.New(xerrors.CodeInvalidPlan, "finalized step has no amount in")
		}
		return new(uint256.Int).Set(step.AmountIn), nil

	case plan.KindErc20Transfer:
		contract, ok := step.Erc20.Token.Key.EthContract()
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidPlan, "token has no EVM contract")
		}
		dest, ok := step.Common.DestAddr.AsEth()
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidPlan, "transfer to non-EVM address")
		}
		out := lastTransferTo(receipt, common.Address(contract), common.Address(dest))
		if out == nil {
			return nil, xerrors.New(xerrors.CodePermanentRejection,
				"finalized transfer emitted no matching Transfer event")
		}
		return out, nil

	case plan.KindDexSwap:
		dest, ok := step.Common.DestAddr.AsEth()
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidPlan, "swap output to non-EVM address")
		}
		last := step.DexSwap.TokenPath[len(step.DexSwap.TokenPath)-1]
		var outContract *common.Address
		if contract, ok := last.Key.EthContract(); ok {
			c := common.Address(contract)
			outContract = &c
		}
		// For token outputs, the swap's result is the final Transfer of
		// the output token into the recipient. For a native output
		// (swapExactTokensForETH) the router unwraps before sending, so
		// we fall back to the last WETH Transfer into the router's
		// unwrap, which equals the amount paid out.
		out := lastTransferOutput(receipt, outContract, common.Address(dest))
		if out == nil {
			return nil, xerrors.New(xerrors.CodePermanentRejection,
				"finalized swap emitted no matching Transfer event")
		}
		return out, nil
	}
	return nil, xerrors.New(xerrors.CodeInvalidPlan, "step kind has no EVM output parser")
}

// lastTransferTo scans for the last Transfer(to=dest) emitted by contract.
func lastTransferTo(receipt *coretypes.Receipt, contract, dest common.Address) *chain.Amount {
	var out *chain.Amount
	for _, log := range receipt.Logs {
		if log.Address != contract {
			continue
		}
		if amount, to := decodeTransfer(log); amount != nil && to == dest {
			out = amount
		}
	}
	return out
}

// lastTransferOutput scans for the last Transfer into dest, restricted to
// the given contract when known; with no contract restriction the last
// Transfer in the receipt wins.
func lastTransferOutput(receipt *coretypes.Receipt, contract *common.Address, dest common.Address) *chain.Amount {
	var out *chain.Amount
	for _, log := range receipt.Logs {
		if contract != nil && log.Address != *contract {
			continue
		}
		amount, to := decodeTransfer(log)
		if amount == nil {
			continue
		}
		if contract != nil && to != dest {
			continue
		}
		out = amount
	}
	return out
}

// decodeTransfer returns (value, to) for a Transfer log, or (nil, zero).
func decodeTransfer(log *coretypes.Log) (*chain.Amount, common.Address) {
	if len(log.Topics) != 3 || log.Topics[0] != transferTopic {
		return nil, common.Address{}
	}
	if len(log.Data) != 32 {
		return nil, common.Address{}
	}
	value, overflow := uint256.FromBig(new(big.Int).SetBytes(log.Data))
	if overflow {
		return nil, common.Address{}
	}
	return value, common.BytesToAddress(log.Topics[2].Bytes())
}
