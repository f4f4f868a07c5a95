// Package substrate drives Substrate parachains over their node RPC: it
// signs and submits the engine's cross-consensus transfer extrinsics,
// tracks them to finality, and reads the balances the bridge arrival
// check needs.
package substrate

import (
	"context"
	"math/big"
	"strings"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/blake2b"

	"github.com/kapilsinha/privadex/internal/chain"
	"github.com/kapilsinha/privadex/internal/chain/bridge"
	"github.com/kapilsinha/privadex/internal/chain/registry"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
	"github.com/kapilsinha/privadex/internal/plan"
)

const callTimeout = 15 * time.Second

// Adapter submits and confirms extrinsics on one Substrate chain.
//
// sr25519 signatures are randomised, so unlike the EVM adapter a re-signed
// extrinsic does not reproduce the same hash. The recorded extrinsic hash
// in the step's shared status is therefore the source of truth during
// lease overlap: a second worker reconciles against it instead of its own
// signature.
type Adapter struct {
	info   *registry.ChainInfo
	api    *gsrpc.SubstrateAPI
	signer *chain.Signer
}

// New dials the chain's node RPC.
func New(info *registry.ChainInfo, signer *chain.Signer) (*Adapter, error) {
	api, err := gsrpc.NewSubstrateAPI(info.RPCURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientNetwork, err, "dial "+info.Name+" rpc")
	}
	return &Adapter{info: info, api: api, signer: signer}, nil
}

// ChainID returns the registry id this adapter serves.
func (a *Adapter) ChainID() chain.ID { return a.info.ID }

// Family returns the chain family.
func (a *Adapter) Family() chain.Family { return chain.FamilySubstrate }

// AccountNonce reads the signer's on-chain account nonce.
func (a *Adapter) AccountNonce(ctx context.Context, signer chain.Address) (uint64, error) {
	sub, ok := signer.AsSubstrate()
	if !ok {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "substrate adapter needs a Substrate signer address")
	}
	meta, err := a.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return 0, transient(err, "fetch metadata")
	}
	key, err := types.CreateStorageKey(meta, "System", "Account", sub[:])
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build account storage key")
	}
	var info types.AccountInfo
	ok, err = a.api.RPC.State.GetStorageLatest(key, &info)
	if err != nil {
		return 0, transient(err, "read account")
	}
	if !ok {
		return 0, nil
	}
	return uint64(info.Nonce), nil
}

// CurrentBlock returns the latest finalized block number.
func (a *Adapter) CurrentBlock(ctx context.Context) (uint64, error) {
	head, err := a.api.RPC.Chain.GetFinalizedHead()
	if err != nil {
		return 0, transient(err, "fetch finalized head")
	}
	header, err := a.api.RPC.Chain.GetHeader(head)
	if err != nil {
		return 0, transient(err, "fetch header")
	}
	return uint64(header.Number), nil
}

// Submit signs and broadcasts the step's bridge extrinsic at the given
// nonce. Only cross-chain transfer steps originate on Substrate chains.
func (a *Adapter) Submit(ctx context.Context, step *plan.Step, nonce uint64) (chain.TxHandle, error) {
	if !step.IsCrossChain() {
		return chain.TxHandle{}, xerrors.New(xerrors.CodeInvalidPlan,
			"substrate adapter only submits cross-chain transfers")
	}
	if step.AmountIn == nil {
		return chain.TxHandle{}, xerrors.New(xerrors.CodeInvalidPlan, "step has no amount in")
	}
	keyring, ok := a.signer.SubstrateKeyring()
	if !ok {
		return chain.TxHandle{}, xerrors.New(xerrors.CodeInvalidArgument, "no Substrate signing key configured")
	}

	meta, err := a.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return chain.TxHandle{}, transient(err, "fetch metadata")
	}
	callName := step.Xcm.Call
	if callName == "" {
		callName = "XTokens.transfer_multiasset"
	}
	call, err := types.NewCall(meta, callName,
		versionedMultiAsset{location: step.Xcm.AssetLocation, amount: step.AmountIn},
		versionedMultiLocation{loc: step.Xcm.DestLocation},
		destWeight(step.Xcm.DestWeight),
	)
	if err != nil {
		return chain.TxHandle{}, xerrors.Wrap(xerrors.CodeInvalidPlan, err, "build "+callName)
	}

	genesis, err := a.api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return chain.TxHandle{}, transient(err, "fetch genesis hash")
	}
	rv, err := a.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return chain.TxHandle{}, transient(err, "fetch runtime version")
	}
	curBlock, err := a.CurrentBlock(ctx)
	if err != nil {
		return chain.TxHandle{}, err
	}

	ext := types.NewExtrinsic(call)
	opts := types.SignatureOptions{
		BlockHash:          genesis,
		Era:                types.ExtrinsicEra{IsImmortalEra: true},
		GenesisHash:        genesis,
		Nonce:              types.NewUCompactFromUInt(nonce),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	}
	if err := ext.Sign(keyring, opts); err != nil {
		return chain.TxHandle{}, xerrors.Wrap(xerrors.CodePermanentRejection, err, "sign extrinsic")
	}

	hash, err := a.api.RPC.Author.SubmitExtrinsic(ext)
	if err != nil {
		return chain.TxHandle{}, classifySubmit(err)
	}
	return chain.TxHandle{
		Chain:          a.info.ID,
		Hash:           chain.Hash(hash),
		Nonce:          nonce,
		BlockSubmitted: curBlock,
		DeadlineBlock:  curBlock + a.info.BlocksAlive,
	}, nil
}

// Poll scans finalized blocks in the step's inclusion window for its
// extrinsic. Inclusion counts as source-side success: the transfer call
// validates at dispatch, and the authoritative outcome for the funds is
// the destination arrival check.
func (a *Adapter) Poll(ctx context.Context, step *plan.Step) (chain.PollResult, error) {
	if step.Cross == nil || step.Cross.ExtrinsicHash.IsZero() {
		return chain.PollResult{}, xerrors.New(xerrors.CodeInvalidArgument, "poll on unsubmitted step")
	}
	cur, err := a.CurrentBlock(ctx)
	if err != nil {
		return chain.PollResult{}, err
	}
	end := cur
	if step.Cross.DeadlineBlock < end {
		end = step.Cross.DeadlineBlock
	}
	block, found, err := a.findExtrinsic(step.Cross.ExtrinsicHash, step.Cross.BlockSubmitted, end)
	if err != nil {
		return chain.PollResult{}, err
	}
	if !found {
		if cur > step.Cross.DeadlineBlock {
			return chain.PollResult{
				Outcome: chain.PollDropped,
				Reason:  "extrinsic not included within the liveness window",
			}, nil
		}
		return chain.PollResult{Outcome: chain.PollPending}, nil
	}
	out := new(uint256.Int).Set(step.AmountIn)
	return chain.PollResult{
		Outcome:      chain.PollFinalized,
		Block:        block,
		EffectiveOut: out,
		MessageID:    messageID(step.Cross.ExtrinsicHash, block),
	}, nil
}

// messageID is the correlation key tying the source extrinsic to its
// destination observation.
func messageID(hash chain.Hash, block uint64) string {
	var buf [40]byte
	copy(buf[:32], hash[:])
	for i := 0; i < 8; i++ {
		buf[32+i] = byte(block >> (8 * i))
	}
	sum := blake2b.Sum256(buf[:])
	return chain.Hash(sum).Hex()
}

func (a *Adapter) findExtrinsic(hash chain.Hash, from, to uint64) (uint64, bool, error) {
	for n := from; n <= to; n++ {
		blockHash, err := a.api.RPC.Chain.GetBlockHash(n)
		if err != nil {
			return 0, false, transient(err, "fetch block hash")
		}
		block, err := a.api.RPC.Chain.GetBlock(blockHash)
		if err != nil {
			return 0, false, transient(err, "fetch block")
		}
		for i := range block.Block.Extrinsics {
			encoded, err := codec.Encode(&block.Block.Extrinsics[i])
			if err != nil {
				continue
			}
			if blake2b.Sum256(encoded) == [32]byte(hash) {
				return n, true, nil
			}
		}
	}
	return 0, false, nil
}

// FindByNonce locates a finalized extrinsic from the signer at the given
// nonce. Used to reconcile a NonceAlreadyUsed broadcast when no hash was
// recorded before a worker died.
func (a *Adapter) FindByNonce(ctx context.Context, signer chain.Address, nonce, from, to uint64) (chain.Hash, uint64, bool, error) {
	sub, ok := signer.AsSubstrate()
	if !ok {
		return chain.Hash{}, 0, false, xerrors.New(xerrors.CodeInvalidArgument, "non-Substrate signer")
	}
	for n := from; n <= to; n++ {
		blockHash, err := a.api.RPC.Chain.GetBlockHash(n)
		if err != nil {
			return chain.Hash{}, 0, false, transient(err, "fetch block hash")
		}
		block, err := a.api.RPC.Chain.GetBlock(blockHash)
		if err != nil {
			return chain.Hash{}, 0, false, transient(err, "fetch block")
		}
		for i := range block.Block.Extrinsics {
			ext := &block.Block.Extrinsics[i]
			if !ext.IsSigned() {
				continue
			}
			if ext.Signature.Signer.AsID != types.AccountID(sub) {
				continue
			}
			extNonce := (*big.Int)(&ext.Signature.Nonce)
			if !extNonce.IsUint64() || extNonce.Uint64() != nonce {
				continue
			}
			encoded, err := codec.Encode(ext)
			if err != nil {
				continue
			}
			sum := blake2b.Sum256(encoded)
			return chain.Hash(sum), n, true, nil
		}
	}
	return chain.Hash{}, 0, false, nil
}

// Balance reads an address's balance of a token on this chain.
func (a *Adapter) Balance(ctx context.Context, token chain.TokenKey, addr chain.Address) (*chain.Amount, error) {
	sub, ok := addr.AsSubstrate()
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "substrate balance for non-Substrate address")
	}
	meta, err := a.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, transient(err, "fetch metadata")
	}

	switch token.Kind {
	case chain.TokenNative:
		key, err := types.CreateStorageKey(meta, "System", "Account", sub[:])
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build account key")
		}
		var info types.AccountInfo
		found, err := a.api.RPC.State.GetStorageLatest(key, &info)
		if err != nil {
			return nil, transient(err, "read account")
		}
		if !found {
			return new(uint256.Int), nil
		}
		out, _ := uint256.FromBig(info.Data.Free.Int)
		return out, nil

	case chain.TokenXC20, chain.TokenSubstrateAsset:
		id, ok := token.AssetIDInt()
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "token has no parsable asset id")
		}
		assetID, err := codec.Encode(types.NewU128(*id))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode asset id")
		}
		key, err := types.CreateStorageKey(meta, "Assets", "Account", assetID, sub[:])
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build asset key")
		}
		// Only the leading balance field matters; trailing account state
		// (frozen flag, reason) differs across runtimes and is ignored.
		var acct struct {
			Balance types.U128
		}
		found, err := a.api.RPC.State.GetStorageLatest(key, &acct)
		if err != nil {
			return nil, transient(err, "read asset account")
		}
		if !found {
			return new(uint256.Int), nil
		}
		out, _ := uint256.FromBig(acct.Balance.Int)
		return out, nil
	}
	return nil, xerrors.New(xerrors.CodeInvalidArgument, "token kind has no Substrate balance source")
}

// PollDestination observes a bridge arrival on this chain.
func (a *Adapter) PollDestination(ctx context.Context, step *plan.Step) (chain.DestPollResult, error) {
	return bridge.PollArrival(ctx, a, step)
}

func transient(err error, op string) error {
	return xerrors.Wrap(xerrors.CodeTransientNetwork, err, op)
}

func classifySubmit(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "priority is too low"),
		strings.Contains(msg, "already imported"),
		strings.Contains(msg, "outdated"),
		strings.Contains(msg, "stale"):
		return xerrors.Wrap(xerrors.CodeNonceAlreadyUsed, err, "submit extrinsic")
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "eof"):
		return xerrors.Wrap(xerrors.CodeTransientNetwork, err, "submit extrinsic")
	default:
		return xerrors.Wrap(xerrors.CodePermanentRejection, err, "submit extrinsic")
	}
}

// Escrow returns the pool escrow address on this chain.
func (a *Adapter) Escrow() chain.Address { return a.info.Escrow() }
