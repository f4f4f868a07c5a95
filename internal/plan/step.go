// Package plan models execution plans: the ordered swap/transfer/bridge
// steps that move a user's funds from a source asset on one chain to a
// destination asset on another, and the status machine that drives them.
package plan

import (
	"github.com/kapilsinha/privadex/internal/chain"
)

// StepKind discriminates the execution step variants. The set is closed
// and driven by chain family.
type StepKind string

const (
	// KindEthSend transfers the native token on an EVM chain.
	KindEthSend StepKind = "eth_send"
	// KindErc20Transfer calls transfer() on an ERC-20 contract.
	KindErc20Transfer StepKind = "erc20_transfer"
	// KindWrap converts native currency into its wrapped ERC-20.
	KindWrap StepKind = "wrap"
	// KindUnwrap converts wrapped ERC-20 back to native currency.
	KindUnwrap StepKind = "unwrap"
	// KindDexSwap calls a DEX router on an EVM chain.
	KindDexSwap StepKind = "dex_swap"
	// KindXcmTransfer is a cross-consensus bridge transfer originating on
	// a Substrate chain.
	KindXcmTransfer StepKind = "xcm_transfer"
)

// RouterFunc selects the uniswap-v2 style router entry point.
type RouterFunc string

const (
	SwapExactETHForTokens    RouterFunc = "swapExactETHForTokens"
	SwapExactTokensForTokens RouterFunc = "swapExactTokensForTokens"
	SwapExactTokensForETH    RouterFunc = "swapExactTokensForETH"
)

// CommonMeta is carried by every step.
type CommonMeta struct {
	SrcAddr  chain.Address `json:"src_addr"`
	DestAddr chain.Address `json:"dest_addr"`
	SrcChain chain.ID      `json:"src_chain"`
	// GasFee is the estimated fee in source-chain native units until the
	// step finalizes, then the actual cost.
	GasFee    *chain.Amount `json:"gas_fee,omitempty"`
	GasFeeUSD *chain.Amount `json:"gas_fee_usd,omitempty"`
}

// EthSendDetail has no fields beyond the common metadata; the chain and
// addresses say everything.
type EthSendDetail struct{}

// Erc20TransferDetail names the token being moved.
type Erc20TransferDetail struct {
	Token chain.UniversalTokenID `json:"token"`
}

// WrapDetail and UnwrapDetail operate on the chain's wrapped-native
// contract from the registry.
type (
	WrapDetail   struct{}
	UnwrapDetail struct{}
)

// DexSwapDetail is a router call on a single chain.
type DexSwapDetail struct {
	RouterAddr   chain.EthAddress         `json:"router_addr"`
	RouterFunc   RouterFunc               `json:"router_func"`
	TokenPath    []chain.UniversalTokenID `json:"token_path"`
	MinAmountOut *chain.Amount            `json:"min_amount_out,omitempty"`
}

// XcmTransferDetail is a bridge transfer. DestLocation already has the
// beneficiary (escrow) address substituted into the registry template.
type XcmTransferDetail struct {
	SrcToken      chain.UniversalTokenID `json:"src_token"`
	DestToken     chain.UniversalTokenID `json:"dest_token"`
	AssetLocation chain.MultiLocation    `json:"asset_location"`
	DestLocation  chain.MultiLocation    `json:"dest_location"`
	Call          string                 `json:"call"`
	DestWeight    uint64                 `json:"dest_weight"`
	// BridgeFee is the estimated fee in destination-chain native units.
	BridgeFee    *chain.Amount `json:"bridge_fee,omitempty"`
	BridgeFeeUSD *chain.Amount `json:"bridge_fee_usd,omitempty"`
}

// EthPhase is the status progression for single-chain EVM steps.
type EthPhase string

const (
	EthNotStarted EthPhase = "not_started"
	EthSubmitted  EthPhase = "submitted"
	EthConfirmed  EthPhase = "confirmed"
	EthDropped    EthPhase = "dropped"
)

// EthStatus tracks one EVM transaction through its lifecycle.
type EthStatus struct {
	Phase EthPhase `json:"phase"`
	// Set once submitted.
	TxHash         chain.Hash `json:"tx_hash,omitempty"`
	Nonce          uint64     `json:"nonce,omitempty"`
	BlockSubmitted uint64     `json:"block_submitted,omitempty"`
	// DeadlineBlock is the inclusion horizon; past it the transaction is
	// declared dropped.
	DeadlineBlock uint64 `json:"deadline_block,omitempty"`
	// Set once confirmed.
	EffectiveOut *chain.Amount `json:"effective_out,omitempty"`
	// Set once dropped.
	DropReason string `json:"drop_reason,omitempty"`
}

// CrossPhase is the status progression for cross-chain steps.
type CrossPhase string

const (
	CrossNotStarted      CrossPhase = "not_started"
	CrossSourceSubmitted CrossPhase = "source_submitted"
	CrossSourceConfirmed CrossPhase = "source_confirmed"
	CrossDestConfirmed   CrossPhase = "dest_confirmed"
	CrossDropped         CrossPhase = "dropped"
)

// CrossStatus tracks a bridge transfer: the source extrinsic, then the
// arrival of the message on the destination chain.
type CrossStatus struct {
	Phase CrossPhase `json:"phase"`
	// Source extrinsic, set once submitted.
	ExtrinsicHash  chain.Hash `json:"extrinsic_hash,omitempty"`
	Nonce          uint64     `json:"nonce,omitempty"`
	BlockSubmitted uint64     `json:"block_submitted,omitempty"`
	DeadlineBlock  uint64     `json:"deadline_block,omitempty"`
	// Set once the source extrinsic finalizes.
	SourceBlock         uint64 `json:"source_block,omitempty"`
	SourceConfirmedAtMs int64  `json:"source_confirmed_at_ms,omitempty"`
	// MessageID correlates the source event with destination arrival.
	MessageID string `json:"message_id,omitempty"`
	// NonceReleased records that the source nonce was handed back; the
	// step itself is still waiting on the destination.
	NonceReleased bool `json:"nonce_released,omitempty"`
	// DestBalanceBefore is the escrow's destination-token balance sampled
	// before the source extrinsic went out. Arrival is observed as the
	// balance rising past it.
	DestBalanceBefore *chain.Amount `json:"dest_balance_before,omitempty"`
	// Set once arrival is observed on the destination chain.
	AmountReceived *chain.Amount `json:"amount_received,omitempty"`
	DropReason     string        `json:"drop_reason,omitempty"`
}

// SimpleStatus collapses the per-family phases for plan-level reasoning.
type SimpleStatus string

const (
	StatusNotStarted SimpleStatus = "not_started"
	StatusInProgress SimpleStatus = "in_progress"
	StatusSucceeded  SimpleStatus = "succeeded"
	StatusDropped    SimpleStatus = "dropped"
)

// Step is one atomic on-chain operation. Kind selects which detail struct
// and which status family are populated; handling is exhaustive over Kind.
type Step struct {
	ID   chain.StepID `json:"id"`
	Kind StepKind     `json:"kind"`

	EthSend *EthSendDetail       `json:"eth_send,omitempty"`
	Erc20   *Erc20TransferDetail `json:"erc20,omitempty"`
	Wrap    *WrapDetail          `json:"wrap,omitempty"`
	Unwrap  *UnwrapDetail        `json:"unwrap,omitempty"`
	DexSwap *DexSwapDetail       `json:"dex_swap,omitempty"`
	Xcm     *XcmTransferDetail   `json:"xcm,omitempty"`

	// AmountIn is nil until the previous step's output propagates into it
	// (the first step of a path is born with it set).
	AmountIn *chain.Amount `json:"amount_in,omitempty"`
	// Attempts counts the failures charged against the retry budget:
	// permanent rejections and liveness-window drops.
	Attempts int `json:"attempts,omitempty"`

	Common CommonMeta `json:"common"`

	Eth   *EthStatus   `json:"eth_status,omitempty"`
	Cross *CrossStatus `json:"cross_status,omitempty"`
}

// IsCrossChain reports whether the step bridges chains.
func (s *Step) IsCrossChain() bool { return s.Kind == KindXcmTransfer }

// SrcChain is the chain the step's transaction is submitted on.
func (s *Step) SrcChain() chain.ID { return s.Common.SrcChain }

// Simple returns the collapsed status.
func (s *Step) Simple() SimpleStatus {
	if s.IsCrossChain() {
		switch s.Cross.Phase {
		case CrossNotStarted:
			return StatusNotStarted
		case CrossDestConfirmed:
			return StatusSucceeded
		case CrossDropped:
			return StatusDropped
		default:
			return StatusInProgress
		}
	}
	switch s.Eth.Phase {
	case EthNotStarted:
		return StatusNotStarted
	case EthConfirmed:
		return StatusSucceeded
	case EthDropped:
		return StatusDropped
	default:
		return StatusInProgress
	}
}

// Terminal reports whether the step can no longer change.
func (s *Step) Terminal() bool {
	st := s.Simple()
	return st == StatusSucceeded || st == StatusDropped
}

// EffectiveOut is the observed output once the step succeeded: the
// finalized transaction's output for EVM steps, the amount received on the
// destination chain for bridges.
func (s *Step) EffectiveOut() *chain.Amount {
	if s.IsCrossChain() {
		if s.Cross.Phase == CrossDestConfirmed {
			return s.Cross.AmountReceived
		}
		return nil
	}
	if s.Eth.Phase == EthConfirmed {
		return s.Eth.EffectiveOut
	}
	return nil
}

// MarkDropped moves the step to its family's dropped state.
func (s *Step) MarkDropped(reason string) {
	if s.IsCrossChain() {
		s.Cross.Phase = CrossDropped
		s.Cross.DropReason = reason
		return
	}
	s.Eth.Phase = EthDropped
	s.Eth.DropReason = reason
}

// ResetForRetry returns a rejected or dropped step (EVM or cross-chain)
// to not-started so a later
// iteration resubmits it with a reclaimed nonce.
func (s *Step) ResetForRetry() {
	if s.IsCrossChain() {
		s.Cross = &CrossStatus{Phase: CrossNotStarted}
		return
	}
	s.Eth = &EthStatus{Phase: EthNotStarted}
}

// SrcToken returns the step's input token when the variant states it
// explicitly; nil for native-transfer style steps.
func (s *Step) SrcToken() *chain.UniversalTokenID {
	switch s.Kind {
	case KindErc20Transfer:
		return &s.Erc20.Token
	case KindDexSwap:
		if len(s.DexSwap.TokenPath) > 0 {
			return &s.DexSwap.TokenPath[0]
		}
	case KindXcmTransfer:
		return &s.Xcm.SrcToken
	}
	return nil
}

// DestToken returns the step's output token when the variant states it
// explicitly.
func (s *Step) DestToken() *chain.UniversalTokenID {
	switch s.Kind {
	case KindErc20Transfer:
		return &s.Erc20.Token
	case KindDexSwap:
		if n := len(s.DexSwap.TokenPath); n > 0 {
			return &s.DexSwap.TokenPath[n-1]
		}
	case KindXcmTransfer:
		return &s.Xcm.DestToken
	}
	return nil
}

// NewEthStep builds an EVM-family step of the given kind.
func NewEthStep(kind StepKind, common CommonMeta) *Step {
	s := &Step{
		ID:     chain.NewStepID(),
		Kind:   kind,
		Common: common,
		Eth:    &EthStatus{Phase: EthNotStarted},
	}
	switch kind {
	case KindEthSend:
		s.EthSend = &EthSendDetail{}
	case KindWrap:
		s.Wrap = &WrapDetail{}
	case KindUnwrap:
		s.Unwrap = &UnwrapDetail{}
	}
	return s
}

// NewXcmStep builds a cross-chain step.
func NewXcmStep(detail XcmTransferDetail, common CommonMeta) *Step {
	return &Step{
		ID:     chain.NewStepID(),
		Kind:   KindXcmTransfer,
		Xcm:    &detail,
		Common: common,
		Cross:  &CrossStatus{Phase: CrossNotStarted},
	}
}
