package chain

// TxHandle identifies a broadcast transaction so later iterations, possibly
// on another worker, can poll it to completion.
type TxHandle struct {
	Chain          ID     `json:"chain"`
	Hash           Hash   `json:"hash"`
	Nonce          uint64 `json:"nonce"`
	BlockSubmitted uint64 `json:"block_submitted"`
	// DeadlineBlock is the inclusion horizon; a transaction unseen past it
	// is declared dropped.
	DeadlineBlock uint64 `json:"deadline_block"`
}

// PollOutcome classifies the state of a submitted transaction.
type PollOutcome int

const (
	// PollPending: not yet included; the inclusion window is still open.
	PollPending PollOutcome = iota
	// PollIncluded: in a block but not yet final.
	PollIncluded
	// PollFinalized: in a finalized block and executed successfully.
	PollFinalized
	// PollReverted: in a finalized block but execution failed. The nonce
	// was consumed on-chain, so it must be released, not reclaimed.
	PollReverted
	// PollDropped: never included and the inclusion window closed. The
	// nonce is free for reclamation.
	PollDropped
)

// PollResult is what an adapter observed for a submitted transaction.
type PollResult struct {
	Outcome PollOutcome
	Block   uint64
	// EffectiveOut is the step's observed output amount, set on finality.
	EffectiveOut *Amount
	// GasFee is the actual fee paid in native units, set on finality.
	GasFee *Amount
	// MessageID correlates a bridge extrinsic with its destination event.
	MessageID string
	// Reason explains a revert or drop.
	Reason string
}

// DestPollResult is the destination-side view of a bridge transfer.
type DestPollResult struct {
	Arrived bool
	// AmountReceived is the credited amount in destination units.
	AmountReceived *Amount
	Block          uint64
}
