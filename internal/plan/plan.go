package plan

import (
	"github.com/holiman/uint256"

	"github.com/kapilsinha/privadex/internal/chain"
)

// Status is the plan-level lifecycle.
type Status string

const (
	NotStarted Status = "not_started"
	InProgress Status = "in_progress"
	// Confirmed: every path succeeded and the postend transfer completed.
	Confirmed Status = "confirmed"
	// Aborted: the plan was structurally invalid or its prestart
	// transaction had already been consumed. Never retried.
	Aborted Status = "aborted"
	// Dropped: a step exhausted its retry budget mid-flight. Funds rest at
	// the last successful step's location for out-of-band recovery.
	Dropped Status = "dropped"
)

// Path is an ordered run of steps with a single input and output token.
// Paths in a plan execute sequentially.
type Path struct {
	Steps []*Step `json:"steps"`
	// AmountOut is set when the last step succeeds.
	AmountOut *chain.Amount `json:"amount_out,omitempty"`
}

// Simple collapses the path's status from its steps.
func (p *Path) Simple() SimpleStatus {
	if len(p.Steps) == 0 {
		return StatusDropped
	}
	if p.Steps[0].Simple() == StatusNotStarted {
		return StatusNotStarted
	}
	if p.Steps[len(p.Steps)-1].Simple() == StatusSucceeded {
		return StatusSucceeded
	}
	for _, s := range p.Steps {
		if s.Simple() == StatusDropped {
			return StatusDropped
		}
	}
	return StatusInProgress
}

// ExecutionPlan is a user's cross-chain swap: a prestart deposit from the
// user into escrow, sequential paths through DEXes and bridges, and a
// postend payout from escrow to the user.
type ExecutionPlan struct {
	ID chain.PlanID `json:"id"`

	UserSrcAddr  chain.Address `json:"user_src_addr"`
	UserDestAddr chain.Address `json:"user_dest_addr"`

	SrcToken  chain.UniversalTokenID `json:"src_token"`
	DestToken chain.UniversalTokenID `json:"dest_token"`

	// Prestart moves user funds to the source-chain escrow. It is the
	// user's transaction: the engine only observes it, never signs it.
	Prestart *Step   `json:"prestart"`
	Paths    []*Path `json:"paths"`
	// Postend moves the accumulated balance from the destination-chain
	// escrow to the user.
	Postend *Step `json:"postend"`

	Status Status `json:"status"`
	// StatusReason distinguishes why a plan aborted or dropped.
	StatusReason string `json:"status_reason,omitempty"`

	CreatedAtMs int64 `json:"created_at_ms"`
	UpdatedAtMs int64 `json:"updated_at_ms"`
}

// Terminal reports whether the plan reached a final status.
func (p *ExecutionPlan) Terminal() bool {
	return p.Status == Confirmed || p.Status == Aborted || p.Status == Dropped
}

// AllPathsSucceeded reports whether every path finished successfully.
func (p *ExecutionPlan) AllPathsSucceeded() bool {
	for _, path := range p.Paths {
		if path.Simple() != StatusSucceeded {
			return false
		}
	}
	return true
}

// PathOutputsTotal sums the paths' outputs. Only meaningful once every
// path succeeded.
func (p *ExecutionPlan) PathOutputsTotal() *chain.Amount {
	total := new(uint256.Int)
	for _, path := range p.Paths {
		if path.AmountOut != nil {
			total.Add(total, path.AmountOut)
		}
	}
	return total
}

// TotalFeeUSD sums the USD gas and bridge fees over succeeded steps,
// available once every path succeeded (the postend need not be done yet).
func (p *ExecutionPlan) TotalFeeUSD() (*chain.Amount, bool) {
	if !p.AllPathsSucceeded() {
		return nil, false
	}
	total := new(uint256.Int)
	add := func(s *Step) {
		if s.Simple() != StatusSucceeded {
			return
		}
		if s.Common.GasFeeUSD != nil {
			total.Add(total, s.Common.GasFeeUSD)
		}
		if s.IsCrossChain() && s.Xcm.BridgeFeeUSD != nil {
			total.Add(total, s.Xcm.BridgeFeeUSD)
		}
	}
	for _, path := range p.Paths {
		for _, s := range path.Steps {
			add(s)
		}
	}
	add(p.Postend)
	return total, true
}

// Scope selects which part of the plan a StepRef addresses.
type Scope string

const (
	ScopePrestart Scope = "prestart"
	ScopePath     Scope = "path"
	ScopePostend  Scope = "postend"
)

// StepRef identifies a step by position; plans hold no cyclic references.
type StepRef struct {
	Scope Scope `json:"scope"`
	Path  int   `json:"path"`
	Index int   `json:"index"`
}

// StepAt resolves a reference. Returns nil for an out-of-range ref.
func (p *ExecutionPlan) StepAt(ref StepRef) *Step {
	switch ref.Scope {
	case ScopePrestart:
		return p.Prestart
	case ScopePostend:
		return p.Postend
	case ScopePath:
		if ref.Path < 0 || ref.Path >= len(p.Paths) {
			return nil
		}
		path := p.Paths[ref.Path]
		if ref.Index < 0 || ref.Index >= len(path.Steps) {
			return nil
		}
		return path.Steps[ref.Index]
	}
	return nil
}
