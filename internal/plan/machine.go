package plan

import (
	"github.com/holiman/uint256"
)

// Action is the unit of work the driver performs on a step.
type Action string

const (
	// ActionSubmit builds, signs and broadcasts the step's transaction.
	ActionSubmit Action = "submit"
	// ActionPollSource checks the submitted transaction on its own chain.
	ActionPollSource Action = "poll_source"
	// ActionPollDestination checks a bridge message's arrival.
	ActionPollDestination Action = "poll_destination"
	// ActionFinalize releases the nonce and propagates the step's output
	// into its successor. For the prestart it performs dedup registration.
	ActionFinalize Action = "finalize"
)

// Fee charged on the postend payout: amount * 9995 / 10000.
var (
	feeNumerator   = uint256.NewInt(9995)
	feeDenominator = uint256.NewInt(10000)
)

// NextActionable returns the next step needing work and what to do with
// it. It is a pure function of the plan's current statuses; the driver
// performs the action and calls Advance.
func NextActionable(p *ExecutionPlan) (StepRef, Action, bool) {
	if p.Terminal() {
		return StepRef{}, "", false
	}

	// The prestart gates everything: observe the user's deposit to
	// finality, then consume its hash exactly once.
	if p.Status == NotStarted {
		ref := StepRef{Scope: ScopePrestart}
		switch p.Prestart.Simple() {
		case StatusSucceeded:
			return ref, ActionFinalize, true
		case StatusDropped:
			// Advance turns this into a terminal plan.
			return StepRef{}, "", false
		default:
			return ref, ActionPollSource, true
		}
	}

	for pi, path := range p.Paths {
		switch path.Simple() {
		case StatusSucceeded:
			if path.AmountOut == nil {
				// Output not yet propagated to the path.
				return StepRef{Scope: ScopePath, Path: pi, Index: len(path.Steps) - 1}, ActionFinalize, true
			}
			continue
		case StatusDropped:
			return StepRef{}, "", false
		}
		for si, step := range path.Steps {
			switch step.Simple() {
			case StatusSucceeded:
				continue
			case StatusDropped:
				return StepRef{}, "", false
			}
			ref := StepRef{Scope: ScopePath, Path: pi, Index: si}
			if step.AmountIn == nil {
				// The predecessor finished but its output has not been
				// propagated yet.
				if si == 0 {
					return StepRef{}, "", false
				}
				return StepRef{Scope: ScopePath, Path: pi, Index: si - 1}, ActionFinalize, true
			}
			return ref, stepAction(step), true
		}
		// Unreachable given the path status switch above.
		return StepRef{}, "", false
	}

	// Every path finished; drive the postend payout.
	ref := StepRef{Scope: ScopePostend}
	switch p.Postend.Simple() {
	case StatusSucceeded:
		return ref, ActionFinalize, true
	case StatusDropped:
		return StepRef{}, "", false
	default:
		if p.Postend.AmountIn == nil {
			// Advance sets the payout amount; nothing to do yet.
			return StepRef{}, "", false
		}
		return ref, stepAction(p.Postend), true
	}
}

func stepAction(s *Step) Action {
	if s.IsCrossChain() {
		switch s.Cross.Phase {
		case CrossNotStarted:
			return ActionSubmit
		case CrossSourceSubmitted:
			return ActionPollSource
		case CrossSourceConfirmed:
			return ActionPollDestination
		}
		return ActionFinalize
	}
	switch s.Eth.Phase {
	case EthNotStarted:
		return ActionSubmit
	case EthSubmitted:
		return ActionPollSource
	}
	return ActionFinalize
}

// Propagate writes a succeeded step's observed output into its successor's
// amount in, or into the path's amount out for the last step. Writing the
// same output twice is a no-op, so replaying the finalize action after a
// crash is safe.
func Propagate(p *ExecutionPlan, ref StepRef) {
	step := p.StepAt(ref)
	if step == nil || step.Simple() != StatusSucceeded {
		return
	}
	out := step.EffectiveOut()
	if out == nil {
		return
	}
	if ref.Scope != ScopePath {
		return
	}
	path := p.Paths[ref.Path]
	if ref.Index < len(path.Steps)-1 {
		next := path.Steps[ref.Index+1]
		if next.AmountIn == nil {
			next.AmountIn = new(uint256.Int).Set(out)
		}
		return
	}
	if path.AmountOut == nil {
		path.AmountOut = new(uint256.Int).Set(out)
	}
}

// Advance recomputes the plan-level status from its children and performs
// the plan-level propagation into the postend step. Idempotent; the driver
// calls it after every action.
func Advance(p *ExecutionPlan) {
	if p.Terminal() {
		return
	}

	if p.Prestart.Simple() == StatusDropped {
		p.Status = Dropped
		p.StatusReason = "prestart transfer dropped: " + p.Prestart.Eth.DropReason
		return
	}

	for _, path := range p.Paths {
		if path.Simple() == StatusDropped {
			p.Status = Dropped
			p.StatusReason = dropReason(path)
			return
		}
	}
	if p.Postend.Simple() == StatusDropped {
		p.Status = Dropped
		p.StatusReason = "postend transfer dropped"
		return
	}

	if p.Status == NotStarted {
		// The InProgress transition happens in the prestart finalize,
		// after dedup registration; nothing to recompute before that.
		return
	}

	if p.AllPathsSucceeded() && p.Postend.AmountIn == nil {
		ready := true
		for _, path := range p.Paths {
			if path.AmountOut == nil {
				ready = false
				break
			}
		}
		if ready {
			total := p.PathOutputsTotal()
			payout := new(uint256.Int).Mul(total, feeNumerator)
			payout.Div(payout, feeDenominator)
			p.Postend.AmountIn = payout
		}
	}

	if p.Postend.Simple() == StatusSucceeded {
		p.Status = Confirmed
	}
}

func dropReason(path *Path) string {
	for _, s := range path.Steps {
		if s.Simple() != StatusDropped {
			continue
		}
		if s.IsCrossChain() {
			return s.Cross.DropReason
		}
		return s.Eth.DropReason
	}
	return "path dropped"
}
