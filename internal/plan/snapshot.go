package plan

import (
	"github.com/kapilsinha/privadex/internal/chain"
)

// StepSnapshot is the operator-visible view of one step.
type StepSnapshot struct {
	ID       chain.StepID `json:"id"`
	Kind     StepKind     `json:"kind"`
	SrcChain chain.ID     `json:"src_chain"`
	Status   SimpleStatus `json:"status"`
	Phase    string       `json:"phase"`
	TxHash   string       `json:"tx_hash,omitempty"`
	// MessageID is set for bridge steps once the source event is parsed.
	MessageID  string `json:"message_id,omitempty"`
	AmountIn   string `json:"amount_in,omitempty"`
	AmountOut  string `json:"amount_out,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	DropReason string `json:"drop_reason,omitempty"`
}

// Snapshot is the read-only view of a plan served to the operator UI. It
// is exactly the persisted record, flattened for display; a dropped plan's
// snapshot records where funds rest for out-of-band recovery.
type Snapshot struct {
	ID           chain.PlanID   `json:"id"`
	Status       Status         `json:"status"`
	StatusReason string         `json:"status_reason,omitempty"`
	SrcToken     string         `json:"src_token"`
	DestToken    string         `json:"dest_token"`
	UserSrcAddr  string         `json:"user_src_addr"`
	UserDestAddr string         `json:"user_dest_addr"`
	Prestart     StepSnapshot   `json:"prestart"`
	Paths        [][]StepSnapshot `json:"paths"`
	Postend      StepSnapshot   `json:"postend"`
	TotalFeeUSD  string         `json:"total_fee_usd,omitempty"`
	UpdatedAtMs  int64          `json:"updated_at_ms"`
}

// Snap builds the snapshot for a plan.
func Snap(p *ExecutionPlan) Snapshot {
	out := Snapshot{
		ID:           p.ID,
		Status:       p.Status,
		StatusReason: p.StatusReason,
		SrcToken:     p.SrcToken.String(),
		DestToken:    p.DestToken.String(),
		UserSrcAddr:  p.UserSrcAddr.String(),
		UserDestAddr: p.UserDestAddr.String(),
		Prestart:     snapStep(p.Prestart),
		Postend:      snapStep(p.Postend),
		UpdatedAtMs:  p.UpdatedAtMs,
	}
	for _, path := range p.Paths {
		steps := make([]StepSnapshot, 0, len(path.Steps))
		for _, s := range path.Steps {
			steps = append(steps, snapStep(s))
		}
		out.Paths = append(out.Paths, steps)
	}
	if fee, ok := p.TotalFeeUSD(); ok {
		out.TotalFeeUSD = fee.Dec()
	}
	return out
}

func snapStep(s *Step) StepSnapshot {
	snap := StepSnapshot{
		ID:       s.ID,
		Kind:     s.Kind,
		SrcChain: s.SrcChain(),
		Status:   s.Simple(),
		Attempts: s.Attempts,
	}
	if s.AmountIn != nil {
		snap.AmountIn = s.AmountIn.Dec()
	}
	if out := s.EffectiveOut(); out != nil {
		snap.AmountOut = out.Dec()
	}
	if s.IsCrossChain() {
		snap.Phase = string(s.Cross.Phase)
		if !s.Cross.ExtrinsicHash.IsZero() {
			snap.TxHash = s.Cross.ExtrinsicHash.Hex()
		}
		snap.MessageID = s.Cross.MessageID
		snap.DropReason = s.Cross.DropReason
		return snap
	}
	snap.Phase = string(s.Eth.Phase)
	if !s.Eth.TxHash.IsZero() {
		snap.TxHash = s.Eth.TxHash.Hex()
	}
	snap.DropReason = s.Eth.DropReason
	return snap
}
