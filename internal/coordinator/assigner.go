package coordinator

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/kapilsinha/privadex/internal/chain"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
)

// planAllocationKey is the single document tracking every live plan.
const planAllocationKey = "plans"

// DefaultLease is how long a worker owns a plan before another worker may
// assume it has died and take over.
const DefaultLease = 60 * time.Second

// PlanAssigner grants time-leased exclusive ownership of plans. Its record:
//
//	{
//	  "plans": [plan-id, ...],                // set of live plans
//	  "allocated": { plan-id: bool },
//	  "lease_epoch_ms": { plan-id: millis }
//	}
//
// The assigner does not distribute work; workers enumerate the plan set
// and race to acquire.
type PlanAssigner struct {
	store Store
	lease time.Duration
	now   func() time.Time
}

// NewPlanAssigner creates an assigner with the given lease duration.
// A non-positive lease falls back to DefaultLease.
func NewPlanAssigner(store Store, lease time.Duration) *PlanAssigner {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &PlanAssigner{store: store, lease: lease, now: time.Now}
}

func planAttr(planID chain.PlanID) string {
	return hex.EncodeToString(planID[:])
}

func (a *PlanAssigner) nowMs() int64 {
	return a.now().UnixMilli()
}

// Acquire attempts to take ownership of a plan. It succeeds when the plan
// is unallocated or its current lease has expired. Returns the lease epoch
// the caller must present to Refresh.
func (a *PlanAssigner) Acquire(ctx context.Context, planID chain.PlanID) (int64, bool, error) {
	attr := planAttr(planID)
	now := a.nowMs()
	// A lease stamped exactly lease_ms ago counts as expired, hence the
	// +1 on the strict comparison.
	minEpoch := now - a.lease.Milliseconds()
	_, err := a.store.ConditionalUpdate(ctx, planAllocationKey,
		[]Condition{
			{Op: CondAny, Any: []Condition{
				{Op: CondNotExists, Path: []string{"allocated", attr}},
				{Op: CondEq, Path: []string{"allocated", attr}, Value: false},
				{Op: CondLess, Path: []string{"lease_epoch_ms", attr}, Value: minEpoch + 1},
			}},
		},
		[]Mutation{
			{Op: MutSet, Path: []string{"allocated", attr}, Value: true},
			{Op: MutSet, Path: []string{"lease_epoch_ms", attr}, Value: now},
			{Op: MutSetAdd, Path: []string{"plans"}, Value: attr},
		},
	)
	if errors.Is(err, ErrConditionFailed) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return now, true, nil
}

// Refresh extends a held lease. The condition pins the epoch the worker
// last wrote; failure means another worker took over and the caller must
// treat the lease as lost.
func (a *PlanAssigner) Refresh(ctx context.Context, planID chain.PlanID, lastEpoch int64) (int64, error) {
	attr := planAttr(planID)
	now := a.nowMs()
	_, err := a.store.ConditionalUpdate(ctx, planAllocationKey,
		[]Condition{
			{Op: CondEq, Path: []string{"allocated", attr}, Value: true},
			{Op: CondEq, Path: []string{"lease_epoch_ms", attr}, Value: lastEpoch},
		},
		[]Mutation{
			{Op: MutSet, Path: []string{"lease_epoch_ms", attr}, Value: now},
		},
	)
	if errors.Is(err, ErrConditionFailed) {
		return 0, xerrors.New(xerrors.CodeLeaseLost, "")
	}
	if err != nil {
		return 0, err
	}
	return now, nil
}

// Release gives the plan back at the end of an iteration. The write is
// unconditional: only the current lease holder releases, and no other
// worker can acquire before the release lands.
func (a *PlanAssigner) Release(ctx context.Context, planID chain.PlanID) error {
	attr := planAttr(planID)
	_, err := a.store.ConditionalUpdate(ctx, planAllocationKey,
		nil,
		[]Mutation{
			{Op: MutSet, Path: []string{"allocated", attr}, Value: false},
			{Op: MutSet, Path: []string{"lease_epoch_ms", attr}, Value: a.nowMs()},
			{Op: MutSetAdd, Path: []string{"plans"}, Value: attr},
		},
	)
	return err
}

// Register makes a newly created plan visible to the worker pool. It is
// the same write as Release: present in the set, unallocated.
func (a *PlanAssigner) Register(ctx context.Context, planID chain.PlanID) error {
	return a.Release(ctx, planID)
}

// Deregister removes a terminal plan from the allocation record.
func (a *PlanAssigner) Deregister(ctx context.Context, planID chain.PlanID) error {
	attr := planAttr(planID)
	_, err := a.store.ConditionalUpdate(ctx, planAllocationKey,
		nil,
		[]Mutation{
			{Op: MutRemove, Path: []string{"allocated", attr}},
			{Op: MutRemove, Path: []string{"lease_epoch_ms", attr}},
			{Op: MutSetRemove, Path: []string{"plans"}, Value: attr},
		},
	)
	return err
}

// List enumerates every live plan id.
func (a *PlanAssigner) List(ctx context.Context) ([]chain.PlanID, error) {
	doc, err := a.store.Get(ctx, planAllocationKey)
	if err != nil {
		return nil, err
	}
	encoded := StringsAt(doc, "plans")
	out := make([]chain.PlanID, 0, len(encoded))
	for _, s := range encoded {
		raw, err := hex.DecodeString(s)
		if err != nil || len(raw) != 16 {
			continue
		}
		var id chain.PlanID
		copy(id[:], raw)
		out = append(out, id)
	}
	return out, nil
}
