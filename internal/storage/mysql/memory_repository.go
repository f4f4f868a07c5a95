package mysql

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/kapilsinha/privadex/internal/chain"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
	"github.com/kapilsinha/privadex/internal/plan"
)

// MemoryPlanRepository keeps plans in process memory for tests and
// single-node development. Documents round-trip through JSON so callers
// never share pointers with the repository.
type MemoryPlanRepository struct {
	mu    sync.RWMutex
	plans map[chain.PlanID][]byte
	snaps map[chain.PlanID]plan.Snapshot
	order map[chain.PlanID]int64
}

// NewMemoryPlanRepository creates an empty repository.
func NewMemoryPlanRepository() *MemoryPlanRepository {
	return &MemoryPlanRepository{
		plans: make(map[chain.PlanID][]byte),
		snaps: make(map[chain.PlanID]plan.Snapshot),
		order: make(map[chain.PlanID]int64),
	}
}

// Save implements PlanRepository.
func (r *MemoryPlanRepository) Save(_ context.Context, p *plan.ExecutionPlan) error {
	p.UpdatedAtMs = time.Now().UnixMilli()
	raw, err := json.Marshal(p)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode plan")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[p.ID] = raw
	r.snaps[p.ID] = plan.Snap(p)
	r.order[p.ID] = p.UpdatedAtMs
	return nil
}

// Load implements PlanRepository.
func (r *MemoryPlanRepository) Load(_ context.Context, id chain.PlanID) (*plan.ExecutionPlan, error) {
	r.mu.RLock()
	raw, ok := r.plans[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrPlanNotFound
	}
	var p plan.ExecutionPlan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode plan")
	}
	return &p, nil
}

// Snapshot implements PlanRepository.
func (r *MemoryPlanRepository) Snapshot(_ context.Context, id chain.PlanID) (plan.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snaps[id]
	if !ok {
		return plan.Snapshot{}, ErrPlanNotFound
	}
	return snap, nil
}

// ListSnapshots implements PlanRepository.
func (r *MemoryPlanRepository) ListSnapshots(_ context.Context, limit int) ([]plan.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]chain.PlanID, 0, len(r.snaps))
	for id := range r.snaps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.order[ids[i]] > r.order[ids[j]]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]plan.Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.snaps[id])
	}
	return out, nil
}

// Close implements PlanRepository.
func (r *MemoryPlanRepository) Close() error { return nil }
