// Package driver runs the worker loop: enumerate live plans, acquire a
// lease, advance the plan one bounded batch of actions, and hand the
// lease back. Any worker in the pool may pick up any plan; the
// coordinator records are the only shared state.
package driver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/kapilsinha/privadex/internal/chain"
	"github.com/kapilsinha/privadex/internal/coordinator"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
	"github.com/kapilsinha/privadex/internal/observability/alerting"
	"github.com/kapilsinha/privadex/internal/plan"
	"github.com/kapilsinha/privadex/internal/storage/mysql"
	"github.com/kapilsinha/privadex/pkg/logger"
)

// Adapter is what the driver needs from a chain backend.
type Adapter interface {
	ChainID() chain.ID
	Family() chain.Family
	AccountNonce(ctx context.Context, signer chain.Address) (uint64, error)
	CurrentBlock(ctx context.Context) (uint64, error)
	Submit(ctx context.Context, step *plan.Step, nonce uint64) (chain.TxHandle, error)
	Poll(ctx context.Context, step *plan.Step) (chain.PollResult, error)
	Balance(ctx context.Context, token chain.TokenKey, addr chain.Address) (*chain.Amount, error)
	PollDestination(ctx context.Context, step *plan.Step) (chain.DestPollResult, error)
}

// DeterministicSigner is implemented by adapters whose signing is a pure
// function of (step, nonce): re-signing reproduces the broadcast hash, so
// a NonceAlreadyUsed response can be reconciled without the original
// worker's state.
type DeterministicSigner interface {
	SignedHash(step *plan.Step, nonce uint64) (chain.Hash, error)
}

// NonceFinder is implemented by adapters that can locate a finalized
// transaction by (signer, nonce) when no hash was recorded.
type NonceFinder interface {
	FindByNonce(ctx context.Context, signer chain.Address, nonce, from, to uint64) (chain.Hash, uint64, bool, error)
}

// Config bounds one worker's behaviour.
type Config struct {
	WorkerID string
	// PollInterval paces plan enumeration when the wake-up queue is idle.
	PollInterval time.Duration
	// IterationBudget is the wall-clock budget for one plan's turn.
	IterationBudget time.Duration
	// MaxActionsPerIteration caps work per plan per turn.
	MaxActionsPerIteration int
	// RetryBudget is the number of charged failures (permanent rejections
	// and liveness-window drops) at which a step and its plan drop.
	RetryBudget int
	// DestArrivalWarning is how long a bridge step may sit in
	// SourceConfirmed before the operator is warned. There is no
	// automatic drop; recovery is operator-driven.
	DestArrivalWarning time.Duration
}

func (c *Config) fillDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.IterationBudget <= 0 {
		c.IterationBudget = 20 * time.Second
	}
	if c.MaxActionsPerIteration <= 0 {
		c.MaxActionsPerIteration = 8
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 3
	}
	if c.DestArrivalWarning <= 0 {
		c.DestArrivalWarning = 10 * time.Minute
	}
}

// errSubmitBudget stops a plan's turn once the sweep has spent its one
// Submit for a (chain, signer) pair.
var errSubmitBudget = errors.New("submit budget for this pair spent")

// reconcileWindow is the inclusion horizon given to a transaction whose
// broadcast was refused as a duplicate: it is already in flight, so it
// gets a full liveness window from here.
const reconcileWindow = 64

type submitKey struct {
	chain  chain.ID
	signer string
}

// Worker drives plans. It holds no state that survives a restart; every
// decision re-derives from the coordinator records and the plan store.
type Worker struct {
	cfg      Config
	assigner *coordinator.PlanAssigner
	dedup    *coordinator.PrestartDedup
	store    coordinator.Store
	repo     mysql.PlanRepository
	signer   *chain.Signer
	adapters map[chain.ID]Adapter
	queue    Queue
	alerts   alerting.Dispatcher
	log      *slog.Logger

	nonceManagers map[chain.ID]*coordinator.NonceManager
}

// NewWorker wires a worker.
func NewWorker(cfg Config, store coordinator.Store, repo mysql.PlanRepository,
	signer *chain.Signer, adapters []Adapter, queue Queue, alerts alerting.Dispatcher,
	lease time.Duration) *Worker {

	cfg.fillDefaults()
	w := &Worker{
		cfg:           cfg,
		assigner:      coordinator.NewPlanAssigner(store, lease),
		dedup:         coordinator.NewPrestartDedup(store),
		store:         store,
		repo:          repo,
		signer:        signer,
		adapters:      make(map[chain.ID]Adapter, len(adapters)),
		queue:         queue,
		alerts:        alerts,
		log:           logger.Named("driver").With(slog.String("worker", cfg.WorkerID)),
		nonceManagers: make(map[chain.ID]*coordinator.NonceManager),
	}
	for _, a := range adapters {
		w.adapters[a.ChainID()] = a
	}
	return w
}

// Assigner exposes the plan assigner for the intake service.
func (w *Worker) Assigner() *coordinator.PlanAssigner { return w.assigner }

// Run loops until the context is cancelled: wake-up queue notifications
// trigger targeted attempts, and a steady ticker sweeps everything else.
func (w *Worker) Run(ctx context.Context) error {
	if w.queue != nil {
		go func() {
			err := w.queue.Consume(ctx, 1, func(ctx context.Context, planID string) error {
				id, err := parsePlanID(planID)
				if err != nil {
					w.log.Warn("ignoring malformed wake-up", slog.String("plan_id", planID))
					return nil
				}
				// A wake-up is its own one-plan sweep with a fresh
				// submit budget.
				w.tryPlan(ctx, id, make(map[submitKey]bool))
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error("wake-up queue consumer stopped", slog.Any("error", err))
			}
		}()
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps every live plan, attempting to acquire and advance each.
// The submit budget spans the whole sweep: at most one Submit per
// (chain, signer) no matter how many plans share that pair.
func (w *Worker) RunOnce(ctx context.Context) {
	ids, err := w.assigner.List(ctx)
	if err != nil {
		w.log.Warn("enumerate plans", slog.Any("error", err))
		return
	}
	submitted := make(map[submitKey]bool)
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		w.tryPlan(ctx, id, submitted)
	}
}

// tryPlan acquires and processes one plan, silently yielding when another
// worker holds it.
func (w *Worker) tryPlan(ctx context.Context, id chain.PlanID, submitted map[submitKey]bool) {
	leaseEpoch, ok, err := w.assigner.Acquire(ctx, id)
	if err != nil {
		w.log.Warn("acquire plan", slog.String("plan_id", id.String()), slog.Any("error", err))
		return
	}
	if !ok {
		return
	}
	w.processPlan(ctx, id, leaseEpoch, submitted)
}

func (w *Worker) processPlan(ctx context.Context, id chain.PlanID, leaseEpoch int64, submitted map[submitKey]bool) {
	log := w.log.With(slog.String("plan_id", id.String()))

	p, err := w.repo.Load(ctx, id)
	if err != nil {
		if errors.Is(err, mysql.ErrPlanNotFound) {
			// Allocation record outlived the plan body; drop the orphan.
			log.Warn("plan record missing, deregistering")
			_ = w.assigner.Deregister(ctx, id)
			return
		}
		log.Warn("load plan", slog.Any("error", err))
		_ = w.assigner.Release(ctx, id)
		return
	}

	if p.Status == plan.NotStarted {
		if err := plan.Validate(p, w.escrowLookup()); err != nil {
			p.Status = plan.Aborted
			p.StatusReason = err.Error()
			_ = w.repo.Save(ctx, p)
			logger.Audit().Warn("plan aborted",
				slog.String("plan_id", id.String()),
				slog.String("reason", p.StatusReason))
			_ = w.assigner.Deregister(ctx, id)
			return
		}
	}

	deadline := time.Now().Add(w.cfg.IterationBudget)
	leaseLost := false

	for actions := 0; actions < w.cfg.MaxActionsPerIteration; actions++ {
		if time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		plan.Advance(p)
		if p.Terminal() {
			break
		}
		ref, action, ok := plan.NextActionable(p)
		if !ok {
			break
		}

		// A lost lease cancels the iteration: no further submits, though
		// the action already performed has recorded its outcome below.
		leaseEpoch, err = w.assigner.Refresh(ctx, id, leaseEpoch)
		if err != nil {
			if xerrors.IsCode(err, xerrors.CodeLeaseLost) {
				log.Info("lease lost, abandoning iteration")
				leaseLost = true
				break
			}
			log.Warn("refresh lease", slog.Any("error", err))
			break
		}

		actErr := w.perform(ctx, p, ref, action, submitted)
		plan.Advance(p)
		if saveErr := w.repo.Save(ctx, p); saveErr != nil {
			log.Error("persist plan", slog.Any("error", saveErr))
			break
		}
		if actErr != nil {
			if errors.Is(actErr, errSubmitBudget) {
				break
			}
			if xerrors.RetryableError(actErr) {
				log.Debug("action will retry next iteration",
					slog.String("action", string(action)), slog.Any("error", actErr))
			} else {
				log.Warn("action failed",
					slog.String("action", string(action)), slog.Any("error", actErr))
			}
			break
		}
	}

	plan.Advance(p)
	if err := w.repo.Save(ctx, p); err != nil {
		log.Error("persist plan", slog.Any("error", err))
	}
	if leaseLost {
		// Another worker owns the plan now; do not touch the allocation.
		return
	}
	if p.Terminal() {
		logger.Audit().Info("plan reached terminal status",
			slog.String("plan_id", id.String()),
			slog.String("status", string(p.Status)),
			slog.String("reason", p.StatusReason))
		if p.Status == plan.Dropped {
			w.alert(ctx, alerting.Event{
				Code:     xerrors.CodeRetriesExhausted,
				Message:  "plan dropped; funds rest at the last completed step",
				Severity: xerrors.SeverityWarning,
				PlanID:   id.String(),
			})
		}
		if err := w.assigner.Deregister(ctx, id); err != nil {
			log.Warn("deregister plan", slog.Any("error", err))
		}
		return
	}
	if err := w.assigner.Release(ctx, id); err != nil {
		log.Warn("release plan", slog.Any("error", err))
	}
}

func (w *Worker) perform(ctx context.Context, p *plan.ExecutionPlan, ref plan.StepRef, action plan.Action, submitted map[submitKey]bool) error {
	step := p.StepAt(ref)
	if step == nil {
		return xerrors.New(xerrors.CodeInvalidPlan, "actionable ref resolves to no step")
	}
	switch action {
	case plan.ActionSubmit:
		return w.submitStep(ctx, p, step, submitted)
	case plan.ActionPollSource:
		if ref.Scope == plan.ScopePrestart {
			return w.pollPrestart(ctx, p)
		}
		return w.pollSource(ctx, p, ref, step)
	case plan.ActionPollDestination:
		return w.pollDestination(ctx, p, ref, step)
	case plan.ActionFinalize:
		return w.finalize(ctx, p, ref, step)
	}
	return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown action %q", action))
}

func (w *Worker) adapterFor(id chain.ID) (Adapter, error) {
	a, ok := w.adapters[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidPlan, fmt.Sprintf("no adapter for chain %d", id))
	}
	return a, nil
}

func (w *Worker) nonceManager(a Adapter) (*coordinator.NonceManager, chain.Address, error) {
	signer, ok := w.signer.AddressFor(a.Family())
	if !ok {
		return nil, chain.Address{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("no signer configured for %s chains", a.Family()))
	}
	nm, ok := w.nonceManagers[a.ChainID()]
	if !ok {
		nm = coordinator.NewNonceManager(w.store, a.ChainID(), signer)
		w.nonceManagers[a.ChainID()] = nm
	}
	return nm, signer, nil
}

// submitStep allocates a nonce and broadcasts the step's transaction.
func (w *Worker) submitStep(ctx context.Context, p *plan.ExecutionPlan, step *plan.Step, submitted map[submitKey]bool) error {
	adapter, err := w.adapterFor(step.SrcChain())
	if err != nil {
		return err
	}
	nm, signer, err := w.nonceManager(adapter)
	if err != nil {
		return err
	}

	key := submitKey{chain: step.SrcChain(), signer: signer.String()}
	if submitted[key] {
		// One Submit per (chain, signer) per sweep keeps the nonce
		// record quiet; the next sweep picks the step up again.
		return errSubmitBudget
	}

	if step.AmountIn != nil && step.AmountIn.IsZero() {
		step.MarkDropped("zero amount in")
		return nil
	}

	// Sample the destination baseline before the bridge message leaves;
	// arrival is observed as the balance rising past it.
	if step.IsCrossChain() && step.Cross.DestBalanceBefore == nil {
		destAdapter, err := w.adapterFor(step.Xcm.DestToken.Chain)
		if err != nil {
			return err
		}
		balance, err := destAdapter.Balance(ctx, step.Xcm.DestToken.Key, step.Common.DestAddr)
		if err != nil {
			return err
		}
		step.Cross.DestBalanceBefore = balance
		if err := w.repo.Save(ctx, p); err != nil {
			return err
		}
	}

	curBlock, err := adapter.CurrentBlock(ctx)
	if err != nil {
		return err
	}
	systemNonce, err := adapter.AccountNonce(ctx, signer)
	if err != nil {
		return err
	}
	nonce, err := nm.Acquire(ctx, step.ID, curBlock, systemNonce)
	if err != nil {
		return err
	}

	handle, err := adapter.Submit(ctx, step, nonce)
	submitted[key] = true
	switch xerrors.CodeOf(err) {
	case xerrors.CodeUnknown:
		if err != nil {
			return err
		}
		w.recordSubmitted(step, handle)
		return nil

	case xerrors.CodeTransientNetwork:
		// The nonce stays allocated; the same step retries with it.
		return err

	case xerrors.CodePermanentRejection:
		return w.chargeRejection(ctx, nm, step, err)

	case xerrors.CodeNonceAlreadyUsed:
		return w.reconcileNonceUsed(ctx, adapter, nm, signer, step, nonce, curBlock)

	default:
		return err
	}
}

func (w *Worker) recordSubmitted(step *plan.Step, handle chain.TxHandle) {
	if step.IsCrossChain() {
		step.Cross.Phase = plan.CrossSourceSubmitted
		step.Cross.ExtrinsicHash = handle.Hash
		step.Cross.Nonce = handle.Nonce
		step.Cross.BlockSubmitted = handle.BlockSubmitted
		step.Cross.DeadlineBlock = handle.DeadlineBlock
		return
	}
	step.Eth.Phase = plan.EthSubmitted
	step.Eth.TxHash = handle.Hash
	step.Eth.Nonce = handle.Nonce
	step.Eth.BlockSubmitted = handle.BlockSubmitted
	step.Eth.DeadlineBlock = handle.DeadlineBlock
}

// chargeRejection burns the nonce back to the reclaim list and spends one
// unit of the step's retry budget.
func (w *Worker) chargeRejection(ctx context.Context, nm *coordinator.NonceManager, step *plan.Step, cause error) error {
	if err := nm.Drop(ctx, step.ID); err != nil {
		return err
	}
	step.Attempts++
	if step.Attempts >= w.cfg.RetryBudget {
		step.MarkDropped(fmt.Sprintf("rejected %d times: %v", step.Attempts, cause))
		return nil
	}
	step.ResetForRetry()
	return nil
}

// reconcileNonceUsed untangles a broadcast the chain refused because the
// nonce was spent. With deterministic signing the refusal means our own
// transaction is already in flight: record its hash and let polling
// decide. Otherwise search the chain for the signer's transaction at that
// nonce; if something else consumed it, the assignment is stale and the
// nonce is dropped per the reconciliation rule.
func (w *Worker) reconcileNonceUsed(ctx context.Context, adapter Adapter, nm *coordinator.NonceManager,
	signer chain.Address, step *plan.Step, nonce, curBlock uint64) error {

	if ds, ok := adapter.(DeterministicSigner); ok {
		hash, err := ds.SignedHash(step, nonce)
		if err != nil {
			return err
		}
		w.recordSubmitted(step, chain.TxHandle{
			Chain:          step.SrcChain(),
			Hash:           hash,
			Nonce:          nonce,
			BlockSubmitted: curBlock,
			DeadlineBlock:  curBlock + reconcileWindow,
		})
		return nil
	}

	if finder, ok := adapter.(NonceFinder); ok {
		from := uint64(0)
		if curBlock > 128 {
			from = curBlock - 128
		}
		hash, block, found, err := finder.FindByNonce(ctx, signer, nonce, from, curBlock)
		if err != nil {
			return err
		}
		if found {
			w.recordSubmitted(step, chain.TxHandle{
				Chain:          step.SrcChain(),
				Hash:           hash,
				Nonce:          nonce,
				BlockSubmitted: block,
				DeadlineBlock:  block + reconcileWindow,
			})
			return nil
		}
	}

	// The nonce finalized someone else's transaction; this step's own
	// attempt counts as dropped.
	return w.chargeRejection(ctx, nm, step,
		xerrors.New(xerrors.CodeNonceAlreadyUsed, "nonce consumed by another transaction"))
}

// pollPrestart observes the user's deposit. The engine never signs or
// retries it; a deposit that misses its window drops the plan.
func (w *Worker) pollPrestart(ctx context.Context, p *plan.ExecutionPlan) error {
	step := p.Prestart
	adapter, err := w.adapterFor(step.SrcChain())
	if err != nil {
		return err
	}
	res, err := adapter.Poll(ctx, step)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case chain.PollFinalized:
		if step.AmountIn != nil && res.EffectiveOut != nil && res.EffectiveOut.Cmp(step.AmountIn) < 0 {
			step.MarkDropped("prestart deposit smaller than the planned amount")
			return nil
		}
		step.Eth.Phase = plan.EthConfirmed
		step.Eth.EffectiveOut = res.EffectiveOut
	case chain.PollReverted:
		step.MarkDropped("prestart deposit reverted")
	case chain.PollDropped:
		step.MarkDropped(res.Reason)
	}
	return nil
}

// pollSource checks a submitted step's transaction on its own chain.
func (w *Worker) pollSource(ctx context.Context, p *plan.ExecutionPlan, ref plan.StepRef, step *plan.Step) error {
	adapter, err := w.adapterFor(step.SrcChain())
	if err != nil {
		return err
	}
	nm, _, err := w.nonceManager(adapter)
	if err != nil {
		return err
	}
	res, err := adapter.Poll(ctx, step)
	if err != nil {
		return err
	}

	switch res.Outcome {
	case chain.PollPending, chain.PollIncluded:
		return nil

	case chain.PollFinalized:
		if err := nm.Finalize(ctx, step.ID, res.Block); err != nil {
			return err
		}
		if step.IsCrossChain() {
			step.Cross.Phase = plan.CrossSourceConfirmed
			step.Cross.SourceBlock = res.Block
			step.Cross.SourceConfirmedAtMs = time.Now().UnixMilli()
			step.Cross.MessageID = res.MessageID
			step.Cross.NonceReleased = true
			return nil
		}
		step.Eth.Phase = plan.EthConfirmed
		step.Eth.EffectiveOut = res.EffectiveOut
		updateGasFee(step, res.GasFee)
		plan.Propagate(p, ref)
		return nil

	case chain.PollReverted:
		// Included on-chain, so the nonce was consumed: release it, then
		// terminate the step. A revert is not retried; whatever the
		// router or token contract objected to will not change.
		if err := nm.Finalize(ctx, step.ID, res.Block); err != nil {
			return err
		}
		updateGasFee(step, res.GasFee)
		step.MarkDropped(res.Reason)
		return nil

	case chain.PollDropped:
		if err := nm.Drop(ctx, step.ID); err != nil {
			return err
		}
		step.Attempts++
		if step.Attempts >= w.cfg.RetryBudget {
			step.MarkDropped(res.Reason)
			return nil
		}
		step.ResetForRetry()
		return nil
	}
	return nil
}

// pollDestination checks a bridge message's arrival on the target chain.
func (w *Worker) pollDestination(ctx context.Context, p *plan.ExecutionPlan, ref plan.StepRef, step *plan.Step) error {
	destAdapter, err := w.adapterFor(step.Xcm.DestToken.Chain)
	if err != nil {
		return err
	}
	res, err := destAdapter.PollDestination(ctx, step)
	if err != nil {
		return err
	}
	if res.Arrived {
		step.Cross.Phase = plan.CrossDestConfirmed
		step.Cross.AmountReceived = res.AmountReceived
		plan.Propagate(p, ref)
		return nil
	}

	// No automatic drop: the funds are in flight between consensus
	// systems and only an operator can decide what happened.
	if step.Cross.SourceConfirmedAtMs > 0 {
		waiting := time.Since(time.UnixMilli(step.Cross.SourceConfirmedAtMs))
		if waiting > w.cfg.DestArrivalWarning {
			w.alert(ctx, alerting.Event{
				Code:     xerrors.CodeDestNotArrived,
				Message:  fmt.Sprintf("bridge message unobserved for %s", waiting.Round(time.Second)),
				Severity: xerrors.SeverityWarning,
				PlanID:   p.ID.String(),
				StepID:   step.ID.String(),
				Metadata: map[string]string{"message_id": step.Cross.MessageID},
			})
		}
	}
	return nil
}

// finalize releases the step's nonce if still held and propagates its
// output. For the prestart it performs the one-shot dedup registration
// that guards against deposit replay across plans.
func (w *Worker) finalize(ctx context.Context, p *plan.ExecutionPlan, ref plan.StepRef, step *plan.Step) error {
	if ref.Scope == plan.ScopePrestart {
		return w.finalizePrestart(ctx, p)
	}

	if !step.IsCrossChain() || !step.Cross.NonceReleased {
		adapter, err := w.adapterFor(step.SrcChain())
		if err != nil {
			return err
		}
		nm, _, err := w.nonceManager(adapter)
		if err != nil {
			return err
		}
		curBlock, err := adapter.CurrentBlock(ctx)
		if err != nil {
			return err
		}
		if err := nm.Finalize(ctx, step.ID, curBlock); err != nil {
			return err
		}
		if step.IsCrossChain() {
			step.Cross.NonceReleased = true
		}
	}
	plan.Propagate(p, ref)
	return nil
}

func (w *Worker) finalizePrestart(ctx context.Context, p *plan.ExecutionPlan) error {
	fresh, err := w.dedup.Register(ctx, p.Prestart.Eth.TxHash)
	if err != nil {
		return err
	}
	if !fresh {
		p.Status = plan.Aborted
		p.StatusReason = "prestart transaction already consumed by another plan"
		w.alert(ctx, alerting.Event{
			Code:     xerrors.CodePrestartReused,
			Message:  p.StatusReason,
			Severity: xerrors.SeverityWarning,
			PlanID:   p.ID.String(),
		})
		return nil
	}
	p.Status = plan.InProgress
	logger.Audit().Info("plan started",
		slog.String("plan_id", p.ID.String()),
		slog.String("prestart_tx", p.Prestart.Eth.TxHash.Hex()))
	return nil
}

// updateGasFee replaces the estimate with the actual cost, scaling the
// USD figure by the same ratio so the token/USD rate is preserved.
func updateGasFee(step *plan.Step, actual *chain.Amount) {
	if actual == nil || actual.IsZero() {
		return
	}
	if step.Common.GasFee != nil && !step.Common.GasFee.IsZero() && step.Common.GasFeeUSD != nil {
		scaled := new(uint256.Int).Mul(step.Common.GasFeeUSD, actual)
		scaled.Div(scaled, step.Common.GasFee)
		step.Common.GasFeeUSD = scaled
	}
	step.Common.GasFee = actual
}

func (w *Worker) escrowLookup() plan.EscrowLookup {
	return func(id chain.ID) (chain.Address, bool) {
		a, ok := w.adapters[id]
		if !ok {
			return chain.Address{}, false
		}
		if esc, ok := escrowOf(a); ok {
			return esc, true
		}
		return chain.Address{}, false
	}
}

// EscrowProvider is implemented by adapters that know the pool's escrow
// address on their chain.
type EscrowProvider interface {
	Escrow() chain.Address
}

func escrowOf(a Adapter) (chain.Address, bool) {
	if p, ok := a.(EscrowProvider); ok {
		return p.Escrow(), true
	}
	return chain.Address{}, false
}

func (w *Worker) alert(ctx context.Context, event alerting.Event) {
	if w.alerts == nil {
		return
	}
	event.OccurredAt = time.Now()
	if err := w.alerts.Notify(ctx, event); err != nil {
		w.log.Warn("alert delivery failed", slog.Any("error", err))
	}
}

func parsePlanID(s string) (chain.PlanID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return chain.PlanID{}, fmt.Errorf("malformed plan id %q", s)
	}
	var id chain.PlanID
	copy(id[:], raw)
	return id, nil
}
