package driver

import (
	"context"
	"encoding/hex"
	"log/slog"

	"github.com/kapilsinha/privadex/internal/chain"
	"github.com/kapilsinha/privadex/internal/coordinator"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
	"github.com/kapilsinha/privadex/internal/plan"
	"github.com/kapilsinha/privadex/internal/storage/mysql"
	"github.com/kapilsinha/privadex/pkg/logger"
)

// Service is the plan intake and query surface. The routing system hands
// it fully formed plans; it validates, persists, registers them with the
// assigner and nudges the worker pool.
type Service struct {
	repo     mysql.PlanRepository
	assigner *coordinator.PlanAssigner
	producer Producer
	escrow   plan.EscrowLookup
}

// NewService wires the intake service.
func NewService(repo mysql.PlanRepository, assigner *coordinator.PlanAssigner, producer Producer, escrow plan.EscrowLookup) *Service {
	return &Service{repo: repo, assigner: assigner, producer: producer, escrow: escrow}
}

// Register accepts a new plan. A malformed plan is rejected outright and
// never persisted.
func (s *Service) Register(ctx context.Context, p *plan.ExecutionPlan) error {
	if s.repo == nil || s.assigner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "plan service not initialised")
	}
	if err := plan.Validate(p, s.escrow); err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = plan.NotStarted
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return err
	}
	if err := s.assigner.Register(ctx, p.ID); err != nil {
		return err
	}
	logger.Audit().Info("plan registered", slog.String("plan_id", p.ID.String()))
	if s.producer != nil {
		if err := s.producer.Publish(ctx, hex.EncodeToString(p.ID[:])); err != nil {
			// Delivery is best effort; the poll loop will find the plan.
			logger.L().Warn("publish plan wake-up", slog.Any("error", err))
		}
	}
	return nil
}

// Snapshot returns the operator view of one plan.
func (s *Service) Snapshot(ctx context.Context, id chain.PlanID) (plan.Snapshot, error) {
	return s.repo.Snapshot(ctx, id)
}

// ListSnapshots returns the most recently updated plans.
func (s *Service) ListSnapshots(ctx context.Context, limit int) ([]plan.Snapshot, error) {
	return s.repo.ListSnapshots(ctx, limit)
}
