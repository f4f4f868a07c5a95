// Package mysql persists execution plan documents and the operator-facing
// snapshots derived from them. The coordinator store keeps only the small
// allocation and nonce records; the full plan body lives here.
package mysql

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/kapilsinha/privadex/internal/chain"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
	"github.com/kapilsinha/privadex/internal/plan"
)

// ErrPlanNotFound reports a lookup for an unknown plan id.
var ErrPlanNotFound = xerrors.New(xerrors.CodeNotFound, "plan not found")

// PlanRepository abstracts plan persistence.
type PlanRepository interface {
	Save(ctx context.Context, p *plan.ExecutionPlan) error
	Load(ctx context.Context, id chain.PlanID) (*plan.ExecutionPlan, error)
	Snapshot(ctx context.Context, id chain.PlanID) (plan.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]plan.Snapshot, error)
	Close() error
}

// Config describes the MySQL connection.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLPlanRepository stores plans in MySQL.
type SQLPlanRepository struct {
	db *sql.DB
}

// NewSQLPlanRepository opens the database and ensures the schema exists.
func NewSQLPlanRepository(ctx context.Context, cfg Config) (*SQLPlanRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "mysql DSN cannot be empty")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open mysql")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "connect to mysql")
	}
	repo := &SQLPlanRepository{db: db}
	if err := repo.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLPlanRepository) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS execution_plans (
        id VARCHAR(32) PRIMARY KEY,
        status VARCHAR(16) NOT NULL,
        status_reason TEXT,
        document LONGTEXT NOT NULL,
        snapshot LONGTEXT NOT NULL,
        updated_at_ms BIGINT NOT NULL,
        INDEX idx_plans_status (status),
        INDEX idx_plans_updated (updated_at_ms)
    ) CHARACTER SET utf8mb4`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "create execution_plans table")
	}
	return nil
}

func planKey(id chain.PlanID) string {
	return hex.EncodeToString(id[:])
}

// Save upserts the full plan document and its derived snapshot.
func (r *SQLPlanRepository) Save(ctx context.Context, p *plan.ExecutionPlan) error {
	p.UpdatedAtMs = time.Now().UnixMilli()
	document, err := json.Marshal(p)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode plan")
	}
	snapshot, err := json.Marshal(plan.Snap(p))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode snapshot")
	}
	const stmt = `INSERT INTO execution_plans (id, status, status_reason, document, snapshot, updated_at_ms)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        status = VALUES(status), status_reason = VALUES(status_reason),
        document = VALUES(document), snapshot = VALUES(snapshot),
        updated_at_ms = VALUES(updated_at_ms)`
	_, err = r.db.ExecContext(ctx, stmt,
		planKey(p.ID), string(p.Status), p.StatusReason,
		string(document), string(snapshot), p.UpdatedAtMs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "save plan")
	}
	return nil
}

// Load reads the full plan document.
func (r *SQLPlanRepository) Load(ctx context.Context, id chain.PlanID) (*plan.ExecutionPlan, error) {
	var document string
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM execution_plans WHERE id = ?`, planKey(id)).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load plan")
	}
	var p plan.ExecutionPlan
	if err := json.Unmarshal([]byte(document), &p); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode plan")
	}
	return &p, nil
}

// Snapshot reads the stored operator view of one plan.
func (r *SQLPlanRepository) Snapshot(ctx context.Context, id chain.PlanID) (plan.Snapshot, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		`SELECT snapshot FROM execution_plans WHERE id = ?`, planKey(id)).Scan(&raw)
	if err == sql.ErrNoRows {
		return plan.Snapshot{}, ErrPlanNotFound
	}
	if err != nil {
		return plan.Snapshot{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load snapshot")
	}
	var snap plan.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return plan.Snapshot{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode snapshot")
	}
	return snap, nil
}

// ListSnapshots returns the most recently updated plans.
func (r *SQLPlanRepository) ListSnapshots(ctx context.Context, limit int) ([]plan.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT snapshot FROM execution_plans ORDER BY updated_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list snapshots")
	}
	defer rows.Close()
	var out []plan.Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan snapshot")
		}
		var snap plan.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode snapshot")
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (r *SQLPlanRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
