// Package metering is the usage ledger: one append-only row per token
// category per AI call, priced either from the provider-reported cost or
// from a static default table. Metering is a side channel; nothing in this
// package may fail a pipeline phase.
package metering

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/specd/internal/automation"
	"github.com/fyrsmithlabs/specd/internal/llm"
)

// Usage record token categories.
const (
	UsageTypeInput  = "input_tokens"
	UsageTypeOutput = "output_tokens"
)

// ErrOrganizationNotFound is returned when no organization owns the
// project. The projects table is seeded by the management plane; a miss
// usually means the project was deleted mid-run.
var ErrOrganizationNotFound = errors.New("organization not found")

// RecordRequest describes one AI call to meter.
type RecordRequest struct {
	OrganizationID string
	WorkflowID     string
	ProjectID      string
	TaskID         string
	Phase          automation.Phase
	Model          string
	Usage          llm.Usage
}

// Service is the metering surface the pipeline depends on.
type Service interface {
	// Record appends ledger rows for one AI call. Errors are logged and
	// swallowed; Record has no failure mode visible to the caller.
	Record(ctx context.Context, req RecordRequest)

	// ResolveOrganization maps a project to its owning organization.
	ResolveOrganization(ctx context.Context, projectID string) (string, error)

	Close() error
}

// Config holds metering storage settings.
type Config struct {
	// Path is the SQLite database file. Parent directories are created.
	Path string
}

type service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService opens the ledger database and applies pending migrations.
func NewService(cfg Config, logger *zap.Logger) (Service, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("metering database path required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create metering directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metering database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate metering database: %w", err)
	}

	return &service{db: db, logger: logger}, nil
}

// Record appends ledger rows for one AI call.
func (s *service) Record(ctx context.Context, req RecordRequest) {
	if err := s.record(ctx, req); err != nil {
		s.logger.Warn("usage metering failed",
			zap.String("organization_id", req.OrganizationID),
			zap.String("workflow_id", req.WorkflowID),
			zap.String("phase", string(req.Phase)),
			zap.Error(err))
	}
}

func (s *service) record(ctx context.Context, req RecordRequest) error {
	metadata, err := json.Marshal(map[string]string{
		"taskId":    req.TaskID,
		"projectId": req.ProjectID,
		"phase":     string(req.Phase),
	})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, row := range ledgerRows(req) {
		_, err := s.db.ExecContext(ctx, `INSERT INTO usage_records(id,organization_id,workflow_id,type,quantity,unit_price,total_cost,resource_id,metadata_json,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			uuid.NewString(), req.OrganizationID, req.WorkflowID, row.Type, row.Quantity,
			row.UnitPrice, row.TotalCost, req.Model, string(metadata), now)
		if err != nil {
			return fmt.Errorf("insert %s row: %w", row.Type, err)
		}
	}
	return nil
}

// ResolveOrganization maps a project to its owning organization.
func (s *service) ResolveOrganization(ctx context.Context, projectID string) (string, error) {
	var orgID string
	err := s.db.QueryRowContext(ctx, `SELECT organization_id FROM projects WHERE id=?`, projectID).Scan(&orgID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: project %s", ErrOrganizationNotFound, projectID)
	}
	if err != nil {
		return "", fmt.Errorf("resolve organization: %w", err)
	}
	return orgID, nil
}

func (s *service) Close() error {
	return s.db.Close()
}

var _ Service = (*service)(nil)
