package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"attack-graph/internal/domain/models"
	"attack-graph/internal/infrastructure/database"
)

const createRunsTable = `
	CREATE TABLE IF NOT EXISTS ingest_runs (
		id            UUID PRIMARY KEY,
		bundle_file   TEXT NOT NULL,
		bundle_id     TEXT,
		started_at    TIMESTAMPTZ NOT NULL,
		finished_at   TIMESTAMPTZ NOT NULL,
		status        TEXT NOT NULL,
		error         TEXT,
		nodes_created INTEGER NOT NULL DEFAULT 0,
		edges_created INTEGER NOT NULL DEFAULT 0,
		stats         JSONB,
		graph_total   JSONB
	)`

const insertRun = `
	INSERT INTO ingest_runs (
		id, bundle_file, bundle_id, started_at, finished_at, status, error,
		nodes_created, edges_created, stats, graph_total
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING`

// PostgresRecorder appends run reports to the ingest_runs table
type PostgresRecorder struct {
	db *database.PostgresDB
}

// NewPostgresRecorder creates the ingest_runs table if needed
func NewPostgresRecorder(ctx context.Context, db *database.PostgresDB) (*PostgresRecorder, error) {
	if err := db.Exec(ctx, createRunsTable); err != nil {
		return nil, fmt.Errorf("failed to create ingest_runs table: %w", err)
	}
	return &PostgresRecorder{db: db}, nil
}

func (r *PostgresRecorder) Name() string { return "postgres" }

// Record inserts one row per run
func (r *PostgresRecorder) Record(ctx context.Context, report *models.RunReport) error {
	args, err := runRow(report)
	if err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertRun, args...); err != nil {
			return fmt.Errorf("failed to insert run %s: %w", report.ID, err)
		}
		return nil
	})
}

// runRow returns the insertRun arguments of a report. Optional text columns
// are NULL when empty.
func runRow(report *models.RunReport) ([]any, error) {
	var (
		nodes, edges int
		stats        []byte
		totals       []byte
		err          error
	)

	if report.Stats != nil {
		nodes = report.Stats.Nodes.TotalCreated()
		edges = report.Stats.Relationships.TotalCreated()
		if stats, err = json.Marshal(report.Stats); err != nil {
			return nil, fmt.Errorf("failed to encode run stats: %w", err)
		}
	}
	if report.GraphTotal != nil {
		if totals, err = json.Marshal(report.GraphTotal); err != nil {
			return nil, fmt.Errorf("failed to encode graph totals: %w", err)
		}
	}

	return []any{
		report.ID.String(),
		report.BundleFile,
		nullable(report.BundleID),
		report.StartedAt,
		report.FinishedAt,
		string(report.Status),
		nullable(report.Error),
		nodes,
		edges,
		stats,
		totals,
	}, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
