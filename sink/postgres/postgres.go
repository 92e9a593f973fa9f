// Package postgres persists workflow results in PostgreSQL.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidroman0O/stageflow/errors"
	workflow "github.com/davidroman0O/stageflow/workflows"
)

// Schema creates the results table. Migrate applies it.
const Schema = `CREATE TABLE IF NOT EXISTS workflow_results (
	instance_id     TEXT PRIMARY KEY,
	workflow_id     TEXT NOT NULL,
	success         BOOLEAN NOT NULL,
	aggregated_data JSONB NOT NULL DEFAULT '{}'::jsonb,
	stage_results   JSONB NOT NULL DEFAULT '{}'::jsonb,
	next_actions    TEXT[] NOT NULL DEFAULT '{}',
	error           TEXT NOT NULL DEFAULT '',
	completed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_results_workflow_idx ON workflow_results (workflow_id, completed_at);`

const columns = "instance_id, workflow_id, success, aggregated_data, stage_results, next_actions, error, completed_at"

// Sink is a workflow.Sink writing to the workflow_results table.
type Sink struct {
	db *pgxpool.Pool
}

var _ workflow.Sink = (*Sink)(nil)

// New creates a Sink over an existing pool
func New(db *pgxpool.Pool) *Sink {
	return &Sink{db: db}
}

// Open connects to dsn, applies the schema and returns the sink. The caller
// closes the pool with Close.
func Open(ctx context.Context, dsn string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to postgres: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool
func (s *Sink) Close() {
	s.db.Close()
}

// Migrate creates the results table if it is missing
func (s *Sink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("error creating workflow_results: %w", err)
	}
	return nil
}

// Persist implements workflow.Sink. Each instance is stored once; a second
// result for the same instance is rejected.
func (s *Sink) Persist(ctx context.Context, r workflow.Result) error {
	aggregated := r.AggregatedData
	if aggregated == nil {
		aggregated = map[string]any{}
	}
	stages := r.StageResults
	if stages == nil {
		stages = map[string]map[string]any{}
	}
	next := r.NextActions
	if next == nil {
		next = []string{}
	}

	tag, err := s.db.Exec(ctx,
		"INSERT INTO workflow_results ("+columns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (instance_id) DO NOTHING",
		r.InstanceID, r.WorkflowID, r.Success, aggregated, stages, next, r.Error, r.CompletionTime)
	if err != nil {
		return errors.Wrap(err, errors.ErrExternalHandlerFailure, "persist result "+r.InstanceID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrInvalidState, "result for %s already persisted", r.InstanceID)
	}
	return nil
}

// Get returns the result stored for an instance
func (s *Sink) Get(ctx context.Context, instanceID string) (workflow.Result, error) {
	row := s.db.QueryRow(ctx, "SELECT "+columns+" FROM workflow_results WHERE instance_id = $1", instanceID)
	r, err := scan(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return workflow.Result{}, errors.Newf(errors.ErrNotFound, "no result for %s", instanceID)
	}
	if err != nil {
		return workflow.Result{}, errors.Wrap(err, errors.ErrExternalHandlerFailure, "load result "+instanceID)
	}
	return r, nil
}

// ListByWorkflow returns the results of one definition, oldest first
func (s *Sink) ListByWorkflow(ctx context.Context, workflowID string) ([]workflow.Result, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+columns+" FROM workflow_results WHERE workflow_id = $1 ORDER BY completed_at, instance_id", workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrExternalHandlerFailure, "list results of "+workflowID)
	}
	defer rows.Close()

	var out []workflow.Result
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrExternalHandlerFailure, "scan result")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scan(row pgx.Row) (workflow.Result, error) {
	var r workflow.Result
	err := row.Scan(&r.InstanceID, &r.WorkflowID, &r.Success, &r.AggregatedData, &r.StageResults, &r.NextActions, &r.Error, &r.CompletionTime)
	return r, err
}
