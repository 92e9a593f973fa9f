package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/davidroman0O/stageflow/errors"
	workflow "github.com/davidroman0O/stageflow/workflows"
)

func TestPostgresSink(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("stageflow"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := Open(ctx, connStr)
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.Migrate(ctx), "migrations are idempotent")

	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ok := workflow.Result{
		WorkflowID:     "incident",
		InstanceID:     "workflow-1",
		Success:        true,
		AggregatedData: map[string]any{"headline": "high alice", "total": 7.5},
		StageResults:   map[string]map[string]any{"intake": {"severity": "high"}},
		CompletionTime: done,
		NextActions:    []string{"review_results", "start_implementation"},
	}
	failed := workflow.Result{
		WorkflowID:     "incident",
		InstanceID:     "workflow-2",
		CompletionTime: done.Add(time.Minute),
		Error:          "stage triage timed out",
	}

	t.Run("persist and get", func(t *testing.T) {
		require.NoError(t, sink.Persist(ctx, ok))

		got, err := sink.Get(ctx, "workflow-1")
		require.NoError(t, err)
		assert.True(t, got.Success)
		assert.Equal(t, ok.AggregatedData, got.AggregatedData)
		assert.Equal(t, ok.StageResults, got.StageResults)
		assert.Equal(t, ok.NextActions, got.NextActions)
		assert.True(t, done.Equal(got.CompletionTime))
	})

	t.Run("persisted once", func(t *testing.T) {
		err := sink.Persist(ctx, ok)
		assert.Equal(t, errors.ErrInvalidState, errors.GetCode(err))
	})

	t.Run("failures and listing", func(t *testing.T) {
		require.NoError(t, sink.Persist(ctx, failed))

		list, err := sink.ListByWorkflow(ctx, "incident")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "workflow-1", list[0].InstanceID)
		assert.Equal(t, "stage triage timed out", list[1].Error)
		assert.Empty(t, list[1].AggregatedData)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := sink.Get(ctx, "workflow-404")
		assert.True(t, errors.IsNotFound(err))
	})
}
