package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/stageflow/errors"
	workflow "github.com/davidroman0O/stageflow/workflows"
	"github.com/davidroman0O/stageflow/workflows/condition"
)

func TestLoadFile(t *testing.T) {
	ctx := context.Background()

	t.Run("yaml list", func(t *testing.T) {
		defs, err := LoadFile(ctx, "testdata/pipeline.yaml")
		require.NoError(t, err)
		require.Len(t, defs, 2)
		assert.Equal(t, "onboarding", defs[0].ID)
		assert.Equal(t, workflow.KindAction, defs[0].Stages[1].Kind)
		assert.Equal(t, "send-welcome", defs[0].Stages[1].ActionName())
		assert.Equal(t, []string{"email"}, defs[0].Stages[0].FormSpec.RequiredFields())
		assert.Equal(t, "offboarding", defs[1].ID)
	})

	t.Run("json single", func(t *testing.T) {
		defs, err := LoadFile(ctx, "testdata/triage.json")
		require.NoError(t, err)
		require.Len(t, defs, 1)
		route := defs[0].Stages[0]
		require.Len(t, route.Conditions, 1)
		assert.Equal(t, condition.GreaterThan, route.Conditions[0].Operator.Normalize())
		assert.Equal(t, "escalate", route.Conditions[0].NextStageID)
		require.NoError(t, defs[0].Validate())
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := LoadFile(ctx, "testdata/notes.txt")
		assert.Equal(t, errors.ErrInvalidInput, errors.GetCode(err))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(ctx, "testdata/absent.yaml")
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yml")
		require.NoError(t, os.WriteFile(path, []byte("stages: [unclosed"), 0644))
		_, err := LoadFile(ctx, path)
		assert.Equal(t, errors.ErrInvalidInput, errors.GetCode(err))
		assert.Equal(t, path, errors.GetContext(err)["file"])
	})

	t.Run("empty document", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("# nothing here\n"), 0644))
		_, err := LoadFile(ctx, path)
		assert.Equal(t, errors.ErrInvalidInput, errors.GetCode(err))
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := LoadFile(cctx, "testdata/pipeline.yaml")
		assert.True(t, errors.IsCancelled(err))
	})
}

func TestLoadDir(t *testing.T) {
	defs, err := LoadDir(context.Background(), "testdata")
	require.NoError(t, err)

	var ids []string
	for _, d := range defs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"onboarding", "offboarding", "triage"}, ids, "files load in name order")

	_, err = LoadDir(context.Background(), "testdata/nowhere")
	assert.True(t, errors.IsNotFound(err))
}

func TestSaveTemplateRoundTrip(t *testing.T) {
	for _, format := range []string{FormatYAML, FormatCUE} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "starter."+format)
			require.NoError(t, SaveTemplate(context.Background(), "", path))

			defs, err := LoadFile(context.Background(), path)
			require.NoError(t, err)
			require.Len(t, defs, 1)
			def := defs[0]
			assert.Equal(t, "feature-request", def.ID)
			require.Len(t, def.Stages, 3)
			assert.Equal(t, "review", def.Stages[0].Conditions[0].NextStageID)
			assert.Equal(t, "high", def.Stages[0].Conditions[0].Value)
			require.NoError(t, workflow.NewRegistry().RegisterWorkflow(def))
		})
	}

	err := SaveTemplate(context.Background(), "toml", filepath.Join(t.TempDir(), "x.toml"))
	assert.Equal(t, errors.ErrInvalidInput, errors.GetCode(err))
}

func TestBuiltins(t *testing.T) {
	defs, err := Builtins()
	require.NoError(t, err)
	require.Len(t, defs, 2)

	r := workflow.NewRegistry()
	require.NoError(t, RegisterAll(r, defs))
	assert.Len(t, r.WorkflowsByTag(workflow.TagBuiltin), 2)

	inv, err := r.GetWorkflow("investigation-comprehensive")
	require.NoError(t, err)
	assert.Equal(t, workflow.PriorityHigh, inv.Metadata.Priority)
	symptoms, ok := inv.Stage("symptom-analysis")
	require.True(t, ok)
	assert.Equal(t, []string{"problemDescription"}, symptoms.FormSpec.RequiredFields())
	assert.Equal(t, "immediate-action", symptoms.Conditions[0].NextStageID)

	assert.Error(t, RegisterAll(r, defs), "builtins register once")
}

func TestBuiltinProjectCreationRuns(t *testing.T) {
	defs, err := Builtins()
	require.NoError(t, err)
	r := workflow.NewRegistry()
	require.NoError(t, RegisterAll(r, defs))

	var titles []string
	e := workflow.NewEngine(r, workflow.WithFormRenderer(workflow.FormRendererFunc(
		func(_ context.Context, spec workflow.FormSpec) (string, error) {
			titles = append(titles, spec.Title)
			return spec.ID, nil
		})))

	ctx := context.Background()
	id, err := e.StartWorkflow(ctx, "project-creation-comprehensive", workflow.ConversationContext{})
	require.NoError(t, err)

	require.NoError(t, e.SubmitStageResponse(ctx, id, "initial-requirements", map[string]any{"projectName": "atlas", "projectType": "api"}))
	require.NoError(t, e.SubmitStageResponse(ctx, id, "technical-details", map[string]any{"framework": "node"}))
	require.NoError(t, e.SubmitStageResponse(ctx, id, "project-planning", map[string]any{"timeline": "1month"}))

	actx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := e.Await(actx, id)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t,
		"Summary of projectName, projectType, framework, timeline: atlas; api; node; 1month",
		result.AggregatedData["projectSummary"])
	assert.Equal(t, []string{
		"Project Requirements (Step 1)",
		"Technical Specifications (Step 2)",
		"Project Planning (Step 3)",
	}, titles)
}
