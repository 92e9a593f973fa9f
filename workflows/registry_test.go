package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/stageflow/errors"
	"github.com/davidroman0O/stageflow/workflows/condition"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterWorkflow(severityWorkflow()))
	ai := actionWorkflow()
	ai.Metadata = DefinitionMetadata{CreatedBy: CreatedByAI, Tags: []string{"ops"}}
	require.NoError(t, r.RegisterWorkflow(ai))

	t.Run("lookup", func(t *testing.T) {
		def, err := r.GetWorkflow("incident")
		require.NoError(t, err)
		assert.Equal(t, "Incident intake", def.Name)
		assert.Len(t, def.Stages, 5)
		assert.False(t, def.Metadata.CreatedAt.IsZero(), "creation time is stamped")

		_, err = r.GetWorkflow("missing")
		assert.Equal(t, errors.ErrDefinitionNotFound, errors.GetCode(err))
	})

	t.Run("copies are independent", func(t *testing.T) {
		def, err := r.GetWorkflow("incident")
		require.NoError(t, err)
		def.Stages[0].Name = "changed"

		again, err := r.GetWorkflow("incident")
		require.NoError(t, err)
		assert.Equal(t, "Intake", again.Stages[0].Name)
	})

	t.Run("available in registration order", func(t *testing.T) {
		var ids []string
		for _, d := range r.GetAvailableWorkflows() {
			ids = append(ids, d.ID)
		}
		assert.Equal(t, []string{"incident", "deploy"}, ids)
	})

	t.Run("tags and creators", func(t *testing.T) {
		byAI := r.WorkflowsByCreator(CreatedByAI)
		require.Len(t, byAI, 1)
		assert.Equal(t, "deploy", byAI[0].ID)

		assert.Len(t, r.WorkflowsByTag(TagAI), 1)
		assert.Len(t, r.WorkflowsByTag("ops"), 1)

		require.NoError(t, r.Tag("incident", TagBuiltin))
		tags, err := r.Tags("incident")
		require.NoError(t, err)
		assert.Equal(t, []string{TagBuiltin}, tags)

		assert.Equal(t, errors.ErrDefinitionNotFound, errors.GetCode(r.Tag("missing", "x")))
		_, err = r.Tags("missing")
		assert.Equal(t, errors.ErrDefinitionNotFound, errors.GetCode(err))
	})

	t.Run("duplicates are rejected", func(t *testing.T) {
		err := r.RegisterWorkflow(severityWorkflow())
		assert.Equal(t, errors.ErrInvalidInput, errors.GetCode(err))
	})
}

func TestDefinitionValidation(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{name: "empty id", def: Definition{Stages: []Stage{{ID: "a", Kind: KindForm}}}},
		{name: "no stages", def: Definition{ID: "x"}},
		{name: "stage without id", def: Definition{ID: "x", Stages: []Stage{{Kind: KindForm}}}},
		{name: "unknown kind", def: Definition{ID: "x", Stages: []Stage{{ID: "a", Kind: "robot"}}}},
		{name: "duplicate stage", def: Definition{ID: "x", Stages: []Stage{{ID: "a", Kind: KindForm}, {ID: "a", Kind: KindForm}}}},
		{name: "unknown successor", def: Definition{ID: "x", Stages: []Stage{{ID: "a", Kind: KindForm, NextStageIDs: []string{"b"}}}}},
		{
			name: "condition without target",
			def: Definition{ID: "x", Stages: []Stage{{
				ID: "a", Kind: KindDecision,
				Conditions: []condition.Condition{{Field: "f", Operator: condition.Exists}},
			}}},
		},
		{
			name: "unknown operator",
			def: Definition{ID: "x", Stages: []Stage{{
				ID: "a", Kind: KindDecision,
				Conditions: []condition.Condition{{Field: "f", Operator: "near", NextStageID: "a"}},
			}}},
		},
		{
			name: "duplicate path",
			def: Definition{ID: "x", Stages: []Stage{{
				ID: "a", Kind: KindDecision,
				Paths: []BranchingPath{{ID: "p"}, {ID: "p"}},
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().RegisterWorkflow(tt.def)
			require.Error(t, err)
			assert.Equal(t, errors.ErrInvalidInput, errors.GetCode(err))
		})
	}
}

func TestDefinitionSchema(t *testing.T) {
	schema := DefinitionSchema()
	require.NotNil(t, schema)
	require.NotNil(t, schema.Properties)
	_, ok := schema.Properties.Get("stages")
	assert.True(t, ok)
}
