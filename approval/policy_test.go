package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	workflow "github.com/davidroman0O/stageflow/workflows"
)

func TestRequestApproval(t *testing.T) {
	ctx := context.Background()
	add := workflow.Modification{Type: workflow.ModAddStage, InstanceID: "w-1"}
	remove := workflow.Modification{Type: workflow.ModRemoveStage, InstanceID: "w-1"}

	tests := []struct {
		name    string
		policy  *Policy
		mod     workflow.Modification
		approve bool
	}{
		{name: "off", policy: NewPolicy(false, false, nil, nil), mod: add},
		{name: "all types", policy: NewPolicy(true, false, nil, nil), mod: remove, approve: true},
		{name: "allowed type", policy: NewPolicy(true, false, []string{"addStage"}, nil), mod: add, approve: true},
		{name: "other type", policy: NewPolicy(true, false, []string{"addStage"}, nil), mod: remove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := tt.policy.RequestApproval(ctx, tt.mod)
			require.NoError(t, err)
			assert.Equal(t, tt.approve, ok)
		})
	}

	p := NewPolicy(true, false, []string{"addStage", "teleport"}, nil)
	assert.Equal(t, []workflow.ModificationType{workflow.ModAddStage}, p.AllowedTypes, "unknown names are dropped")
}

func TestPresentChoice(t *testing.T) {
	ctx := context.Background()
	d := workflow.BranchingDecision{
		ID: "decision-1",
		AvailablePaths: []workflow.BranchingPath{
			{ID: "long", Complexity: workflow.ComplexityComplex},
			{ID: "short", Complexity: workflow.ComplexitySimple},
		},
	}

	choice, err := NewPolicy(false, false, nil, nil).PresentChoice(ctx, d)
	require.NoError(t, err)
	assert.Empty(t, choice, "decisions wait without auto-decide")

	auto := NewPolicy(false, true, nil, nil)
	choice, err = auto.PresentChoice(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "short", choice)

	d.Recommendation = "long"
	choice, err = auto.PresentChoice(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "long", choice, "a valid recommendation is followed")
}

func TestPolicyDrivesEngine(t *testing.T) {
	registry := workflow.NewRegistry()
	require.NoError(t, registry.RegisterWorkflow(workflow.Definition{
		ID: "route",
		Stages: []workflow.Stage{
			{ID: "pick", Kind: workflow.KindDecision, Paths: []workflow.BranchingPath{
				{ID: "a", NextStageIDs: []string{"left"}, Complexity: workflow.ComplexityComplex},
				{ID: "b", NextStageIDs: []string{"right"}, Complexity: workflow.ComplexityModerate},
			}},
			{ID: "left", Kind: workflow.KindForm},
			{ID: "right", Kind: workflow.KindForm},
		},
	}))
	e := workflow.NewEngine(registry, workflow.WithApprover(NewPolicy(true, true, nil, nil)))

	id, err := e.StartWorkflow(context.Background(), "route", workflow.ConversationContext{})
	require.NoError(t, err)

	inst, err := e.GetInstance(id)
	require.NoError(t, err)
	assert.Equal(t, "right", inst.CurrentStageID)
}
