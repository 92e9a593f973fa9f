package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAction is a simple action implementation for testing
type TestAction struct {
	BaseAction
	executeFunc func(ctx *ActionContext) error
}

// Execute implements Action.Execute
func (a *TestAction) Execute(ctx *ActionContext) error {
	if a.executeFunc != nil {
		return a.executeFunc(ctx)
	}
	return nil
}

func TestActionRegistry(t *testing.T) {
	r := NewActionRegistry(&TestLogger{t: t})

	var seen *ActionContext
	notify := &TestAction{
		BaseAction: NewBaseAction("notify", "sends a message", "io"),
		executeFunc: func(ctx *ActionContext) error {
			seen = ctx
			return nil
		},
	}
	require.NoError(t, r.Register(notify, NewActionFunc("archive", "archives", func(*ActionContext) error { return nil })))
	assert.Error(t, r.Register(NewActionFunc("notify", "again", nil)), "names are unique")
	assert.Error(t, r.Register(NewActionFunc("", "nameless", nil)))

	assert.Equal(t, []string{"archive", "notify"}, r.Names())
	got, ok := r.Get("notify")
	require.True(t, ok)
	assert.Equal(t, "sends a message", got.Description())
	assert.Equal(t, []string{"io"}, got.Tags())

	req := ActionRequest{
		InstanceID: "workflow-1",
		Stage:      Stage{ID: "notify-team", Kind: KindAction, Action: "notify"},
		Data:       map[string]any{"channel": "#ops", "count": 3},
	}
	require.NoError(t, r.RunAction(context.Background(), req))
	require.NotNil(t, seen)
	assert.Equal(t, "#ops", seen.String("channel"))
	n, ok := seen.Number("count")
	assert.True(t, ok)
	assert.Equal(t, float64(3), n)
	_, ok = seen.Value("missing")
	assert.False(t, ok)
	assert.Empty(t, seen.String("missing"))

	req.Stage = Stage{ID: "archive", Kind: KindAction}
	assert.NoError(t, r.RunAction(context.Background(), req), "the stage id names the action by default")

	req.Stage = Stage{ID: "nobody", Kind: KindAction}
	assert.Error(t, r.RunAction(context.Background(), req))
}

func TestStageFieldChanges(t *testing.T) {
	changes, err := stageFieldChanges(map[string]any{
		"name":           "renamed",
		"formSpec.title": "New title",
		"nextStageIds":   []any{"a", "b"},
		"autoDecide":     true,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"Name":           "renamed",
		"FormSpec.Title": "New title",
		"NextStageIDs":   []string{"a", "b"},
		"AutoDecide":     true,
	}, changes)

	_, err = stageFieldChanges(map[string]any{"id": "x"})
	assert.Error(t, err)
	_, err = stageFieldChanges(map[string]any{"name.first": "x"})
	assert.Error(t, err)
	_, err = stageFieldChanges(map[string]any{"autoDecide": "maybe"})
	assert.Error(t, err)
}
