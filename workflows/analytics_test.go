package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsBottlenecks(t *testing.T) {
	a := NewAnalytics(0)
	slow := DefaultBottleneckThreshold.Milliseconds()

	a.RecordEvent("i1", "details", InteractionFormCompletion, slow+1000)
	a.RecordEvent("i1", "details", InteractionFormCompletion, slow)
	a.RecordEvent("i1", "intro", InteractionFormCompletion, 1000)

	wa, ok := a.Analytics("i1")
	require.True(t, ok)
	assert.Len(t, wa.InteractionEvents, 3)
	assert.Equal(t, float64(slow+500), wa.StageCompletionTimes["details"])
	assert.Equal(t, float64(1000), wa.StageCompletionTimes["intro"])

	require.Len(t, wa.Bottlenecks, 1)
	b := wa.Bottlenecks[0]
	assert.Equal(t, "details", b.StageID)
	assert.Equal(t, float64(slow+500), b.AverageCompletionTime)
	assert.Equal(t, []string{"Long completion time", "Complex form structure"}, b.CommonIssues)
	assert.Zero(t, b.DropoffRate)

	require.Len(t, wa.Suggestions, 1)
	assert.Equal(t, Suggestion{
		Type:                SuggestionSimplifyForm,
		TargetStage:         "details",
		Description:         "Consider simplifying the form in stage details to reduce completion time",
		ExpectedImprovement: 0.3,
	}, wa.Suggestions[0])
}

func TestAnalyticsThresholdIsStrict(t *testing.T) {
	a := NewAnalytics(time.Second)
	a.RecordEvent("i1", "s", InteractionFormCompletion, 1000)

	wa, _ := a.Analytics("i1")
	assert.Empty(t, wa.Bottlenecks, "a mean equal to the threshold is not a bottleneck")

	a.RecordEvent("i1", "s", InteractionSkip, 1002)
	wa, _ = a.Analytics("i1")
	require.Len(t, wa.Bottlenecks, 1)
	assert.Equal(t, 0.5, wa.Bottlenecks[0].DropoffRate)
}

func TestAnalyticsAcrossInstances(t *testing.T) {
	a := NewAnalytics(time.Second)
	a.RecordEvent("i1", "review", InteractionFormCompletion, 1500)
	a.RecordEvent("i2", "review", InteractionFormCompletion, 700)
	a.RecordEvent("i2", "", InteractionNavigation, 5000)

	wa, _ := a.Analytics("i2")
	assert.Equal(t, "unknown", wa.InteractionEvents[1].StageID)

	bottlenecks := a.Bottlenecks()
	require.Len(t, bottlenecks, 2)
	assert.Equal(t, "review", bottlenecks[0].StageID)
	assert.Equal(t, float64(1100), bottlenecks[0].AverageCompletionTime)
	assert.Equal(t, "unknown", bottlenecks[1].StageID)

	a.Clear("i1")
	_, ok := a.Analytics("i1")
	assert.False(t, ok)
	assert.Len(t, a.Bottlenecks(), 1)
}

func TestAnalyticsReturnsCopies(t *testing.T) {
	a := NewAnalytics(time.Millisecond)
	a.RecordEvent("i1", "s", InteractionFormCompletion, 10)

	wa, _ := a.Analytics("i1")
	wa.InteractionEvents[0].StageID = "mutated"
	wa.Bottlenecks[0].CommonIssues[0] = "mutated"

	again, _ := a.Analytics("i1")
	assert.Equal(t, "s", again.InteractionEvents[0].StageID)
	assert.Equal(t, "Long completion time", again.Bottlenecks[0].CommonIssues[0])
}

func TestEngineRecordsFormCompletion(t *testing.T) {
	f := newFixture(t, WithBottleneckThreshold(time.Nanosecond))
	id := f.start(t, "incident")

	now := time.Now()
	f.engine.now = func() time.Time { return now.Add(2 * time.Second) }
	require.NoError(t, f.engine.SubmitStageResponse(t.Context(), id, "intake", map[string]any{"severity": "high"}))

	wa, ok := f.engine.Analytics().Analytics(id)
	require.True(t, ok)
	require.Len(t, wa.InteractionEvents, 1)
	assert.Equal(t, InteractionFormCompletion, wa.InteractionEvents[0].Type)
	assert.GreaterOrEqual(t, wa.InteractionEvents[0].DurationMs, int64(1900))
	require.Len(t, wa.Bottlenecks, 1)
	assert.Equal(t, "intake", wa.Bottlenecks[0].StageID)
}
