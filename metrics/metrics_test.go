package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	workflow "github.com/davidroman0O/stageflow/workflows"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", data)
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	r, err := NewRecorder(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	ctx := context.Background()

	r.InstanceStarted(ctx, "incident")
	r.InstanceStarted(ctx, "incident")
	r.StageEntered(ctx, "incident", workflow.KindForm)
	r.InstanceFinished(ctx, "incident", workflow.StatusCompleted, 1500*time.Millisecond)
	r.ModificationProposed(ctx, workflow.ModAddStage, true)
	r.ModificationProposed(ctx, workflow.ModAddStage, false)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, got["stageflow_instances_started_total"], AttrWorkflow.String("incident")))
	assert.Equal(t, int64(1), sumOf(t, got["stageflow_stages_entered_total"],
		AttrWorkflow.String("incident"), AttrKind.String("form")))
	assert.Equal(t, int64(1), sumOf(t, got["stageflow_instances_finished_total"],
		AttrWorkflow.String("incident"), AttrStatus.String("completed")))
	assert.Equal(t, int64(1), sumOf(t, got["stageflow_modifications_total"],
		AttrModType.String("addStage"), AttrApproved.Bool(false)))

	hist, ok := got["stageflow_instance_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, 1.5, hist.DataPoints[0].Sum)
}

func TestObserveEngine(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	r, err := NewRecorder(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	registry := workflow.NewRegistry()
	require.NoError(t, registry.RegisterWorkflow(workflow.Definition{
		ID:     "ask",
		Stages: []workflow.Stage{{ID: "question", Kind: workflow.KindForm}},
	}))
	e := workflow.NewEngine(registry, workflow.WithRecorder(r))
	require.NoError(t, r.ObserveEngine(e))

	_, err = e.StartWorkflow(context.Background(), "ask", workflow.ConversationContext{})
	require.NoError(t, err)

	got := collect(t, reader)
	gauge, ok := got["stageflow_instances_active"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(1), gauge.DataPoints[0].Value)
	assert.Equal(t, int64(1), sumOf(t, got["stageflow_instances_started_total"], AttrWorkflow.String("ask")))
}

func TestInitMeterProvider(t *testing.T) {
	ctx := context.Background()
	handler, shutdown, err := InitMeterProvider(ctx, "stageflow-test")
	require.NoError(t, err)
	defer shutdown(ctx)

	r, err := NewRecorder(nil)
	require.NoError(t, err)
	r.InstanceStarted(ctx, "incident")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stageflow_instances_started")
	assert.Contains(t, rec.Body.String(), `workflow="incident"`)
}
