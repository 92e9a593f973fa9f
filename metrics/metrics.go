// Package metrics records engine measurements as OpenTelemetry instruments.
package metrics

import (
	"context"
	"time"

	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	workflow "github.com/davidroman0O/stageflow/workflows"
)

const meterName = "github.com/davidroman0O/stageflow"

// Common attribute keys for metrics.
var (
	AttrWorkflow = attribute.Key("workflow")
	AttrStatus   = attribute.Key("status")
	AttrKind     = attribute.Key("stage.kind")
	AttrModType  = attribute.Key("modification.type")
	AttrApproved = attribute.Key("modification.approved")
)

// Recorder implements workflow.Recorder on top of a meter.
type Recorder struct {
	meter         metric.Meter
	started       metric.Int64Counter
	finished      metric.Int64Counter
	duration      metric.Float64Histogram
	stages        metric.Int64Counter
	modifications metric.Int64Counter
}

var _ workflow.Recorder = (*Recorder)(nil)

// NewRecorder creates the instruments on mp, or on the global provider when
// mp is nil.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = otelglobal.GetMeterProvider()
	}
	m := mp.Meter(meterName)
	r := &Recorder{meter: m}

	var err error
	if r.started, err = m.Int64Counter("stageflow_instances_started_total",
		metric.WithDescription("Workflow instances started")); err != nil {
		return nil, err
	}
	if r.finished, err = m.Int64Counter("stageflow_instances_finished_total",
		metric.WithDescription("Workflow instances that reached a terminal status")); err != nil {
		return nil, err
	}
	if r.duration, err = m.Float64Histogram("stageflow_instance_duration_seconds",
		metric.WithDescription("Time from start to terminal status"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.stages, err = m.Int64Counter("stageflow_stages_entered_total",
		metric.WithDescription("Stages entered, by kind")); err != nil {
		return nil, err
	}
	if r.modifications, err = m.Int64Counter("stageflow_modifications_total",
		metric.WithDescription("Modifications proposed, by type and outcome")); err != nil {
		return nil, err
	}
	return r, nil
}

// InstanceStarted implements workflow.Recorder
func (r *Recorder) InstanceStarted(ctx context.Context, workflowID string) {
	r.started.Add(ctx, 1, metric.WithAttributes(AttrWorkflow.String(workflowID)))
}

// InstanceFinished implements workflow.Recorder
func (r *Recorder) InstanceFinished(ctx context.Context, workflowID string, status workflow.Status, elapsed time.Duration) {
	attrs := metric.WithAttributes(AttrWorkflow.String(workflowID), AttrStatus.String(string(status)))
	r.finished.Add(ctx, 1, attrs)
	r.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// StageEntered implements workflow.Recorder
func (r *Recorder) StageEntered(ctx context.Context, workflowID string, kind workflow.StageKind) {
	r.stages.Add(ctx, 1, metric.WithAttributes(AttrWorkflow.String(workflowID), AttrKind.String(string(kind))))
}

// ModificationProposed implements workflow.Recorder
func (r *Recorder) ModificationProposed(ctx context.Context, modType workflow.ModificationType, approved bool) {
	r.modifications.Add(ctx, 1, metric.WithAttributes(AttrModType.String(string(modType)), AttrApproved.Bool(approved)))
}

// ObserveEngine reports the number of live instances and pending
// decisions of e on every collection.
func (r *Recorder) ObserveEngine(e *workflow.Engine) error {
	active, err := r.meter.Int64ObservableGauge("stageflow_instances_active",
		metric.WithDescription("Workflow instances held by the engine"))
	if err != nil {
		return err
	}
	pending, err := r.meter.Int64ObservableGauge("stageflow_decisions_pending",
		metric.WithDescription("Branching decisions awaiting a choice"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(active, int64(len(e.GetActiveWorkflows())))
		o.ObserveInt64(pending, int64(len(e.Broker().PendingDecisions(""))))
		return nil
	}, active, pending)
	return err
}
