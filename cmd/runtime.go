package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/davidroman0O/stageflow/api"
	"github.com/davidroman0O/stageflow/approval"
	"github.com/davidroman0O/stageflow/config"
	"github.com/davidroman0O/stageflow/metrics"
	"github.com/davidroman0O/stageflow/sink"
	"github.com/davidroman0O/stageflow/sink/postgres"
	workflow "github.com/davidroman0O/stageflow/workflows"
	"github.com/davidroman0O/stageflow/workflows/actions/common"
	"github.com/davidroman0O/stageflow/workflows/loader"
)

// runtime is a fully wired engine
type runtime struct {
	registry   *workflow.Registry
	engine     *workflow.Engine
	controller *workflow.Controller
	actions    *workflow.ActionRegistry
	forms      *api.FormBoard
	results    *sink.Memory
	metrics    http.Handler
	closers    []func()
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// loadDefinitions fills r with the builtins and every configured path.
func loadDefinitions(ctx context.Context, cfg *config.Config, r *workflow.Registry) error {
	var defs []workflow.Definition
	if cfg.Definitions.Builtins {
		builtins, err := loader.Builtins()
		if err != nil {
			return fmt.Errorf("error loading builtin workflows: %w", err)
		}
		defs = append(defs, builtins...)
	}

	for _, path := range cfg.Definitions.Paths {
		loaded, err := loadPath(ctx, path)
		if err != nil {
			return fmt.Errorf("error reading definitions at %s: %w", path, err)
		}
		defs = append(defs, loaded...)
	}
	return loader.RegisterAll(r, defs)
}

// builtinActions backs the action stages of the builtin templates and
// offers the generic actions to loaded definitions.
func builtinActions() []workflow.Action {
	return []workflow.Action{
		common.NewWaitFromField("wait", "waitSeconds"),
		common.NewNotifyAction("immediate-action", "Immediate action required", nil, "problemDescription", "severity"),
		common.NewRequireFieldsAction("require-project-name", "projectName"),
	}
}

func buildRuntime(ctx context.Context, cfg *config.Config, logger workflow.Logger) (*runtime, error) {
	rt := &runtime{
		registry: workflow.NewRegistry(),
		forms:    api.NewFormBoard(0),
		results:  sink.NewMemory(),
	}
	if err := loadDefinitions(ctx, cfg, rt.registry); err != nil {
		return nil, err
	}

	rt.actions = workflow.NewActionRegistry(logger)
	if err := rt.actions.Register(builtinActions()...); err != nil {
		return nil, err
	}

	sinks := sink.Multi{rt.results}
	if cfg.Postgres.Enable {
		pg, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pg.Close)
		sinks = append(sinks, pg)
	}

	if cfg.Server.Metrics {
		handler, shutdown, err := metrics.InitMeterProvider(ctx, "stageflow")
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("error initializing metrics: %w", err)
		}
		rt.metrics = handler
		rt.closers = append(rt.closers, func() { _ = shutdown(context.Background()) })
	}

	recorder, err := metrics.NewRecorder(nil)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("error creating metrics: %w", err)
	}

	approver := approval.NewPolicy(
		cfg.Engine.Approval.AutoApprove,
		cfg.Engine.Approval.AutoDecide,
		cfg.Engine.Approval.AllowedTypes,
		logger,
	)

	rt.engine = workflow.NewEngine(rt.registry,
		workflow.WithLogger(logger),
		workflow.WithFormRenderer(rt.forms),
		workflow.WithActionHandler(rt.actions),
		workflow.WithSink(sinks),
		workflow.WithApprover(approver),
		workflow.WithRecorder(recorder),
		workflow.WithStageTimeout(cfg.Engine.StageTimeout),
		workflow.WithMaxHops(cfg.Engine.MaxHops),
		workflow.WithBottleneckThreshold(cfg.Engine.BottleneckThreshold),
	)
	if err := recorder.ObserveEngine(rt.engine); err != nil {
		rt.close()
		return nil, fmt.Errorf("error registering engine gauges: %w", err)
	}
	rt.controller = workflow.NewController(rt.engine)
	// zero keeps every finished instance
	if cfg.Engine.RetainFinished > 0 {
		rt.closers = append(rt.closers, rt.controller.RetainFinished(cfg.Engine.RetainFinished))
	}
	return rt, nil
}
