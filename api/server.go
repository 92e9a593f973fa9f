// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/davidroman0O/stageflow/errors"
	workflow "github.com/davidroman0O/stageflow/workflows"
)

// DefaultAwait bounds GET /instances/:id/result when no wait is given
const DefaultAwait = 30 * time.Second

// Server holds the dependencies for the API handlers.
type Server struct {
	Engine     *workflow.Engine
	Controller *workflow.Controller
	Logger     workflow.Logger

	// Forms is mounted under /forms when set
	Forms *FormBoard
	// Metrics is served at /metrics when set
	Metrics http.Handler
}

// NewServer creates a new Server.
func NewServer(engine *workflow.Engine, controller *workflow.Controller, logger workflow.Logger) *Server {
	return &Server{Engine: engine, Controller: controller, Logger: workflow.WithPrefix(logger, "api")}
}

// NewEcho builds the HTTP router with the API mounted under /api/v1.
func NewEcho(s *Server, serviceName string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(serviceName))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.Metrics))
	}
	s.RegisterHandlers(e.Group("/api/v1"))
	return e
}

// RegisterHandlers mounts every route on g.
func (s *Server) RegisterHandlers(g *echo.Group) {
	g.GET("/schema", s.GetSchema)

	g.GET("/workflows", s.ListWorkflows)
	g.POST("/workflows", s.RegisterWorkflow)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.POST("/workflows/:id/instances", s.StartWorkflow)

	g.GET("/instances", s.ListInstances)
	g.GET("/instances/:id", s.GetInstance)
	g.GET("/instances/:id/stages", s.GetInstanceStages)
	g.POST("/instances/:id/stages/:stage/response", s.SubmitResponse)
	g.POST("/instances/:id/pause", s.Pause)
	g.POST("/instances/:id/resume", s.Resume)
	g.POST("/instances/:id/cancel", s.Cancel)
	g.GET("/instances/:id/result", s.GetResult)
	g.GET("/instances/:id/events", s.StreamEvents)
	g.GET("/instances/:id/analytics", s.GetAnalytics)
	g.GET("/instances/:id/modifications", s.ListModifications)
	g.POST("/instances/:id/modifications", s.ProposeModification)
	g.POST("/instances/:id/conditional-forms", s.EvaluateConditionalForms)
	g.DELETE("/instances/:id/data", s.ClearData)

	g.GET("/modifications", s.ActiveModifications)
	g.GET("/decisions", s.ListDecisions)
	g.GET("/decisions/:id", s.GetDecision)
	g.POST("/decisions/:id/resolve", s.ResolveDecision)
	g.GET("/analytics/bottlenecks", s.Bottlenecks)

	if s.Forms != nil {
		s.Forms.RegisterForms(g)
	}
}

// GetSchema returns the JSON schema of a workflow definition
// (GET /api/v1/schema)
func (s *Server) GetSchema(c echo.Context) error {
	return c.JSON(http.StatusOK, workflow.DefinitionSchema())
}

// ListWorkflows returns the registered definitions, optionally filtered by
// tag or creator
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	r := s.Engine.Registry()
	var defs []workflow.Definition
	switch {
	case c.QueryParam("tag") != "":
		defs = r.WorkflowsByTag(c.QueryParam("tag"))
	case c.QueryParam("createdBy") != "":
		defs = r.WorkflowsByCreator(c.QueryParam("createdBy"))
	default:
		defs = r.GetAvailableWorkflows()
	}
	if defs == nil {
		defs = []workflow.Definition{}
	}
	return c.JSON(http.StatusOK, defs)
}

// RegisterWorkflow adds a definition
// (POST /api/v1/workflows)
func (s *Server) RegisterWorkflow(c echo.Context) error {
	var def workflow.Definition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if err := s.Engine.Registry().RegisterWorkflow(def); err != nil {
		return err
	}
	stored, err := s.Engine.Registry().GetWorkflow(def.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, stored)
}

// GetWorkflow returns one definition
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	def, err := s.Engine.Registry().GetWorkflow(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

type startResponse struct {
	InstanceID string `json:"instanceId"`
}

// StartWorkflow starts an instance of a definition. The body is the
// optional conversation context.
// (POST /api/v1/workflows/:id/instances)
func (s *Server) StartWorkflow(c echo.Context) error {
	var convo workflow.ConversationContext
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&convo); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
		}
	}
	id, err := s.Engine.StartWorkflow(c.Request().Context(), c.Param("id"), convo)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, startResponse{InstanceID: id})
}

// ListInstances returns the live instances, oldest first
// (GET /api/v1/instances)
func (s *Server) ListInstances(c echo.Context) error {
	out := s.Engine.GetActiveWorkflows()
	if out == nil {
		out = []workflow.Instance{}
	}
	return c.JSON(http.StatusOK, out)
}

// GetInstance returns a snapshot of one instance
// (GET /api/v1/instances/:id)
func (s *Server) GetInstance(c echo.Context) error {
	inst, err := s.Engine.GetInstance(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

// GetInstanceStages returns the effective stage graph of an instance
// (GET /api/v1/instances/:id/stages)
func (s *Server) GetInstanceStages(c echo.Context) error {
	stages, err := s.Engine.InstanceStages(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stages)
}

// SubmitResponse delivers a form response to the instance's current stage
// (POST /api/v1/instances/:id/stages/:stage/response)
func (s *Server) SubmitResponse(c echo.Context) error {
	data := map[string]any{}
	if err := bindBody(c, &data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if err := s.Engine.SubmitStageResponse(c.Request().Context(), c.Param("id"), c.Param("stage"), data); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// bindBody decodes only the request body. Binding a map through c.Bind
// would also copy the path parameters into it.
func bindBody(c echo.Context, v any) error {
	return (&echo.DefaultBinder{}).BindBody(c, v)
}

type lifecycleResponse struct {
	Changed bool `json:"changed"`
}

// Pause pauses an active instance
// (POST /api/v1/instances/:id/pause)
func (s *Server) Pause(c echo.Context) error {
	return s.lifecycle(c, s.Engine.PauseWorkflow(c.Param("id")))
}

// Resume resumes a paused instance
// (POST /api/v1/instances/:id/resume)
func (s *Server) Resume(c echo.Context) error {
	return s.lifecycle(c, s.Engine.ResumeWorkflow(c.Request().Context(), c.Param("id")))
}

// Cancel discards an instance
// (POST /api/v1/instances/:id/cancel)
func (s *Server) Cancel(c echo.Context) error {
	return s.lifecycle(c, s.Engine.CancelWorkflow(c.Param("id")))
}

// lifecycle answers 409 when the transition did not apply.
func (s *Server) lifecycle(c echo.Context, changed bool) error {
	status := http.StatusOK
	if !changed {
		status = http.StatusConflict
	}
	return c.JSON(status, lifecycleResponse{Changed: changed})
}

type resultResponse struct {
	workflow.Result
	Cause string `json:"cause,omitempty"`
}

// GetResult waits for the terminal result of an instance. The wait query
// parameter is a duration (default 30s); an instance still running when it
// elapses is answered with 202 and its snapshot.
// (GET /api/v1/instances/:id/result)
func (s *Server) GetResult(c echo.Context) error {
	wait := DefaultAwait
	if raw := c.QueryParam("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			if secs, convErr := strconv.Atoi(raw); convErr == nil {
				d = time.Duration(secs) * time.Second
			} else {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid wait duration: "+raw)
			}
		}
		wait = d
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), wait)
	defer cancel()
	result, err := s.Engine.Await(ctx, c.Param("id"))
	if errors.IsTimeout(err) && result.InstanceID == "" {
		// still running: answer with the current snapshot
		inst, getErr := s.Engine.GetInstance(c.Param("id"))
		if getErr != nil {
			return getErr
		}
		return c.JSON(http.StatusAccepted, inst)
	}
	if err != nil && result.InstanceID == "" {
		return err
	}
	resp := resultResponse{Result: result}
	if err != nil {
		resp.Cause = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// GetAnalytics returns the interaction analytics of an instance
// (GET /api/v1/instances/:id/analytics)
func (s *Server) GetAnalytics(c echo.Context) error {
	wa, ok := s.Engine.Analytics().Analytics(c.Param("id"))
	if !ok {
		return errors.Newf(errors.ErrNotFound, "no analytics for %s", c.Param("id"))
	}
	return c.JSON(http.StatusOK, wa)
}

// Bottlenecks returns the slow stages across every instance
// (GET /api/v1/analytics/bottlenecks)
func (s *Server) Bottlenecks(c echo.Context) error {
	out := s.Engine.Analytics().Bottlenecks()
	if out == nil {
		out = []workflow.Bottleneck{}
	}
	return c.JSON(http.StatusOK, out)
}

type modificationResponse struct {
	Applied bool `json:"applied"`
}

// ProposeModification submits a modification of a running instance through
// the approval gate
// (POST /api/v1/instances/:id/modifications)
func (s *Server) ProposeModification(c echo.Context) error {
	var mod workflow.Modification
	if err := c.Bind(&mod); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	mod.InstanceID = c.Param("id")
	applied, err := s.Controller.ProposeModification(c.Request().Context(), mod)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, modificationResponse{Applied: applied})
}

// ListModifications returns the audit log of one instance
// (GET /api/v1/instances/:id/modifications)
func (s *Server) ListModifications(c echo.Context) error {
	out := s.Controller.Modifications(c.Param("id"))
	if out == nil {
		out = []workflow.ModificationRecord{}
	}
	return c.JSON(http.StatusOK, out)
}

// ActiveModifications returns the audit logs of every instance
// (GET /api/v1/modifications)
func (s *Server) ActiveModifications(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Controller.ActiveModifications())
}

type renderedForms struct {
	Handles []string `json:"handles"`
}

// EvaluateConditionalForms renders the conditional forms whose trigger
// matches. An empty body evaluates the instance's collected data.
// (POST /api/v1/instances/:id/conditional-forms)
func (s *Server) EvaluateConditionalForms(c echo.Context) error {
	var data map[string]any
	if c.Request().ContentLength != 0 {
		if err := bindBody(c, &data); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
		}
	}
	handles, err := s.Controller.EvaluateConditionalForms(c.Request().Context(), c.Param("id"), data)
	if err != nil {
		return err
	}
	if handles == nil {
		handles = []string{}
	}
	return c.JSON(http.StatusOK, renderedForms{Handles: handles})
}

// ClearData drops the modification log, analytics and pending decisions of
// an instance
// (DELETE /api/v1/instances/:id/data)
func (s *Server) ClearData(c echo.Context) error {
	s.Controller.ClearWorkflowData(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// ListDecisions returns pending decisions, optionally of one instance
// (GET /api/v1/decisions)
func (s *Server) ListDecisions(c echo.Context) error {
	out := s.Engine.Broker().PendingDecisions(c.QueryParam("instance"))
	if out == nil {
		out = []workflow.BranchingDecision{}
	}
	return c.JSON(http.StatusOK, out)
}

// GetDecision returns one pending decision
// (GET /api/v1/decisions/:id)
func (s *Server) GetDecision(c echo.Context) error {
	d, err := s.Engine.Broker().Decision(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

type resolveRequest struct {
	PathID string `json:"pathId"`
}

// ResolveDecision applies the chosen path
// (POST /api/v1/decisions/:id/resolve)
func (s *Server) ResolveDecision(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.PathID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pathId is required")
	}
	if err := s.Engine.Broker().ResolveDecision(c.Request().Context(), c.Param("id"), req.PathID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
