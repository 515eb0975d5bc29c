package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/runlet/engine/cmd/engine/container"
	"github.com/runlet/engine/cmd/engine/middleware"
	"github.com/runlet/engine/common/models"
	"github.com/runlet/engine/credits"
	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/store"
	"github.com/runlet/engine/workflow"
)

// ExecutionHandler handles workflow execution requests
type ExecutionHandler struct {
	c *container.Container
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{c: c}
}

// runRequest is the body of POST /api/v1/executions.
type runRequest struct {
	Workflow *workflow.Workflow `json:"workflow" validate:"required"`

	ComputeCredits     int64  `json:"compute_credits" validate:"gte=0"`
	SubscriptionStatus string `json:"subscription_status" validate:"omitempty,oneof=active trial none"`
	OverageLimit       *int64 `json:"overage_limit"`

	Monitor    bool   `json:"monitor"`
	Visibility string `json:"visibility" validate:"omitempty,oneof=private public"`
}

// deploymentRunRequest is the body of POST /api/v1/workflows/:id/executions.
// The workflow itself comes from the stored deployment.
type deploymentRunRequest struct {
	ComputeCredits     int64  `json:"compute_credits" validate:"gte=0"`
	SubscriptionStatus string `json:"subscription_status" validate:"omitempty,oneof=active trial none"`
	OverageLimit       *int64 `json:"overage_limit"`
	Monitor            bool   `json:"monitor"`
	Visibility         string `json:"visibility" validate:"omitempty,oneof=private public"`
}

// Run executes an inline workflow synchronously and returns the settled
// record.
// POST /api/v1/executions
func (h *ExecutionHandler) Run(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	return h.execute(c, runtime.Params{
		Workflow:           req.Workflow,
		UserID:             middleware.GetUser(c),
		OrganizationID:     middleware.GetOrganization(c),
		ComputeCredits:     req.ComputeCredits,
		SubscriptionStatus: req.SubscriptionStatus,
		OverageLimit:       req.OverageLimit,
		Visibility:         models.Visibility(req.Visibility),
		MonitorProgress:    req.Monitor,
	})
}

// RunDeployment executes a stored deployment.
// POST /api/v1/workflows/:id/executions
func (h *ExecutionHandler) RunDeployment(c echo.Context) error {
	org := middleware.GetOrganization(c)

	var req deploymentRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	dep, err := h.c.Deployments.GetDeployment(c.Request().Context(), c.Param("id"), org)
	if err != nil {
		var notFound *store.DeploymentNotFoundError
		if errors.As(err, &notFound) {
			return c.JSON(http.StatusNotFound, errorBody(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, errorBody("failed to load deployment"))
	}

	var wf workflow.Workflow
	if err := json.Unmarshal(dep.Definition, &wf); err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("deployment definition is unreadable"))
	}
	if wf.ID == "" {
		wf.ID = dep.ID
	}

	return h.execute(c, runtime.Params{
		Workflow:           &wf,
		UserID:             middleware.GetUser(c),
		OrganizationID:     org,
		ComputeCredits:     req.ComputeCredits,
		SubscriptionStatus: req.SubscriptionStatus,
		OverageLimit:       req.OverageLimit,
		DeploymentID:       dep.ID,
		Visibility:         models.Visibility(req.Visibility),
		MonitorProgress:    req.Monitor,
	})
}

// execute runs the workflow and maps the outcome to an HTTP response. A run
// that settled with node failures is still a 200: the record reports the
// status. Only pre-run rejections map to error codes.
func (h *ExecutionHandler) execute(c echo.Context, p runtime.Params) error {
	record, err := h.c.Runtime.Execute(c.Request().Context(), p)
	if err != nil {
		var insufficient *credits.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			return c.JSON(http.StatusPaymentRequired, errorBody(err.Error()))
		}
		if record == nil {
			return c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error()))
		}
		// The run settled but persisting it failed; the caller still gets
		// the outcome.
		h.c.Components.Logger.Warn("execution settled but persist failed",
			"execution_id", record.ID,
			"error", err,
		)
	}
	return c.JSON(http.StatusOK, record)
}

// Get retrieves an execution record.
// GET /api/v1/executions/:id
func (h *ExecutionHandler) Get(c echo.Context) error {
	org := middleware.GetOrganization(c)

	record, err := h.c.Executions.Get(c.Request().Context(), c.Param("id"), org)
	if err != nil {
		var notFound *store.NotFoundError
		if errors.As(err, &notFound) {
			return c.JSON(http.StatusNotFound, errorBody(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, errorBody("failed to load execution"))
	}

	return c.JSON(http.StatusOK, record)
}

// List retrieves execution records with optional filters.
// GET /api/v1/executions?workflow_id=&deployment_id=&limit=&offset=
func (h *ExecutionHandler) List(c echo.Context) error {
	org := middleware.GetOrganization(c)

	filter := store.Filter{
		WorkflowID:   c.QueryParam("workflow_id"),
		DeploymentID: c.QueryParam("deployment_id"),
		Limit:        queryInt(c, "limit"),
		Offset:       queryInt(c, "offset"),
	}

	records, err := h.c.Executions.List(c.Request().Context(), org, filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("failed to list executions"))
	}
	if records == nil {
		records = []*models.WorkflowExecution{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"executions": records,
		"count":      len(records),
	})
}

// queryInt parses an integer query parameter; absent or malformed means 0.
func queryInt(c echo.Context, name string) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return 0
	}
	return v
}

// errorBody is the uniform error envelope for engine API responses.
func errorBody(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg}
}
