package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"

	"github.com/runlet/engine/cmd/engine/container"
	"github.com/runlet/engine/cmd/engine/middleware"
	"github.com/runlet/engine/common/models"
	"github.com/runlet/engine/store"
	"github.com/runlet/engine/workflow"
)

// WorkflowHandler handles workflow deployment requests
type WorkflowHandler struct {
	c *container.Container
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{c: c}
}

// Deploy stores a workflow definition as a runnable deployment. The graph is
// planned before it is stored, so a broken definition is rejected at deploy
// time instead of on first run.
// POST /api/v1/workflows
func (h *WorkflowHandler) Deploy(c echo.Context) error {
	org := middleware.GetOrganization(c)

	var wf workflow.Workflow
	if err := c.Bind(&wf); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid workflow definition"))
	}
	if len(wf.Nodes) == 0 {
		return c.JSON(http.StatusBadRequest, errorBody("workflow has no nodes"))
	}
	if _, err := workflow.Plan(&wf); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error()))
	}

	trigger := wf.Trigger
	if trigger == "" {
		trigger = workflow.TriggerManual
	}

	var cronExpr *string
	if trigger == workflow.TriggerCron {
		if wf.CronExpr == "" {
			return c.JSON(http.StatusBadRequest, errorBody("cron trigger requires cron_expr"))
		}
		if _, err := cron.ParseStandard(wf.CronExpr); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid cron expression: "+err.Error()))
		}
		cronExpr = &wf.CronExpr
	}

	definition, err := json.Marshal(&wf)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("failed to encode workflow"))
	}

	now := time.Now().UTC()
	dep := &models.WorkflowDeployment{
		ID:             uuid.New().String(),
		OrganizationID: org,
		Name:           wf.Name,
		Handle:         wf.Handle,
		Trigger:        string(trigger),
		CronExpr:       cronExpr,
		Definition:     definition,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.c.Deployments.SaveDeployment(c.Request().Context(), dep); err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("failed to save deployment"))
	}

	if trigger == workflow.TriggerCron {
		if err := h.c.Dispatcher.Add(dep); err != nil {
			h.c.Components.Logger.Warn("deployment saved but not scheduled",
				"deployment_id", dep.ID,
				"error", err,
			)
		}
	}

	return c.JSON(http.StatusCreated, dep)
}

// Get retrieves a deployment.
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) Get(c echo.Context) error {
	org := middleware.GetOrganization(c)

	dep, err := h.c.Deployments.GetDeployment(c.Request().Context(), c.Param("id"), org)
	if err != nil {
		var notFound *store.DeploymentNotFoundError
		if errors.As(err, &notFound) {
			return c.JSON(http.StatusNotFound, errorBody(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, errorBody("failed to load deployment"))
	}

	return c.JSON(http.StatusOK, dep)
}

// Delete removes a deployment and drops its cron schedule if it has one.
// DELETE /api/v1/workflows/:id
func (h *WorkflowHandler) Delete(c echo.Context) error {
	org := middleware.GetOrganization(c)
	id := c.Param("id")

	if err := h.c.Deployments.DeleteDeployment(c.Request().Context(), id, org); err != nil {
		var notFound *store.DeploymentNotFoundError
		if errors.As(err, &notFound) {
			return c.JSON(http.StatusNotFound, errorBody(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, errorBody("failed to delete deployment"))
	}

	// Unscheduling a deployment that never had a cron entry is a no-op.
	h.c.Dispatcher.Remove(id)

	return c.NoContent(http.StatusNoContent)
}

// List retrieves the organization's deployments, newest first.
// GET /api/v1/workflows
func (h *WorkflowHandler) List(c echo.Context) error {
	org := middleware.GetOrganization(c)

	deps, err := h.c.Deployments.ListDeployments(c.Request().Context(), org)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("failed to list deployments"))
	}
	if deps == nil {
		deps = []*models.WorkflowDeployment{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflows": deps,
		"count":     len(deps),
	})
}
