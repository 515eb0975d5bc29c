package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/runlet/engine/cmd/engine/container"
	"github.com/runlet/engine/cmd/engine/handlers"
	"github.com/runlet/engine/cmd/engine/middleware"
)

// RegisterWorkflowRoutes registers all deployment-related routes
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	wh := handlers.NewWorkflowHandler(c)
	eh := handlers.NewExecutionHandler(c)

	// Deployment routes require an organization
	wf := e.Group("/api/v1/workflows")
	wf.Use(middleware.ExtractOrganization())
	{
		wf.POST("", wh.Deploy)                       // POST /api/v1/workflows
		wf.GET("/:id", wh.Get)                       // GET /api/v1/workflows/{deployment_id}
		wf.GET("", wh.List)                          // GET /api/v1/workflows
		wf.DELETE("/:id", wh.Delete)                 // DELETE /api/v1/workflows/{deployment_id}
		wf.POST("/:id/executions", eh.RunDeployment) // POST /api/v1/workflows/{deployment_id}/executions
	}
}
