package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/runlet/engine/cmd/engine/container"
	"github.com/runlet/engine/cmd/engine/handlers"
	"github.com/runlet/engine/cmd/engine/middleware"
)

// RegisterExecutionRoutes registers all execution-related routes
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c)

	// Execution routes require an organization
	ex := e.Group("/api/v1/executions")
	ex.Use(middleware.ExtractOrganization())
	{
		ex.POST("", h.Run)     // POST /api/v1/executions
		ex.GET("/:id", h.Get)  // GET /api/v1/executions/{execution_id}
		ex.GET("", h.List)     // GET /api/v1/executions?workflow_id=&deployment_id=
	}
}
