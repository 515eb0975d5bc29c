package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/runlet/engine/cmd/engine/container"
	"github.com/runlet/engine/cmd/engine/handlers"
	"github.com/runlet/engine/cmd/engine/middleware"
)

// RegisterCatalogRoutes registers discovery and accounting routes
func RegisterCatalogRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewCatalogHandler(c)

	// The catalog is the same for every organization, but the group shares
	// the org middleware so credits can read the caller's counter.
	api := e.Group("/api/v1")
	api.Use(middleware.ExtractOrganization())
	{
		api.GET("/node-types", h.NodeTypes) // GET /api/v1/node-types
		api.GET("/credits", h.Credits)      // GET /api/v1/credits
	}
}
