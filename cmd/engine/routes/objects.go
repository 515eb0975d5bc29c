package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/runlet/engine/cmd/engine/container"
	"github.com/runlet/engine/cmd/engine/handlers"
)

// RegisterObjectRoutes registers the presigned download route. It sits
// outside /api/v1 and outside the org middleware: the signed URL itself is
// the credential.
func RegisterObjectRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewObjectHandler(c)

	e.GET("/objects/:id", h.Download) // GET /objects/{object_id}?expires=&sig=
}
