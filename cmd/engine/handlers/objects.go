package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/runlet/engine/blob"
	"github.com/runlet/engine/cmd/engine/container"
)

// ObjectHandler serves presigned blob downloads
type ObjectHandler struct {
	c *container.Container
}

// NewObjectHandler creates a new object handler
func NewObjectHandler(c *container.Container) *ObjectHandler {
	return &ObjectHandler{c: c}
}

// Download streams a stored object. The URL itself is the capability: the
// signature covers the object id and expiry, so no organization scoping
// applies here.
// GET /objects/:id?expires=...&sig=...
func (h *ObjectHandler) Download(c echo.Context) error {
	id := c.Param("id")

	expires, err := strconv.ParseInt(c.QueryParam("expires"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("missing or malformed expires parameter"))
	}
	sig := c.QueryParam("sig")

	if err := h.c.Presigner.Verify(id, expires, sig); err != nil {
		return c.JSON(http.StatusForbidden, errorBody(err.Error()))
	}

	data, meta, err := h.c.Objects.Read(c.Request().Context(), id)
	if err != nil {
		var notFound *blob.NotFoundError
		if errors.As(err, &notFound) {
			return c.JSON(http.StatusNotFound, errorBody(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, errorBody("failed to read object"))
	}

	if meta.Filename != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%q", meta.Filename))
	}
	return c.Blob(http.StatusOK, meta.MimeType, data)
}
