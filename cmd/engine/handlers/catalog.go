package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/runlet/engine/cmd/engine/container"
	"github.com/runlet/engine/cmd/engine/middleware"
	"github.com/runlet/engine/workflow"
)

// CatalogHandler serves node type discovery and credit usage
type CatalogHandler struct {
	c *container.Container
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(c *container.Container) *CatalogHandler {
	return &CatalogHandler{c: c}
}

// nodeTypeResponse is the wire projection of a registered node type; the
// constructor stays out of it.
type nodeTypeResponse struct {
	Type                 string                   `json:"type"`
	Name                 string                   `json:"name"`
	Description          string                   `json:"description,omitempty"`
	Inputs               []workflow.ParameterSpec `json:"inputs,omitempty"`
	Outputs              []workflow.ParameterSpec `json:"outputs,omitempty"`
	Usage                int64                    `json:"usage"`
	RequiresSubscription bool                     `json:"requires_subscription,omitempty"`
	Tags                 []string                 `json:"tags,omitempty"`
}

// NodeTypes lists the registered node catalog.
// GET /api/v1/node-types
func (h *CatalogHandler) NodeTypes(c echo.Context) error {
	types := h.c.Registry.List()
	out := make([]nodeTypeResponse, 0, len(types))
	for _, nt := range types {
		out = append(out, nodeTypeResponse{
			Type:                 nt.Type,
			Name:                 nt.Name,
			Description:          nt.Description,
			Inputs:               nt.Inputs,
			Outputs:              nt.Outputs,
			Usage:                nt.Usage,
			RequiresSubscription: nt.RequiresSubscription,
			Tags:                 nt.Tags,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"node_types": out,
		"count":      len(out),
	})
}

// Credits reports the organization's accumulated compute credit usage.
// GET /api/v1/credits
func (h *CatalogHandler) Credits(c echo.Context) error {
	org := middleware.GetOrganization(c)

	used, err := h.c.Credits.Used(c.Request().Context(), org)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("failed to read credit usage"))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"organization_id": org,
		"used":            used,
	})
}
