package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// OrganizationKey is the context key for the caller's organization id
	OrganizationKey ContextKey = "organization_id"

	// UserKey is the context key for the caller's user id
	UserKey ContextKey = "user_id"
)

// ExtractOrganization requires the X-Org-ID header and stores it in the
// request context. Every record the API serves is scoped to this id, so a
// request without it cannot be served.
//
// The optional X-User-ID header rides along for attribution.
func ExtractOrganization() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			org := c.Request().Header.Get("X-Org-ID")
			if org == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "X-Org-ID header is required",
				})
			}
			c.Set(string(OrganizationKey), org)

			if user := c.Request().Header.Get("X-User-ID"); user != "" {
				c.Set(string(UserKey), user)
			}

			return next(c)
		}
	}
}

// GetOrganization retrieves the organization id from the request context
// Returns empty string if not set
func GetOrganization(c echo.Context) string {
	org := c.Get(string(OrganizationKey))
	if org == nil {
		return ""
	}
	return org.(string)
}

// GetUser retrieves the user id from the request context
// Returns empty string if not set
func GetUser(c echo.Context) string {
	user := c.Get(string(UserKey))
	if user == nil {
		return ""
	}
	return user.(string)
}
