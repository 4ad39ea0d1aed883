package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medqueue/medqueue/pkg/apperror"
)

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Admin passes every gate.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return apperror.Forbidden("required role: %s", strings.Join(roles, " or "))
		}
	}
}

// HasAnyRole reports whether userRoles grants any of required.
func HasAnyRole(userRoles []string, required ...string) bool {
	for _, has := range userRoles {
		if has == RoleAdmin {
			return true
		}
		for _, want := range required {
			if has == want {
				return true
			}
		}
	}
	return false
}
