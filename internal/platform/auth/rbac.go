package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/healthassist/internal/platform/session"
)

// LoginPath is where anonymous visitors of a protected page are sent.
const LoginPath = "/login"

// RequireRole returns middleware that checks if the session user holds one of
// the specified roles. Anonymous sessions are redirected to the login page.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s := session.FromContext(c)
			if s == nil || !s.LoggedIn {
				return c.Redirect(http.StatusSeeOther, LoginPath)
			}
			for _, required := range roles {
				if s.Role == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireLogin lets any logged-in session through.
func RequireLogin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s := session.FromContext(c); s == nil || !s.LoggedIn {
				return c.Redirect(http.StatusSeeOther, LoginPath)
			}
			return next(c)
		}
	}
}
