package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths lists infrastructure endpoints that need neither a browser
// session nor a CSRF token.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// staticPrefix holds the stylesheet and other embedded assets.
const staticPrefix = "/static/"

// PublicSkipper returns true for requests that should bypass the session and
// CSRF middleware. Pass it as the Skipper of either so health checks,
// scrapes and asset fetches do not create sessions.
func PublicSkipper(c echo.Context) bool {
	return IsPublicPath(c.Request().URL.Path)
}

// IsPublicPath reports whether path is a public infrastructure endpoint or
// a static asset.
func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, staticPrefix)
}
