package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Middleware guards a route group. The token is taken from the
// Authorization header, the session cookie, or a ?token= query parameter
// (browser downloads can't set headers). A failing check always yields the
// same 401 body, before any path handling runs, so an unauthenticated
// caller cannot probe which paths exist.
func (g *Guard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := g.Validate(ExtractToken(c)); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// ExtractToken pulls the session token out of a request, header first.
func ExtractToken(c echo.Context) string {
	if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	if cookie, err := c.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return c.QueryParam("token")
}
