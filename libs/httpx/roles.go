package httpx

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Identity headers set by the gateway after token verification.
const (
	UserIDHeader = "X-User-Id"
	RoleHeader   = "X-Role"
)

func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := strings.TrimSpace(c.Request().Header.Get(RoleHeader))
			if _, ok := allowed[role]; !ok {
				return echo.NewHTTPError(http.StatusForbidden, "forbidden")
			}
			return next(c)
		}
	}
}

func ActorID(c echo.Context) string {
	return strings.TrimSpace(c.Request().Header.Get(UserIDHeader))
}
