package health

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handlers exposes the health report over HTTP.
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the health endpoint on the given group.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("/health", h.GetHealth)
}

// GetHealth runs all probes. The HTTP status reflects the aggregate: a
// degraded server still answers 200 so probes can read the detail, but a
// hard failure answers 503 for load-balancer style checks.
func (h *Handlers) GetHealth(c echo.Context) error {
	report := h.service.Run(c.Request().Context())

	code := http.StatusOK
	if report.Status == StatusError {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}
