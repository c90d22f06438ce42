package activity

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handlers provides the activity log HTTP surface.
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
}

// List handles GET /api/v1/activity?page=&pageSize=&eventType=
func (h *Handlers) List(c echo.Context) error {
	opts := ListOptions{EventType: c.QueryParam("eventType")}
	if page, err := strconv.Atoi(c.QueryParam("page")); err == nil {
		opts.Page = page
	}
	if size, err := strconv.Atoi(c.QueryParam("pageSize")); err == nil {
		opts.PageSize = size
	}

	resp, err := h.service.List(c.Request().Context(), opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list activity")
	}
	return c.JSON(http.StatusOK, resp)
}
