package search

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handlers provides the search HTTP surface.
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.Search)
	g.GET("/suggest", h.Suggest)
}

// Search handles GET /api/v1/search?q=&limit=
func (h *Handlers) Search(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	results, err := h.service.Search(c.Request().Context(), c.QueryParam("q"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"query":   c.QueryParam("q"),
		"results": results,
	})
}

// Suggest handles GET /api/v1/search/suggest?q=&limit=
func (h *Handlers) Suggest(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	suggestions, err := h.service.Suggest(c.Request().Context(), c.QueryParam("q"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "suggest failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"query":       c.QueryParam("q"),
		"suggestions": suggestions,
	})
}
