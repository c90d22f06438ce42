package batch

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/slipdock/slipdock/internal/filesystem"
	"github.com/slipdock/slipdock/internal/progress"
)

// Handlers exposes the batch endpoint.
type Handlers struct {
	coordinator *Coordinator
	progress    *progress.Manager
}

func NewHandlers(coordinator *Coordinator) *Handlers {
	return &Handlers{coordinator: coordinator}
}

// SetProgress wires live progress reporting for batch operations.
func (h *Handlers) SetProgress(m *progress.Manager) {
	h.progress = m
}

// RegisterRoutes registers POST /batch on the files group.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.POST("/batch", h.Apply)
}

// Apply handles POST /api/v1/files/batch. delete/move/copy answer with a
// BatchResult: 200 even on partial failure, the failure list is embedded so
// the caller can reconcile identifiers. The download operation streams a ZIP
// instead.
func (h *Handlers) Apply(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Paths) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "paths are required")
	}

	if req.Operation == OpDownload {
		return h.download(c, req)
	}

	trackID := ""
	if h.progress != nil && len(req.Paths) > 1 {
		trackID = uuid.New().String()
		h.progress.Start(trackID, progress.ActivityBatch, fmt.Sprintf("%s: %d items", req.Operation, len(req.Paths)))
	}

	result, err := h.coordinator.Apply(c.Request().Context(), c.RealIP(), req)
	if err != nil {
		if trackID != "" {
			h.progress.Fail(trackID, "batch failed")
		}
		return mapBatchError(err)
	}
	if trackID != "" {
		h.progress.Complete(trackID, fmt.Sprintf("%d of %d succeeded", result.Succeeded, result.Total))
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) download(c echo.Context, req Request) error {
	name := fmt.Sprintf("slipdock-%s.zip", time.Now().Format("20060102-150405"))
	c.Response().Header().Set(echo.HeaderContentType, "application/zip")
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	c.Response().WriteHeader(http.StatusOK)

	_, err := h.coordinator.WriteArchive(c.Request().Context(), c.Response(), req.Paths)
	return err
}

func mapBatchError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownOperation):
		return echo.NewHTTPError(http.StatusBadRequest, "unknown operation")
	case errors.Is(err, filesystem.ErrPathViolation):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid destination")
	case errors.Is(err, filesystem.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "destination not found")
	case errors.Is(err, filesystem.ErrNotADirectory):
		return echo.NewHTTPError(http.StatusBadRequest, "destination is not a directory")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "batch failed")
	}
}
