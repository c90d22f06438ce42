package shares

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/slipdock/slipdock/internal/activity"
	"github.com/slipdock/slipdock/internal/batch"
	"github.com/slipdock/slipdock/internal/filesystem"
	"github.com/slipdock/slipdock/internal/pathutil"
)

// Handlers provides the share management API and the public /s/:token
// download route.
type Handlers struct {
	service  *Service
	store    *filesystem.Service
	archiver *batch.Coordinator
	activity *activity.Service
	validate *validator.Validate
}

func NewHandlers(service *Service, store *filesystem.Service, archiver *batch.Coordinator) *Handlers {
	return &Handlers{
		service:  service,
		store:    store,
		archiver: archiver,
		validate: validator.New(),
	}
}

// SetActivity wires the activity log.
func (h *Handlers) SetActivity(svc *activity.Service) {
	h.activity = svc
}

// RegisterRoutes registers the guarded management routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.POST("", h.Create)
	g.GET("", h.List)
	g.DELETE("/:id", h.Revoke)
}

// RegisterPublicRoutes registers the sessionless share access route.
func (h *Handlers) RegisterPublicRoutes(e *echo.Echo) {
	e.GET("/s/:token", h.Serve)
}

// CreateRequest is the new-share payload. ExpiresIn is seconds; 0 means
// never.
type CreateRequest struct {
	Path         string `json:"path" validate:"required"`
	ExpiresIn    int64  `json:"expiresIn" validate:"min=0"`
	MaxDownloads int64  `json:"maxDownloads" validate:"min=0"`
	Password     string `json:"password"`
}

// Create handles POST /api/v1/shares.
func (h *Handlers) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}

	// The target must exist and resolve inside the root before a link to it
	// exists.
	entry, err := h.store.Stat(c.Request().Context(), req.Path)
	if err != nil {
		return mapShareError(err)
	}

	share, err := h.service.Create(c.Request().Context(), CreateInput{
		Path:         entry.Path,
		ExpiresIn:    time.Duration(req.ExpiresIn) * time.Second,
		MaxDownloads: req.MaxDownloads,
		Password:     req.Password,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create share")
	}

	if h.activity != nil {
		h.activity.Record(c.Request().Context(), activity.EventShareCreated, c.RealIP(),
			entry.Path, nil, map[string]any{"token": share.Token})
	}
	return c.JSON(http.StatusCreated, share)
}

// List handles GET /api/v1/shares.
func (h *Handlers) List(c echo.Context) error {
	shares, err := h.service.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list shares")
	}
	return c.JSON(http.StatusOK, shares)
}

// Revoke handles DELETE /api/v1/shares/:id.
func (h *Handlers) Revoke(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if err := h.service.Revoke(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "share not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke share")
	}

	if h.activity != nil {
		h.activity.Record(c.Request().Context(), activity.EventShareRevoked, c.RealIP(), "", nil,
			map[string]any{"id": id})
	}
	return c.NoContent(http.StatusNoContent)
}

// Serve handles GET /s/:token, the public, sessionless access point. A
// single file streams as a download; a directory streams as a ZIP. The
// download counts once the response is written.
func (h *Handlers) Serve(c echo.Context) error {
	ctx := c.Request().Context()

	share, err := h.service.Access(ctx, c.Param("token"), sharePassword(c))
	if err != nil {
		if errors.Is(err, ErrPasswordRequired) {
			return echo.NewHTTPError(http.StatusUnauthorized, "password required")
		}
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	entry, err := h.store.Stat(ctx, share.Path)
	if err != nil {
		// Target was deleted after the share was made; same as never
		// existing.
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	if h.activity != nil {
		h.activity.Record(ctx, activity.EventShareAccess, c.RealIP(), share.Path, nil,
			map[string]any{"token": share.Token})
	}

	if entry.Kind == filesystem.KindDirectory {
		c.Response().Header().Set(echo.HeaderContentType, "application/zip")
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+zipName(entry)+`"`)
		c.Response().WriteHeader(http.StatusOK)
		if _, err := h.archiver.WriteArchive(ctx, c.Response(), []string{share.Path}); err != nil {
			return err
		}
		return h.service.CountDownload(ctx, share.ID)
	}

	f, entry, err := h.store.OpenRead(ctx, share.Path)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	defer f.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+entry.Name+`"`)
	if entry.MimeType != "" {
		c.Response().Header().Set(echo.HeaderContentType, entry.MimeType)
	}
	http.ServeContent(c.Response(), c.Request(), entry.Name, entry.Modified, f)
	return h.service.CountDownload(ctx, share.ID)
}

// sharePassword accepts the password from the query or a form POST field.
func sharePassword(c echo.Context) string {
	if pw := c.QueryParam("password"); pw != "" {
		return pw
	}
	return c.FormValue("password")
}

func zipName(entry *filesystem.Entry) string {
	name := entry.Name
	if name == "" || entry.Path == "" {
		name = "share"
	}
	if clean := pathutil.SanitizeName(name); clean != "" {
		name = clean
	}
	return name + ".zip"
}

func mapShareError(err error) error {
	switch {
	case errors.Is(err, filesystem.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, filesystem.ErrPathViolation):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid path")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "share failed")
	}
}
