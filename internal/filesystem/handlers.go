package filesystem

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/slipdock/slipdock/internal/activity"
	"github.com/slipdock/slipdock/internal/pathutil"
	"github.com/slipdock/slipdock/internal/progress"
	"github.com/slipdock/slipdock/internal/websocket"
)

// ChangeBroadcaster receives a change event after every completed mutation.
type ChangeBroadcaster interface {
	BroadcastChange(ev websocket.ChangeEvent)
}

// Indexer keeps the search index in step with mutations. Implemented by the
// search service; nil when search is disabled.
type Indexer interface {
	IndexEntry(e Entry)
	RemovePath(path string, isDir bool)
}

// Handlers provides the file-operation HTTP surface.
type Handlers struct {
	store    *Service
	hub      ChangeBroadcaster
	activity *activity.Service
	index    Indexer
	progress *progress.Manager
}

// NewHandlers creates filesystem handlers over the file service.
func NewHandlers(store *Service) *Handlers {
	return &Handlers{store: store}
}

// SetBroadcaster wires the notification hub.
func (h *Handlers) SetBroadcaster(hub ChangeBroadcaster) {
	h.hub = hub
}

// SetActivity wires the activity log.
func (h *Handlers) SetActivity(svc *activity.Service) {
	h.activity = svc
}

// SetIndexer wires incremental search index updates.
func (h *Handlers) SetIndexer(index Indexer) {
	h.index = index
}

// SetProgress wires live progress reporting for multi-file uploads.
func (h *Handlers) SetProgress(m *progress.Manager) {
	h.progress = m
}

// RegisterRoutes registers the file routes on an already-guarded group.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("/browse", h.Browse)
	g.GET("/browse/*", h.Browse)
	g.GET("/download/*", h.Download)
	g.POST("/upload", h.Upload)
	g.POST("/upload/*", h.Upload)
	g.POST("/mkdir", h.Mkdir)
	g.POST("/rename", h.Rename)
	g.POST("/delete", h.Delete)
	g.POST("/move", h.Move)
	g.POST("/copy", h.Copy)
}

// Browse handles GET /api/v1/files/browse/*
func (h *Handlers) Browse(c echo.Context) error {
	listing, err := h.store.List(c.Request().Context(), c.Param("*"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, listing)
}

// Download handles GET /api/v1/files/download/*
func (h *Handlers) Download(c echo.Context) error {
	f, entry, err := h.store.OpenRead(c.Request().Context(), c.Param("*"))
	if err != nil {
		return mapError(err)
	}
	defer f.Close()

	if h.activity != nil {
		h.activity.Record(c.Request().Context(), activity.EventDownload, actor(c),
			pathutil.ParentDir(entry.Path), []string{entry.Name}, nil)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+entry.Name+`"`)
	if entry.MimeType != "" {
		c.Response().Header().Set(echo.HeaderContentType, entry.MimeType)
	}
	http.ServeContent(c.Response(), c.Request(), entry.Name, entry.Modified, f)
	return nil
}

// UploadResponse reports per-file results of one multipart upload.
type UploadResponse struct {
	Stored []Entry        `json:"stored"`
	Failed []UploadFailed `json:"failed,omitempty"`
}

// UploadFailed is one rejected file of a multipart upload.
type UploadFailed struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Upload handles POST /api/v1/files/upload/* with a multipart body. Every
// file part is attempted; the response pairs stored entries with per-file
// failures. When nothing at all was stored, the first failure decides the
// status code.
func (h *Handlers) Upload(c echo.Context) error {
	dir := c.Param("*")
	overwrite := c.QueryParam("overwrite") == "true"

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart body required")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files in request")
	}

	resp := UploadResponse{}
	var firstErr error
	names := make([]string, 0, len(files))

	trackID := ""
	if h.progress != nil && len(files) > 1 {
		trackID = uuid.New().String()
		h.progress.Start(trackID, progress.ActivityUpload, fmt.Sprintf("Uploading %d files", len(files)))
	}

	for i, fh := range files {
		if trackID != "" {
			h.progress.Update(trackID, fh.Filename, i*100/len(files))
		}
		src, err := fh.Open()
		if err != nil {
			resp.Failed = append(resp.Failed, UploadFailed{Name: fh.Filename, Reason: "io_error"})
			continue
		}
		entry, err := h.store.WriteUpload(c.Request().Context(), dir, fh.Filename, src, UploadOptions{Overwrite: overwrite})
		src.Close()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			resp.Failed = append(resp.Failed, UploadFailed{Name: fh.Filename, Reason: failureReason(err)})
			continue
		}
		resp.Stored = append(resp.Stored, *entry)
		names = append(names, entry.Name)
		if h.index != nil {
			h.index.IndexEntry(*entry)
		}
	}

	if len(resp.Stored) == 0 && firstErr != nil {
		if trackID != "" {
			h.progress.Fail(trackID, "upload failed")
		}
		return mapError(firstErr)
	}
	if trackID != "" {
		h.progress.Complete(trackID, fmt.Sprintf("%d files uploaded", len(resp.Stored)))
	}

	h.notify(c, websocket.ChangeUploaded, activity.EventUpload, pathutil.CleanRelPath(dir), names, nil)
	return c.JSON(http.StatusOK, resp)
}

// MkdirRequest names a new directory under path.
type MkdirRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Mkdir handles POST /api/v1/files/mkdir
func (h *Handlers) Mkdir(c echo.Context) error {
	var req MkdirRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entry, err := h.store.Mkdir(c.Request().Context(), req.Path, req.Name)
	if err != nil {
		return mapError(err)
	}

	if h.index != nil {
		h.index.IndexEntry(*entry)
	}
	h.notify(c, websocket.ChangeMkdir, activity.EventMkdir, pathutil.CleanRelPath(req.Path), []string{entry.Name}, nil)
	return c.JSON(http.StatusCreated, entry)
}

// RenameRequest renames path to newName in place.
type RenameRequest struct {
	Path    string `json:"path"`
	NewName string `json:"newName"`
}

// Rename handles POST /api/v1/files/rename
func (h *Handlers) Rename(c echo.Context) error {
	var req RenameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entry, err := h.store.Rename(c.Request().Context(), req.Path, req.NewName)
	if err != nil {
		return mapError(err)
	}

	if h.index != nil {
		h.index.RemovePath(pathutil.CleanRelPath(req.Path), entry.Kind == KindDirectory)
		h.index.IndexEntry(*entry)
	}
	h.notify(c, websocket.ChangeRenamed, activity.EventRename, pathutil.ParentDir(entry.Path),
		[]string{entry.Name}, map[string]any{"from": pathutil.CleanRelPath(req.Path)})
	return c.JSON(http.StatusOK, entry)
}

// PathRequest carries a single target path.
type PathRequest struct {
	Path string `json:"path"`
}

// Delete handles POST /api/v1/files/delete
func (h *Handlers) Delete(c echo.Context) error {
	var req PathRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entry, err := h.store.Delete(c.Request().Context(), req.Path)
	if err != nil {
		return mapError(err)
	}

	if h.index != nil {
		h.index.RemovePath(entry.Path, entry.Kind == KindDirectory)
	}
	h.notify(c, websocket.ChangeDeleted, activity.EventDelete, pathutil.ParentDir(entry.Path), []string{entry.Name}, nil)
	return c.JSON(http.StatusOK, entry)
}

// TransferRequest moves or copies path into destination.
type TransferRequest struct {
	Path        string `json:"path"`
	Destination string `json:"destination"`
}

// Move handles POST /api/v1/files/move
func (h *Handlers) Move(c echo.Context) error {
	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entry, err := h.store.Move(c.Request().Context(), req.Path, req.Destination)
	if err != nil {
		return mapError(err)
	}

	if h.index != nil {
		h.index.RemovePath(pathutil.CleanRelPath(req.Path), entry.Kind == KindDirectory)
		h.index.IndexEntry(*entry)
	}
	from := pathutil.ParentDir(pathutil.CleanRelPath(req.Path))
	h.notify(c, websocket.ChangeMoved, activity.EventMove, from, []string{entry.Name},
		map[string]any{"to": pathutil.ParentDir(entry.Path)})
	if h.hub != nil && from != pathutil.ParentDir(entry.Path) {
		h.hub.BroadcastChange(websocket.NewChangeEvent(websocket.ChangeMoved, pathutil.ParentDir(entry.Path), actor(c), entry.Name))
	}
	return c.JSON(http.StatusOK, entry)
}

// Copy handles POST /api/v1/files/copy
func (h *Handlers) Copy(c echo.Context) error {
	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entry, err := h.store.Copy(c.Request().Context(), req.Path, req.Destination)
	if err != nil {
		return mapError(err)
	}

	if h.index != nil {
		h.index.IndexEntry(*entry)
	}
	h.notify(c, websocket.ChangeCopied, activity.EventCopy, pathutil.ParentDir(entry.Path), []string{entry.Name},
		map[string]any{"from": pathutil.CleanRelPath(req.Path)})
	return c.JSON(http.StatusOK, entry)
}

// notify emits the change event and the activity row for one completed
// mutation. Both are fire-and-forget.
func (h *Handlers) notify(c echo.Context, ct websocket.ChangeType, et activity.EventType, dir string, names []string, detail map[string]any) {
	if h.hub != nil {
		h.hub.BroadcastChange(websocket.NewChangeEvent(ct, dir, actor(c), names...))
	}
	if h.activity != nil {
		h.activity.Record(c.Request().Context(), et, actor(c), dir, names, detail)
	}
}

func actor(c echo.Context) string {
	return c.RealIP()
}

// mapError converts typed filesystem failures to HTTP responses. Anything
// outside the taxonomy is a 500 with a generic body; the cause is in the
// request log, not the response.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrPathViolation), errors.Is(err, ErrInvalidName):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid path")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrNotADirectory):
		return echo.NewHTTPError(http.StatusBadRequest, "not a directory")
	case errors.Is(err, ErrIsADirectory):
		return echo.NewHTTPError(http.StatusBadRequest, "target is a directory")
	case errors.Is(err, ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "already exists")
	case errors.Is(err, ErrQuotaExceeded):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "upload exceeds size limit")
	case errors.Is(err, ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "file operation failed")
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrPathViolation):
		return "path_violation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "io_error"
	}
}
