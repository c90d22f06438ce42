package api

import (
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/slipdock/slipdock/internal/filesystem"
	"github.com/slipdock/slipdock/internal/health"
	"github.com/slipdock/slipdock/internal/netutil"
	"github.com/slipdock/slipdock/internal/scheduler"
)

// Version is the server version reported on the system surface.
const Version = "1.3.0"

func (s *Server) registerSystemRoutes(g *echo.Group) {
	g.GET("/info", s.getSystemInfo)
	g.GET("/qr", s.getSystemQR)
	g.GET("/storage", s.getSystemStorage)
	g.GET("/tasks", s.getSystemTasks)
	g.POST("/tasks/:id/run", s.runSystemTask)
}

// SystemInfo describes the running server for the UI's connection panel.
type SystemInfo struct {
	Version      string   `json:"version"`
	ShareRoot    string   `json:"shareRoot"`
	BindAddress  string   `json:"bindAddress"`
	LANIP        string   `json:"lanIp"`
	URLs         []string `json:"urls"`
	AuthRequired bool     `json:"authRequired"`
	Clients      int      `json:"clients"`
}

// lanURL is the address phones on the same network should open.
func (s *Server) lanURL() string {
	if s.cfg.Server.BaseURL != "" {
		return strings.TrimRight(s.cfg.Server.BaseURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", netutil.LANIP(), s.cfg.Server.Port)
}

func (s *Server) getSystemInfo(c echo.Context) error {
	lanIP := netutil.LANIP()
	urls := []string{s.lanURL()}
	local := fmt.Sprintf("http://localhost:%d", s.cfg.Server.Port)
	if urls[0] != local {
		urls = append(urls, local)
	}

	return c.JSON(http.StatusOK, SystemInfo{
		Version:      Version,
		ShareRoot:    s.store.Resolver().Root(),
		BindAddress:  s.cfg.Server.Address(),
		LANIP:        lanIP,
		URLs:         urls,
		AuthRequired: s.guard.Required(),
		Clients:      s.hub.ClientCount(),
	})
}

// getSystemQR answers a QR code PNG of the LAN URL for phone onboarding.
func (s *Server) getSystemQR(c echo.Context) error {
	png, err := qrcode.Encode(s.lanURL(), qrcode.Medium, 256)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate QR code")
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

// StorageInfo reports share-tree usage plus the volume underneath it.
type StorageInfo struct {
	ShareRoot   string `json:"shareRoot"`
	Files       int64  `json:"files"`
	Directories int64  `json:"directories"`
	UsedBytes   int64  `json:"usedBytes"`
	VolumeFree  uint64 `json:"volumeFree,omitempty"`
	VolumeTotal uint64 `json:"volumeTotal,omitempty"`
}

func (s *Server) getSystemStorage(c echo.Context) error {
	root := s.store.Resolver().Root()
	info := StorageInfo{ShareRoot: root}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := c.Request().Context().Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root {
				info.Directories++
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), filesystem.TempPrefix) {
			return nil
		}
		info.Files++
		if fi, err := d.Info(); err == nil {
			info.UsedBytes += fi.Size()
		}
		return nil
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to scan share root")
	}

	if free, total, err := health.DiskUsage(root); err == nil {
		info.VolumeFree = free
		info.VolumeTotal = total
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) getSystemTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]scheduler.TaskInfo{
		"tasks": s.scheduler.ListTasks(),
	})
}

func (s *Server) runSystemTask(c echo.Context) error {
	if err := s.scheduler.RunNow(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}
