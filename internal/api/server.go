package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/slipdock/slipdock/internal/activity"
	"github.com/slipdock/slipdock/internal/api/middleware"
	"github.com/slipdock/slipdock/internal/api/ratelimit"
	"github.com/slipdock/slipdock/internal/auth"
	"github.com/slipdock/slipdock/internal/batch"
	"github.com/slipdock/slipdock/internal/config"
	"github.com/slipdock/slipdock/internal/database"
	"github.com/slipdock/slipdock/internal/filesystem"
	"github.com/slipdock/slipdock/internal/health"
	"github.com/slipdock/slipdock/internal/progress"
	"github.com/slipdock/slipdock/internal/scheduler"
	"github.com/slipdock/slipdock/internal/scheduler/tasks"
	"github.com/slipdock/slipdock/internal/search"
	"github.com/slipdock/slipdock/internal/settings"
	"github.com/slipdock/slipdock/internal/shares"
	"github.com/slipdock/slipdock/internal/watcher"
	"github.com/slipdock/slipdock/internal/websocket"
)

// Server wires every service behind the HTTP surface.
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	hub    *websocket.Hub
	logger zerolog.Logger

	store           *filesystem.Service
	guard           *auth.Guard
	activityService *activity.Service
	searchService   *search.Service // nil when search is disabled
	shareService    *shares.Service
	coordinator     *batch.Coordinator
	progressManager *progress.Manager
	healthService   *health.Service
	watcherService  *watcher.Service // nil when the watcher is disabled
	scheduler       *scheduler.Scheduler
	limiter         *ratelimit.LoginLimiter
}

// NewServer builds the full service graph over an open, migrated database
// and a hub that the caller runs.
func NewServer(cfg *config.Config, db *database.DB, hub *websocket.Hub, logger zerolog.Logger) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		cfg:    cfg,
		hub:    hub,
		logger: logger,
	}

	settingsService := settings.NewService(db.Conn())
	secret, err := settingsService.SessionSecret(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load session secret: %w", err)
	}

	s.guard, err = auth.NewGuard(cfg.Auth.Password, secret, cfg.Auth.SessionTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("init session guard: %w", err)
	}

	resolver, err := filesystem.NewResolver(cfg.Share.Root)
	if err != nil {
		return nil, fmt.Errorf("share root: %w", err)
	}
	s.store = filesystem.NewService(resolver, cfg.Upload.MaxUploadBytes(), logger)
	s.store.SetAllowDelete(cfg.Share.AllowDelete)

	s.activityService = activity.NewService(db.Conn(), logger)
	s.shareService = shares.NewService(db.Conn(), logger)
	s.progressManager = progress.NewManager(hub, logger)
	s.coordinator = batch.NewCoordinator(s.store, hub, s.activityService, logger)

	indexPath := ""
	if cfg.Search.Enabled {
		s.searchService, err = search.NewService(cfg.Search.IndexPath, s.store, logger)
		if err != nil {
			return nil, fmt.Errorf("open search index: %w", err)
		}
		indexPath = cfg.Search.IndexPath
	}

	s.healthService = health.NewService(db.Conn(), resolver.Root(), indexPath, logger)

	if cfg.Watcher.Enabled {
		var idx watcher.Indexer
		if s.searchService != nil {
			idx = s.searchService
		}
		watcherCfg := watcher.DefaultConfig()
		if cfg.Watcher.Debounce > 0 {
			watcherCfg.Debounce = cfg.Watcher.Debounce
		}
		s.watcherService, err = watcher.NewService(s.store, hub, idx, watcherCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("init watcher: %w", err)
		}
	}

	s.limiter = ratelimit.NewLoginLimiter()

	if err := s.setupScheduler(logger); err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupScheduler(logger zerolog.Logger) error {
	sched, err := scheduler.New(logger)
	if err != nil {
		return err
	}
	s.scheduler = sched

	if err := tasks.RegisterSessionSweepTask(sched, s.guard); err != nil {
		return err
	}
	if err := tasks.RegisterSharePurgeTask(sched, s.shareService); err != nil {
		return err
	}
	if err := tasks.RegisterActivityPruneTask(sched, s.activityService, s.cfg.Activity.Retention()); err != nil {
		return err
	}
	if err := tasks.RegisterTempSweepTask(sched, s.store); err != nil {
		return err
	}
	if s.searchService != nil {
		if err := tasks.RegisterReindexTask(sched, s.searchService, s.progressManager); err != nil {
			return err
		}
	}
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          "login-limiter-cleanup",
		Name:        "Login Limiter Cleanup",
		Description: "Drops expired login rate-limit state",
		Cron:        "45 * * * *",
		Func: func(ctx context.Context) error {
			s.limiter.Cleanup()
			return nil
		},
	})
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(middleware.SecurityHeaders())

	s.echo.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s.echo.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Info().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	s.echo.Use(echomw.GzipWithConfig(echomw.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api/v1")

	authHandlers := auth.NewHandlers(s.guard)
	authHandlers.SetAttemptRecorder(s.limiter)
	authHandlers.RegisterRoutes(api.Group("/auth"), s.limiter.Middleware())

	healthHandlers := health.NewHandlers(s.healthService)
	healthHandlers.RegisterRoutes(api)

	// The browser websocket API cannot set headers, so the upgrade route
	// accepts the session token as a query parameter too.
	api.GET("/ws", s.hub.HandleWebSocket, s.guard.Middleware())

	guarded := api.Group("", s.guard.Middleware())

	fileHandlers := filesystem.NewHandlers(s.store)
	fileHandlers.SetBroadcaster(s.hub)
	fileHandlers.SetActivity(s.activityService)
	fileHandlers.SetProgress(s.progressManager)
	if s.searchService != nil {
		fileHandlers.SetIndexer(s.searchService)
	}
	files := guarded.Group("/files")
	fileHandlers.RegisterRoutes(files)

	batchHandlers := batch.NewHandlers(s.coordinator)
	batchHandlers.SetProgress(s.progressManager)
	batchHandlers.RegisterRoutes(files)

	if s.searchService != nil {
		search.NewHandlers(s.searchService).RegisterRoutes(guarded.Group("/search"))
	}

	activity.NewHandlers(s.activityService).RegisterRoutes(guarded.Group("/activity"))

	shareHandlers := shares.NewHandlers(s.shareService, s.store, s.coordinator)
	shareHandlers.SetActivity(s.activityService)
	shareHandlers.RegisterRoutes(guarded.Group("/shares"))
	shareHandlers.RegisterPublicRoutes(s.echo)

	s.registerSystemRoutes(guarded.Group("/system"))
}

// Start begins serving. Blocks until Shutdown.
func (s *Server) Start() error {
	addr := s.cfg.Server.Address()
	s.logger.Info().Str("address", addr).Msg("Starting HTTP server")
	return s.echo.Start(addr)
}

// StartBackground starts the watcher and the maintenance scheduler.
func (s *Server) StartBackground() {
	if s.watcherService != nil {
		if err := s.watcherService.Start(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to start filesystem watcher")
			s.watcherService = nil
		}
	}
	s.scheduler.Start()
}

// Shutdown drains in-flight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Close stops the background services. Call after Shutdown.
func (s *Server) Close() {
	if err := s.scheduler.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Scheduler shutdown failed")
	}
	if s.watcherService != nil {
		if err := s.watcherService.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Watcher shutdown failed")
		}
	}
	if s.searchService != nil {
		if err := s.searchService.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Search index close failed")
		}
	}
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
