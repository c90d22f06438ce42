package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/slipdock/slipdock/internal/api"
	"github.com/slipdock/slipdock/internal/config"
	"github.com/slipdock/slipdock/internal/database"
	"github.com/slipdock/slipdock/internal/logger"
	"github.com/slipdock/slipdock/internal/netutil"
	"github.com/slipdock/slipdock/internal/websocket"
)

func main() {
	// .env is optional; real environment variables win either way.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "slipdock: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)
	defer log.Close()

	log.Info().
		Str("version", api.Version).
		Str("shareRoot", cfg.Share.Root).
		Msg("starting slipdock")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	hub := websocket.NewHub(log.Logger)
	go hub.Run()

	server, err := api.NewServer(cfg, db, hub, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize server")
	}

	server.StartBackground()

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().
		Str("lanUrl", fmt.Sprintf("http://%s:%d", netutil.LANIP(), cfg.Server.Port)).
		Msg("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}

	server.Close()
	hub.Stop()

	log.Info().Msg("server stopped")
}
