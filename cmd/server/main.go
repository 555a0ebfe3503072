// CollabSync - Real-Time Collaborative Editing Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/poscraft/collabsync/internal/api"
	"github.com/poscraft/collabsync/internal/comments"
	"github.com/poscraft/collabsync/internal/config"
	"github.com/poscraft/collabsync/internal/docstore"
	"github.com/poscraft/collabsync/internal/identity"
	"github.com/poscraft/collabsync/internal/middleware"
	"github.com/poscraft/collabsync/internal/session"
	"github.com/poscraft/collabsync/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Initialize services.
	docs := docstore.NewMemory()
	gateway := comments.NewGateway(repo, nil)

	hub := session.NewHub(docs, gateway, session.Config{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		CursorTTL:        cfg.CursorTTL,
		IdleTTL:          cfg.SessionIdleTTL,
		SweepInterval:    cfg.SweepInterval,
		HistoryWindow:    cfg.HistoryWindow,
	}, logger)
	gateway.SetBroadcaster(hub)

	// Initialize handlers.
	apiHandler := api.NewHandler(hub, gateway)
	wsHandler := session.NewWebSocketHandler(hub, gateway, cfg.FrontendURL, cfg.IsDevelopment(), cfg.HeartbeatTimeout)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// All routes use identity middleware (no auth needed).
	apiHandler.Routes(r)

	// WebSocket endpoint.
	r.Get("/ws/collaborate", wsHandler.ServeHTTP)

	// Create server.
	// Note: websocket connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Stop sessions last so final snapshots commit after no new
	// connections can arrive.
	hub.Close()

	slog.Info("Server stopped successfully")
}
