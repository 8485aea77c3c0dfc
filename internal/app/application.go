// Package app wires the system together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"livesync/internal/api"
	"livesync/internal/bus"
	"livesync/internal/config"
	"livesync/internal/coordinator"
	"livesync/internal/journal"
	"livesync/internal/session"
	"livesync/internal/websocket"
)

// Application coordinates all components. Construction order: journal,
// bus, registry (end hook wired to the bus), coordinator, transport.
type Application struct {
	config      *config.Config
	journal     journal.Recorder
	registry    *session.Registry
	coordinator *coordinator.Coordinator
	httpServer  *http.Server
	logger      *slog.Logger
}

func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var rec journal.Recorder = journal.Nop{}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open session journal: %w", err)
		}
		rec = j
		logger.Info("session journal enabled", "path", cfg.Journal.Path)
	}

	eventBus := bus.New(cfg.Sync.SendTimeout, cfg.Sync.SubscriberBuffer, logger)
	registry := session.NewRegistry(cfg.Sync.EndGracePeriod, eventBus.CloseSession, logger)
	coord := coordinator.New(registry, eventBus, rec, logger)

	wsHandler := websocket.NewHandler(coord, cfg.WebSocket, logger)
	apiServer := api.NewServer(coord, logger)

	serveMux := http.NewServeMux()
	serveMux.Handle("/api/", apiServer)
	serveMux.Handle("/health", apiServer)
	serveMux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      serveMux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		journal:     rec,
		registry:    registry,
		coordinator: coord,
		httpServer:  httpServer,
		logger:      logger,
	}, nil
}

// Start begins serving. Returns once the listener is up or startup has
// failed.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting livesync", "addr", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("livesync started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP, sessions, journal.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down livesync")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("http server shutdown error", "error", err)
	}

	app.registry.Close()

	if err := app.journal.Close(); err != nil {
		app.logger.Warn("journal shutdown error", "error", err)
	}

	app.logger.Info("livesync shutdown complete")
	return nil
}

// Addr returns the server address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}

// Coordinator exposes the sync API, used by tests.
func (app *Application) Coordinator() *coordinator.Coordinator {
	return app.coordinator
}
