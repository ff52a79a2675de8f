// Package server assembles the sync backend: storage, services, auth, and
// the HTTP API, with signal-driven graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkrasnov/notesync/internal/logging"
	"github.com/dkrasnov/notesync/internal/server/auth"
	"github.com/dkrasnov/notesync/internal/server/config"
	"github.com/dkrasnov/notesync/internal/server/httpapi"
	"github.com/dkrasnov/notesync/internal/server/repositories/repomanager"
	"github.com/dkrasnov/notesync/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	handler http.Handler
	closer  func() error
}

func NewApp(cfg *config.Config, logger logging.Logger) (*App, error) {
	var repos repomanager.RepositoryManager
	closer := func() error { return nil }

	if cfg.MemoryDSN() {
		logger.Warn(context.Background(), "using in-memory storage, data will not survive restarts")
		repos = repomanager.NewMemoryRepositoryManager()
	} else {
		pg, err := repomanager.NewPostgresRepositoryManager(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		repos = pg
		closer = pg.Close
	}

	if err := repos.RunMigrations(context.Background()); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	tokens, err := auth.NewTokenManager([]byte(cfg.SigningSecret), cfg.TokenIssuer, cfg.TokenAudience, cfg.TokenTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth init error: %w", err)
	}

	noteService := services.NewNoteService(repos, logger, nil)

	handler, err := httpapi.NewRouter(httpapi.Dependencies{
		Verifier: tokens,
		Notes:    noteService,
		Log:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("router init error: %w", err)
	}

	return &App{config: cfg, logger: logger, handler: handler, closer: closer}, nil
}

// Run serves the HTTP API until ctx is cancelled or a termination signal
// arrives, then drains in-flight requests.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()

	srv := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "server listening", "addr", app.config.HTTPAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		app.logger.Info(context.Background(), "shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "shutdown error", "error", err)
		}
	}

	return app.closer()
}
