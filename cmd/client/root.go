package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/dkrasnov/notesync/internal/client/config"
	"github.com/dkrasnov/notesync/internal/client/device"
	"github.com/dkrasnov/notesync/internal/client/kvstore"
	"github.com/dkrasnov/notesync/internal/client/notestore"
	"github.com/dkrasnov/notesync/internal/client/syncqueue"
	"github.com/dkrasnov/notesync/internal/client/syncer"
	"github.com/dkrasnov/notesync/internal/logging"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "notesync",
	Short:         "Offline-first note client that syncs through a notesync server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.AddCommand(addCmd, listCmd, getCmd, deleteCmd, syncCmd, watchCmd)
}

// session bundles everything a command needs: the per-user stores, the
// outbox, and a syncer wired to the configured server.
type session struct {
	cfg    *config.Config
	store  *kvstore.SQLiteStore
	notes  *notestore.Store
	queue  *syncqueue.Queue
	syncer *syncer.Syncer
}

func newSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	userID, err := tokenSubject(cfg.Token)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	store, err := kvstore.OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	deviceID := cfg.DeviceLabel
	if deviceID == "" {
		deviceID, err = device.ID(ctx, store)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	scoped := kvstore.NewScoped(store, userID)
	notes := notestore.New(scoped)
	queue := syncqueue.New(scoped)
	remote := syncer.NewTransport(cfg.ServerURL, cfg.Token, deviceID)
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &session{
		cfg:    cfg,
		store:  store,
		notes:  notes,
		queue:  queue,
		syncer: syncer.New(queue, notes, remote, log, syncer.WithPollInterval(cfg.PollInterval)),
	}, nil
}

func (s *session) Close() {
	_ = s.store.Close()
}

// tokenSubject extracts the user id from the bearer token without
// verifying it; verification is the server's job, the client only needs
// the subject to namespace its local data.
func tokenSubject(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("failed to parse auth token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("auth token has no subject")
	}
	return claims.Subject, nil
}
