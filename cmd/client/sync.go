package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dkrasnov/notesync/internal/client/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass: push queued changes, pull remote updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		changed, err := s.syncer.Synchronize(ctx, syncer.SyncOptions{FlushQueue: true})
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			fmt.Println("up to date")
			return nil
		}
		fmt.Printf("synced, %d note(s) updated\n", len(changed))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and sync continuously until interrupted",
	Long: `Keep the local store converged with the server: an immediate sync pass,
then a pass on every server notification and on a periodic poll as a
fallback. Stops on Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		s.syncer.OnRender = func(changed []string) {
			fmt.Printf("updated: %d note(s)\n", len(changed))
		}

		err = s.syncer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
