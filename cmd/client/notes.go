package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dkrasnov/notesync/internal/client/models"
	"github.com/dkrasnov/notesync/internal/common"
)

var (
	addNoteID  string
	addTitle   string
	addContent string
	addRawJSON string

	listAll bool
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or edit a note locally and queue the change for sync",
	Long: `Create or edit a note. The change is written to the local store and the
durable outbox immediately; it reaches the server on the next sync pass,
so the command works offline.

Pass --id to edit an existing note; without it a new note id is generated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		payload := addRawJSON
		if payload == "" {
			raw, err := json.Marshal(map[string]string{"title": addTitle, "content": addContent})
			if err != nil {
				return err
			}
			payload = string(raw)
		} else if !json.Valid([]byte(payload)) {
			return fmt.Errorf("--json must be valid JSON")
		}

		noteID := addNoteID
		createdAt := int64(0)
		now := time.Now().Unix()
		var version int64
		if noteID == "" {
			noteID = uuid.NewString()
			createdAt = now
		} else {
			existing, err := s.notes.Get(ctx, noteID)
			if err != nil && !errors.Is(err, common.ErrNotFound) {
				return err
			}
			if existing != nil {
				createdAt = existing.CreatedAt
				version = existing.Version
			}
		}

		if _, err := s.queue.EnqueueUpsert(ctx, noteID, payload, createdAt); err != nil {
			return err
		}
		// Local echo so list/get reflect the edit before the next sync.
		if err := s.notes.Save(ctx, &models.Note{
			NoteID:      noteID,
			CreatedAt:   createdAt,
			UpdatedAt:   now,
			PayloadJSON: payload,
			Version:     version,
		}); err != nil {
			return err
		}

		fmt.Println(noteID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List locally cached notes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		notes, err := s.notes.List(ctx, listAll)
		if err != nil {
			return err
		}
		for _, n := range notes {
			marker := " "
			if n.IsDeleted {
				marker = "D"
			}
			fmt.Printf("%s %s  v%-3d %s  %s\n",
				marker, n.NoteID, n.Version,
				time.Unix(n.UpdatedAt, 0).UTC().Format(time.RFC3339),
				title(n.PayloadJSON))
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <note-id>",
	Short: "Print one note's payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.notes.Get(ctx, args[0])
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("note %s not found", args[0])
		}
		if err != nil {
			return err
		}
		if n.IsDeleted {
			return fmt.Errorf("note %s is deleted", args[0])
		}
		fmt.Println(n.PayloadJSON)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <note-id>",
	Short: "Delete a note and queue the deletion for sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		noteID := args[0]
		existing, err := s.notes.Get(ctx, noteID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}

		if _, err := s.queue.EnqueueDelete(ctx, noteID); err != nil {
			return err
		}
		if existing != nil {
			existing.IsDeleted = true
			existing.UpdatedAt = time.Now().Unix()
			if err := s.notes.Save(ctx, existing); err != nil {
				return err
			}
		}
		return nil
	},
}

// title pulls a human-readable label out of the note payload for listings.
func title(payload string) string {
	var fields struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(payload), &fields); err != nil || fields.Title == "" {
		return "(untitled)"
	}
	return fields.Title
}

func init() {
	addCmd.Flags().StringVar(&addNoteID, "id", "", "note id to edit (default: create a new note)")
	addCmd.Flags().StringVar(&addTitle, "title", "", "note title")
	addCmd.Flags().StringVar(&addContent, "content", "", "note content")
	addCmd.Flags().StringVar(&addRawJSON, "json", "", "raw JSON payload, overrides --title/--content")

	listCmd.Flags().BoolVar(&listAll, "all", false, "include deleted notes")
}
