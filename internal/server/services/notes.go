// Package services contains the server-side orchestration around the
// conflict resolver: transactional batch application, idempotent replay,
// and snapshot queries.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkrasnov/notesync/internal/common"
	"github.com/dkrasnov/notesync/internal/dbx"
	"github.com/dkrasnov/notesync/internal/logging"
	"github.com/dkrasnov/notesync/internal/server/models"
	"github.com/dkrasnov/notesync/internal/server/repositories/repomanager"
	"github.com/dkrasnov/notesync/internal/server/resolver"
)

// NoteService applies client mutation batches against authoritative state.
type NoteService struct {
	repos repomanager.RepositoryManager
	log   logging.Logger
	clock func() time.Time
}

// NewNoteService builds a NoteService. clock may be nil, defaulting to
// time.Now; tests inject a fixed clock.
func NewNoteService(repos repomanager.RepositoryManager, log logging.Logger, clock func() time.Time) *NoteService {
	if clock == nil {
		clock = time.Now
	}
	return &NoteService{repos: repos, log: log, clock: clock}
}

// Result is the outcome for one submitted mutation, in submission order.
// Err is set only for malformed entries that never reached the resolver.
type Result struct {
	ChangeID string
	NoteID   string
	Accepted bool
	Err      string
	Note     *models.Note
}

// Apply evaluates a batch of mutations for userID inside one transaction.
// Malformed entries are answered individually without failing the batch.
// Mutations for the same note fold sequentially, each evaluated against the
// intermediate stored state left by the previous one.
func (s *NoteService) Apply(ctx context.Context, userID string, mutations []models.Mutation) ([]Result, error) {
	if userID == "" {
		return nil, common.ErrUnauthorized
	}

	results := make([]Result, len(mutations))

	err := s.repos.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		noteRepo := s.repos.Notes(tx)
		changeRepo := s.repos.Changes(tx)

		for i, m := range mutations {
			if reason := validate(m); reason != "" {
				results[i] = Result{ChangeID: m.ChangeID, NoteID: m.NoteID, Err: reason}
				continue
			}

			// Idempotency: an already-recorded change id returns the
			// recorded verdict without re-evaluation.
			recorded, err := changeRepo.FindByChangeID(ctx, userID, m.ChangeID)
			if err == nil {
				note, err := noteRepo.Get(ctx, userID, m.NoteID)
				if err != nil && !errors.Is(err, common.ErrNotFound) {
					return fmt.Errorf("idempotent replay load failed: %w", err)
				}
				results[i] = Result{
					ChangeID: m.ChangeID,
					NoteID:   m.NoteID,
					Accepted: recorded.Accepted(),
					Note:     note,
				}
				continue
			}
			if !errors.Is(err, common.ErrNotFound) {
				return fmt.Errorf("idempotency lookup failed: %w", err)
			}

			stored, err := noteRepo.GetForUpdate(ctx, userID, m.NoteID)
			if errors.Is(err, common.ErrNotFound) {
				stored = nil
			} else if err != nil {
				return fmt.Errorf("note lookup failed: %w", err)
			}

			outcome := resolver.Resolve(userID, stored, m, s.clock().UTC())

			if outcome.Accepted {
				if err := noteRepo.Save(ctx, &outcome.Note); err != nil {
					return fmt.Errorf("note save failed: %w", err)
				}
			}
			// Rejections are logged too: the ledger is the idempotency
			// source for retried submissions of either verdict.
			if err := changeRepo.Append(ctx, &outcome.Audit); err != nil {
				return fmt.Errorf("change log append failed: %w", err)
			}

			note := outcome.Note
			results[i] = Result{
				ChangeID: m.ChangeID,
				NoteID:   m.NoteID,
				Accepted: outcome.Accepted,
				Note:     &note,
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error(ctx, "mutation batch failed", "user_id", userID, "error", err)
		return nil, err
	}

	s.log.Info(ctx, "mutation batch applied",
		"user_id", userID, "mutations", len(mutations), "accepted", countAccepted(results))
	return results, nil
}

// Snapshot lists authoritative notes with updated_at_s newer than since.
func (s *NoteService) Snapshot(ctx context.Context, userID string, since int64, includeDeleted bool) ([]*models.Note, error) {
	if userID == "" {
		return nil, common.ErrUnauthorized
	}
	return s.repos.Notes(nil).ListSince(ctx, userID, since, includeDeleted)
}

// Changes exposes the audit ledger for a time range.
func (s *NoteService) Changes(ctx context.Context, userID string, from, to int64) ([]*models.ChangeLogEntry, error) {
	if userID == "" {
		return nil, common.ErrUnauthorized
	}
	return s.repos.Changes(nil).ListByUserRange(ctx, userID, from, to)
}

func validate(m models.Mutation) string {
	if strings.TrimSpace(m.NoteID) == "" {
		return "missing note_id"
	}
	if strings.TrimSpace(m.ChangeID) == "" {
		return "missing change_id"
	}
	if !m.Op.Valid() {
		return "invalid op"
	}
	return ""
}

func countAccepted(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Accepted {
			n++
		}
	}
	return n
}
