// Package resolver implements the authoritative accept/reject decision for
// a single note mutation. Resolve is pure: given the stored note (or nil)
// and the incoming mutation it deterministically produces the next
// authoritative state and the matching change-log record, with no hidden
// time dependency beyond the caller-supplied evaluation instant.
package resolver

import (
	"time"

	"github.com/dkrasnov/notesync/internal/server/models"
)

// Outcome is the resolver's decision for one mutation.
//
// Note always holds the authoritative state after evaluation: the updated
// row on acceptance, the unchanged stored row on rejection. Audit is the
// change-log entry to append; its NewVersion is nil when rejected.
type Outcome struct {
	Accepted bool
	Note     models.Note
	Audit    models.ChangeLogEntry
}

// Resolve applies the accept/reject ladder:
//
//  1. no stored row: accept unconditionally at version 1;
//  2. client edit seq vs stored last-writer edit seq: greater accepts,
//     smaller rejects;
//  3. equal edit seq: tie-break on updated_at, the client winning exact
//     ties so a retrying writer can always make progress.
func Resolve(userID string, stored *models.Note, m models.Mutation, appliedAt time.Time) Outcome {
	accepted := decide(stored, m)

	serverEditSeqSeen := int64(0)
	var prevVersion *int64
	if stored != nil {
		serverEditSeqSeen = stored.LastWriterEditSeq
		v := stored.Version
		prevVersion = &v
	}

	var note models.Note
	if accepted {
		note = nextNote(userID, stored, m, appliedAt)
	} else {
		note = *stored
	}

	audit := models.ChangeLogEntry{
		ChangeID:          m.ChangeID,
		UserID:            userID,
		NoteID:            m.NoteID,
		AppliedAt:         appliedAt.Unix(),
		ClientDevice:      m.ClientDevice,
		ClientTime:        m.ClientTime,
		Op:                m.Op,
		PayloadJSON:       auditPayload(stored, m),
		PrevVersion:       prevVersion,
		ClientEditSeq:     m.ClientEditSeq,
		ServerEditSeqSeen: serverEditSeqSeen,
	}
	if accepted {
		v := note.Version
		audit.NewVersion = &v
	}

	return Outcome{Accepted: accepted, Note: note, Audit: audit}
}

func decide(stored *models.Note, m models.Mutation) bool {
	if stored == nil {
		return true
	}
	switch {
	case m.ClientEditSeq > stored.LastWriterEditSeq:
		return true
	case m.ClientEditSeq < stored.LastWriterEditSeq:
		return false
	}
	// Equal edit seq: tie-break on client vs stored updated_at.
	switch {
	case m.ClientUpdatedAt > stored.UpdatedAt:
		return true
	case m.ClientUpdatedAt < stored.UpdatedAt:
		return false
	}
	return true
}

func nextNote(userID string, stored *models.Note, m models.Mutation, appliedAt time.Time) models.Note {
	var note models.Note
	if stored != nil {
		note = *stored
	} else {
		note = models.Note{
			UserID:    userID,
			NoteID:    m.NoteID,
			CreatedAt: firstPositive(m.ClientCreatedAt, m.ClientUpdatedAt, appliedAt.Unix()),
		}
	}

	note.Version++
	note.LastWriterDevice = m.ClientDevice
	note.LastWriterEditSeq = m.ClientEditSeq

	if m.Op == models.OperationDelete {
		note.IsDeleted = true
		// A delete may omit the payload; the tombstone keeps the
		// last-known content for audit and restore.
		if m.PayloadJSON != "" {
			note.PayloadJSON = m.PayloadJSON
		}
	} else {
		note.IsDeleted = false
		note.PayloadJSON = m.PayloadJSON
	}

	if m.ClientUpdatedAt > note.UpdatedAt {
		note.UpdatedAt = m.ClientUpdatedAt
	}
	if note.UpdatedAt == 0 {
		note.UpdatedAt = appliedAt.Unix()
	}

	return note
}

// auditPayload records the payload as submitted, falling back to the
// last-known stored payload for deletes.
func auditPayload(stored *models.Note, m models.Mutation) string {
	if m.PayloadJSON != "" {
		return m.PayloadJSON
	}
	if m.Op == models.OperationDelete && stored != nil {
		return stored.PayloadJSON
	}
	return ""
}

func firstPositive(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
