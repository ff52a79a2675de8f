// Package models defines the server-side persistence types for note
// synchronization: the authoritative note row, the append-only change log
// entry, and the client-submitted mutation.
package models

import "time"

// Operation enumerates supported client mutation types.
type Operation string

const (
	OperationUpsert Operation = "upsert"
	OperationDelete Operation = "delete"
)

// Valid reports whether the operation is one of the supported values.
func (o Operation) Valid() bool {
	return o == OperationUpsert || o == OperationDelete
}

// Note is the authoritative state for a (user_id, note_id) pair. A row
// exists for every note the user ever created; deletes only set IsDeleted.
type Note struct {
	UserID            string
	NoteID            string
	CreatedAt         int64 // unix seconds, immutable after creation
	UpdatedAt         int64 // unix seconds, advances via max(stored, client)
	PayloadJSON       string
	IsDeleted         bool
	Version           int64 // starts at 1, +1 per accepted mutation
	LastWriterDevice  string
	LastWriterEditSeq int64
}

// ChangeLogEntry is one row of the append-only audit/idempotency ledger,
// keyed by the client-supplied ChangeID. PrevVersion and NewVersion are nil
// for mutations that created a note or were rejected, respectively.
type ChangeLogEntry struct {
	ChangeID          string
	UserID            string
	NoteID            string
	AppliedAt         int64
	ClientDevice      string
	ClientTime        int64
	Op                Operation
	PayloadJSON       string
	PrevVersion       *int64
	NewVersion        *int64
	ClientEditSeq     int64
	ServerEditSeqSeen int64
}

// Accepted reports whether this ledger entry recorded an accepted mutation.
func (e *ChangeLogEntry) Accepted() bool {
	return e.NewVersion != nil
}

// AppliedTime returns AppliedAt as time.Time.
func (e *ChangeLogEntry) AppliedTime() time.Time {
	return time.Unix(e.AppliedAt, 0)
}

// Mutation is a single client-submitted change as received by the sync
// endpoint. UserID is attached server-side from the authenticated request,
// never trusted from the body.
type Mutation struct {
	ChangeID        string
	NoteID          string
	Op              Operation
	PayloadJSON     string
	ClientDevice    string
	ClientEditSeq   int64
	ClientCreatedAt int64
	ClientUpdatedAt int64
	ClientTime      int64
}
