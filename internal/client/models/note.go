// Package models defines the client-side note and pending-mutation types
// persisted in the local key-value store.
package models

// Note is the locally cached copy of a note. Version mirrors the
// server-assigned value of the last authoritative state this device has
// seen; zero means the note was created locally and never confirmed.
type Note struct {
	NoteID      string `json:"note_id"`
	CreatedAt   int64  `json:"created_at_s"`
	UpdatedAt   int64  `json:"updated_at_s"`
	PayloadJSON string `json:"payload_json"`
	IsDeleted   bool   `json:"is_deleted"`
	Version     int64  `json:"version"`
}

// Operation names for pending mutations; they match the wire protocol.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// PendingMutation is one queued local edit awaiting server acknowledgment.
// It stays queued across process restarts until the server answers the
// submission; duplicate delivery is safe because the server is idempotent
// on ChangeID.
type PendingMutation struct {
	ChangeID        string `json:"change_id"`
	NoteID          string `json:"note_id"`
	Op              string `json:"op"`
	PayloadJSON     string `json:"payload_json"`
	ClientEditSeq   int64  `json:"client_edit_seq"`
	ClientUpdatedAt int64  `json:"client_updated_at_s"`
	CreatedAt       int64  `json:"created_at_s"`
	ClientTime      int64  `json:"client_time_s"`
}
