package syncer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dkrasnov/notesync/internal/client/models"
	"github.com/dkrasnov/notesync/internal/common"
)

// Transport talks HTTP to the sync server. All methods require a valid
// bearer token; a 401 is surfaced as common.ErrUnauthorized so callers can
// stop retrying and re-authenticate.
type Transport struct {
	baseURL string
	token   string
	device  string
	client  *http.Client
}

func NewTransport(baseURL, token, device string) *Transport {
	return &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		device:  device,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type mutationPayload struct {
	ChangeID         string          `json:"change_id"`
	NoteID           string          `json:"note_id"`
	Op               string          `json:"op"`
	PayloadJSON      json.RawMessage `json:"payload_json"`
	ClientDevice     string          `json:"client_device"`
	ClientEditSeq    int64           `json:"client_edit_seq"`
	ClientUpdatedAtS int64           `json:"client_updated_at_s"`
	CreatedAtS       int64           `json:"created_at_s"`
	ClientTimeS      int64           `json:"client_time_s"`
}

type syncRequest struct {
	Mutations []mutationPayload `json:"mutations"`
}

type notePayload struct {
	NoteID            string          `json:"note_id"`
	Version           int64           `json:"version"`
	CreatedAtS        int64           `json:"created_at_s"`
	UpdatedAtS        int64           `json:"updated_at_s"`
	IsDeleted         bool            `json:"is_deleted"`
	PayloadJSON       json.RawMessage `json:"payload_json"`
	LastWriterDevice  string          `json:"last_writer_device"`
	LastWriterEditSeq int64           `json:"last_writer_edit_seq"`
}

// SyncResult is the server's per-mutation verdict.
type SyncResult struct {
	ChangeID string       `json:"change_id"`
	NoteID   string       `json:"note_id"`
	Accepted bool         `json:"accepted"`
	Version  int64        `json:"version"`
	Error    string       `json:"error,omitempty"`
	Note     *notePayload `json:"note,omitempty"`
}

type syncResponse struct {
	Results []SyncResult `json:"results"`
}

type snapshotResponse struct {
	Notes []notePayload `json:"notes"`
}

// Submit posts pending mutations and returns the per-mutation results.
func (t *Transport) Submit(ctx context.Context, pending []*models.PendingMutation) ([]SyncResult, error) {
	request := syncRequest{Mutations: make([]mutationPayload, 0, len(pending))}
	for _, m := range pending {
		request.Mutations = append(request.Mutations, mutationPayload{
			ChangeID:         m.ChangeID,
			NoteID:           m.NoteID,
			Op:               m.Op,
			PayloadJSON:      encodeRaw(m.PayloadJSON),
			ClientDevice:     t.device,
			ClientEditSeq:    m.ClientEditSeq,
			ClientUpdatedAtS: m.ClientUpdatedAt,
			CreatedAtS:       m.CreatedAt,
			ClientTimeS:      m.ClientTime,
		})
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync request: %w", err)
	}

	var response syncResponse
	if err := t.do(ctx, http.MethodPost, "/sync", body, &response); err != nil {
		return nil, err
	}
	return response.Results, nil
}

// Snapshot fetches notes updated at or after since. Tombstones are always
// requested so deletions from other devices propagate.
func (t *Transport) Snapshot(ctx context.Context, since int64) ([]*models.Note, error) {
	path := "/notes?include_deleted=1&since=" + strconv.FormatInt(since, 10)

	var response snapshotResponse
	if err := t.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}

	notes := make([]*models.Note, 0, len(response.Notes))
	for _, p := range response.Notes {
		notes = append(notes, &models.Note{
			NoteID:      p.NoteID,
			CreatedAt:   p.CreatedAtS,
			UpdatedAt:   p.UpdatedAtS,
			PayloadJSON: decodeRaw(p.PayloadJSON),
			IsDeleted:   p.IsDeleted,
			Version:     p.Version,
		})
	}
	return notes, nil
}

// Listen connects to the server's event stream and invokes onEvent for
// every frame received, heartbeats included. It returns when the stream
// breaks or ctx is cancelled.
func (t *Transport) Listen(ctx context.Context, onEvent func(name string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/events", nil)
	if err != nil {
		return fmt.Errorf("failed to build event request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; the default client timeout would kill it.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("event stream failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return common.ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream failed: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			onEvent(strings.TrimSpace(name))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("event stream closed: %w", err)
	}
	return ctx.Err()
}

func (t *Transport) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return common.ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("server returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func encodeRaw(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(raw)
}

func decodeRaw(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return string(raw)
}
