// Package httpapi exposes the sync protocol over HTTP: batched mutations,
// authoritative snapshots, the audit ledger, and a per-user SSE stream that
// nudges other devices to re-sync.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/dkrasnov/notesync/internal/common"
	"github.com/dkrasnov/notesync/internal/logging"
	"github.com/dkrasnov/notesync/internal/server/auth"
	"github.com/dkrasnov/notesync/internal/server/models"
	"github.com/dkrasnov/notesync/internal/server/services"
)

const userIDContextKey = "notesync_user_id"

var (
	errMissingVerifier = errors.New("token verifier dependency required")
	errMissingService  = errors.New("note service dependency required")
	errMissingLogger   = errors.New("logger dependency required")
)

// Dependencies carries the collaborators the router needs. Broker may be
// nil, in which case a fresh one is created.
type Dependencies struct {
	Verifier auth.Verifier
	Notes    *services.NoteService
	Log      logging.Logger
	Broker   *Broker
}

type handler struct {
	verifier auth.Verifier
	notes    *services.NoteService
	log      logging.Logger
	broker   *Broker
}

// NewRouter builds the HTTP handler for the sync API.
func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Notes == nil {
		return nil, errMissingService
	}
	if deps.Log == nil {
		return nil, errMissingLogger
	}

	broker := deps.Broker
	if broker == nil {
		broker = NewBroker()
	}

	h := &handler{verifier: deps.Verifier, notes: deps.Notes, log: deps.Log, broker: broker}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(h.authorize)
	protected.POST("/sync", h.handleSync)
	protected.GET("/notes", h.handleSnapshot)
	protected.GET("/changes", h.handleChanges)
	protected.GET("/events", h.handleEvents)

	return router, nil
}

// authorize validates the bearer token and stores the user id on the
// request context. EventSource cannot set headers, so the token is also
// accepted as an access_token query parameter.
func (h *handler) authorize(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token := ""
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_credentials"})
		return
	}

	userID, err := h.verifier.Validate(token)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			h.log.Info(c.Request.Context(), "expired token", "error", err)
		} else {
			h.log.Warn(c.Request.Context(), "token validation failed", "error", err)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(userIDContextKey, userID)
	c.Next()
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

type syncResult struct {
	ChangeID string       `json:"change_id"`
	NoteID   string       `json:"note_id"`
	Accepted bool         `json:"accepted"`
	Version  int64        `json:"version"`
	Error    string       `json:"error,omitempty"`
	Note     *notePayload `json:"note,omitempty"`
}

type syncResponse struct {
	Results []syncResult `json:"results"`
}

func (h *handler) handleSync(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request syncRequest
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Mutations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	mutations := make([]models.Mutation, 0, len(request.Mutations))
	for _, p := range request.Mutations {
		mutations = append(mutations, models.Mutation{
			ChangeID:        p.ChangeID,
			NoteID:          p.NoteID,
			Op:              models.Operation(strings.ToLower(strings.TrimSpace(p.Op))),
			PayloadJSON:     decodePayload(p.PayloadJSON),
			ClientDevice:    p.ClientDevice,
			ClientEditSeq:   p.ClientEditSeq,
			ClientUpdatedAt: p.ClientUpdatedAtS,
			ClientCreatedAt: p.CreatedAtS,
			ClientTime:      p.ClientTimeS,
		})
	}

	results, err := h.notes.Apply(c.Request.Context(), userID, mutations)
	if err != nil {
		h.log.Error(c.Request.Context(), "sync batch failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	response := syncResponse{Results: make([]syncResult, 0, len(results))}
	for _, r := range results {
		item := syncResult{ChangeID: r.ChangeID, NoteID: r.NoteID, Accepted: r.Accepted, Error: r.Err}
		if r.Note != nil {
			item.Version = r.Note.Version
			item.Note = encodeNote(r.Note)
		}
		response.Results = append(response.Results, item)
	}

	h.publishAccepted(userID, results)
	c.JSON(http.StatusOK, response)
}

func (h *handler) publishAccepted(userID string, results []services.Result) {
	seen := make(map[string]struct{})
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if !r.Accepted {
			continue
		}
		if _, ok := seen[r.NoteID]; ok {
			continue
		}
		seen[r.NoteID] = struct{}{}
		ids = append(ids, r.NoteID)
	}
	if len(ids) == 0 {
		return
	}
	h.broker.Publish(Notification{UserID: userID, NoteIDs: ids, At: time.Now().UTC()})
}

type snapshotResponse struct {
	Notes []notePayload `json:"notes"`
}

func (h *handler) handleSnapshot(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	since, err := parseInt(c.Query("since"), 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
		return
	}
	includeDeleted := c.Query("include_deleted") == "1"

	notes, err := h.notes.Snapshot(c.Request.Context(), userID, since, includeDeleted)
	if err != nil {
		h.log.Error(c.Request.Context(), "snapshot failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := snapshotResponse{Notes: make([]notePayload, 0, len(notes))}
	for _, n := range notes {
		response.Notes = append(response.Notes, *encodeNote(n))
	}
	c.JSON(http.StatusOK, response)
}

type changePayload struct {
	ChangeID          string          `json:"change_id"`
	NoteID            string          `json:"note_id"`
	AppliedAtS        int64           `json:"applied_at_s"`
	ClientDevice      string          `json:"client_device"`
	ClientTimeS       int64           `json:"client_time_s"`
	Op                string          `json:"op"`
	PayloadJSON       json.RawMessage `json:"payload_json"`
	PrevVersion       *int64          `json:"prev_version"`
	NewVersion        *int64          `json:"new_version"`
	ClientEditSeq     int64           `json:"client_edit_seq"`
	ServerEditSeqSeen int64           `json:"server_edit_seq_seen"`
}

func (h *handler) handleChanges(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	from, err := parseInt(c.Query("from"), 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_range"})
		return
	}
	to, err := parseInt(c.Query("to"), time.Now().UTC().Unix())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_range"})
		return
	}

	entries, err := h.notes.Changes(c.Request.Context(), userID, from, to)
	if err != nil {
		h.log.Error(c.Request.Context(), "change listing failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	payload := make([]changePayload, 0, len(entries))
	for _, e := range entries {
		payload = append(payload, changePayload{
			ChangeID:          e.ChangeID,
			NoteID:            e.NoteID,
			AppliedAtS:        e.AppliedAt,
			ClientDevice:      e.ClientDevice,
			ClientTimeS:       e.ClientTime,
			Op:                string(e.Op),
			PayloadJSON:       encodeRaw(e.PayloadJSON),
			PrevVersion:       e.PrevVersion,
			NewVersion:        e.NewVersion,
			ClientEditSeq:     e.ClientEditSeq,
			ServerEditSeqSeen: e.ServerEditSeqSeen,
		})
	}
	c.JSON(http.StatusOK, gin.H{"changes": payload})
}

func (h *handler) handleEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()

	stream, cancel := h.broker.Subscribe(ctx, userID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-stream:
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{
				Event: EventNoteChange,
				Data: gin.H{
					"note_ids":  n.NoteIDs,
					"timestamp": n.At.UTC().Format(time.RFC3339Nano),
				},
			})
			return true
		case <-heartbeat.C:
			c.Render(-1, sse.Event{
				Event: eventHeartbeat,
				Data:  gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339Nano)},
			})
			return true
		}
	})
}

func encodeNote(n *models.Note) *notePayload {
	return &notePayload{
		NoteID:            n.NoteID,
		Version:           n.Version,
		CreatedAtS:        n.CreatedAt,
		UpdatedAtS:        n.UpdatedAt,
		IsDeleted:         n.IsDeleted,
		PayloadJSON:       encodeRaw(n.PayloadJSON),
		LastWriterDevice:  n.LastWriterDevice,
		LastWriterEditSeq: n.LastWriterEditSeq,
	}
}

func encodeRaw(raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(raw)
}

func decodePayload(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return string(raw)
}

func parseInt(value string, fallback int64) (int64, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return strconv.ParseInt(value, 10, 64)
}
