package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrasnov/notesync/internal/logging"
	"github.com/dkrasnov/notesync/internal/server/auth"
	"github.com/dkrasnov/notesync/internal/server/repositories/repomanager"
	"github.com/dkrasnov/notesync/internal/server/services"
)

type fixture struct {
	handler http.Handler
	tokens  *auth.TokenManager
	broker  *Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	tokens, err := auth.NewTokenManager([]byte("test-secret"), "notesync", "notesync-clients", time.Hour, nil)
	require.NoError(t, err)

	broker := NewBroker()
	svc := services.NewNoteService(repomanager.NewMemoryRepositoryManager(), log, nil)
	handler, err := NewRouter(Dependencies{Verifier: tokens, Notes: svc, Log: log, Broker: broker})
	require.NoError(t, err)

	return &fixture{handler: handler, tokens: tokens, broker: broker}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := f.tokens.Issue(userID)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func mutationBody(changeID, noteID string, editSeq, updatedAt int64) map[string]any {
	return map[string]any{
		"change_id":           changeID,
		"note_id":             noteID,
		"op":                  "upsert",
		"payload_json":        map[string]any{"text": fmt.Sprintf("rev-%d", editSeq)},
		"client_device":       "dev-a",
		"client_edit_seq":     editSeq,
		"client_updated_at_s": updatedAt,
		"client_time_s":       updatedAt,
	}
}

func TestRouter_RequiresAuth(t *testing.T) {
	f := newFixture(t)

	for _, target := range []string{"/notes", "/changes"} {
		rec := f.do(t, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}

	rec := f.do(t, http.MethodPost, "/sync", "", map[string]any{"mutations": []any{}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/notes", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_Healthz_Public(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_SyncRoundTrip(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "u1")

	rec := f.do(t, http.MethodPost, "/sync", token, map[string]any{
		"mutations": []any{mutationBody("c1", "n1", 1, 1000)},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Results []struct {
			NoteID   string `json:"note_id"`
			Accepted bool   `json:"accepted"`
			Version  int64  `json:"version"`
			Note     *struct {
				UpdatedAtS  int64           `json:"updated_at_s"`
				PayloadJSON json.RawMessage `json:"payload_json"`
			} `json:"note"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Results, 1)
	assert.True(t, response.Results[0].Accepted)
	assert.Equal(t, int64(1), response.Results[0].Version)
	require.NotNil(t, response.Results[0].Note)
	assert.JSONEq(t, `{"text":"rev-1"}`, string(response.Results[0].Note.PayloadJSON))
}

func TestRouter_SyncRejectsStaleWriter(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "u1")

	rec := f.do(t, http.MethodPost, "/sync", token, map[string]any{
		"mutations": []any{mutationBody("c1", "n1", 7, 2000)},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/sync", token, map[string]any{
		"mutations": []any{mutationBody("c2", "n1", 5, 2500)},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Results []struct {
			Accepted bool  `json:"accepted"`
			Version  int64 `json:"version"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Results, 1)
	assert.False(t, response.Results[0].Accepted)
	assert.Equal(t, int64(1), response.Results[0].Version, "rejected result returns unchanged note")
}

func TestRouter_SyncMalformedEntryAnsweredIndividually(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "u1")

	bad := mutationBody("c-bad", "", 1, 1000)
	rec := f.do(t, http.MethodPost, "/sync", token, map[string]any{
		"mutations": []any{bad, mutationBody("c1", "n1", 1, 1000)},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Results []struct {
			Accepted bool   `json:"accepted"`
			Error    string `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Results, 2)
	assert.False(t, response.Results[0].Accepted)
	assert.Equal(t, "missing note_id", response.Results[0].Error)
	assert.True(t, response.Results[1].Accepted)
}

func TestRouter_SyncEmptyBatchRejected(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "u1")

	rec := f.do(t, http.MethodPost, "/sync", token, map[string]any{"mutations": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_SnapshotCursorAndTombstones(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "u1")

	f.do(t, http.MethodPost, "/sync", token, map[string]any{
		"mutations": []any{
			mutationBody("c1", "n1", 1, 1000),
			mutationBody("c2", "n2", 1, 2000),
		},
	})
	f.do(t, http.MethodPost, "/sync", token, map[string]any{
		"mutations": []any{map[string]any{
			"change_id": "c3", "note_id": "n1", "op": "delete",
			"client_device": "dev-a", "client_edit_seq": 2, "client_updated_at_s": 3000,
		}},
	})

	var snapshot struct {
		Notes []struct {
			NoteID    string `json:"note_id"`
			IsDeleted bool   `json:"is_deleted"`
		} `json:"notes"`
	}

	rec := f.do(t, http.MethodGet, "/notes", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.Len(t, snapshot.Notes, 1, "tombstones hidden by default")
	assert.Equal(t, "n2", snapshot.Notes[0].NoteID)

	rec = f.do(t, http.MethodGet, "/notes?include_deleted=1", token, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Len(t, snapshot.Notes, 2)

	rec = f.do(t, http.MethodGet, "/notes?since=2500&include_deleted=1", token, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.Len(t, snapshot.Notes, 1)
	assert.True(t, snapshot.Notes[0].IsDeleted)

	rec = f.do(t, http.MethodGet, "/notes?since=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_PerUserIsolation(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/sync", f.token(t, "alice"), map[string]any{
		"mutations": []any{mutationBody("a1", "shared", 1, 1000)},
	})

	rec := f.do(t, http.MethodGet, "/notes", f.token(t, "bob"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot struct {
		Notes []any `json:"notes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Empty(t, snapshot.Notes)
}

func TestRouter_ChangesLedger(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "u1")

	f.do(t, http.MethodPost, "/sync", token, map[string]any{
		"mutations": []any{mutationBody("c1", "n1", 1, 1000)},
	})
	f.do(t, http.MethodPost, "/sync", token, map[string]any{
		"mutations": []any{mutationBody("c2", "n1", 2, 1100)},
	})

	rec := f.do(t, http.MethodGet, "/changes", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Changes []struct {
			ChangeID   string `json:"change_id"`
			NewVersion *int64 `json:"new_version"`
		} `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Changes, 2)
	require.NotNil(t, response.Changes[1].NewVersion)
	assert.Equal(t, int64(2), *response.Changes[1].NewVersion)
}

func TestRouter_SyncPublishesRealtimeNotification(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, unsubscribe := f.broker.Subscribe(ctx, "u1")
	defer unsubscribe()

	f.do(t, http.MethodPost, "/sync", token, map[string]any{
		"mutations": []any{mutationBody("c1", "n1", 1, 1000)},
	})

	select {
	case n := <-stream:
		assert.Equal(t, []string{"n1"}, n.NoteIDs)
	case <-time.After(time.Second):
		t.Fatal("expected a realtime notification")
	}
}

// closeNotifyRecorder adds the http.CloseNotifier implementation that
// gin's Context.Stream requires of the response writer.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool { return r.closed }

func TestRouter_EventsStreamDeliversNotification(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events?access_token="+token, nil).WithContext(ctx)
	rec := &closeNotifyRecorder{httptest.NewRecorder(), make(chan bool, 1)}

	done := make(chan struct{})
	go func() {
		f.handler.ServeHTTP(rec, req)
		close(done)
	}()

	// Wait for the subscription to register, publish, then close the
	// stream from the client side.
	require.Eventually(t, func() bool {
		return f.broker.SubscriberCount("u1") == 1
	}, time.Second, 5*time.Millisecond)

	f.broker.Publish(Notification{UserID: "u1", NoteIDs: []string{"n1"}, At: time.Now()})
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not terminate on cancel")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event:"+EventNoteChange)
	assert.Contains(t, body, "n1")
}
