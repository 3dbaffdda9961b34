package state

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hatcher/kbchat/api"
	"github.com/hatcher/kbchat/models"
	"github.com/hatcher/kbchat/token"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, handler http.Handler) *Manager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := api.New(api.Config{BaseURL: srv.URL}, token.NewMemoryStore())
	mgr := NewManager(client)
	t.Cleanup(mgr.Shutdown)
	return mgr
}

func writeOK(w http.ResponseWriter, data interface{}, pagination interface{}) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]interface{}{
		"success": true,
		"message": "ok",
		"data":    data,
	}
	if pagination != nil {
		body["pagination"] = pagination
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func sessionJSON(id int64, title string) map[string]interface{} {
	return map[string]interface{}{
		"id":             id,
		"title":          title,
		"created_at":     "2026-08-23T10:00:00Z",
		"last_active_at": "2026-08-23T10:00:00Z",
	}
}

func TestFetchSessionsPaging(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		page := r.URL.Query().Get("page")
		switch page {
		case "1":
			writeOK(w, []interface{}{sessionJSON(1, "first"), sessionJSON(2, "second")},
				map[string]interface{}{"page": 1, "per_page": 20, "total": 3, "total_pages": 2, "has_next": true})
		case "2":
			writeOK(w, []interface{}{sessionJSON(3, "third")},
				map[string]interface{}{"page": 2, "per_page": 20, "total": 3, "total_pages": 2, "has_next": false})
		default:
			writeErr(w, http.StatusBadRequest, "bad page")
		}
	})

	mgr := newManager(t, mux)
	ctx := context.Background()

	require.NoError(t, mgr.FetchSessions(ctx, false))
	require.Len(t, mgr.Sessions(), 2)
	require.True(t, mgr.HasMore())

	require.NoError(t, mgr.FetchSessions(ctx, false))
	require.Len(t, mgr.Sessions(), 3)
	require.False(t, mgr.HasMore())
	require.EqualValues(t, 2, requests.Load())

	// Exhausted history fetches nothing.
	require.NoError(t, mgr.FetchSessions(ctx, false))
	require.EqualValues(t, 2, requests.Load())

	// Reset starts over from page one.
	require.NoError(t, mgr.FetchSessions(ctx, true))
	require.Len(t, mgr.Sessions(), 2)
	require.EqualValues(t, 3, requests.Load())
}

func TestCreateSessionBecomesActive(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, sessionJSON(10, "fresh"), nil)
	})

	mgr := newManager(t, mux)
	session, err := mgr.CreateSession(context.Background(), "fresh")
	require.NoError(t, err)
	require.EqualValues(t, 10, session.ID)

	active := mgr.Active()
	require.NotNil(t, active)
	require.EqualValues(t, 10, active.ID)
	require.Empty(t, mgr.Messages())
	require.Len(t, mgr.Sessions(), 1)
}

func TestLoadSessionFailureKeepsState(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, sessionJSON(10, "fresh"), nil)
	})
	mux.HandleFunc("/api/chat/404", func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusNotFound, "session not found")
	})

	mgr := newManager(t, mux)
	ctx := context.Background()
	_, err := mgr.CreateSession(ctx, "fresh")
	require.NoError(t, err)

	err = mgr.LoadSession(ctx, 404)
	require.Error(t, err)
	require.True(t, api.IsNotFound(err))

	active := mgr.Active()
	require.NotNil(t, active)
	require.EqualValues(t, 10, active.ID)
	require.NotEmpty(t, mgr.LastError())
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, sessionJSON(10, "fresh"), nil)
	})
	mux.HandleFunc("/api/chat/10", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, nil, nil)
	})
	mux.HandleFunc("/api/chat/77", func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusNotFound, "session not found")
	})

	mgr := newManager(t, mux)
	ctx := context.Background()
	_, err := mgr.CreateSession(ctx, "fresh")
	require.NoError(t, err)

	t.Run("deleting the active session clears it", func(t *testing.T) {
		require.NoError(t, mgr.DeleteSession(ctx, 10))
		require.Nil(t, mgr.Active())
		require.Empty(t, mgr.Sessions())
		require.Empty(t, mgr.Messages())
	})

	t.Run("deleting a missing session converges", func(t *testing.T) {
		require.NoError(t, mgr.DeleteSession(ctx, 77))
	})
}

func TestSendMessageOptimistic(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, sessionJSON(10, "fresh"), nil)
	})
	mux.HandleFunc("/api/chat/10/message", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]interface{}{
			"id":         100,
			"session_id": 10,
			"role":       "ai",
			"content":    "the answer",
			"created_at": "2026-08-23T10:01:00Z",
		}, nil)
	})

	mgr := newManager(t, mux)
	ctx := context.Background()
	_, err := mgr.CreateSession(ctx, "fresh")
	require.NoError(t, err)

	require.NoError(t, mgr.SendMessage(ctx, api.SendMessageRequest{Message: "the question"}))

	msgs := mgr.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, models.RoleUser, msgs[0].Role)
	require.Equal(t, "the question", msgs[0].Content)
	require.Equal(t, StatusConfirmed, msgs[0].Status)
	require.Equal(t, models.RoleAI, msgs[1].Role)
	require.Equal(t, "the answer", msgs[1].Content)
	require.Equal(t, StatusConfirmed, msgs[1].Status)
	require.EqualValues(t, 100, msgs[1].ID)

	active := mgr.Active()
	require.EqualValues(t, 2, active.MessageCount)
	require.Equal(t, "the question", active.Preview)
}

func TestSendMessageRollbackOnFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, sessionJSON(10, "fresh"), nil)
	})
	mux.HandleFunc("/api/chat/10/message", func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusInternalServerError, "model unavailable")
	})

	mgr := newManager(t, mux)
	ctx := context.Background()
	_, err := mgr.CreateSession(ctx, "fresh")
	require.NoError(t, err)

	err = mgr.SendMessage(ctx, api.SendMessageRequest{Message: "hello"})
	require.Error(t, err)
	require.Empty(t, mgr.Messages())
	require.Contains(t, mgr.LastError(), "model unavailable")
	require.False(t, mgr.Sending())

	// The manager accepts a new send after rollback.
	err = mgr.SendMessage(ctx, api.SendMessageRequest{Message: "again"})
	require.Error(t, err)
}

func TestSendMessageGates(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, sessionJSON(10, "fresh"), nil)
	})
	mux.HandleFunc("/api/chat/10/message", func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeOK(w, map[string]interface{}{
			"id": 100, "session_id": 10, "role": "ai", "content": "ok",
		}, nil)
	})

	mgr := newManager(t, mux)
	ctx := context.Background()

	t.Run("no active session", func(t *testing.T) {
		err := mgr.SendMessage(ctx, api.SendMessageRequest{Message: "hi"})
		require.ErrorIs(t, err, ErrNoActiveSession)
	})

	_, err := mgr.CreateSession(ctx, "fresh")
	require.NoError(t, err)

	t.Run("second send while one is in flight", func(t *testing.T) {
		done := make(chan error, 1)
		go func() {
			done <- mgr.SendMessage(ctx, api.SendMessageRequest{Message: "first"})
		}()

		require.Eventually(t, mgr.Sending, time.Second, 5*time.Millisecond)
		err := mgr.SendMessage(ctx, api.SendMessageRequest{Message: "second"})
		require.ErrorIs(t, err, ErrSendInFlight)

		close(release)
		require.NoError(t, <-done)
	})
}

func TestSendMessageStream(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, sessionJSON(10, "fresh"), nil)
	})
	mux.HandleFunc("/api/chat/10/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\": \"the \"}\n")
		fmt.Fprint(w, "data: {\"content\": \"answer\"}\n")
		fmt.Fprint(w, "data: {\"done\": true, \"message\": {\"id\": 100, \"session_id\": 10, \"role\": \"ai\", \"content\": \"the answer\", \"tokens_used\": 12}}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	})

	mgr := newManager(t, mux)
	ctx := context.Background()
	_, err := mgr.CreateSession(ctx, "fresh")
	require.NoError(t, err)

	sub := mgr.Subscribe(ctx)

	require.NoError(t, mgr.SendMessageStream(ctx, api.SendMessageRequest{Message: "the question"}))

	msgs := mgr.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, StatusConfirmed, msgs[0].Status)
	require.Equal(t, StatusConfirmed, msgs[1].Status)
	require.Equal(t, "the answer", msgs[1].Content)
	require.EqualValues(t, 100, msgs[1].ID)
	require.EqualValues(t, 12, msgs[1].TokensUsed)

	var deltas string
	deadline := time.After(time.Second)
collect:
	for {
		select {
		case ev := <-sub:
			if ev.Payload.Kind == DeltaReceived {
				deltas += ev.Payload.Delta
				if deltas == "the answer" {
					break collect
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for deltas, got %q", deltas)
		}
	}
}

func TestSendMessageStreamFailureRollsBack(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, sessionJSON(10, "fresh"), nil)
	})
	mux.HandleFunc("/api/chat/10/stream", func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusInternalServerError, "model unavailable")
	})

	mgr := newManager(t, mux)
	ctx := context.Background()
	_, err := mgr.CreateSession(ctx, "fresh")
	require.NoError(t, err)

	err = mgr.SendMessageStream(ctx, api.SendMessageRequest{Message: "hello"})
	require.Error(t, err)
	require.Empty(t, mgr.Messages())
	require.False(t, mgr.Sending())
}

func TestSendMessageStreamWithoutTerminalEvent(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, sessionJSON(10, "fresh"), nil)
	})
	mux.HandleFunc("/api/chat/10/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\": \"partial reply\"}\n")
	})

	mgr := newManager(t, mux)
	ctx := context.Background()
	_, err := mgr.CreateSession(ctx, "fresh")
	require.NoError(t, err)

	require.NoError(t, mgr.SendMessageStream(ctx, api.SendMessageRequest{Message: "hello"}))

	msgs := mgr.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "partial reply", msgs[1].Content)
	require.Equal(t, StatusConfirmed, msgs[1].Status)
}

func TestLoginCreateSendScenario(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]interface{}{
			"access_token":  "acc-1",
			"refresh_token": "ref-1",
			"user":          map[string]interface{}{"id": 1, "username": "alice"},
		}, nil)
	})
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer acc-1", r.Header.Get("Authorization"))
		writeOK(w, sessionJSON(10, "fresh"), nil)
	})
	mux.HandleFunc("/api/chat/10/message", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer acc-1", r.Header.Get("Authorization"))
		writeOK(w, map[string]interface{}{
			"id": 100, "session_id": 10, "role": "ai", "content": "hello alice",
		}, nil)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := api.New(api.Config{BaseURL: srv.URL}, token.NewMemoryStore())
	mgr := NewManager(client)
	t.Cleanup(mgr.Shutdown)

	ctx := context.Background()
	user, err := client.Login(ctx, "alice", "secret123")
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)

	_, err = mgr.CreateSession(ctx, "fresh")
	require.NoError(t, err)

	require.NoError(t, mgr.SendMessage(ctx, api.SendMessageRequest{Message: "hi"}))
	msgs := mgr.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "hello alice", msgs[1].Content)
}

func TestRenameSession(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, sessionJSON(10, "fresh"), nil)
	})
	mux.HandleFunc("/api/chat/10", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		writeOK(w, sessionJSON(10, "renamed"), nil)
	})

	mgr := newManager(t, mux)
	ctx := context.Background()
	_, err := mgr.CreateSession(ctx, "fresh")
	require.NoError(t, err)

	require.NoError(t, mgr.RenameSession(ctx, 10, "renamed"))
	require.Equal(t, "renamed", mgr.Active().Title)
	require.Equal(t, "renamed", mgr.Sessions()[0].Title)
}
