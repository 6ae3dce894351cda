package ws

import (
	"fittrack/herr"
	"fittrack/session"
	"fittrack/store"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// asUser stands in for the auth middleware: the user id comes from a query param.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("user")
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		result := &session.SessionValidationResult{User: &store.User{ID: id}, Session: &store.Session{UserID: id}}
		next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), result)))
	})
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDeliversToOwnerOnly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub(nil)
	srv := httptest.NewServer(asUser(herr.Wrap(hub.Handle)))
	defer srv.Close()
	defer hub.Close()

	a1 := dial(t, srv, "u1")
	defer a1.Close()
	a2 := dial(t, srv, "u1")
	defer a2.Close()
	b := dial(t, srv, "u2")
	defer b.Close()

	waitFor(t, func() bool { return hub.Connections("u1") == 2 && hub.Connections("u2") == 1 })

	hub.Publish("u1", Event{Type: ActivityCreated, ID: "act-1", Activity: map[string]any{"type": "Course"}})

	for _, conn := range []*websocket.Conn{a1, a2} {
		var ev Event
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, ActivityCreated, ev.Type)
		assert.Equal(t, "act-1", ev.ID)
	}

	require.NoError(t, b.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var ev Event
	assert.Error(t, b.ReadJSON(&ev), "u2 must not see u1's events")
}

func TestHubDisconnectCleansUp(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub(nil)
	srv := httptest.NewServer(asUser(herr.Wrap(hub.Handle)))
	defer srv.Close()

	conn := dial(t, srv, "u1")
	waitFor(t, func() bool { return hub.Connections("u1") == 1 })

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()
	waitFor(t, func() bool { return hub.Connections("u1") == 0 })

	// publishing to nobody is a no-op
	hub.Publish("u1", Event{Type: ActivityDeleted, ID: "act-1"})
	hub.Close()
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub(nil)
	srv := httptest.NewServer(asUser(herr.Wrap(hub.Handle)))
	defer srv.Close()

	conn := dial(t, srv, "u1")
	defer conn.Close()
	waitFor(t, func() bool { return hub.Connections("u1") == 1 })

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHubRejects(t *testing.T) {
	hub := NewHub([]string{"http://localhost:3001"})
	defer hub.Close()
	srv := httptest.NewServer(asUser(herr.Wrap(hub.Handle)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err = websocket.DefaultDialer.Dial(url+"?user=u1", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
