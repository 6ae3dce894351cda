package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fittrack/config"
	"fittrack/store"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, driver string) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Driver = driver
	cfg.Store.Path = filepath.Join(dir, "fittrack.db")
	cfg.ObjStore.Dir = filepath.Join(dir, "uploads")
	cfg.RateLimit.RPS = 1000
	cfg.RateLimit.Burst = 1000
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	s, err := newServer(ctx, cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(s.routes(ctx))
	t.Cleanup(func() {
		srv.Close()
		s.hub.Close()
		cancel()
		s.close()
	})
	return srv
}

type client struct {
	t     *testing.T
	srv   *httptest.Server
	token string
}

func (c *client) do(method, path string, body any) (int, []byte) {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, r)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, out
}

func TestEndToEnd(t *testing.T) {
	for _, driver := range []string{store.DriverSQLite, store.DriverJSON} {
		t.Run(driver, func(t *testing.T) {
			srv := newTestServer(t, driver)
			c := &client{t: t, srv: srv}

			code, body := c.do(http.MethodGet, "/api/health", nil)
			require.Equal(t, http.StatusOK, code)
			assert.JSONEq(t, `{"status":"ok"}`, string(body))

			code, body = c.do(http.MethodGet, "/api/auth/me", nil)
			require.Equal(t, http.StatusOK, code)
			assert.JSONEq(t, `{"user":null}`, string(body))

			code, _ = c.do(http.MethodGet, "/api/activities", nil)
			require.Equal(t, http.StatusUnauthorized, code)

			creds := map[string]string{"email": "runner@example.com", "password": "correct-horse"}
			code, body = c.do(http.MethodPost, "/api/auth/signup", creds)
			require.Equal(t, http.StatusCreated, code, string(body))

			var auth struct {
				User        store.User `json:"user"`
				AccessToken string     `json:"accessToken"`
			}
			require.NoError(t, json.Unmarshal(body, &auth))
			require.NotEmpty(t, auth.AccessToken)
			assert.Equal(t, "runner@example.com", auth.User.Email)

			code, body = c.do(http.MethodPost, "/api/auth/signup", creds)
			require.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, string(body), "Email is already registered")

			code, body = c.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "runner@example.com", "password": "wrong-password"})
			require.Equal(t, http.StatusUnauthorized, code)
			assert.Contains(t, string(body), "Invalid email or password")

			code, body = c.do(http.MethodPost, "/api/auth/login", creds)
			require.Equal(t, http.StatusOK, code, string(body))
			require.NoError(t, json.Unmarshal(body, &auth))
			c.token = auth.AccessToken

			code, body = c.do(http.MethodGet, "/api/auth/me", nil)
			require.Equal(t, http.StatusOK, code)
			assert.Contains(t, string(body), `"email":"runner@example.com"`)

			code, body = c.do(http.MethodPost, "/api/activities", map[string]any{
				"type": "Course", "date": "2024-01-01", "duration": 30, "distance": 5,
			})
			require.Equal(t, http.StatusCreated, code, string(body))
			var created store.Activity
			require.NoError(t, json.Unmarshal(body, &created))

			code, body = c.do(http.MethodPost, "/api/activities", map[string]any{"type": "Course", "distance": 5})
			require.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, string(body), "Date and duration are required")

			code, body = c.do(http.MethodGet, "/api/activities", nil)
			require.Equal(t, http.StatusOK, code)
			var list []store.Activity
			require.NoError(t, json.Unmarshal(body, &list))
			require.Len(t, list, 1)
			assert.Equal(t, created.ID, list[0].ID)
			assert.Equal(t, 30.0, list[0].DurationMinutes)
			assert.Equal(t, 5.0, list[0].DistanceKm)

			code, _ = c.do(http.MethodGet, "/api/activities/user/"+auth.User.ID, nil)
			require.Equal(t, http.StatusOK, code)
			code, _ = c.do(http.MethodGet, "/api/activities/user/someone-else", nil)
			require.Equal(t, http.StatusForbidden, code)

			code, _ = c.do(http.MethodDelete, "/api/activities/"+created.ID, nil)
			require.Equal(t, http.StatusOK, code)
			code, _ = c.do(http.MethodDelete, "/api/activities/"+created.ID, nil)
			require.Equal(t, http.StatusNotFound, code)

			code, body = c.do(http.MethodGet, "/api/activities", nil)
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, "[]", strings.TrimSpace(string(body)))

			code, _ = c.do(http.MethodPost, "/api/auth/logout", nil)
			require.Equal(t, http.StatusNoContent, code)

			code, body = c.do(http.MethodGet, "/api/auth/me", nil)
			require.Equal(t, http.StatusOK, code)
			assert.JSONEq(t, `{"user":null}`, string(body))

			code, _ = c.do(http.MethodGet, "/api/activities", nil)
			assert.Equal(t, http.StatusUnauthorized, code)

			code, body = c.do(http.MethodGet, "/metrics", nil)
			require.Equal(t, http.StatusOK, code)
			assert.Contains(t, string(body), "fittrack_http_requests_total")
		})
	}
}

func TestSessionsPurgeCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FITTRACK_STORE_PATH", filepath.Join(dir, "fittrack.db"))
	t.Setenv("FITTRACK_OBJSTORE_DIR", filepath.Join(dir, "uploads"))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"sessions", "purge"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Equal(t, "Purged 0 expired sessions\n", out.String())
}
