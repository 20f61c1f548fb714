package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automatosx/internal/ratelimit"
	"automatosx/internal/session"
)

func newTestServer(t *testing.T, rl ratelimit.Config) (*Server, *session.Manager) {
	t.Helper()
	sessions, err := session.NewManager(session.Options{
		Path:   filepath.Join(t.TempDir(), "sessions.json"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	return New(Options{
		Addr:      "127.0.0.1:0",
		Sessions:  sessions,
		RateLimit: rl,
		Logger:    zerolog.Nop(),
	}), sessions
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:55555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, ratelimit.Config{})

	w := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSessionsEndpoint(t *testing.T) {
	s, sessions := newTestServer(t, ratelimit.Config{})

	created, err := sessions.Create("backend", "list me", nil)
	require.NoError(t, err)

	w := get(t, s.Handler(), "/v1/sessions")
	require.Equal(t, http.StatusOK, w.Code)

	var out []session.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, created.ID, out[0].ID)
}

func TestSessionsStatusFilter(t *testing.T) {
	s, sessions := newTestServer(t, ratelimit.Config{})

	a, err := sessions.Create("a", "task", nil)
	require.NoError(t, err)
	_, err = sessions.Create("b", "task", nil)
	require.NoError(t, err)
	require.NoError(t, sessions.Complete(a.ID))

	w := get(t, s.Handler(), "/v1/sessions?status=completed")
	require.Equal(t, http.StatusOK, w.Code)

	var out []session.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, a.ID, out[0].ID)
}

func TestRateLimitMiddleware(t *testing.T) {
	s, _ := newTestServer(t, ratelimit.Config{Window: time.Minute, MaxRequests: 2})
	h := s.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)

	w := get(t, h, "/healthz")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestDisabledEndpointsReturn404(t *testing.T) {
	s, _ := newTestServer(t, ratelimit.Config{})

	// No router, loader, or memory wired
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/v1/providers").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/v1/agents").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/v1/memory/stats").Code)
}
