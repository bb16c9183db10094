package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/secrets-gateway/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
}

func newTestServer(t *testing.T, pprof bool) *Server {
	srv, err := New(&api.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		EnablePprof:              pprof,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, pingHandler{})
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServer_RegistersHandlerRoutes(t *testing.T) {
	srv := newTestServer(t, false)
	w := get(t, srv.Handler(), "/api/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestServer_DrainUndrain(t *testing.T) {
	srv := newTestServer(t, false)
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/livez").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	w := get(t, h, "/drain")
	assert.JSONEq(t, `{"status":"draining"}`, w.Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)

	w = get(t, h, "/drain")
	assert.JSONEq(t, `{"status":"already draining"}`, w.Body.String())

	w = get(t, h, "/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	w = get(t, h, "/undrain")
	assert.JSONEq(t, `{"status":"already ready"}`, w.Body.String())
}

func TestServer_Pprof(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, get(t, newTestServer(t, false).Handler(), "/debug/pprof/").Code)
	assert.Equal(t, http.StatusOK, get(t, newTestServer(t, true).Handler(), "/debug/pprof/").Code)
}

func TestServer_RecordsRequestMetrics(t *testing.T) {
	srv := newTestServer(t, false)
	get(t, srv.Handler(), "/api/ping")

	w := httptest.NewRecorder()
	srv.MetricsServer().Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `route="/api/ping"`)
}
