package api_gateway

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/till-ledger/internal/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Application.Env = "test"
	cfg.Application.TerminalID = "till-07"
	cfg.Server.Port = 0
	return NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, Services{})
}

func TestServerRoutes(t *testing.T) {
	srv := testServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/health", nil)
		srv.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"status":"ok"`)
		assert.Equal(t, "till-07", rr.Header().Get("X-Terminal-ID"))
		assert.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
		srv.Handler().ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "go_goroutines")
	})

	t.Run("UnknownRoute", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/nothing", nil)
		srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("InvalidSessionID", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/sessions/abc", nil)
		srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
