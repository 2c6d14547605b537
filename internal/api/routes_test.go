package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MacJediWizard/resticron/internal/api/handlers"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/MacJediWizard/resticron/internal/shutdown"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService answers ListRepositories; every other method is left to the
// embedded nil interface.
type stubService struct {
	Service
}

func (stubService) ListRepositories(context.Context) ([]*models.Repository, error) {
	return []*models.Repository{}, nil
}

type stubDatabase struct{}

func (stubDatabase) Ping(context.Context) error { return nil }
func (stubDatabase) Health() map[string]any     { return map[string]any{"driver": "sqlite"} }

type stubScheduler struct{}

func (stubScheduler) IsRunning() bool { return true }
func (stubScheduler) ArmedCount() int { return 0 }
func (stubScheduler) ShutdownStatus() shutdown.Status {
	return shutdown.Status{State: shutdown.StateRunning, AcceptingNewJobs: true}
}

func newTestRouter(t *testing.T, rateLimit int64) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router, err := NewRouter(
		Config{RateLimitPerMinute: rateLimit, Version: handlers.VersionInfo{Version: "test"}},
		Dependencies{
			Service:   stubService{},
			Database:  stubDatabase{},
			Scheduler: stubScheduler{},
			Gatherer:  prometheus.NewRegistry(),
		},
		zerolog.Nop(),
	)
	require.NoError(t, err)
	return router
}

func serve(r *Router, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.1.1.1:4000"
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestNewRouter_Routes(t *testing.T) {
	r := newTestRouter(t, 0)

	for _, path := range []string{"/health", "/version", "/metrics", "/api/v1/repositories"} {
		w := serve(r, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"), path)
	}

	assert.Equal(t, http.StatusNotFound, serve(r, "/api/v1/unknown").Code)
}

func TestNewRouter_RateLimitSkipsHealth(t *testing.T) {
	r := newTestRouter(t, 1)

	assert.Equal(t, http.StatusOK, serve(r, "/api/v1/repositories").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "/api/v1/repositories").Code)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(r, "/health").Code)
		assert.Equal(t, http.StatusOK, serve(r, "/metrics").Code)
	}
}
