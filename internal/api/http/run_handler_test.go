package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"minutebars/internal/domain"
	"minutebars/internal/infra/memory"
	"minutebars/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopRunner struct{}

func (noopRunner) Run(context.Context, []domain.Asset) (*domain.RunRecord, error) {
	return nil, domain.ErrLockNotAcquired
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := memory.NewRunRepository()
	started := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	require.NoError(t, repo.Save(context.Background(), &domain.RunRecord{
		ID:           "run-1",
		Status:       domain.RunStatusComplete,
		Expected:     5,
		Processed:    4,
		DeadLettered: 1,
		StartedAt:    started,
		FinishedAt:   started.Add(90 * time.Second),
	}))
	require.NoError(t, repo.Save(context.Background(), &domain.RunRecord{
		ID:        "run-2",
		Status:    domain.RunStatusRunning,
		Expected:  5,
		StartedAt: started.Add(time.Hour),
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := usecase.NewRunService(noopRunner{}, repo, nil, logger)
	status := func() HealthResponse {
		return HealthResponse{NodeID: "node-1", Leader: true, Workers: 2}
	}

	mux := http.NewServeMux()
	NewRunHandler(svc, status, logger).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestRunHandler_ListRuns(t *testing.T) {
	srv := newTestServer(t)

	var page ListRunsResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/runs", &page))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	require.Len(t, page.Runs, 2)
	assert.Equal(t, "run-2", page.Runs[0].ID)
	assert.Nil(t, page.Runs[0].FinishedAt)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/runs?page=2&pageSize=1", &page))
	require.Len(t, page.Runs, 1)
	assert.Equal(t, "run-1", page.Runs[0].ID)
	assert.Equal(t, "1m30s", page.Runs[0].Duration)
}

func TestRunHandler_ListRunsValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{"page zero", "?page=0"},
		{"page size too large", "?pageSize=1000"},
		{"not a number", "?pageSize=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/runs"+tt.query, nil))
		})
	}
}

func TestRunHandler_GetRun(t *testing.T) {
	srv := newTestServer(t)

	var run RunResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/runs/run-1", &run))
	assert.Equal(t, "complete", run.Status)
	assert.Equal(t, 4, run.Processed)
	assert.Equal(t, 1, run.DeadLettered)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/runs/run-1/extra", nil))
}

func TestRunHandler_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRunHandler_Health(t *testing.T) {
	srv := newTestServer(t)

	var health HealthResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &health))
	assert.Equal(t, HealthResponse{Status: "ok", NodeID: "node-1", Leader: true, Workers: 2}, health)
}
