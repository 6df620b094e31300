package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aj002fr/frgpt/pkg/agent"
	"github.com/aj002fr/frgpt/pkg/config"
	"github.com/aj002fr/frgpt/pkg/engine"
	"github.com/aj002fr/frgpt/pkg/models"
)

type stubExecutor struct {
	result *models.RunResult
	err    error
	opts   engine.Options
	query  string
}

func (s *stubExecutor) Run(_ context.Context, query string, opts engine.Options) (*models.RunResult, error) {
	s.query = query
	s.opts = opts
	return s.result, s.err
}

type stubReader struct {
	summary *models.RunSummary
	outputs []*models.TaskOutput
	pingErr error
}

func (s *stubReader) GetRunSummary(_ context.Context, _ string) (*models.RunSummary, error) {
	return s.summary, nil
}

func (s *stubReader) GetAllOutputs(_ context.Context, _ string) ([]*models.TaskOutput, error) {
	return s.outputs, nil
}

func (s *stubReader) Ping(_ context.Context) error {
	return s.pingErr
}

func newTestRouter(t *testing.T, executor *stubExecutor, reader *stubReader) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	agents, err := agent.NewRegistry([]*agent.Descriptor{
		{ID: "market-data", Description: "SQL market data", Keywords: []string{"market"}, Tools: []string{"market-data.query"}},
	})
	require.NoError(t, err)

	router := gin.New()
	NewServer(executor, reader, agents, config.Stats{Agents: 1, Tools: 1}).RegisterRoutes(router)
	return router
}

func TestCreateRun(t *testing.T) {
	executor := &stubExecutor{result: &models.RunResult{
		RunID:      "run_20240601120000_ab12cd",
		Query:      "Show all call options",
		AnswerText: "one row",
	}}
	router := newTestRouter(t, executor, &stubReader{})

	body := `{"query": "Show all call options", "max_subtasks": 3, "skip_validation": true}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Show all call options", executor.query)
	assert.Equal(t, 3, executor.opts.MaxSubtasks)
	assert.True(t, executor.opts.SkipValidation)

	var result models.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "run_20240601120000_ab12cd", result.RunID)
}

func TestCreateRun_MissingQuery(t *testing.T) {
	router := newTestRouter(t, &stubExecutor{}, &stubReader{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRun_EngineError(t *testing.T) {
	executor := &stubExecutor{err: errors.New("invalid plan: dependency cycle t1 -> t2 -> t1")}
	router := newTestRouter(t, executor, &stubReader{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"query": "q"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "dependency cycle")
}

func TestGetRun(t *testing.T) {
	reader := &stubReader{
		summary: &models.RunSummary{Total: 2, Success: 2, AgentsUsed: []string{"market-data"}},
		outputs: []*models.TaskOutput{{RunID: "run-1", TaskID: "t1", AgentID: "market-data", OutputJSON: []byte(`{"data":[]}`)}},
	}
	router := newTestRouter(t, &stubExecutor{}, reader)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var detail RunDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "run-1", detail.RunID)
	assert.Equal(t, 2, detail.Summary.Success)
	assert.Len(t, detail.Outputs, 1)
}

func TestGetRun_NotFound(t *testing.T) {
	router := newTestRouter(t, &stubExecutor{}, &stubReader{summary: &models.RunSummary{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAgents(t *testing.T) {
	router := newTestRouter(t, &stubExecutor{}, &stubReader{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "market-data.query")
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, &stubExecutor{}, &stubReader{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestHealth_StoreDown(t *testing.T) {
	router := newTestRouter(t, &stubExecutor{}, &stubReader{pingErr: errors.New("connection refused")})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
