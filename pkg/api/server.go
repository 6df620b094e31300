// Package api exposes the engine over HTTP: run submission, run inspection,
// the agent catalog, and a health endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aj002fr/frgpt/pkg/agent"
	"github.com/aj002fr/frgpt/pkg/config"
	"github.com/aj002fr/frgpt/pkg/engine"
	"github.com/aj002fr/frgpt/pkg/models"
)

// RunExecutor is the engine surface the API depends on. Satisfied by
// *engine.Engine.
type RunExecutor interface {
	Run(ctx context.Context, query string, opts engine.Options) (*models.RunResult, error)
}

// RunReader is the task store surface used for run inspection.
type RunReader interface {
	GetRunSummary(ctx context.Context, runID string) (*models.RunSummary, error)
	GetAllOutputs(ctx context.Context, runID string) ([]*models.TaskOutput, error)
	Ping(ctx context.Context) error
}

// Server holds the API dependencies.
type Server struct {
	executor RunExecutor
	store    RunReader
	agents   *agent.Registry
	stats    config.Stats
}

// NewServer creates the API server.
func NewServer(executor RunExecutor, store RunReader, agents *agent.Registry, stats config.Stats) *Server {
	return &Server{executor: executor, store: store, agents: agents, stats: stats}
}

// RegisterRoutes mounts all endpoints on the router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	v1.POST("/runs", s.handleCreateRun)
	v1.GET("/runs/:run_id", s.handleGetRun)
	v1.GET("/agents", s.handleListAgents)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"configuration": s.stats,
	})
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	result, err := s.executor.Run(c.Request.Context(), req.Query, engine.Options{
		MaxSubtasks:    req.MaxSubtasks,
		SkipValidation: req.SkipValidation,
		MaxParallel:    req.MaxParallel,
		TaskTimeoutMS:  req.TaskTimeoutMS,
		SessionID:      req.SessionID,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("run_id")

	summary, err := s.store.GetRunSummary(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if summary.Total == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found: " + runID})
		return
	}

	outputs, err := s.store.GetAllOutputs(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, RunDetailResponse{
		RunID:   runID,
		Summary: summary,
		Outputs: outputs,
	})
}

func (s *Server) handleListAgents(c *gin.Context) {
	descriptors := s.agents.List()
	out := make([]AgentResponse, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, AgentResponse{
			ID:          d.ID,
			Description: d.Description,
			Keywords:    d.Keywords,
			Tools:       d.Tools,
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}
