package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aj002fr/frgpt/pkg/agent"
	"github.com/aj002fr/frgpt/pkg/graph"
	"github.com/aj002fr/frgpt/pkg/models"
)

type mockCollaborator struct {
	tasks []RawTask
	err   error
}

func (m *mockCollaborator) Decompose(_ context.Context, _ string, _ []*agent.Descriptor, _ int) ([]RawTask, error) {
	return m.tasks, m.err
}

func (m *mockCollaborator) Answer(_ context.Context, _ AnswerRequest) (string, error) {
	return "", ErrPlannerUnavailable
}

func (m *mockCollaborator) Validate(_ context.Context, _ ValidateRequest) (*models.ValidationResult, error) {
	return nil, ErrPlannerUnavailable
}

func testAgents(t *testing.T) *agent.Registry {
	t.Helper()
	r, err := agent.NewRegistry([]*agent.Descriptor{
		{ID: "market-data", Keywords: []string{"market", "price", "option", "options"}},
		{ID: "predictions", Keywords: []string{"prediction", "predictions", "forecast"}},
	})
	require.NoError(t, err)
	return r
}

func TestBuildPlan_NormalizesIDsAndDependencies(t *testing.T) {
	s := NewStage1(testAgents(t), &mockCollaborator{tasks: []RawTask{
		{ID: "fetch", Description: "fetch market prices"},
		{ID: "analyze", Description: "forecast from prices", SuggestedDependencies: []string{"fetch"}},
	}})

	plan, err := s.BuildPlan(context.Background(), "run-1", "query", 5)
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 2)

	assert.Equal(t, "t1", plan.Subtasks[0].TaskID)
	assert.Equal(t, "t2", plan.Subtasks[1].TaskID)
	assert.Equal(t, []string{"t1"}, plan.Subtasks[1].Dependencies)
	assert.Equal(t, [][]string{{"t1"}, {"t2"}}, plan.ParallelGroups)
	assert.Equal(t, [][]string{{"t1", "t2"}}, plan.DependencyPaths)
	assert.Equal(t, 2, plan.MaxDepth)
}

func TestBuildPlan_SuggestedAgentWins(t *testing.T) {
	s := NewStage1(testAgents(t), &mockCollaborator{tasks: []RawTask{
		// Description scores for market-data, but the suggestion binds.
		{Description: "market price check", SuggestedAgent: "predictions"},
	}})

	plan, err := s.BuildPlan(context.Background(), "run-1", "query", 5)
	require.NoError(t, err)
	assert.Equal(t, "predictions", plan.Subtasks[0].AgentID)
	assert.True(t, plan.Subtasks[0].Mappable)
}

func TestBuildPlan_UnknownSuggestionFallsBackToKeywords(t *testing.T) {
	s := NewStage1(testAgents(t), &mockCollaborator{tasks: []RawTask{
		{Description: "market price check", SuggestedAgent: "no-such-agent"},
	}})

	plan, err := s.BuildPlan(context.Background(), "run-1", "query", 5)
	require.NoError(t, err)
	assert.Equal(t, "market-data", plan.Subtasks[0].AgentID)
}

func TestBuildPlan_UnmappableTaskCarried(t *testing.T) {
	s := NewStage1(testAgents(t), &mockCollaborator{tasks: []RawTask{
		{ID: "a", Description: "market price check"},
		{ID: "b", Description: "entirely unrelated work", SuggestedDependencies: []string{"a"}},
	}})

	plan, err := s.BuildPlan(context.Background(), "run-1", "query", 5)
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 2)

	assert.False(t, plan.Subtasks[1].Mappable)
	assert.Empty(t, plan.Subtasks[1].AgentID)
	// The unmappable task still participates in the dependency structure.
	assert.Equal(t, [][]string{{"t1", "t2"}}, plan.DependencyPaths)
}

func TestBuildPlan_CycleIsInvalid(t *testing.T) {
	s := NewStage1(testAgents(t), &mockCollaborator{tasks: []RawTask{
		{ID: "t1", Description: "market data", SuggestedDependencies: []string{"t2"}},
		{ID: "t2", Description: "predictions", SuggestedDependencies: []string{"t1"}},
	}})

	_, err := s.BuildPlan(context.Background(), "run-1", "query", 5)
	require.Error(t, err)

	var ipe *graph.InvalidPlanError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, []string{"t1", "t2", "t1"}, ipe.Cycle)
}

func TestBuildPlan_CollaboratorUnavailableFallsBack(t *testing.T) {
	s := NewStage1(testAgents(t), &mockCollaborator{err: ErrPlannerUnavailable})

	plan, err := s.BuildPlan(context.Background(), "run-1", "Show all call options", 5)
	require.NoError(t, err)

	// Single-task fallback: the whole query as one task, keyword-mapped.
	require.Len(t, plan.Subtasks, 1)
	assert.Equal(t, "t1", plan.Subtasks[0].TaskID)
	assert.Equal(t, "Show all call options", plan.Subtasks[0].Description)
	assert.Equal(t, "market-data", plan.Subtasks[0].AgentID)
	assert.Equal(t, [][]string{{"t1"}}, plan.ParallelGroups)
}

func TestBuildPlan_NilCollaboratorFallsBack(t *testing.T) {
	s := NewStage1(testAgents(t), nil)

	plan, err := s.BuildPlan(context.Background(), "run-1", "Bitcoin predictions", 5)
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 1)
	assert.Equal(t, "predictions", plan.Subtasks[0].AgentID)
}

func TestBuildPlan_EmptyDecompositionFallsBack(t *testing.T) {
	s := NewStage1(testAgents(t), &mockCollaborator{tasks: nil})

	plan, err := s.BuildPlan(context.Background(), "run-1", "market data please", 5)
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 1)
}

func TestBuildPlan_TruncatesToMaxSubtasks(t *testing.T) {
	s := NewStage1(testAgents(t), &mockCollaborator{tasks: []RawTask{
		{Description: "market one"},
		{Description: "market two"},
		{Description: "market three"},
	}})

	plan, err := s.BuildPlan(context.Background(), "run-1", "query", 2)
	require.NoError(t, err)
	assert.Len(t, plan.Subtasks, 2)
}

func TestBuildPlan_IndependentTasksShareOneGroup(t *testing.T) {
	s := NewStage1(testAgents(t), &mockCollaborator{tasks: []RawTask{
		{Description: "Bitcoin predictions"},
		{Description: "Bitcoin market data"},
	}})

	plan, err := s.BuildPlan(context.Background(), "run-1", "Bitcoin predictions and Bitcoin market data", 5)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"t1", "t2"}}, plan.ParallelGroups)
	assert.Equal(t, "predictions", plan.Subtasks[0].AgentID)
	assert.Equal(t, "market-data", plan.Subtasks[1].AgentID)
}
