package runner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aj002fr/frgpt/pkg/agent"
	"github.com/aj002fr/frgpt/pkg/models"
	"github.com/aj002fr/frgpt/pkg/planner"
)

type stubStore struct {
	outputs []*models.TaskOutput
	err     error
}

func (s *stubStore) GetAllOutputs(_ context.Context, _ string) ([]*models.TaskOutput, error) {
	return s.outputs, s.err
}

type stubCollaborator struct {
	answer      string
	answerErr   error
	verdict     *models.ValidationResult
	validateErr error
}

func (s *stubCollaborator) Decompose(_ context.Context, _ string, _ []*agent.Descriptor, _ int) ([]planner.RawTask, error) {
	return nil, planner.ErrPlannerUnavailable
}

func (s *stubCollaborator) Answer(_ context.Context, _ planner.AnswerRequest) (string, error) {
	return s.answer, s.answerErr
}

func (s *stubCollaborator) Validate(_ context.Context, _ planner.ValidateRequest) (*models.ValidationResult, error) {
	return s.verdict, s.validateErr
}

func marketOutput(taskID string, prices ...float64) *models.TaskOutput {
	data := "["
	for i, p := range prices {
		if i > 0 {
			data += ","
		}
		data += fmt.Sprintf(`{"symbol":"ZN","price":%g}`, p)
	}
	data += "]"
	return &models.TaskOutput{
		RunID:      "run-1",
		TaskID:     taskID,
		AgentID:    "market-data",
		OutputJSON: []byte(`{"data":` + data + `}`),
	}
}

func testPlan() *models.Plan {
	return &models.Plan{RunID: "run-1", Query: "ZN prices"}
}

func TestConsolidate_BucketsByAgent(t *testing.T) {
	store := &stubStore{outputs: []*models.TaskOutput{
		marketOutput("t1", 110, 114),
		{
			RunID: "run-1", TaskID: "t2", AgentID: "predictions",
			OutputJSON: []byte(`{"data":[{"market":"btc","probability":0.6,"volume":1000},{"market":"eth","probability":0.4,"volume":500}]}`),
		},
	}}

	r := New(store, nil)
	meta := models.RunMetadata{TotalTasks: 2, SuccessfulTasks: 2}
	result, err := r.Consolidate(context.Background(), testPlan(), meta, true)
	require.NoError(t, err)

	require.Len(t, result.DataByAgent["market-data"], 1)
	require.Len(t, result.DataByAgent["predictions"], 1)

	md := result.SummaryStats["market-data"]
	assert.Equal(t, 2, md["row_count"])
	assert.Equal(t, 110.0, md["price_min"])
	assert.Equal(t, 114.0, md["price_max"])
	assert.Equal(t, 112.0, md["price_avg"])

	pd := result.SummaryStats["predictions"]
	assert.InDelta(t, 0.5, pd["avg_probability"].(float64), 0.001)
	assert.Equal(t, 1500.0, pd["total_volume"])
}

func TestConsolidate_TemplatedAnswer(t *testing.T) {
	store := &stubStore{outputs: []*models.TaskOutput{marketOutput("t1", 110)}}

	r := New(store, nil)
	meta := models.RunMetadata{TotalTasks: 1, SuccessfulTasks: 1}
	result, err := r.Consolidate(context.Background(), testPlan(), meta, true)
	require.NoError(t, err)

	assert.Contains(t, result.AnswerText, "Results for: ZN prices")
	assert.Contains(t, result.AnswerText, "market-data: 1 rows across 1 tasks")
}

func TestConsolidate_LLMAnswer(t *testing.T) {
	store := &stubStore{outputs: []*models.TaskOutput{marketOutput("t1", 110)}}
	collab := &stubCollaborator{answer: "ZN traded at 110."}

	r := New(store, collab)
	result, err := r.Consolidate(context.Background(), testPlan(), models.RunMetadata{TotalTasks: 1, SuccessfulTasks: 1}, true)
	require.NoError(t, err)

	assert.Equal(t, "ZN traded at 110.", result.AnswerText)
}

func TestConsolidate_LLMUnavailableFallsBackToTemplate(t *testing.T) {
	store := &stubStore{outputs: []*models.TaskOutput{marketOutput("t1", 110)}}
	collab := &stubCollaborator{
		answerErr:   planner.ErrPlannerUnavailable,
		validateErr: planner.ErrPlannerUnavailable,
	}

	r := New(store, collab)
	result, err := r.Consolidate(context.Background(), testPlan(), models.RunMetadata{TotalTasks: 1, SuccessfulTasks: 1}, false)
	require.NoError(t, err)

	assert.Contains(t, result.AnswerText, "Results for:")
	require.NotNil(t, result.Validation)
	assert.True(t, result.Validation.Valid)
	assert.Equal(t, 1.0, result.Validation.CompletenessScore)
}

func TestConsolidate_ValidationVerdict(t *testing.T) {
	store := &stubStore{outputs: []*models.TaskOutput{marketOutput("t1", 110)}}
	collab := &stubCollaborator{
		answer:  "answer",
		verdict: &models.ValidationResult{Valid: true, CompletenessScore: 0.8},
	}

	r := New(store, collab)
	result, err := r.Consolidate(context.Background(), testPlan(), models.RunMetadata{TotalTasks: 1, SuccessfulTasks: 1}, false)
	require.NoError(t, err)

	require.NotNil(t, result.Validation)
	assert.True(t, result.Validation.Valid)
	assert.InDelta(t, 0.8, result.Validation.CompletenessScore, 0.001)
}

func TestConsolidate_PartialFailureInvalidatesVerdict(t *testing.T) {
	store := &stubStore{outputs: []*models.TaskOutput{marketOutput("t1", 110)}}
	collab := &stubCollaborator{
		answer:  "answer",
		verdict: &models.ValidationResult{Valid: true, CompletenessScore: 0.9},
	}

	r := New(store, collab)
	meta := models.RunMetadata{TotalTasks: 3, SuccessfulTasks: 1, FailedTasks: 2}
	result, err := r.Consolidate(context.Background(), testPlan(), meta, false)
	require.NoError(t, err)

	require.NotNil(t, result.Validation)
	assert.False(t, result.Validation.Valid)
	assert.Contains(t, result.Validation.Issues[0], "2 of 3 tasks failed")
}

func TestConsolidate_SkipValidation(t *testing.T) {
	store := &stubStore{outputs: []*models.TaskOutput{marketOutput("t1", 110)}}

	r := New(store, nil)
	result, err := r.Consolidate(context.Background(), testPlan(), models.RunMetadata{TotalTasks: 1, SuccessfulTasks: 1}, true)
	require.NoError(t, err)

	assert.Nil(t, result.Validation)
}

func TestConsolidate_NoOutputs(t *testing.T) {
	store := &stubStore{}

	r := New(store, nil)
	meta := models.RunMetadata{TotalTasks: 2, FailedTasks: 2}
	result, err := r.Consolidate(context.Background(), testPlan(), meta, false)
	require.NoError(t, err)

	assert.Contains(t, result.AnswerText, "No task produced data.")
	assert.Contains(t, result.AnswerText, "2 tasks failed")
	require.NotNil(t, result.Validation)
	assert.False(t, result.Validation.Valid)
}

// Running consolidation twice over the same stored outputs must bucket
// identically.
func TestConsolidate_Idempotent(t *testing.T) {
	store := &stubStore{outputs: []*models.TaskOutput{
		marketOutput("t1", 110, 112),
	}}

	r := New(store, nil)
	meta := models.RunMetadata{TotalTasks: 1, SuccessfulTasks: 1}
	first, err := r.Consolidate(context.Background(), testPlan(), meta, true)
	require.NoError(t, err)
	second, err := r.Consolidate(context.Background(), testPlan(), meta, true)
	require.NoError(t, err)

	assert.Equal(t, first.DataByAgent, second.DataByAgent)
	assert.Equal(t, first.SummaryStats, second.SummaryStats)
}
