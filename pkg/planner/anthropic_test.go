package planner

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aj002fr/frgpt/pkg/agent"
	"github.com/aj002fr/frgpt/pkg/models"
)

type stubMessagesClient struct {
	resp   *sdk.Message
	err    error
	params sdk.MessageNewParams
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.params = body
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func textMessage(text string) *sdk.Message {
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: text},
		},
	}
}

func newTestCollaborator(stub *stubMessagesClient) *AnthropicCollaborator {
	return newAnthropicCollaborator(stub, AnthropicConfig{Model: "claude-sonnet-4-5"})
}

func TestDecompose(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage(`[
		{"id": "t1", "description": "fetch ZN prices", "suggested_agent": "market-data"},
		{"id": "t2", "description": "analyze", "suggested_dependencies": ["t1"]}
	]`)}
	c := newTestCollaborator(stub)

	raw, err := c.Decompose(context.Background(), "query",
		[]*agent.Descriptor{{ID: "market-data", Description: "SQL market data"}}, 5)
	require.NoError(t, err)
	require.Len(t, raw, 2)

	assert.Equal(t, "market-data", raw[0].SuggestedAgent)
	assert.Equal(t, []string{"t1"}, raw[1].SuggestedDependencies)
	assert.Equal(t, sdk.Model("claude-sonnet-4-5"), stub.params.Model)
	require.Len(t, stub.params.System, 1)
	assert.Contains(t, stub.params.System[0].Text, "market-data: SQL market data")
}

func TestDecompose_StripsCodeFences(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("```json\n[{\"description\": \"one task\"}]\n```")}
	c := newTestCollaborator(stub)

	raw, err := c.Decompose(context.Background(), "query", nil, 5)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, "one task", raw[0].Description)
}

func TestDecompose_TransportErrorIsUnavailable(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("connection refused")}
	c := newTestCollaborator(stub)

	_, err := c.Decompose(context.Background(), "query", nil, 5)
	require.ErrorIs(t, err, ErrPlannerUnavailable)
}

func TestDecompose_BadJSONIsUnavailable(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("here are your subtasks: ...")}
	c := newTestCollaborator(stub)

	_, err := c.Decompose(context.Background(), "query", nil, 5)
	require.ErrorIs(t, err, ErrPlannerUnavailable)
}

func TestDecompose_EmptyResponseIsUnavailable(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	c := newTestCollaborator(stub)

	_, err := c.Decompose(context.Background(), "query", nil, 5)
	require.ErrorIs(t, err, ErrPlannerUnavailable)
}

func TestAnswer(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("Found 3 matching rows.")}
	c := newTestCollaborator(stub)

	answer, err := c.Answer(context.Background(), AnswerRequest{
		Query: "how many rows",
		Outputs: []*models.TaskOutput{
			{TaskID: "t1", AgentID: "market-data", OutputJSON: []byte(`{"data":[]}`)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Found 3 matching rows.", answer)
}

func TestValidate(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage(`{
		"valid": true, "completeness_score": 0.9,
		"issues": [], "suggestions": ["add volume data"]
	}`)}
	c := newTestCollaborator(stub)

	verdict, err := c.Validate(context.Background(), ValidateRequest{
		Query: "q", AnswerText: "a",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	assert.InDelta(t, 0.9, verdict.CompletenessScore, 0.001)
	assert.Equal(t, []string{"add volume data"}, verdict.Suggestions)
}

func TestNewAnthropicCollaborator_RequiresKeyAndModel(t *testing.T) {
	_, err := NewAnthropicCollaborator(AnthropicConfig{Model: "m"})
	require.Error(t, err)

	_, err = NewAnthropicCollaborator(AnthropicConfig{APIKey: "k"})
	require.Error(t, err)
}
