package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aj002fr/frgpt/pkg/agent"
	"github.com/aj002fr/frgpt/pkg/models"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// collaborator. Satisfied by *sdk.MessageService; tests pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicConfig configures the Anthropic-backed collaborator.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// AnthropicCollaborator implements Collaborator on the Anthropic Messages
// API. Every transport or parse failure is surfaced as ErrPlannerUnavailable
// so callers fall back deterministically.
type AnthropicCollaborator struct {
	msg         MessagesClient
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicCollaborator builds the collaborator from an API key.
func NewAnthropicCollaborator(cfg AnthropicConfig) (*AnthropicCollaborator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("anthropic model identifier is required")
	}
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return newAnthropicCollaborator(&client.Messages, cfg), nil
}

// newAnthropicCollaborator wires an explicit messages client (used by tests).
func newAnthropicCollaborator(msg MessagesClient, cfg AnthropicConfig) *AnthropicCollaborator {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicCollaborator{
		msg:         msg,
		model:       cfg.Model,
		maxTokens:   int64(maxTokens),
		temperature: cfg.Temperature,
	}
}

const decomposeSystem = `You decompose analytical queries into subtasks for specialized worker agents.
Respond with a JSON array only, no prose. Each element:
{"id": "t1", "description": "...", "suggested_agent": "<agent id or omit>", "suggested_dependencies": ["t1", ...]}
Rules:
- At most %d subtasks. Prefer FEWER tasks: a query answerable by one agent call must stay a single task.
- suggested_dependencies lists tasks whose outputs this task needs. Independent tasks declare none.
- Never invent agent ids not in the list below.
Available agents:
%s`

// Decompose asks the model for a raw task list.
func (c *AnthropicCollaborator) Decompose(ctx context.Context, query string, agents []*agent.Descriptor, maxSubtasks int) ([]RawTask, error) {
	var catalog strings.Builder
	for _, a := range agents {
		fmt.Fprintf(&catalog, "- %s: %s (keywords: %s)\n", a.ID, a.Description, strings.Join(a.Keywords, ", "))
	}

	text, err := c.complete(ctx,
		fmt.Sprintf(decomposeSystem, maxSubtasks, catalog.String()),
		query)
	if err != nil {
		return nil, err
	}

	var raw []RawTask
	if err := json.Unmarshal([]byte(stripFences(text)), &raw); err != nil {
		return nil, fmt.Errorf("%w: undecodable decomposition: %v", ErrPlannerUnavailable, err)
	}
	return raw, nil
}

const answerSystem = `You answer an analytical query from worker outputs.
Write a concise natural-language answer grounded ONLY in the provided data.
State counts and figures exactly as given. Do not speculate beyond the data.`

// Answer asks the model to phrase the consolidated answer.
func (c *AnthropicCollaborator) Answer(ctx context.Context, req AnswerRequest) (string, error) {
	prompt, err := json.Marshal(map[string]any{
		"query":         req.Query,
		"outputs":       outputSnippets(req.Outputs),
		"summary_stats": req.SummaryStats,
		"metadata":      req.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPlannerUnavailable, err)
	}
	return c.complete(ctx, answerSystem, string(prompt))
}

const validateSystem = `You validate whether an answer addresses a query given the raw worker outputs.
Respond with a JSON object only:
{"valid": bool, "completeness_score": 0.0-1.0, "issues": [...], "suggestions": [...]}`

// Validate asks the model for a verdict on the produced answer.
func (c *AnthropicCollaborator) Validate(ctx context.Context, req ValidateRequest) (*models.ValidationResult, error) {
	prompt, err := json.Marshal(map[string]any{
		"query":   req.Query,
		"answer":  req.AnswerText,
		"outputs": outputSnippets(req.Outputs),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlannerUnavailable, err)
	}

	text, err := c.complete(ctx, validateSystem, string(prompt))
	if err != nil {
		return nil, err
	}
	var verdict models.ValidationResult
	if err := json.Unmarshal([]byte(stripFences(text)), &verdict); err != nil {
		return nil, fmt.Errorf("%w: undecodable validation verdict: %v", ErrPlannerUnavailable, err)
	}
	return &verdict, nil
}

// complete issues one Messages.New call and returns the concatenated text
// blocks.
func (c *AnthropicCollaborator) complete(ctx context.Context, system, user string) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	}
	if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: anthropic messages.new: %v", ErrPlannerUnavailable, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty model response", ErrPlannerUnavailable)
	}
	return text, nil
}

// outputSnippets truncates raw outputs so prompts stay bounded.
func outputSnippets(outputs []*models.TaskOutput) []map[string]any {
	const maxSnippet = 4096
	snippets := make([]map[string]any, 0, len(outputs))
	for _, out := range outputs {
		payload := string(out.OutputJSON)
		if len(payload) > maxSnippet {
			payload = payload[:maxSnippet] + "...(truncated)"
		}
		snippets = append(snippets, map[string]any{
			"task_id": out.TaskID,
			"agent":   out.AgentID,
			"output":  payload,
		})
	}
	return snippets
}

// stripFences removes a surrounding markdown code fence when the model wraps
// its JSON despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
