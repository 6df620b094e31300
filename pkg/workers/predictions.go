package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aj002fr/frgpt/pkg/tools"
)

// Agent and tool identifiers for the prediction market worker.
const (
	PredictionsAgentID = "predictions"
	PredictionsToolID  = "predictions.search"
)

// Predictions searches a prediction-market HTTP API.
type Predictions struct {
	baseURL string
	client  *http.Client
}

// NewPredictions creates the worker. client may be nil; a 30s-timeout client
// is used then.
func NewPredictions(baseURL string, client *http.Client) *Predictions {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Predictions{baseURL: baseURL, client: client}
}

// RegisterTools registers the prediction market search tool.
func (p *Predictions) RegisterTools(registry *tools.Registry) error {
	return registry.Register(tools.Descriptor{
		ID:          PredictionsToolID,
		AgentID:     PredictionsAgentID,
		Description: "Free-text search over active prediction markets",
		SideEffect:  tools.SideEffectReads,
		Schema: []tools.Field{
			{Name: "query", Type: tools.TypeString, Required: true},
			{Name: "limit", Type: tools.TypeInteger},
			{Name: "session_id", Type: tools.TypeString},
		},
	}, p.search)
}

// searchResponse is the wire shape of the prediction-market API.
type searchResponse struct {
	Markets []map[string]any `json:"markets"`
}

func (p *Predictions) search(ctx context.Context, call tools.Call) (*tools.Result, error) {
	topic, _ := call.Params["query"].(string)
	limit := 0
	switch n := call.Params["limit"].(type) {
	case int:
		limit = n
	case float64:
		limit = int(n)
	}

	endpoint, err := url.Parse(p.baseURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("invalid prediction API base URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("q", topic)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if sid, _ := call.Params["session_id"].(string); sid != "" {
		q.Set("session", sid)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prediction search failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("prediction API returned %d: %s", resp.StatusCode, body)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("undecodable prediction response: %w", err)
	}

	return &tools.Result{
		Data: decoded.Markets,
		Metadata: map[string]any{
			"topic": topic,
			"limit": limit,
		},
	}, nil
}
