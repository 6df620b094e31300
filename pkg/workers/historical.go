package workers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aj002fr/frgpt/pkg/tools"
)

// Agent and tool identifiers for the historical analysis worker.
const (
	HistoricalAgentID = "historical"
	HistoricalToolID  = "historical.analyze"
)

// Historical aggregates market data per symbol, optionally bounded by a
// start date.
type Historical struct {
	db     *sql.DB
	driver string
}

// NewHistorical wraps an open database handle.
func NewHistorical(db *sql.DB, driver string) *Historical {
	return &Historical{db: db, driver: driver}
}

// RegisterTools registers the historical analysis tool.
func (h *Historical) RegisterTools(registry *tools.Registry) error {
	return registry.Register(tools.Descriptor{
		ID:          HistoricalToolID,
		AgentID:     HistoricalAgentID,
		Description: "Per-symbol price aggregates over the market data history",
		SideEffect:  tools.SideEffectReads,
		Schema: []tools.Field{
			{Name: "query", Type: tools.TypeString},
			{Name: "date", Type: tools.TypeString},
		},
	}, h.analyze)
}

func (h *Historical) analyze(ctx context.Context, call tools.Call) (*tools.Result, error) {
	query := `
		SELECT symbol,
		       COUNT(*)   AS samples,
		       MIN(price) AS price_min,
		       MAX(price) AS price_max,
		       AVG(price) AS price_avg
		FROM market_data`
	var args []any
	if date, _ := call.Params["date"].(string); date != "" {
		query += " WHERE file_date >= ?"
		args = append(args, date)
	}
	query += " GROUP BY symbol ORDER BY symbol"

	rows, err := h.db.QueryContext(ctx, rebind(h.driver, query), args...)
	if err != nil {
		return nil, fmt.Errorf("historical analysis query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	data, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return &tools.Result{
		Data: data,
		Metadata: map[string]any{
			"analysis": "per_symbol_price_aggregates",
		},
	}, nil
}
