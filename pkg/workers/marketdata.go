// Package workers holds the reference worker agents: a SQL-backed market
// data executor, a prediction-market search client, and a historical
// analysis aggregator. They implement the engine's invocation contract via
// registered tool handlers and never touch the task store or artifact bus.
package workers

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/aj002fr/frgpt/pkg/extract"
	"github.com/aj002fr/frgpt/pkg/tools"
)

// Agent and tool identifiers for the market data worker.
const (
	MarketDataAgentID = "market-data"
	MarketDataToolID  = "market-data.query"

	marketDataTable = "market_data"
)

// MarketData executes templated SQL queries built from extracted parameters
// against the market database.
type MarketData struct {
	db     *sql.DB
	driver string
}

// NewMarketData wraps an open database handle. driver selects the
// placeholder dialect ("sqlite" or "postgres").
func NewMarketData(db *sql.DB, driver string) *MarketData {
	return &MarketData{db: db, driver: driver}
}

// RegisterTools registers the market data query tool.
func (m *MarketData) RegisterTools(registry *tools.Registry) error {
	return registry.Register(tools.Descriptor{
		ID:          MarketDataToolID,
		AgentID:     MarketDataAgentID,
		Description: "Parameterized select over daily market data rows",
		SideEffect:  tools.SideEffectReads,
		Schema: []tools.Field{
			{Name: "template", Type: tools.TypeString},
			{Name: "conditions", Type: tools.TypeString},
			{Name: "values", Type: tools.TypeList},
			{Name: "order_by_column", Type: tools.TypeString},
			{Name: "order_by_direction", Type: tools.TypeString},
			{Name: "limit", Type: tools.TypeInteger},
		},
	}, m.query)
}

// query builds and runs the select described by the extracted parameters.
func (m *MarketData) query(ctx context.Context, call tools.Call) (*tools.Result, error) {
	query, values, err := extract.BuildQuery(marketDataTable, call.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, rebind(m.driver, query), values...)
	if err != nil {
		return nil, fmt.Errorf("market data query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	data, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return &tools.Result{
		Data: data,
		Metadata: map[string]any{
			"query":  query,
			"source": marketDataTable,
		},
	}, nil
}

// scanRows converts a generic result set into JSON-friendly row maps.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	data := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return data, nil
}

// rebind converts ?-style placeholders to $n for postgres handles.
func rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
