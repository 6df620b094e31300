package workers

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aj002fr/frgpt/pkg/extract"
	"github.com/aj002fr/frgpt/pkg/tools"
)

func marketDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE market_data (
		symbol    TEXT NOT NULL,
		price     REAL NOT NULL,
		file_date TEXT NOT NULL
	)`)
	require.NoError(t, err)

	for _, row := range []struct {
		symbol string
		price  float64
		date   string
	}{
		{"ZN", 112.5, "2024-03-01"},
		{"ZN", 112.7, "2024-03-02"},
		{"ZN", 113.2, "2024-03-03"},
		{"ES.C", 5100.0, "2024-03-01"},
		{"ES.P", 4900.0, "2024-03-02"},
	} {
		_, err := db.Exec("INSERT INTO market_data (symbol, price, file_date) VALUES (?, ?, ?)",
			row.symbol, row.price, row.date)
		require.NoError(t, err)
	}
	return db
}

func TestMarketData_Query(t *testing.T) {
	m := NewMarketData(marketDB(t), "sqlite")
	registry := tools.NewRegistry()
	require.NoError(t, m.RegisterTools(registry))

	params, err := (&extract.SQLExtractor{}).Extract(
		"Most recent date when ZN closing price was between 112.5 and 112.9", "")
	require.NoError(t, err)

	res, err := m.query(context.Background(), tools.Call{Params: params})
	require.NoError(t, err)

	require.Len(t, res.Data, 1)
	assert.Equal(t, "ZN", res.Data[0]["symbol"])
	assert.Equal(t, "2024-03-02", res.Data[0]["file_date"])
}

func TestMarketData_CallOptions(t *testing.T) {
	m := NewMarketData(marketDB(t), "sqlite")

	params, err := (&extract.SQLExtractor{}).Extract("Show all call options", "")
	require.NoError(t, err)

	res, err := m.query(context.Background(), tools.Call{Params: params})
	require.NoError(t, err)

	require.Len(t, res.Data, 1)
	assert.Equal(t, "ES.C", res.Data[0]["symbol"])
}

func TestMarketData_NoConditionsReturnsAll(t *testing.T) {
	m := NewMarketData(marketDB(t), "sqlite")

	res, err := m.query(context.Background(), tools.Call{Params: map[string]any{}})
	require.NoError(t, err)
	assert.Len(t, res.Data, 5)
}

func TestMarketData_CancelledContext(t *testing.T) {
	m := NewMarketData(marketDB(t), "sqlite")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.query(ctx, tools.Call{Params: map[string]any{}})
	require.Error(t, err)
}

func TestHistorical_Analyze(t *testing.T) {
	h := NewHistorical(marketDB(t), "sqlite")
	registry := tools.NewRegistry()
	require.NoError(t, h.RegisterTools(registry))

	res, err := h.analyze(context.Background(), tools.Call{Params: map[string]any{}})
	require.NoError(t, err)

	require.Len(t, res.Data, 3) // ES.C, ES.P, ZN
	bySymbol := make(map[string]map[string]any)
	for _, row := range res.Data {
		bySymbol[row["symbol"].(string)] = row
	}
	zn := bySymbol["ZN"]
	require.NotNil(t, zn)
	assert.EqualValues(t, 3, zn["samples"])
	assert.InDelta(t, 112.5, toFloat(t, zn["price_min"]), 0.001)
	assert.InDelta(t, 113.2, toFloat(t, zn["price_max"]), 0.001)
}

func TestHistorical_DateBound(t *testing.T) {
	h := NewHistorical(marketDB(t), "sqlite")

	res, err := h.analyze(context.Background(), tools.Call{Params: map[string]any{
		"date": "2024-03-03",
	}})
	require.NoError(t, err)

	require.Len(t, res.Data, 1)
	assert.Equal(t, "ZN", res.Data[0]["symbol"])
}

func toFloat(t *testing.T, v any) float64 {
	t.Helper()
	f, ok := v.(float64)
	require.True(t, ok, "expected float64, got %T", v)
	return f
}

func TestPredictions_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("q"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		assert.Equal(t, "sess-1", r.URL.Query().Get("session"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"markets":[
			{"market":"btc-100k","probability":0.4,"volume":12000},
			{"market":"btc-50k","probability":0.8,"volume":9000}
		]}`))
	}))
	defer srv.Close()

	p := NewPredictions(srv.URL, srv.Client())
	registry := tools.NewRegistry()
	require.NoError(t, p.RegisterTools(registry))

	res, err := p.search(context.Background(), tools.Call{Params: map[string]any{
		"query":      "bitcoin",
		"limit":      3,
		"session_id": "sess-1",
	}})
	require.NoError(t, err)

	require.Len(t, res.Data, 2)
	assert.Equal(t, "btc-100k", res.Data[0]["market"])
	assert.Equal(t, "bitcoin", res.Metadata["topic"])
}

func TestPredictions_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPredictions(srv.URL, srv.Client())
	_, err := p.search(context.Background(), tools.Call{Params: map[string]any{"query": "btc"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestPredictions_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"markets":[]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPredictions(srv.URL, srv.Client())
	_, err := p.search(ctx, tools.Call{Params: map[string]any{"query": "btc"}})
	require.Error(t, err)
}
