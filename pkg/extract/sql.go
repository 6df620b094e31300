package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultSQLLimit bounds result sets when the description names no limit.
const DefaultSQLLimit = 100

// SQLExtractor recognizes symbol patterns, absolute dates, numeric ranges,
// comparisons, ordering cues, and limits in a market-data task description
// and assembles parameterized query conditions from them.
type SQLExtractor struct{}

var (
	tickerRe     = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	betweenRe    = regexp.MustCompile(`(?i)\b(?:between|from)\s+(\d+(?:\.\d+)?)\s+(?:and|to)\s+(\d+(?:\.\d+)?)`)
	comparisonRe = regexp.MustCompile(`(?i)(?:>|above|over|greater than)\s+(\d+(?:\.\d+)?)|(?:<|below|under|less than)\s+(\d+(?:\.\d+)?)`)
	limitRe      = regexp.MustCompile(`(?i)\b(?:top|first|limit)\s+(\d+)\b`)
)

// Extract builds the market-data query parameter map:
// conditions, values, order_by_column, order_by_direction, limit.
func (e *SQLExtractor) Extract(description, _ string) (map[string]any, error) {
	var (
		conditions []string
		values     []any
	)

	dates := isoDates(description)
	text := stripDates(description)
	lower := strings.ToLower(text)

	// Symbol: option-class shorthand first, then explicit ticker tokens.
	switch {
	case strings.Contains(lower, "call option"):
		conditions = append(conditions, "symbol LIKE ?")
		values = append(values, "%.C")
	case strings.Contains(lower, "put option"):
		conditions = append(conditions, "symbol LIKE ?")
		values = append(values, "%.P")
	default:
		if ticker := findTicker(text); ticker != "" {
			conditions = append(conditions, "symbol LIKE ?")
			values = append(values, "%"+ticker+"%")
		}
	}

	// Numeric range: between X and Y / from X to Y.
	if m := betweenRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		conditions = append(conditions, "price BETWEEN ? AND ?")
		values = append(values, lo, hi)
	} else if m := comparisonRe.FindStringSubmatch(text); m != nil {
		if m[1] != "" {
			v, _ := strconv.ParseFloat(m[1], 64)
			conditions = append(conditions, "price > ?")
			values = append(values, v)
		} else {
			v, _ := strconv.ParseFloat(m[2], 64)
			conditions = append(conditions, "price < ?")
			values = append(values, v)
		}
	}

	// Absolute dates: one date pins the day, two dates bound a range.
	switch len(dates) {
	case 0:
	case 1:
		conditions = append(conditions, "file_date = ?")
		values = append(values, dates[0])
	default:
		conditions = append(conditions, "file_date BETWEEN ? AND ?")
		values = append(values, dates[0], dates[1])
	}

	orderColumn, orderDirection, limit := orderingCues(lower)
	if m := limitRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			limit = n
		}
	}

	params := map[string]any{
		"template":           "market_data_select",
		"conditions":         strings.Join(conditions, " AND "),
		"values":             values,
		"order_by_column":    orderColumn,
		"order_by_direction": orderDirection,
		"limit":              limit,
	}
	return params, nil
}

// findTicker returns the first all-caps token that is not a common word.
func findTicker(s string) string {
	for _, m := range tickerRe.FindAllString(s, -1) {
		if !stopwords[strings.ToLower(m)] {
			return m
		}
	}
	return ""
}

// orderingCues maps "most recent" / "oldest" phrasing to sort order. Either
// cue narrows the result to a single row.
func orderingCues(lower string) (column, direction string, limit int) {
	switch {
	case strings.Contains(lower, "most recent"), strings.Contains(lower, "latest"):
		return "file_date", "DESC", 1
	case strings.Contains(lower, "oldest"), strings.Contains(lower, "earliest"):
		return "file_date", "ASC", 1
	}
	return "", "", DefaultSQLLimit
}

// BuildQuery renders the extracted parameters into a SQL statement and its
// bind values. Used by the market-data worker.
func BuildQuery(table string, params map[string]any) (string, []any, error) {
	conditions, _ := params["conditions"].(string)
	values, _ := params["values"].([]any)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", table)
	if conditions != "" {
		fmt.Fprintf(&b, " WHERE %s", conditions)
	}
	if col, _ := params["order_by_column"].(string); col != "" {
		dir, _ := params["order_by_direction"].(string)
		if dir != "ASC" && dir != "DESC" {
			dir = "ASC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", col, dir)
	}
	limit := DefaultSQLLimit
	switch n := params["limit"].(type) {
	case int:
		limit = n
	case float64:
		limit = int(n)
	}
	if limit <= 0 {
		limit = DefaultSQLLimit
	}
	fmt.Fprintf(&b, " LIMIT %d", limit)

	return b.String(), values, nil
}
