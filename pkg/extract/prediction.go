package extract

import (
	"strconv"
	"strings"
	"unicode"
)

// DefaultPredictionLimit bounds prediction-market searches when the
// description names no limit.
const DefaultPredictionLimit = 10

// PredictionExtractor reduces a task description to a free-text search topic
// (stop words, dates, numbers, and comparison cues stripped) plus a result
// limit and the run's session identifier.
type PredictionExtractor struct{}

// Extract builds the prediction-search parameter map: query, limit,
// session_id.
func (e *PredictionExtractor) Extract(description, sessionID string) (map[string]any, error) {
	limit := DefaultPredictionLimit
	if m := limitRe.FindStringSubmatch(description); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			limit = n
		}
	}

	text := stripDates(description)
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var topic []string
	for _, f := range fields {
		lower := strings.ToLower(f)
		if stopwords[lower] {
			continue
		}
		if isNumeric(f) {
			continue
		}
		topic = append(topic, lower)
	}

	return map[string]any{
		"query":      strings.Join(topic, " "),
		"limit":      limit,
		"session_id": sessionID,
	}, nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
