// Package extract turns free-text task descriptions into typed tool
// parameters. Extractors are pure functions selected by agent kind: SQL-style
// market data, prediction-market search, and a generic passthrough.
package extract

import (
	"regexp"
)

// Extractor maps a task description to a tool parameter map.
type Extractor interface {
	Extract(description, sessionID string) (map[string]any, error)
}

// Kind names the built-in extractors, referenced from agent configuration.
type Kind string

// Built-in extractor kinds.
const (
	KindSQL        Kind = "sql"
	KindPrediction Kind = "prediction"
	KindGeneric    Kind = "generic"
)

// ForKind returns the extractor for a kind, falling back to generic.
func ForKind(kind Kind) Extractor {
	switch kind {
	case KindSQL:
		return &SQLExtractor{}
	case KindPrediction:
		return &PredictionExtractor{}
	default:
		return &GenericExtractor{}
	}
}

var isoDateRe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)

// isoDates returns all YYYY-MM-DD dates in order of appearance.
func isoDates(s string) []string {
	return isoDateRe.FindAllString(s, -1)
}

// stripDates removes ISO dates so their digits don't leak into numeric
// matching.
func stripDates(s string) string {
	return isoDateRe.ReplaceAllString(s, " ")
}

// stopwords excluded from topic extraction and ticker detection.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "all": true, "are": true, "at": true,
	"be": true, "between": true, "by": true, "for": true, "from": true,
	"get": true, "in": true, "is": true, "it": true, "me": true, "most": true,
	"of": true, "on": true, "or": true, "recent": true, "show": true,
	"that": true, "the": true, "to": true, "was": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "with": true,
	"find": true, "list": true, "give": true, "data": true, "top": true,
	"search": true, "limit": true,
	"first": true, "latest": true, "oldest": true, "earliest": true,
	"above": true, "below": true, "over": true, "under": true,
}
