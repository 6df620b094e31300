package extract

// GenericExtractor passes the description through as the query and surfaces
// an ISO date when one is present. Used for historical-analysis and other
// agents without a dedicated extractor.
type GenericExtractor struct{}

// Extract builds the generic parameter map: query and, when found, date.
func (e *GenericExtractor) Extract(description, _ string) (map[string]any, error) {
	params := map[string]any{
		"query": description,
	}
	if dates := isoDates(description); len(dates) > 0 {
		params["date"] = dates[0]
	}
	return params, nil
}
