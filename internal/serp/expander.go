package serp

import (
	"fmt"
	"net/url"
	"strings"
)

// ConfigurationError reports input that makes a run impossible before any
// work starts.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

// ExpandOptions is the input of Expand.
type ExpandOptions struct {
	// Queries holds search terms and/or results-page URLs. Each entry may
	// contain several newline-separated lines.
	Queries []string
	Params  SearchParams
}

// Expand turns raw queries into page-0 units of work, one per non-blank line,
// in input order. URL inputs always restart at page 0.
func Expand(opts ExpandOptions) ([]UnitOfWork, error) {
	var units []UnitOfWork
	for _, entry := range opts.Queries {
		for _, line := range strings.Split(entry, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if !isURLInput(line) {
				units = append(units, UnitOfWork{
					URL:       BuildSearchURL(line, opts.Params),
					PageIndex: 0,
					QueryTerm: line,
				})
				continue
			}

			normalized, err := NormalizeURL(line)
			if err != nil {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid query url %q: %v", line, err)}
			}
			units = append(units, UnitOfWork{
				URL:       normalized,
				PageIndex: 0,
				QueryTerm: termOf(normalized),
			})
		}
	}

	if len(units) == 0 {
		return nil, &ConfigurationError{Reason: "at least one search query or URL is required"}
	}
	return units, nil
}

func isURLInput(s string) bool {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return true
	}
	if strings.ContainsAny(s, " \t") {
		return false
	}
	return (strings.HasPrefix(lower, "www.") || strings.HasPrefix(lower, "google.")) && strings.Contains(lower, "/search")
}

func termOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("q")
}
