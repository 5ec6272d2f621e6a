// Package analyzer looks for configured terms in results pages.
package analyzer

import (
	"strings"
	"unicode"

	"github.com/FranksOps/serpent/internal/serp"
)

// TermMatch represents occurrences of a term within a page.
type TermMatch struct {
	Term      string   `json:"term"`
	Count     int      `json:"count"`
	Sentences []string `json:"sentences,omitempty"`
	// FirstPosition is the organic rank of the first result mentioning the
	// term in its title, URL or description; 0 when none does.
	FirstPosition int `json:"firstPosition,omitempty"`
}

// FindTermMatches counts case-insensitive occurrences of each term in content
// and collects up to maxSentences surrounding sentences per term (all when
// maxSentences <= 0). Terms that do not occur are omitted.
func FindTermMatches(content string, terms []string, maxSentences int) []TermMatch {
	if len(content) == 0 || len(terms) == 0 {
		return nil
	}

	results := make([]TermMatch, 0, len(terms))
	lowerContent := strings.ToLower(content)
	sentences := splitIntoSentences(content)

	for _, term := range terms {
		lowerTerm := strings.ToLower(strings.TrimSpace(term))
		if lowerTerm == "" {
			continue
		}
		count := strings.Count(lowerContent, lowerTerm)
		if count == 0 {
			continue
		}

		var matched []string
		for _, s := range sentences {
			if maxSentences > 0 && len(matched) >= maxSentences {
				break
			}
			if strings.Contains(s.lower, lowerTerm) {
				matched = append(matched, s.original)
			}
		}

		results = append(results, TermMatch{
			Term:      term,
			Count:     count,
			Sentences: matched,
		})
	}
	return results
}

// RankTerms fills FirstPosition for each match from the organic results.
func RankTerms(matches []TermMatch, organic []serp.OrganicResult) {
	for i := range matches {
		lowerTerm := strings.ToLower(strings.TrimSpace(matches[i].Term))
		for _, r := range organic {
			text := strings.ToLower(r.Title + " " + r.URL + " " + r.Description)
			if strings.Contains(text, lowerTerm) {
				matches[i].FirstPosition = r.Position
				break
			}
		}
	}
}

type sentence struct {
	original string
	lower    string
}

// splitIntoSentences splits on '.', '!' and '?', keeping the delimiter, and
// lower-cases each sentence once.
func splitIntoSentences(text string) []sentence {
	if len(text) == 0 {
		return nil
	}

	estimated := len(text) / 50
	if estimated < 1 {
		estimated = 1
	}

	sentences := make([]sentence, 0, estimated)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		sentences = append(sentences, sentence{original: s, lower: strings.ToLower(s)})
	}

	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			end := i + 1
			for end < len(text) && unicode.IsSpace(rune(text[end])) {
				end++
			}
			add(text[start:end])
			start = end
		}
	}
	if start < len(text) {
		add(text[start:])
	}

	return sentences
}
