// Package storagetest holds a behaviour suite shared by the storage backends.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/internal/storage"
)

// Records returns a success and an error record for term, an hour apart,
// the error record being newer.
func Records(term string, now time.Time) (success, failure *serp.ResultRecord) {
	total := int64(1230000)
	success = &serp.ResultRecord{
		ID: term + "-ok",
		SearchQuery: &serp.SearchQuery{
			Term:           term,
			Device:         serp.DeviceDesktop,
			Page:           1,
			Type:           serp.QueryTypeSearch,
			Domain:         "google.com",
			CountryCode:    "US",
			ResultsPerPage: 10,
		},
		URL:            "http://www.google.com/search?q=" + term,
		HasNextPage:    true,
		ResultsTotal:   &total,
		RelatedQueries: []serp.RelatedQuery{{Title: term + " facts", URL: "http://www.google.com/search?q=" + term + "+facts"}},
		PaidResults:    []serp.PaidResult{},
		PaidProducts:   []serp.PaidProduct{},
		OrganicResults: []serp.OrganicResult{
			{Position: 1, Title: "First", URL: "https://example.com/1", DisplayedURL: "example.com", Description: "one"},
			{Position: 2, Title: "Second", URL: "https://example.com/2", DisplayedURL: "example.com", Description: "two"},
		},
		Debug: serp.DebugInfo{
			RequestID:  "req-1",
			URL:        "http://www.google.com/search?q=" + term,
			Method:     "GET",
			StatusCode: 200,
			Attempts:   1,
		},
		CreatedAt: now.Add(-time.Hour),
	}
	failure = &serp.ResultRecord{
		ID:  term + "-err",
		URL: "http://www.google.com/search?q=" + term + "&start=10",
		Debug: serp.DebugInfo{
			RequestID:     "req-2",
			URL:           "http://www.google.com/search?q=" + term + "&start=10",
			Method:        "GET",
			StatusCode:    503,
			Attempts:      4,
			ErrorMessages: []string{"unexpected status 503"},
		},
		IsError:   true,
		CreatedAt: now,
	}
	return success, failure
}

// Exercise saves the fixtures for term into b and checks filtering,
// ordering and paging. b must not already hold records for term.
func Exercise(t *testing.T, b storage.Backend, term string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	success, failure := Records(term, now)

	if err := b.Save(ctx, success); err != nil {
		t.Fatalf("failed to save success record: %v", err)
	}
	if err := b.Save(ctx, failure); err != nil {
		t.Fatalf("failed to save error record: %v", err)
	}

	got, err := b.Query(ctx, storage.Filter{Term: term})
	if err != nil {
		t.Fatalf("query by term: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record for term %q, got %d", term, len(got))
	}
	rec := got[0]
	if rec.ID != success.ID || rec.URL != success.URL || !rec.HasNextPage {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.ResultsTotal == nil || *rec.ResultsTotal != *success.ResultsTotal {
		t.Errorf("results total not preserved: %v", rec.ResultsTotal)
	}
	if len(rec.OrganicResults) != 2 || rec.OrganicResults[1].Title != "Second" {
		t.Errorf("organic results not preserved: %+v", rec.OrganicResults)
	}
	if rec.SearchQuery == nil || rec.SearchQuery.Device != serp.DeviceDesktop {
		t.Errorf("search query not preserved: %+v", rec.SearchQuery)
	}

	yes := true
	got, err = b.Query(ctx, storage.Filter{IsError: &yes, Since: &now})
	if err != nil {
		t.Fatalf("query errors: %v", err)
	}
	var found bool
	for _, r := range got {
		if !r.IsError {
			t.Errorf("error filter returned a success record %s", r.ID)
		}
		if r.ID == failure.ID {
			found = true
			if len(r.Debug.ErrorMessages) != 1 || r.Debug.Attempts != 4 {
				t.Errorf("debug info not preserved: %+v", r.Debug)
			}
		}
	}
	if !found {
		t.Errorf("error record %s not returned", failure.ID)
	}

	before := now.Add(-30 * time.Minute)
	got, err = b.Query(ctx, storage.Filter{Since: &before, Limit: 1})
	if err != nil {
		t.Fatalf("query since: %v", err)
	}
	if len(got) != 1 || got[0].ID != failure.ID {
		t.Errorf("expected newest record %s first, got %d records", failure.ID, len(got))
	}
}
