package serp

import (
	"net/url"
	"strings"
)

// PageDecision is the outcome of NextPage.
type PageDecision struct {
	// HasNextPage reports whether the page links to more results, even when
	// no follow-on unit is produced.
	HasNextPage bool
	// LimitReached is set when a next page exists but maxPagesPerQuery stops
	// the chain.
	LimitReached bool
	// Next is the follow-on unit, nil when the chain ends here.
	Next *UnitOfWork
}

// NextPage decides whether the chain of current continues. maxPagesPerQuery
// <= 0 means unlimited. nextLink is the raw href of the "next" control, "" if
// the page has none; relative links resolve against current.URL.
func NextPage(current UnitOfWork, maxPagesPerQuery int, nextLink string) PageDecision {
	nextLink = strings.TrimSpace(nextLink)
	if nextLink == "" {
		return PageDecision{}
	}

	d := PageDecision{HasNextPage: true}
	if maxPagesPerQuery > 0 && current.PageIndex+1 >= maxPagesPerQuery {
		d.LimitReached = true
		return d
	}

	base, err := url.Parse(current.URL)
	if err != nil {
		return d
	}
	ref, err := url.Parse(nextLink)
	if err != nil {
		return d
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""

	d.Next = &UnitOfWork{
		URL:       resolved.String(),
		PageIndex: current.PageIndex + 1,
		QueryTerm: current.QueryTerm,
	}
	return d
}
