// Package processor turns fetched results pages into result records.
package processor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/FranksOps/serpent/internal/extract"
	"github.com/FranksOps/serpent/internal/scraper"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

// Config controls how pages are processed.
type Config struct {
	Device serp.Device
	// MaxPagesPerQuery caps pages per query; <= 0 means no cap.
	MaxPagesPerQuery   int
	SaveHTML           bool
	DefaultCountryCode string
	// Extractor defaults to extract.ForDevice(Device).
	Extractor extract.Extractor
	Hook      Hook
	Logger    *slog.Logger
}

// Processor implements scraper.PageHandler.
type Processor struct {
	cfg    Config
	ex     extract.Extractor
	logger *slog.Logger
	now    func() time.Time
}

var _ scraper.PageHandler = (*Processor)(nil)

// New creates a Processor.
func New(cfg Config) *Processor {
	if cfg.Device == "" {
		cfg.Device = serp.DeviceDesktop
	}
	if cfg.DefaultCountryCode == "" {
		cfg.DefaultCountryCode = serp.DefaultCountryCode
	}
	ex := cfg.Extractor
	if ex == nil {
		ex = extract.ForDevice(cfg.Device)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{cfg: cfg, ex: ex, logger: logger, now: time.Now}
}

// HandlePage builds the record for a fetched page and derives the follow-on
// unit, if any. It does not store or enqueue anything. An error means the
// page must be recorded as failed.
func (p *Processor) HandlePage(ctx context.Context, unit serp.UnitOfWork, res *scraper.FetchResult) (serp.ResultRecord, *serp.UnitOfWork, error) {
	unit.FinishedAt = p.now()

	query, err := serp.ParseSearchURL(unit.URL, p.cfg.Device, unit.PageIndex, p.cfg.DefaultCountryCode)
	if err != nil {
		return serp.ResultRecord{}, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return serp.ResultRecord{}, nil, fmt.Errorf("parse html: %w", err)
	}

	host := ""
	if u, err := url.Parse(unit.URL); err == nil {
		host = u.Host
	}

	rec := serp.ResultRecord{
		ID:          uuid.New().String(),
		SearchQuery: &query,
		URL:         unit.URL,
	}
	rec.ResultsTotal = guard(p, unit, "resultsTotal", func() *int64 { return p.ex.TotalResults(doc) })
	rec.RelatedQueries = orEmpty(guard(p, unit, "relatedQueries", func() []serp.RelatedQuery { return p.ex.RelatedQueries(doc, host) }))
	rec.PaidResults = orEmpty(guard(p, unit, "paidResults", func() []serp.PaidResult { return p.ex.PaidResults(doc) }))
	rec.PaidProducts = orEmpty(guard(p, unit, "paidProducts", func() []serp.PaidProduct { return p.ex.PaidProducts(doc) }))
	rec.OrganicResults = orEmpty(guard(p, unit, "organicResults", func() []serp.OrganicResult { return p.ex.OrganicResults(doc) }))

	if p.cfg.Hook != nil {
		data, err := runHook(ctx, p.cfg.Hook, HookInput{
			Unit:           unit,
			Query:          query,
			Document:       doc,
			HTML:           res.Body,
			Fetch:          res,
			OrganicResults: rec.OrganicResults,
		})
		if err != nil {
			return serp.ResultRecord{}, nil, &HookError{URL: unit.URL, Err: err}
		}
		rec.CustomData = data
	}

	nextLink := guard(p, unit, "nextPageLink", func() string { return p.ex.NextPageLink(doc) })
	decision := serp.NextPage(unit, p.cfg.MaxPagesPerQuery, nextLink)
	rec.HasNextPage = decision.HasNextPage
	switch {
	case decision.LimitReached:
		p.logger.Info("not enqueueing next page, maxPagesPerQuery reached",
			"query", query.Term, "page", query.Page, "maxPagesPerQuery", p.cfg.MaxPagesPerQuery)
	case decision.HasNextPage && decision.Next == nil:
		p.logger.Warn("next page link could not be resolved", "url", unit.URL, "link", nextLink)
	}

	if p.cfg.SaveHTML {
		rec.HTML = string(res.Body)
	}
	rec.Debug = debugInfo(unit, res)
	rec.CreatedAt = p.now().UTC()

	p.logger.Info("finished query page",
		"query", query.Term,
		"page", query.Page,
		"organic", len(rec.OrganicResults),
		"paid", len(rec.PaidResults),
		"products", len(rec.PaidProducts),
		"related", len(rec.RelatedQueries),
	)

	return rec, decision.Next, nil
}

// HandleFailure records a unit that could not be processed.
func (p *Processor) HandleFailure(unit serp.UnitOfWork, res *scraper.FetchResult, cause error) serp.ResultRecord {
	if unit.FinishedAt.IsZero() {
		unit.FinishedAt = p.now()
	}
	p.logger.Error("page failed", "url", unit.URL, "query", unit.QueryTerm, "page", unit.DisplayPage(), "err", cause)
	return RecordFailure(unit, res, cause)
}

// guard runs one extractor, turning a panic into the zero value so that a
// broken selector only loses its own field.
func guard[T any](p *Processor, unit serp.UnitOfWork, field string, fn func() T) (out T) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out = zero
			p.logger.Debug("extractor failed", "field", field, "url", unit.URL, "panic", r)
		}
	}()
	return fn()
}

// runHook turns a panicking hook into an error so only its page fails.
func runHook(ctx context.Context, h Hook, in HookInput) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Process(ctx, in)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
