// Package report summarises a crawl run for the console or a file.
package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/FranksOps/serpent/internal/serp"
)

// QueryStats aggregates the pages of one search term.
type QueryStats struct {
	Term    string
	Pages   int
	Errors  int
	Organic int
	Paid    int
	// LastPage is the highest page number stored for the term.
	LastPage int
	// MorePages is true when the last stored page still had a next page.
	MorePages bool
}

// Summary contains aggregated metrics about a crawl run.
type Summary struct {
	Location        string
	TotalRecords    int
	Successes       int
	Errors          int
	DetectedBot     int
	DetectionsBySrc map[string]int
	StatusCodes     map[int]int
	OrganicResults  int
	PaidResults     int
	PaidProducts    int
	Queries         []QueryStats
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}

// Collector builds a Summary from records as they are stored. Safe for
// concurrent use.
type Collector struct {
	mu      sync.Mutex
	s       Summary
	byTerm  map[string]*QueryStats
	started bool
}

// NewCollector returns a collector for a dataset stored at location.
func NewCollector(location string) *Collector {
	return &Collector{
		s: Summary{
			Location:        location,
			DetectionsBySrc: make(map[string]int),
			StatusCodes:     make(map[int]int),
		},
		byTerm: make(map[string]*QueryStats),
	}
}

// Add folds one record into the summary.
func (c *Collector) Add(rec *serp.ResultRecord) {
	if rec == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.s
	s.TotalRecords++
	if rec.IsError {
		s.Errors++
	} else {
		s.Successes++
	}
	if rec.Debug.DetectedBot {
		s.DetectedBot++
		s.DetectionsBySrc[rec.Debug.DetectionSrc]++
	}
	if rec.Debug.StatusCode > 0 {
		s.StatusCodes[rec.Debug.StatusCode]++
	}
	s.OrganicResults += len(rec.OrganicResults)
	s.PaidResults += len(rec.PaidResults)
	s.PaidProducts += len(rec.PaidProducts)

	if !c.started || rec.CreatedAt.Before(s.StartTime) {
		s.StartTime = rec.CreatedAt
	}
	if !c.started || rec.CreatedAt.After(s.EndTime) {
		s.EndTime = rec.CreatedAt
	}
	c.started = true

	term := rec.Term()
	if term == "" {
		// error records carry no query; count them under their URL's term
		if u, err := serp.ParseSearchURL(rec.URL, serp.DeviceDesktop, 0, ""); err == nil {
			term = u.Term
		}
	}
	qs, ok := c.byTerm[term]
	if !ok {
		qs = &QueryStats{Term: term}
		c.byTerm[term] = qs
	}
	if rec.IsError {
		qs.Errors++
		return
	}
	qs.Pages++
	qs.Organic += len(rec.OrganicResults)
	qs.Paid += len(rec.PaidResults)
	if rec.SearchQuery != nil && rec.SearchQuery.Page >= qs.LastPage {
		qs.LastPage = rec.SearchQuery.Page
		qs.MorePages = rec.HasNextPage
	}
}

// Summary returns a snapshot with queries sorted by term.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.s
	out.DetectionsBySrc = make(map[string]int, len(c.s.DetectionsBySrc))
	for k, v := range c.s.DetectionsBySrc {
		out.DetectionsBySrc[k] = v
	}
	out.StatusCodes = make(map[int]int, len(c.s.StatusCodes))
	for k, v := range c.s.StatusCodes {
		out.StatusCodes[k] = v
	}
	out.Queries = make([]QueryStats, 0, len(c.byTerm))
	for _, qs := range c.byTerm {
		out.Queries = append(out.Queries, *qs)
	}
	slices.SortFunc(out.Queries, func(a, b QueryStats) int { return strings.Compare(a.Term, b.Term) })
	out.Duration = out.EndTime.Sub(out.StartTime)
	return out
}

// GenerateSummary processes stored records into a summary.
func GenerateSummary(location string, records []*serp.ResultRecord) Summary {
	c := NewCollector(location)
	for _, r := range records {
		c.Add(r)
	}
	return c.Summary()
}

// Write renders the summary in format: text, json, markdown or html.
func Write(w io.Writer, format string, summary Summary) error {
	switch strings.ToLower(format) {
	case "", "text":
		return WriteText(w, summary)
	case "json":
		return WriteJSON(w, summary)
	case "markdown", "md":
		return WriteMarkdown(w, summary)
	case "html":
		return WriteHTML(w, summary)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

var funcs = map[string]any{
	"ts": func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Serpent Run Summary
-------------------
Time:          {{ts .StartTime}} - {{ts .EndTime}}
Duration:      {{.Duration}}
Pages:         {{.TotalRecords}} ({{.Successes}} ok, {{.Errors}} failed)
Organic:       {{.OrganicResults}}
Paid:          {{.PaidResults}} ads, {{.PaidProducts}} products

Queries:
{{- range .Queries}}
  {{printf "%q" .Term}}: {{.Pages}} page(s), {{.Organic}} organic{{if .Errors}}, {{.Errors}} failed{{end}}{{if .MorePages}}, more pages available{{end}}
{{- else}}
  None
{{- end}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Detections: {{.DetectedBot}}
{{- range $src, $count := .DetectionsBySrc}}
  {{$src}}: {{$count}}
{{- end}}

Results stored in {{.Location}}
{{- if .OrganicResults}}
Organic results only: serpent results --organic
{{- end}}
`

	t, err := template.New("textReport").Funcs(funcs).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Serpent Run Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Serpent Run Report</h1>
  <p><strong>Time:</strong> {{ts .StartTime}} to {{ts .EndTime}} ({{.Duration}})</p>
  <p><strong>Dataset:</strong> {{.Location}}</p>

  <div class="stat-card">
    <div>Pages</div>
    <div class="stat-val">{{.TotalRecords}}</div>
  </div>
  <div class="stat-card">
    <div>Failed</div>
    <div class="stat-val" style="color: {{if gt .Errors 0}}red{{else}}green{{end}};">{{.Errors}}</div>
  </div>
  <div class="stat-card">
    <div>Organic Results</div>
    <div class="stat-val">{{.OrganicResults}}</div>
  </div>
  <div class="stat-card">
    <div>Paid Results</div>
    <div class="stat-val">{{.PaidResults}}</div>
  </div>

  <h3>Queries</h3>
  <table>
    <tr><th>Term</th><th>Pages</th><th>Organic</th><th>Paid</th><th>Failed</th><th>More Pages</th></tr>
    {{- range .Queries}}
    <tr><td>{{.Term}}</td><td>{{.Pages}}</td><td>{{.Organic}}</td><td>{{.Paid}}</td><td>{{.Errors}}</td><td>{{if .MorePages}}yes{{else}}no{{end}}</td></tr>
    {{- else}}
    <tr><td colspan="6">None</td></tr>
    {{- end}}
  </table>

  <h3>Status Codes</h3>
  <table>
    <tr><th>Code</th><th>Count</th></tr>
    {{- range $code, $count := .StatusCodes}}
    <tr><td>{{$code}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Detections By Source</h3>
  <table>
    <tr><th>Source</th><th>Count</th></tr>
    {{- range $src, $count := .DetectionsBySrc}}
    <tr><td>{{$src}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := htmltemplate.New("htmlReport").Funcs(funcs).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}

	return nil
}
