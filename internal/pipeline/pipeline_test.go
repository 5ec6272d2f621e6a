package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/serpent/internal/config"
	"github.com/FranksOps/serpent/internal/queue"
	"github.com/FranksOps/serpent/internal/queue/redisqueue"
	"github.com/FranksOps/serpent/internal/scraper"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/internal/storage"
	"github.com/FranksOps/serpent/internal/storage/jsonbackend"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGoogle serves three results pages per term; the term "blocked" is
// always rate limited.
func fakeGoogle(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		term := q.Get("q")
		if term == "blocked" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		start, _ := strconv.Atoi(q.Get("start"))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body>
<div id="result-stats">About 2,000 results</div>
<div id="rso">
  <div class="g"><div class="yuRUbf"><a href="https://example.com/%[1]s/%[2]d"><h3>%[1]s result %[2]d</h3></a><cite>example.com</cite></div>
  <div class="VwiC3b">All about %[1]s, the kitten edition.</div></div>
  <div class="g"><div class="yuRUbf"><a href="https://example.org/%[1]s/%[2]d"><h3>More %[1]s %[2]d</h3></a></div></div>
</div>`, term, start)
		if start < 20 {
			fmt.Fprintf(w, `<a id="pnnext" href="/search?q=%s&amp;start=%d">Next</a>`, term, start+10)
		}
		fmt.Fprint(w, `</body></html>`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func testConfig(t *testing.T, queries ...string) *config.Config {
	t.Helper()
	return &config.Config{
		Queries:            queries,
		Concurrency:        2,
		Domain:             serp.DefaultDomain,
		DefaultCountryCode: serp.DefaultCountryCode,
		Fetch: config.FetchConfig{
			Timeout:     5 * time.Second,
			Fingerprint: "go",
			CookieJar:   true,
		},
		Output: config.OutputConfig{Backend: "json", Path: filepath.Join(t.TempDir(), "results.ndjson")},
		Queue:  config.QueueConfig{Backend: "memory"},
		Log:    config.LogConfig{Level: "info", Format: "text"},
		Report: config.ReportConfig{Format: "text"},
	}
}

func readDataset(t *testing.T, path string) []*serp.ResultRecord {
	t.Helper()
	b, err := jsonbackend.New(path)
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer b.Close()
	recs, err := b.Query(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatalf("failed to query dataset: %v", err)
	}
	return recs
}

func TestPipeline_Run(t *testing.T) {
	ts := fakeGoogle(t)
	cfg := testConfig(t, ts.URL+"/search?q=cats")
	cfg.MaxPagesPerQuery = 2

	var started, stored atomic.Int32
	p := &Pipeline{
		Config:   cfg,
		Logger:   quietLogger(),
		OnStart:  func(n int) { started.Store(int32(n)) },
		OnRecord: func(*serp.ResultRecord) { stored.Add(1) },
	}

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}

	if started.Load() != 1 || stored.Load() != 2 {
		t.Errorf("expected 1 seed and 2 stored records, got %d/%d", started.Load(), stored.Load())
	}
	if summary.TotalRecords != 2 || summary.Errors != 0 || summary.OrganicResults != 4 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.Location != cfg.Output.Path {
		t.Errorf("expected location %q, got %q", cfg.Output.Path, summary.Location)
	}

	recs := readDataset(t, cfg.Output.Path)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records in dataset, got %d", len(recs))
	}
	pages := map[int]*serp.ResultRecord{}
	for _, r := range recs {
		if r.SearchQuery == nil {
			t.Fatalf("unexpected error record %+v", r)
		}
		pages[r.SearchQuery.Page] = r
	}
	if pages[1] == nil || pages[2] == nil {
		t.Fatalf("expected pages 1 and 2, got %v", pages)
	}
	if !pages[2].HasNextPage {
		t.Errorf("expected the limited last page to still report a next page")
	}
	if pages[1].SearchQuery.Term != "cats" || len(pages[1].OrganicResults) != 2 {
		t.Errorf("unexpected first page %+v", pages[1])
	}
	if pages[1].ResultsTotal == nil || *pages[1].ResultsTotal != 2000 {
		t.Errorf("expected results total 2000, got %v", pages[1].ResultsTotal)
	}
}

func TestPipeline_FailedPageIsRecorded(t *testing.T) {
	ts := fakeGoogle(t)
	cfg := testConfig(t, ts.URL+"/search?q=blocked", ts.URL+"/search?q=dogs")
	cfg.MaxPagesPerQuery = 1
	cfg.Fetch.MaxRetries = 0

	summary, err := (&Pipeline{Config: cfg, Logger: quietLogger()}).Run(context.Background())
	if err != nil {
		t.Fatalf("page failures must not fail the run: %v", err)
	}
	if summary.TotalRecords != 2 || summary.Errors != 1 {
		t.Fatalf("expected 2 records with 1 failure, got %+v", summary)
	}

	var failed *serp.ResultRecord
	for _, r := range readDataset(t, cfg.Output.Path) {
		if r.IsError {
			failed = r
		}
	}
	if failed == nil {
		t.Fatal("expected an error record in the dataset")
	}
	if failed.Debug.StatusCode != http.StatusTooManyRequests || len(failed.Debug.ErrorMessages) == 0 {
		t.Errorf("unexpected debug info %+v", failed.Debug)
	}
}

func TestPipeline_TermsHook(t *testing.T) {
	ts := fakeGoogle(t)
	cfg := testConfig(t, ts.URL+"/search?q=cats")
	cfg.MaxPagesPerQuery = 1
	cfg.Hook = config.HookConfig{Name: "terms", Terms: []string{"kitten"}}

	if _, err := (&Pipeline{Config: cfg, Logger: quietLogger()}).Run(context.Background()); err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}

	recs := readDataset(t, cfg.Output.Path)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	// custom data round-trips through JSON as generic values
	matches, ok := recs[0].CustomData.([]any)
	if !ok || len(matches) != 1 {
		t.Fatalf("expected one term match, got %#v", recs[0].CustomData)
	}
	if m, _ := matches[0].(map[string]any); m == nil || m["term"] != "kitten" || m["count"] != float64(1) {
		t.Errorf("unexpected match %#v", matches[0])
	}
}

func TestPipeline_ConfigurationErrors(t *testing.T) {
	cases := map[string]*config.Config{
		"no queries":   testConfig(t),
		"blank lines":  testConfig(t, "\n  \n"),
		"bad language": func() *config.Config { c := testConfig(t, "cats"); c.LanguageCode = "??"; return c }(),
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := (&Pipeline{Config: cfg, Logger: quietLogger()}).Run(context.Background())
			var cfgErr *serp.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

type recordingTransport struct {
	calls atomic.Int32
}

func (r *recordingTransport) Fetch(_ context.Context, u string) (*scraper.FetchResult, error) {
	r.calls.Add(1)
	return &scraper.FetchResult{URL: u, StatusCode: http.StatusOK, Body: []byte(`<html><body><div id="rso"></div></body></html>`)}, nil
}

func TestPipeline_CustomTransportAndDedup(t *testing.T) {
	cfg := testConfig(t, "cats\ndogs", "cats")
	transport := &recordingTransport{}

	summary, err := (&Pipeline{Config: cfg, Logger: quietLogger(), Transport: transport}).Run(context.Background())
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if transport.calls.Load() != 2 || summary.TotalRecords != 2 {
		t.Errorf("expected duplicate query to be fetched once, got %d calls and %d records", transport.calls.Load(), summary.TotalRecords)
	}
}

func TestPipeline_AllSeedsAlreadySeen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "cats")
	units, err := serp.Expand(serp.ExpandOptions{Queries: cfg.Queries, Params: cfg.SearchParams()})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	// a queue that already crawled the seed in an earlier run
	q := queue.NewMemory()
	_, _ = q.Push(ctx, units[0])
	_, _, _ = q.Claim(ctx)

	transport := &recordingTransport{}
	_, err = (&Pipeline{Config: cfg, Logger: quietLogger(), Transport: transport, Queue: q}).Run(ctx)
	var cfgErr *serp.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError when nothing was queued, got %v", err)
	}
	if transport.calls.Load() != 0 {
		t.Errorf("expected no fetches, got %d", transport.calls.Load())
	}
}

func TestPipeline_ResumesPendingWork(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "cats")
	units, err := serp.Expand(serp.ExpandOptions{Queries: cfg.Queries, Params: cfg.SearchParams()})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	// the seed is still pending from an interrupted run
	q := queue.NewMemory()
	_, _ = q.Push(ctx, units[0])

	transport := &recordingTransport{}
	summary, err := (&Pipeline{Config: cfg, Logger: quietLogger(), Transport: transport, Queue: q}).Run(ctx)
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if transport.calls.Load() != 1 || summary.TotalRecords != 1 {
		t.Errorf("expected the pending seed to be crawled once, got %d calls and %d records", transport.calls.Load(), summary.TotalRecords)
	}
}

func TestOpenQueue_RedisStartsClean(t *testing.T) {
	addr := os.Getenv("SERPENT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SERPENT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	cfg := config.QueueConfig{Backend: "redis", RedisAddr: addr, Prefix: fmt.Sprintf("serpent-test:%d:", time.Now().UnixNano())}
	unit := serp.UnitOfWork{URL: "http://www.google.com/search?q=cats"}

	first, err := OpenQueue(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if added, err := first.Push(ctx, unit); err != nil || !added {
		t.Fatalf("expected seed to be added, got added=%v err=%v", added, err)
	}
	_ = first.Close()

	cfg.Resume = true
	resumed, err := OpenQueue(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if n, _ := resumed.Len(ctx); n != 1 {
		t.Errorf("expected resumed queue to keep 1 pending unit, got %d", n)
	}
	_ = resumed.Close()

	cfg.Resume = false
	fresh, err := OpenQueue(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fresh.Close()
	if added, err := fresh.Push(ctx, unit); err != nil || !added {
		t.Errorf("expected seed to be queued again in a new run, got added=%v err=%v", added, err)
	}
	if rq, ok := fresh.(*redisqueue.Queue); ok {
		_ = rq.Reset(ctx)
	}
}

func TestOpenBackendAndQueue(t *testing.T) {
	ctx := context.Background()
	var cfgErr *serp.ConfigurationError

	if _, err := OpenBackend(ctx, config.OutputConfig{Backend: "mongo"}); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError for unknown backend, got %v", err)
	}
	if _, err := OpenQueue(ctx, config.QueueConfig{Backend: "sqs"}, nil); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError for unknown queue, got %v", err)
	}

	for _, backend := range []string{"json", "csv", "sqlite"} {
		b, err := OpenBackend(ctx, config.OutputConfig{Backend: backend, Path: filepath.Join(t.TempDir(), "out."+backend)})
		if err != nil {
			t.Errorf("%s: unexpected error: %v", backend, err)
			continue
		}
		if b.Location() == "" {
			t.Errorf("%s: expected a location", backend)
		}
		_ = b.Close()
	}

	q, err := OpenQueue(ctx, config.QueueConfig{Backend: "memory"}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = q.Close()
}
