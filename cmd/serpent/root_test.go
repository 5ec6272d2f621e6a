package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FranksOps/serpent/internal/serp"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{&serp.ConfigurationError{Reason: "x"}, exitConfigError},
		{fmt.Errorf("wrapped: %w", &serp.ConfigurationError{Reason: "x"}), exitConfigError},
		{fmt.Errorf("crawl: %w", context.Canceled), exitInterrupted},
		{errors.New("store unreachable"), exitFailure},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"version"}, &out, &errOut); code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut.String())
	}
	if !strings.HasPrefix(out.String(), "serpent version ") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRunCmd_NoQueries(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"run", "--no-progress", "--output-path", filepath.Join(t.TempDir(), "r.ndjson")}, &out, &errOut)
	if code != exitConfigError {
		t.Fatalf("expected exit %d, got %d (%s)", exitConfigError, code, errOut.String())
	}
	if !strings.Contains(errOut.String(), "at least one search query") {
		t.Errorf("expected configuration message, got %q", errOut.String())
	}
}

func TestRunCmd_InvalidFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"run", "cats", "--no-progress", "--output", "mongo"}, &out, &errOut)
	if code != exitConfigError {
		t.Fatalf("expected exit %d, got %d (%s)", exitConfigError, code, errOut.String())
	}
}

func fakeGoogle(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get("q")
		fmt.Fprintf(w, `<html><body><div id="rso">
<div class="g"><a href="https://example.com/%[1]s"><h3>%[1]s</h3></a></div>
</div>`, term)
		if r.URL.Query().Get("start") == "" {
			fmt.Fprintf(w, `<a id="pnnext" href="/search?q=%s&amp;start=10">Next</a>`, term)
		}
		fmt.Fprint(w, `</body></html>`)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRunAndResults(t *testing.T) {
	ts := fakeGoogle(t)
	dataset := filepath.Join(t.TempDir(), "results.ndjson")
	common := []string{"--no-progress", "--output-path", dataset, "--fingerprint", "go", "--log-level", "error"}

	var out, errOut bytes.Buffer
	args := append([]string{"run", ts.URL + "/search?q=cats\n" + ts.URL + "/search?q=dogs"}, common...)
	if code := run(args, &out, &errOut); code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "Pages:         4 (4 ok, 0 failed)") {
		t.Errorf("unexpected summary:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Results stored in "+dataset) {
		t.Errorf("expected dataset location in summary:\n%s", out.String())
	}

	out.Reset()
	errOut.Reset()
	if code := run([]string{"results", "--output-path", dataset, "--term", "cats"}, &out, &errOut); code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut.String())
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 cats records, got %d:\n%s", len(lines), out.String())
	}
	var rec serp.ResultRecord
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected json record: %v", err)
	}
	if rec.SearchQuery == nil || rec.SearchQuery.Term != "cats" {
		t.Errorf("unexpected record %+v", rec)
	}

	out.Reset()
	if code := run([]string{"results", "--output-path", dataset, "--term", "dogs", "--organic"}, &out, &errOut); code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut.String())
	}
	lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one organic line per dogs page, got %d:\n%s", len(lines), out.String())
	}
	var line struct {
		Term string `json:"term"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &line); err != nil {
		t.Fatalf("expected json line: %v", err)
	}
	if line.Term != "dogs" || line.URL != "https://example.com/dogs" {
		t.Errorf("unexpected organic line %+v", line)
	}

	out.Reset()
	if code := run([]string{"results", "--output-path", dataset, "--summary", "--report", "markdown"}, &out, &errOut); code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "# Serpent Run Report") {
		t.Errorf("expected markdown summary, got:\n%s", out.String())
	}
}
