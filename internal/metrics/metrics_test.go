package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/serpent/internal/serp"
)

func TestMetricsServer(t *testing.T) {
	srv, err := Start(0, nil)
	if err != nil {
		t.Fatalf("failed to start metrics server: %v", err)
	}
	defer srv.Stop(context.Background())

	_, port, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("bad listen address %q: %v", srv.Addr(), err)
	}

	RecordAttempt("www.google.com", 200, false, "")
	RecordAttempt("www.google.com", 429, true, "Google")
	RecordRetry("www.google.com", "bot")
	RecordFetch("www.google.com", time.Second, 11)
	RecordPage(&serp.ResultRecord{
		URL:            "http://www.google.com/search?q=cats",
		OrganicResults: []serp.OrganicResult{{Position: 1}, {Position: 2}},
	})
	RecordPage(&serp.ResultRecord{URL: "http://www.google.com/search?q=dogs", IsError: true})
	RecordPage(nil)

	resp, err := http.Get("http://127.0.0.1:" + port + "/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	output := string(body)

	for _, want := range []string{
		`serpent_fetch_requests_total{detected="true",detection_src="Google",domain="www.google.com",status="429"} 1`,
		`serpent_fetch_duration_seconds_bucket`,
		`serpent_fetch_bytes_total{domain="www.google.com"} 11`,
		`serpent_fetch_retries_total{domain="www.google.com",reason="bot"} 1`,
		`serpent_pages_total{domain="www.google.com",outcome="success"} 1`,
		`serpent_pages_total{domain="www.google.com",outcome="error"} 1`,
		`serpent_organic_results_total{domain="www.google.com"} 2`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected metrics output to contain %s", want)
		}
	}
}

func TestDomain(t *testing.T) {
	if got := Domain("http://www.google.de:8080/search?q=x"); got != "www.google.de" {
		t.Errorf("unexpected domain %q", got)
	}
	if got := Domain("://bad"); got != "" {
		t.Errorf("expected empty domain for bad url, got %q", got)
	}
}
