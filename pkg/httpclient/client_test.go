package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// consentServer mimics the consent interstitial: a results request without
// the CONSENT cookie is redirected to /consent, which sets the cookie and
// sends the browser back.
func consentServer(t *testing.T, consentHits *atomic.Int32) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/consent":
			consentHits.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "CONSENT", Value: "YES+cb", Path: "/"})
			http.Redirect(w, r, r.URL.Query().Get("continue"), http.StatusFound)
		case "/search":
			if c, err := r.Cookie("CONSENT"); err != nil || !strings.HasPrefix(c.Value, "YES") {
				http.Redirect(w, r, "/consent?continue="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
				return
			}
			_, _ = w.Write([]byte(`<div id="rso"></div>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, c *Client, ctx context.Context, rawURL string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("bad request: %v", err)
	}
	resp, err := c.Do(ctx, req)
	if err == nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	return resp, err
}

func TestClient_ConsentAcrossPages(t *testing.T) {
	var consentHits atomic.Int32
	ts := consentServer(t, &consentHits)

	client, err := New(Config{UseCookieJar: true, MaxRedirects: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, start := range []string{"", "10", "20"} {
		resp, err := get(t, client, context.Background(), ts.URL+"/search?q=cats&start="+start)
		if err != nil {
			t.Fatalf("start=%q: unexpected error: %v", start, err)
		}
		if resp.StatusCode != http.StatusOK || resp.Request.URL.Path != "/search" {
			t.Errorf("start=%q: expected the results page, got %d at %s", start, resp.StatusCode, resp.Request.URL)
		}
	}
	if consentHits.Load() != 1 {
		t.Errorf("expected the consent page once for the whole pagination chain, got %d", consentHits.Load())
	}
}

func TestClient_ConsentLoopWithoutJar(t *testing.T) {
	var consentHits atomic.Int32
	ts := consentServer(t, &consentHits)

	client, err := New(Config{MaxRedirects: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = get(t, client, context.Background(), ts.URL+"/search?q=cats")
	if err == nil || !strings.Contains(err.Error(), "stopped after 4 redirects") {
		t.Fatalf("expected the redirect cap to end the consent loop, got %v", err)
	}

	noFollow, _ := New(Config{MaxRedirects: -1})
	resp, err := get(t, noFollow, context.Background(), ts.URL+"/search?q=cats")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusFound || !strings.HasPrefix(resp.Header.Get("Location"), "/consent") {
		t.Errorf("expected the consent redirect itself, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestClient_ConsentCookieSharedAcrossSubdomains(t *testing.T) {
	client, err := New(Config{UseCookieJar: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	consent, _ := url.Parse("https://consent.google.com/save")
	client.Jar.SetCookies(consent, []*http.Cookie{{Name: "CONSENT", Value: "YES+", Domain: ".google.com", Path: "/"}})

	results, _ := url.Parse("https://www.google.com/search?q=cats")
	found := false
	for _, c := range client.Jar.Cookies(results) {
		found = found || c.Name == "CONSENT"
	}
	if !found {
		t.Error("expected the consent cookie to reach www.google.com")
	}

	other, _ := url.Parse("https://www.google.co.uk/search?q=cats")
	if len(client.Jar.Cookies(other)) != 0 {
		t.Error("the consent cookie must not leak to another country domain")
	}
}

func TestClient_SlowResultsPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	client, _ := New(Config{Timeout: 20 * time.Millisecond})
	if _, err := get(t, client, context.Background(), ts.URL+"/search?q=cats"); err == nil {
		t.Error("expected the client timeout to abort the request")
	}

	patient, _ := New(Config{Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := get(t, patient, ctx, ts.URL+"/search?q=cats"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected a cancelled crawl to abort the request, got %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	if _, err := patient.Do(nil, req); err == nil {
		t.Error("expected error for nil context")
	}
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	if got := p.Attempts(); got != 4 {
		t.Errorf("expected 4 attempts, got %d", got)
	}

	tests := []struct {
		n        int
		min, max time.Duration
	}{
		{0, 0, 0},
		{1, 100 * time.Millisecond, 125 * time.Millisecond},
		{2, 200 * time.Millisecond, 250 * time.Millisecond},
		{3, 300 * time.Millisecond, 375 * time.Millisecond},
		{8, 300 * time.Millisecond, 375 * time.Millisecond},
	}
	for _, tt := range tests {
		d := p.Delay(tt.n)
		if d < tt.min || d > tt.max {
			t.Errorf("Delay(%d) = %v, expected within [%v, %v]", tt.n, d, tt.min, tt.max)
		}
	}

	if got := (RetryPolicy{MaxRetries: -1}).Attempts(); got != 1 {
		t.Errorf("negative retries should still allow one attempt, got %d", got)
	}
}

func TestRetryable(t *testing.T) {
	for status, want := range map[int]bool{
		http.StatusOK:                  false,
		http.StatusNotFound:            false,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusServiceUnavailable:  true,
	} {
		if got := Retryable(status); got != want {
			t.Errorf("Retryable(%d) = %v, expected %v", status, got, want)
		}
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, time.Second); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Sleep did not return promptly on cancellation")
	}
}
