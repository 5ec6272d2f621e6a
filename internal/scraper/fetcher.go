package scraper

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/serpent/internal/bypass"
	"github.com/FranksOps/serpent/internal/fingerprint"
	"github.com/FranksOps/serpent/internal/metrics"
	"github.com/FranksOps/serpent/pkg/httpclient"
	"github.com/FranksOps/serpent/pkg/proxy"
	"github.com/FranksOps/serpent/pkg/useragent"
	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

const defaultMaxBodyBytes = 10 << 20

// FetchResult is the raw outcome of fetching one results page, successful
// or not. On failure it still carries whatever the last attempt produced.
type FetchResult struct {
	ID           string
	URL          string
	FinalURL     string
	Method       string
	StatusCode   int
	Headers      map[string][]string
	Body         []byte
	Duration     time.Duration
	Attempts     int
	DetectedBot  bool
	DetectionSrc string // e.g. "Google", "Cloudflare"
	Proxy        string
	StartedAt    time.Time
	// Errors holds one message per failed attempt.
	Errors []string
}

// Transport fetches a page, retrying internally. A non-nil error means the
// page could not be fetched; the result is still returned for debugging.
type Transport interface {
	Fetch(ctx context.Context, targetURL string) (*FetchResult, error)
}

// FetchExhaustedError reports that every allowed attempt failed.
type FetchExhaustedError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchExhaustedError) Unwrap() error {
	return e.Err
}

// FetchConfig configures the Fetcher.
type FetchConfig struct {
	Timeout time.Duration
	// MaxRedirects defaults to 10; negative disables following.
	MaxRedirects int
	UseCookieJar bool
	ProxyPool    *proxy.Pool
	UAPool       *useragent.Pool
	Fingerprint  fingerprint.Profile
	Retry        httpclient.RetryPolicy
	// Detectors default to bypass.DefaultDetectors.
	Detectors []bypass.Detector
	// AcceptLanguage defaults to en-US.
	AcceptLanguage string
	MaxBodyBytes   int64
	// InsecureSkipVerify is for local TLS test servers only.
	InsecureSkipVerify bool
	Logger             *slog.Logger
}

// Fetcher performs single URL fetches using the configured bypass strategies.
// One client is held across requests so cookies persist for its lifetime.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
	logger *slog.Logger
}

// NewFetcher initializes a new Fetcher with the given configuration.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.9"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// The proxy is chosen per request and handed to the shared transport
	// through the request context.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(fingerprint.Options{
		Profile:            cfg.Fingerprint,
		Proxy:              proxyFunc,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Fetcher{
		config: cfg,
		client: client,
		logger: cfg.Logger,
	}, nil
}

// Fetch GETs targetURL, retrying transport errors, 429/5xx responses and
// detected block pages with exponential backoff. Other 4xx responses fail
// immediately. When no attempt succeeds it returns a *FetchExhaustedError.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*FetchResult, error) {
	start := time.Now()
	res := &FetchResult{
		ID:        uuid.New().String(),
		URL:       targetURL,
		Method:    http.MethodGet,
		StartedAt: start.UTC(),
	}
	domain := metrics.Domain(targetURL)

	var lastErr error
	attempts := f.config.Retry.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := httpclient.Sleep(ctx, f.config.Retry.Delay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		res.Attempts = attempt
		reason, err := f.attempt(ctx, res, domain)
		if err == nil {
			res.Duration = time.Since(start)
			metrics.RecordFetch(domain, res.Duration, len(res.Body))
			return res, nil
		}

		lastErr = err
		res.Errors = append(res.Errors, err.Error())
		if reason == "" || attempt == attempts {
			break
		}
		metrics.RecordRetry(domain, reason)
		f.logger.Warn("fetch attempt failed, retrying", "url", targetURL, "attempt", attempt, "err", err)
	}

	res.Duration = time.Since(start)
	metrics.RecordFetch(domain, res.Duration, len(res.Body))
	return res, &FetchExhaustedError{
		URL:        targetURL,
		Attempts:   res.Attempts,
		StatusCode: res.StatusCode,
		Err:        lastErr,
	}
}

// attempt performs one request and fills res. A non-empty reason marks the
// failure as retryable.
func (f *Fetcher) attempt(ctx context.Context, res *FetchResult, domain string) (reason string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		if activeProxy = f.config.ProxyPool.Next(); activeProxy != nil {
			req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
			res.Proxy = activeProxy.Redacted()
		}
	}

	req.Header.Set("User-Agent", f.config.UAPool.GetSequential())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.config.AcceptLanguage)
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		f.markProxy(activeProxy, false)
		metrics.RecordAttempt(domain, 0, false, "")
		if ctx.Err() != nil {
			return "", err
		}
		return "transport", err
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Headers = resp.Header
	res.FinalURL = resp.Request.URL.String()

	body, err := f.readBody(resp)
	res.Body = body
	if err != nil {
		f.markProxy(activeProxy, false)
		metrics.RecordAttempt(domain, resp.StatusCode, false, "")
		return "transport", fmt.Errorf("read body: %w", err)
	}

	detected, source := bypass.Analyze(&bypass.Response{
		StatusCode: resp.StatusCode,
		FinalURL:   res.FinalURL,
		Headers:    resp.Header,
		Body:       body,
	}, f.config.Detectors)
	res.DetectedBot = detected
	res.DetectionSrc = source
	metrics.RecordAttempt(domain, resp.StatusCode, detected, source)

	if detected {
		f.markProxy(activeProxy, false)
		return "bot", fmt.Errorf("blocked by %s (status %d)", source, resp.StatusCode)
	}
	f.markProxy(activeProxy, true)

	switch {
	case httpclient.Retryable(resp.StatusCode):
		return "status", fmt.Errorf("unexpected status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return "", nil
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(io.LimitReader(r, f.config.MaxBodyBytes))
}

func (f *Fetcher) markProxy(u *url.URL, ok bool) {
	if u == nil {
		return
	}
	if ok {
		_ = f.config.ProxyPool.MarkSuccess(u)
		return
	}
	_ = f.config.ProxyPool.MarkFailure(u)
	metrics.ProxyFailures.WithLabelValues(u.Redacted()).Inc()
}
