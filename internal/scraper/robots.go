package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsTxtAuditor fetches robots.txt once per host and answers whether a
// URL may be crawled. Hosts whose robots.txt is missing or unreadable are
// treated as allowing everything. Concurrent checks for one host share a
// single fetch; other hosts are not held up by it.
type RobotsTxtAuditor struct {
	transport Transport
	logger    *slog.Logger
	flight    singleflight.Group
	mu        sync.Mutex
	cache     map[string]*robotstxt.RobotsData
}

// NewRobotsTxtAuditor creates a new instance.
func NewRobotsTxtAuditor(transport Transport, logger *slog.Logger) *RobotsTxtAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsTxtAuditor{
		transport: transport,
		logger:    logger,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// IsAllowed determines if targetURL is allowed for userAgent.
func (r *RobotsTxtAuditor) IsAllowed(ctx context.Context, targetURL string, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("invalid url: %w", err)
	}

	host := u.Scheme + "://" + u.Host
	data, err := r.getOrFetch(ctx, host)
	if err != nil {
		r.logger.Debug("robots.txt fetch failed, defaulting to allow", "host", host, "err", err)
		return true, nil
	}
	if data == nil {
		return true, nil
	}

	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.FindGroup(userAgent).Test(path), nil
}

func (r *RobotsTxtAuditor) getOrFetch(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	r.mu.Lock()
	data, ok := r.cache[host]
	r.mu.Unlock()
	if ok {
		return data, nil
	}

	v, err, _ := r.flight.Do(host, func() (any, error) {
		data, err := r.fetch(ctx, host)
		r.mu.Lock()
		r.cache[host] = data
		r.mu.Unlock()
		return data, err
	})
	data, _ = v.(*robotstxt.RobotsData)
	return data, err
}

// fetch downloads and parses robots.txt for host. A nil result with a nil
// error means there is no robots.txt.
func (r *RobotsTxtAuditor) fetch(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	res, err := r.transport.Fetch(ctx, host+"/robots.txt")
	if err != nil {
		var exhausted *FetchExhaustedError
		if errors.As(err, &exhausted) && exhausted.StatusCode >= http.StatusBadRequest && exhausted.StatusCode < http.StatusInternalServerError {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}

	parsed, err := robotstxt.FromStatusAndBytes(res.StatusCode, res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return parsed, nil
}
