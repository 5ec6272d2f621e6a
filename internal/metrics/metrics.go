package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/FranksOps/serpent/internal/serp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpent_fetch_requests_total",
			Help: "Total number of HTTP attempts made against results pages",
		},
		[]string{"domain", "status", "detected", "detection_src"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serpent_fetch_duration_seconds",
			Help:    "Duration of a page fetch including retries, in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"domain"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpent_fetch_bytes_total",
			Help: "Total decoded bytes downloaded across all pages",
		},
		[]string{"domain"},
	)

	FetchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpent_fetch_retries_total",
			Help: "Retried fetch attempts by reason",
		},
		[]string{"domain", "reason"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpent_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)

	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpent_pages_total",
			Help: "Result records written, by outcome",
		},
		[]string{"domain", "outcome"},
	)

	OrganicResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpent_organic_results_total",
			Help: "Organic results extracted",
		},
		[]string{"domain"},
	)

	PaidResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpent_paid_results_total",
			Help: "Paid results and products extracted",
		},
		[]string{"domain"},
	)

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "serpent_units_in_flight",
		Help: "Units of work claimed and not yet recorded",
	})
)

// Domain returns the host of rawURL for use as a label.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// RecordAttempt counts one HTTP attempt. status 0 means no response.
func RecordAttempt(domain string, status int, detected bool, detectionSrc string) {
	statusStr := strconv.Itoa(status)
	if status == 0 {
		statusStr = "error"
	}
	FetchRequestsTotal.WithLabelValues(domain, statusStr, strconv.FormatBool(detected), detectionSrc).Inc()
}

// RecordRetry counts a retry caused by reason (transport, status, bot).
func RecordRetry(domain, reason string) {
	FetchRetriesTotal.WithLabelValues(domain, reason).Inc()
}

// RecordFetch observes the total duration and body size of a finished fetch.
func RecordFetch(domain string, d time.Duration, bytes int) {
	FetchDuration.WithLabelValues(domain).Observe(d.Seconds())
	FetchBytesTotal.WithLabelValues(domain).Add(float64(bytes))
}

// RecordPage updates page counters from a record about to be stored.
func RecordPage(rec *serp.ResultRecord) {
	if rec == nil {
		return
	}
	domain := Domain(rec.URL)
	if rec.IsError {
		PagesTotal.WithLabelValues(domain, "error").Inc()
		return
	}
	PagesTotal.WithLabelValues(domain, "success").Inc()
	OrganicResultsTotal.WithLabelValues(domain).Add(float64(len(rec.OrganicResults)))
	PaidResultsTotal.WithLabelValues(domain).Add(float64(len(rec.PaidResults) + len(rec.PaidProducts)))
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv  *http.Server
	addr string
}

// Start listens on port and exposes /metrics. Port 0 picks a free port; see
// Addr.
func Start(port int, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return &Server{srv: srv, addr: ln.Addr().String()}, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.addr
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
