// Package pipeline wires configuration into a complete crawl run: query
// expansion, work queue, fetcher, page processor, crawl driver, dataset and
// run summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/serpent/internal/config"
	"github.com/FranksOps/serpent/internal/fingerprint"
	"github.com/FranksOps/serpent/internal/metrics"
	"github.com/FranksOps/serpent/internal/processor"
	"github.com/FranksOps/serpent/internal/queue"
	"github.com/FranksOps/serpent/internal/queue/redisqueue"
	"github.com/FranksOps/serpent/internal/report"
	"github.com/FranksOps/serpent/internal/scraper"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/internal/storage"
	"github.com/FranksOps/serpent/internal/storage/csvbackend"
	"github.com/FranksOps/serpent/internal/storage/jsonbackend"
	"github.com/FranksOps/serpent/internal/storage/kafkasink"
	"github.com/FranksOps/serpent/internal/storage/postgres"
	"github.com/FranksOps/serpent/internal/storage/sqlite"
	"github.com/FranksOps/serpent/pkg/httpclient"
	"github.com/FranksOps/serpent/pkg/proxy"
	"github.com/FranksOps/serpent/pkg/useragent"
)

// Pipeline runs one crawl. Zero-valued hooks are skipped.
type Pipeline struct {
	Config *config.Config
	Logger *slog.Logger
	// OnStart is called with the number of queued seed units.
	OnStart func(seeds int)
	// OnRecord is called after each record is stored.
	OnRecord func(*serp.ResultRecord)
	// Transport replaces the HTTP fetcher.
	Transport scraper.Transport
	// Queue replaces the configured work queue. Run does not close it.
	Queue queue.WorkQueue
}

// Run performs the crawl and returns its summary. The summary is valid even
// when Run returns an error after the crawl started.
func (p *Pipeline) Run(ctx context.Context) (report.Summary, error) {
	cfg := p.Config
	if cfg == nil {
		return report.Summary{}, errors.New("pipeline: nil config")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return report.Summary{}, err
	}

	units, err := serp.Expand(serp.ExpandOptions{Queries: cfg.Queries, Params: cfg.SearchParams()})
	if err != nil {
		return report.Summary{}, err
	}

	hook, err := processor.NewHook(processor.HookConfig{
		Name:    cfg.Hook.Name,
		Terms:   cfg.Hook.Terms,
		Command: cfg.Hook.Command,
		Timeout: cfg.Hook.Timeout,
	})
	if err != nil {
		return report.Summary{}, &serp.ConfigurationError{Reason: err.Error()}
	}

	transport := p.Transport
	if transport == nil {
		fetcher, err := NewFetcher(cfg, logger)
		if err != nil {
			return report.Summary{}, err
		}
		transport = fetcher
	}

	backend, err := OpenBackend(ctx, cfg.Output)
	if err != nil {
		return report.Summary{}, err
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil {
			logger.Error("failed to close dataset", "location", backend.Location(), "err", cerr)
		}
	}()

	q := p.Queue
	if q == nil {
		q, err = OpenQueue(ctx, cfg.Queue, logger)
		if err != nil {
			return report.Summary{}, err
		}
		defer q.Close()
	}

	seeds := 0
	for _, u := range units {
		added, err := q.Push(ctx, u)
		if err != nil {
			return report.Summary{}, fmt.Errorf("enqueue %s: %w", u.URL, err)
		}
		if added {
			seeds++
		} else {
			logger.Warn("query already queued or crawled, skipping", "url", u.URL)
		}
	}
	if seeds == 0 {
		pending, err := q.Len(ctx)
		if err != nil {
			return report.Summary{}, fmt.Errorf("queue length: %w", err)
		}
		if pending == 0 {
			return report.Summary{}, &serp.ConfigurationError{Reason: "no query was queued: every query URL was already seen by the work queue"}
		}
		logger.Info("resuming queued work", "pending", pending)
	}
	logger.Info("queued search pages", "queries", len(units), "queued", seeds, "device", cfg.Device())
	if p.OnStart != nil {
		p.OnStart(seeds)
	}

	if cfg.Metrics.Port > 0 {
		srv, err := metrics.Start(cfg.Metrics.Port, logger)
		if err != nil {
			return report.Summary{}, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	collector := report.NewCollector(backend.Location())
	handler := processor.New(processor.Config{
		Device:             cfg.Device(),
		MaxPagesPerQuery:   cfg.MaxPagesPerQuery,
		SaveHTML:           cfg.SaveHTML,
		DefaultCountryCode: cfg.DefaultCountryCode,
		Hook:               hook,
		Logger:             logger,
	})

	crawler := scraper.NewCrawler(scraper.CrawlConfig{
		Concurrency:       cfg.Concurrency,
		Backend:           backend,
		RespectRobots:     cfg.Fetch.RespectRobots,
		RequestsPerSecond: cfg.Fetch.RPS,
		Jitter:            cfg.Fetch.Jitter,
		OnRecord: func(rec *serp.ResultRecord) {
			collector.Add(rec)
			if p.OnRecord != nil {
				p.OnRecord(rec)
			}
		},
	}, transport, handler, logger)

	start := time.Now()
	runErr := crawler.Run(ctx, q)
	summary := collector.Summary()

	logger.Info("crawl finished",
		"pages", summary.TotalRecords,
		"failed", summary.Errors,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"location", summary.Location,
	)
	if runErr != nil {
		return summary, fmt.Errorf("crawl: %w", runErr)
	}
	return summary, nil
}

// NewFetcher builds the HTTP transport for cfg: device-specific User-Agents
// and TLS fingerprint, proxies and retry policy.
func NewFetcher(cfg *config.Config, logger *slog.Logger) (*scraper.Fetcher, error) {
	profile := fingerprint.ForDevice(cfg.MobileResults)
	if cfg.Fetch.Fingerprint != "" && cfg.Fetch.Fingerprint != "auto" {
		var err error
		if profile, err = fingerprint.ParseProfile(cfg.Fetch.Fingerprint); err != nil {
			return nil, &serp.ConfigurationError{Reason: err.Error()}
		}
	}

	var pool *proxy.Pool
	if len(cfg.Fetch.Proxies) > 0 || cfg.Fetch.ProxyFile != "" {
		pool = proxy.NewPool(proxy.Config{})
		if err := pool.Add(cfg.Fetch.Proxies...); err != nil {
			return nil, &serp.ConfigurationError{Reason: err.Error()}
		}
		if cfg.Fetch.ProxyFile != "" {
			if err := pool.LoadFile(cfg.Fetch.ProxyFile); err != nil {
				return nil, &serp.ConfigurationError{Reason: err.Error()}
			}
		}
		logger.Info("using proxies", "count", pool.Len())
	}

	return scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      cfg.Fetch.Timeout,
		UseCookieJar: cfg.Fetch.CookieJar,
		ProxyPool:    pool,
		UAPool:       useragent.ForDevice(cfg.MobileResults),
		Fingerprint:  profile,
		Retry: httpclient.RetryPolicy{
			MaxRetries: cfg.Fetch.MaxRetries,
			Backoff:    cfg.Fetch.RetryBackoff,
		},
		Logger: logger,
	})
}

// OpenBackend opens the dataset named by cfg.Backend.
func OpenBackend(ctx context.Context, cfg config.OutputConfig) (storage.Backend, error) {
	var (
		b   storage.Backend
		err error
	)
	switch cfg.Backend {
	case "json", "":
		b, err = jsonbackend.New(cfg.Path)
	case "csv":
		b, err = csvbackend.New(cfg.Path)
	case "sqlite":
		b, err = sqlite.New(cfg.Path)
	case "postgres":
		b, err = postgres.New(ctx, cfg.DSN)
	case "kafka":
		b = kafkasink.New(cfg.Brokers, cfg.Topic)
	default:
		return nil, &serp.ConfigurationError{Reason: fmt.Sprintf("unknown output backend %q", cfg.Backend)}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s dataset: %w", cfg.Backend, err)
	}
	return b, nil
}

// OpenQueue opens the work queue named by cfg.Backend.
func OpenQueue(ctx context.Context, cfg config.QueueConfig, logger *slog.Logger) (queue.WorkQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "memory", "":
		return queue.NewMemory(), nil
	case "redis":
		q, err := redisqueue.New(ctx, cfg.RedisAddr, cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("open redis queue: %w", err)
		}
		if cfg.Resume {
			return q, nil
		}
		if err := q.Reset(ctx); err != nil {
			_ = q.Close()
			return nil, fmt.Errorf("clear redis queue: %w", err)
		}
		logger.Debug("cleared redis queue", "prefix", cfg.Prefix)
		return q, nil
	default:
		return nil, &serp.ConfigurationError{Reason: fmt.Sprintf("unknown queue backend %q", cfg.Backend)}
	}
}
