package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FranksOps/serpent/internal/metrics"
	"github.com/FranksOps/serpent/internal/queue"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/internal/storage"
	"github.com/FranksOps/serpent/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

// ErrDisallowed marks a unit refused by the target's robots.txt.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// PageHandler turns fetch outcomes into records.
type PageHandler interface {
	// HandlePage builds the record for a fetched page and returns the
	// follow-on unit, if any. An error means the unit failed.
	HandlePage(ctx context.Context, unit serp.UnitOfWork, res *FetchResult) (serp.ResultRecord, *serp.UnitOfWork, error)
	// HandleFailure builds the error record for a failed unit. res may be nil.
	HandleFailure(unit serp.UnitOfWork, res *FetchResult, cause error) serp.ResultRecord
}

// CrawlConfig provides parameters for the crawl driver.
type CrawlConfig struct {
	Concurrency int
	Backend     storage.Backend
	// RespectRobots specifies whether to check robots.txt before fetching
	RespectRobots bool
	// UserAgent is the User-Agent string to use when checking robots.txt
	UserAgent string
	// RequestsPerSecond limits the fetch rate (0 = unlimited)
	RequestsPerSecond float64
	// Jitter applies randomness to the rate limiter (0.0 to 1.0)
	Jitter float64
	// OnRecord is called after each record is saved.
	OnRecord func(*serp.ResultRecord)
}

// Crawler drains a work queue with a bounded pool of workers.
type Crawler struct {
	cfg       CrawlConfig
	transport Transport
	handler   PageHandler
	logger    *slog.Logger
	auditor   *RobotsTxtAuditor
	limiter   *ratelimit.Limiter
}

// NewCrawler creates a new crawl driver.
func NewCrawler(cfg CrawlConfig, transport Transport, handler PageHandler, logger *slog.Logger) *Crawler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*" // default generic user-agent for robots.txt
	}

	var auditor *RobotsTxtAuditor
	if cfg.RespectRobots {
		auditor = NewRobotsTxtAuditor(transport, logger)
	}

	return &Crawler{
		cfg:       cfg,
		transport: transport,
		handler:   handler,
		logger:    logger,
		auditor:   auditor,
		limiter:   ratelimit.NewLimiter(cfg.RequestsPerSecond, cfg.Jitter),
	}
}

// tracker counts claimed units that have not finished yet. Claiming and the
// counter share one lock so that "queue empty and nothing in flight" is
// observed atomically.
type tracker struct {
	mu       sync.Mutex
	cond     *sync.Cond
	inFlight int
}

func newTracker() *tracker {
	t := &tracker{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *tracker) wake() {
	t.mu.Lock()
	t.cond.Broadcast()
	t.mu.Unlock()
}

func (t *tracker) release() {
	t.mu.Lock()
	t.inFlight--
	metrics.InFlight.Dec()
	t.cond.Broadcast()
	t.mu.Unlock()
}

// Run processes units from q until it is empty and no unit is in flight.
// Cancelling ctx stops claiming; units already claimed still finish and are
// saved, after which Run returns ctx.Err(). A failure to save a record or to
// enqueue a follow-on unit aborts the run.
func (c *Crawler) Run(ctx context.Context, q queue.WorkQueue) error {
	if q == nil {
		return errors.New("crawler: nil work queue")
	}

	g, gCtx := errgroup.WithContext(ctx)
	t := newTracker()
	stop := context.AfterFunc(gCtx, t.wake)
	defer stop()

	for i := 0; i < c.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				unit, ok, err := c.claim(gCtx, q, t)
				if err != nil || !ok {
					return err
				}
				err = c.process(context.WithoutCancel(gCtx), q, unit)
				t.release()
				if err != nil {
					return err
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Crawler) claim(ctx context.Context, q queue.WorkQueue, t *tracker) (serp.UnitOfWork, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return serp.UnitOfWork{}, false, nil
		}
		unit, ok, err := q.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return serp.UnitOfWork{}, false, nil
			}
			return serp.UnitOfWork{}, false, fmt.Errorf("claim work: %w", err)
		}
		if ok {
			t.inFlight++
			metrics.InFlight.Inc()
			return unit, true, nil
		}
		if t.inFlight == 0 {
			// drained; let idle workers see it too
			t.cond.Broadcast()
			return serp.UnitOfWork{}, false, nil
		}
		t.cond.Wait()
	}
}

// process takes one claimed unit to its terminal record and enqueues its
// follow-on unit before the unit is released.
func (c *Crawler) process(ctx context.Context, q queue.WorkQueue, unit serp.UnitOfWork) error {
	unit.StartedAt = time.Now()

	rec, next := c.handle(ctx, unit)
	metrics.RecordPage(&rec)

	if c.cfg.Backend != nil {
		if err := c.cfg.Backend.Save(ctx, &rec); err != nil {
			return fmt.Errorf("save record for %s: %w", unit.URL, err)
		}
	}
	if c.cfg.OnRecord != nil {
		c.cfg.OnRecord(&rec)
	}

	if next != nil {
		added, err := q.Push(ctx, *next)
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", next.URL, err)
		}
		if !added {
			c.logger.Debug("next page already queued", "url", next.URL)
		}
	}
	return nil
}

func (c *Crawler) handle(ctx context.Context, unit serp.UnitOfWork) (serp.ResultRecord, *serp.UnitOfWork) {
	if c.auditor != nil {
		allowed, err := c.auditor.IsAllowed(ctx, unit.URL, c.cfg.UserAgent)
		if err != nil {
			c.logger.Warn("error checking robots.txt", "url", unit.URL, "err", err)
		} else if !allowed {
			return c.handler.HandleFailure(unit, nil, fmt.Errorf("%s: %w", unit.URL, ErrDisallowed)), nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return c.handler.HandleFailure(unit, nil, fmt.Errorf("rate limiter: %w", err)), nil
	}

	c.logger.Debug("fetching", "url", unit.URL, "query", unit.QueryTerm, "page", unit.DisplayPage())

	res, err := c.transport.Fetch(ctx, unit.URL)
	if err != nil {
		return c.handler.HandleFailure(unit, res, err), nil
	}

	rec, next, err := c.handler.HandlePage(ctx, unit, res)
	if err != nil {
		return c.handler.HandleFailure(unit, res, err), nil
	}
	return rec, next
}
