// Package pipeline wires the scan cycle together: fetch feeds, admit new
// stubs through the dedup ledger, and push each one through
// scrape -> analyze -> persist -> alert on the worker pool.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmarin/newswatch/internal/analyze"
	"github.com/dmarin/newswatch/internal/cache"
	"github.com/dmarin/newswatch/internal/config"
	"github.com/dmarin/newswatch/internal/dedup"
	"github.com/dmarin/newswatch/internal/feeds"
	"github.com/dmarin/newswatch/internal/logging"
	"github.com/dmarin/newswatch/internal/scrape"
	"github.com/dmarin/newswatch/internal/store"
	"github.com/dmarin/newswatch/internal/work"
)

// fetchTimeout bounds one source fetch.
const fetchTimeout = 30 * time.Second

// maxConcurrentFetches limits the source fan-out per cycle.
const maxConcurrentFetches = 5

// fetcher, scraper, analyzer, and evaluator are interfaces for dependency
// injection (testing).
type fetcher interface {
	Fetch(ctx context.Context, src feeds.Source) ([]feeds.Stub, error)
}

type scraper interface {
	Scrape(ctx context.Context, stub feeds.Stub) (scrape.Content, error)
}

type analyzer interface {
	Analyze(ctx context.Context, title, text string) (analyze.Result, error)
}

type evaluator interface {
	Evaluate(a *store.Article) (bool, error)
}

// Summary reports what one scan cycle did.
type Summary struct {
	Fetched  int64 // stubs seen across all feeds
	Admitted int64 // stubs new within the dedup window
	Scraped  int64 // full text extracted
	Enriched int64 // analysis succeeded (fresh or cached)
	Degraded int64 // persisted without enrichment
	Dropped  int64 // permanent scrape failures
	Failed   int64 // transient failures, item abandoned this cycle
	Alerts   int64 // emails confirmed sent
}

func (s Summary) String() string {
	return fmt.Sprintf("fetched=%d admitted=%d scraped=%d enriched=%d degraded=%d dropped=%d failed=%d alerts=%d",
		s.Fetched, s.Admitted, s.Scraped, s.Enriched, s.Degraded, s.Dropped, s.Failed, s.Alerts)
}

type counters struct {
	fetched  atomic.Int64
	admitted atomic.Int64
	scraped  atomic.Int64
	enriched atomic.Int64
	degraded atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
	alerts   atomic.Int64
}

func (c *counters) summary() Summary {
	return Summary{
		Fetched:  c.fetched.Load(),
		Admitted: c.admitted.Load(),
		Scraped:  c.scraped.Load(),
		Enriched: c.enriched.Load(),
		Degraded: c.degraded.Load(),
		Dropped:  c.dropped.Load(),
		Failed:   c.failed.Load(),
		Alerts:   c.alerts.Load(),
	}
}

// Pipeline owns one scan loop. Uses context cancellation as the ONLY stop
// mechanism.
type Pipeline struct {
	cfg       config.PipelineConfig
	sources   []feeds.Source // IMMUTABLE: set at construction, never modified
	fetcher   fetcher
	ledger    *dedup.Ledger
	scraper   scraper
	results   *cache.Cache[analyze.Result]
	analyzer  analyzer
	store     *store.Store
	evaluator evaluator
	pool      *work.Pool
	wg        sync.WaitGroup
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Fetcher   fetcher
	Scraper   scraper
	Analyzer  analyzer
	Evaluator evaluator
	Store     *store.Store
}

// New creates a Pipeline with its own ledger, cache, and worker pool.
func New(cfg config.PipelineConfig, sources []feeds.Source, deps Deps) *Pipeline {
	sourcesCopy := make([]feeds.Source, len(sources))
	copy(sourcesCopy, sources)

	return &Pipeline{
		cfg:       cfg,
		sources:   sourcesCopy,
		fetcher:   deps.Fetcher,
		ledger:    dedup.NewLedger(cfg.DedupWindow),
		scraper:   deps.Scraper,
		results:   cache.New[analyze.Result](cfg.CacheTTL),
		analyzer:  deps.Analyzer,
		store:     deps.Store,
		evaluator: deps.Evaluator,
		pool:      work.NewPool(cfg.Workers, cfg.QueueHighWater, cfg.QueueLowWater),
	}
}

// Start launches the worker pool and the scan loop: one cycle immediately,
// then one per scan interval. Call with a cancellable context.
func (p *Pipeline) Start(ctx context.Context) {
	p.pool.Start(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.runAndLog(ctx)

		ticker := time.NewTicker(p.cfg.ScanInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.pool.Stop()
				return
			case <-ticker.C:
				p.runAndLog(ctx)
			}
		}
	}()
}

// Wait blocks until the scan loop and pool have exited. Call after
// cancelling the context passed to Start.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// RunOnce starts the pool, runs a single cycle, and shuts down. Used by the
// -once CLI flag.
func (p *Pipeline) RunOnce(ctx context.Context) (Summary, error) {
	poolCtx, cancel := context.WithCancel(ctx)
	p.pool.Start(poolCtx)

	summary, err := p.runCycle(ctx)

	cancel()
	p.pool.Stop()
	return summary, err
}

func (p *Pipeline) runAndLog(ctx context.Context) {
	start := time.Now()
	summary, err := p.runCycle(ctx)
	if err != nil {
		logging.Warn("Scan cycle aborted", "error", err, "partial", summary.String())
		return
	}
	logging.Info("Scan cycle complete", "duration", time.Since(start).Round(time.Millisecond), "summary", summary.String())
}

// runCycle fetches every source, admits unseen stubs, and blocks until all
// admitted items have been processed by the pool.
func (p *Pipeline) runCycle(ctx context.Context) (Summary, error) {
	if n := p.ledger.Sweep(); n > 0 {
		logging.Debug("Dedup ledger swept", "removed", n)
	}
	if n := p.results.Sweep(); n > 0 {
		logging.Debug("Result cache swept", "removed", n)
	}

	var c counters
	var items sync.WaitGroup

	// Each admitted stub holds one items slot, released by its work
	// function. Items the pool abandons on shutdown never run, so their
	// slots are released through the drop callback; otherwise a cancel
	// mid-cycle would leave items.Wait blocked forever.
	p.pool.SetOnDrop(func(*work.Item) { items.Done() })

	var g errgroup.Group
	g.SetLimit(maxConcurrentFetches)

	for _, src := range p.sources {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			p.fetchSource(ctx, src, &c, &items)
			return nil // never fail the group - errors reported per-source
		})
	}

	_ = g.Wait()
	items.Wait()

	return c.summary(), ctx.Err()
}

// fetchSource fetches one feed and submits every admitted stub to the pool.
// Submission blocks under backpressure, which is what pauses the fan-out.
func (p *Pipeline) fetchSource(ctx context.Context, src feeds.Source, c *counters, items *sync.WaitGroup) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	stubs, err := p.fetcher.Fetch(fetchCtx, src)
	cancel()
	if err != nil {
		logging.Warn("Feed fetch failed", "source", src.Name, "error", err)
		return
	}
	c.fetched.Add(int64(len(stubs)))

	for _, stub := range stubs {
		if !p.ledger.Admit(stub.CanonicalURL) {
			continue
		}
		c.admitted.Add(1)

		items.Add(1)
		desc := fmt.Sprintf("Processing %s", stub.CanonicalURL)
		_, err := p.pool.Submit(ctx, work.TypeScrape, desc, src.Name, func() (string, error) {
			defer items.Done()
			return p.process(ctx, stub, c)
		})
		if err != nil {
			items.Done()
			logging.Debug("Submission rejected, cycle winding down", "url", stub.CanonicalURL, "error", err)
			return
		}
	}
}

// process is the per-item worker function: scrape, analyze (through the
// result cache), persist, evaluate for alerting. Failures stay inside this
// item.
func (p *Pipeline) process(ctx context.Context, stub feeds.Stub, c *counters) (string, error) {
	content, err := p.scraper.Scrape(ctx, stub)
	if err != nil {
		if scrape.IsPermanent(err) {
			c.dropped.Add(1)
			logging.Debug("Stub dropped", "url", stub.CanonicalURL, "error", err)
			return "dropped", nil
		}
		c.failed.Add(1)
		return "", fmt.Errorf("scrape: %w", err)
	}
	c.scraped.Add(1)

	article := &store.Article{
		CanonicalURL: stub.CanonicalURL,
		URL:          stub.URL,
		Title:        stub.Title,
		Source:       stub.Source,
		Category:     string(stub.Category),
		Text:         content.Text,
		ScrapeMethod: string(content.Method),
		PublishedAt:  stub.PublishedAt,
		FetchedAt:    content.FetchedAt,
	}

	fp := cache.Fingerprint(stub.CanonicalURL, content.Text)
	result, hit := p.results.Get(fp)
	if !hit {
		result, err = p.analyzer.Analyze(ctx, stub.Title, content.Text)
		if err != nil {
			// Degraded record: the article survives without enrichment.
			c.degraded.Add(1)
			logging.Warn("Analysis failed, persisting degraded record", "url", stub.CanonicalURL, "error", err)
			if upErr := p.store.Upsert(article); upErr != nil {
				c.failed.Add(1)
				return "", fmt.Errorf("upsert degraded: %w", upErr)
			}
			return "degraded", nil
		}
		p.results.Put(fp, result)
	}

	article.Enriched = true
	article.Summary = result.Summary
	article.ImpactScore = result.ImpactScore
	article.Sentiment = string(result.Sentiment)
	article.Instruments = result.Instruments
	article.Recommendation = string(result.Recommendation)
	article.Confidence = result.Confidence

	if err := p.store.Upsert(article); err != nil {
		c.failed.Add(1)
		return "", fmt.Errorf("upsert: %w", err)
	}
	c.enriched.Add(1)

	if p.evaluator != nil {
		sent, err := p.evaluator.Evaluate(article)
		if err != nil {
			logging.Warn("Alert evaluation failed", "url", stub.CanonicalURL, "error", err)
		}
		if sent {
			c.alerts.Add(1)
		}
	}

	if hit {
		return "enriched (cached)", nil
	}
	return "enriched", nil
}

// PoolStats exposes worker pool statistics.
func (p *Pipeline) PoolStats() work.Stats {
	return p.pool.Stats()
}
