package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmarin/newswatch/internal/analyze"
	"github.com/dmarin/newswatch/internal/config"
	"github.com/dmarin/newswatch/internal/dedup"
	"github.com/dmarin/newswatch/internal/feeds"
	"github.com/dmarin/newswatch/internal/scrape"
	"github.com/dmarin/newswatch/internal/store"
)

var testBody = "Banca Transilvania TLV reported a record quarterly profit, beating analyst expectations on strong lending growth across retail and corporate segments in Romania. " +
	"Management raised full year guidance and flagged a special dividend for shareholders."

type fakeFetcher struct {
	mu    sync.Mutex
	stubs map[string][]feeds.Stub // source name -> stubs
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, src feeds.Source) ([]feeds.Stub, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[src.Name]; err != nil {
		return nil, err
	}
	return f.stubs[src.Name], nil
}

type fakeScraper struct {
	mu         sync.Mutex
	calls      int
	err        error // returned for every scrape when set
	blockOnCtx bool  // hold every scrape until the context is cancelled
}

func (f *fakeScraper) Scrape(ctx context.Context, stub feeds.Stub) (scrape.Content, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.blockOnCtx {
		<-ctx.Done()
		return scrape.Content{}, &scrape.Error{URL: stub.URL, Err: ctx.Err()}
	}
	if f.err != nil {
		return scrape.Content{}, f.err
	}
	return scrape.Content{
		Stub:      stub,
		Text:      testBody,
		Method:    scrape.MethodStatic,
		FetchedAt: time.Now(),
	}, nil
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, title, text string) (analyze.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return analyze.Result{}, f.err
	}
	return analyze.Result{
		Summary:        "Record profit at Banca Transilvania.",
		ImpactScore:    9,
		Sentiment:      analyze.SentimentPositive,
		Instruments:    []string{"TLV"},
		Recommendation: analyze.RecommendationBuy,
		Confidence:     0.9,
		Provider:       "fake",
	}, nil
}

type fakeEvaluator struct {
	mu   sync.Mutex
	seen []int // impact scores evaluated
}

func (f *fakeEvaluator) Evaluate(a *store.Article) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, a.ImpactScore)
	return true, nil
}

func stubFor(url, source string) feeds.Stub {
	canonical, _ := feeds.Canonicalize(url)
	return feeds.Stub{
		URL:          url,
		CanonicalURL: canonical,
		Title:        "TLV earnings",
		Source:       source,
		Category:     feeds.CategoryDomestic,
		PublishedAt:  time.Now().Add(-time.Hour),
	}
}

func testPipeline(t *testing.T, f *fakeFetcher, s *fakeScraper, a *fakeAnalyzer, e *fakeEvaluator, sources []feeds.Source) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.PipelineConfig{
		Workers:        4,
		ScanInterval:   time.Hour,
		QueueHighWater: 64,
		QueueLowWater:  16,
		DedupWindow:    72 * time.Hour,
		CacheTTL:       24 * time.Hour,
	}

	var ev evaluator
	if e != nil {
		ev = e
	}
	return New(cfg, sources, Deps{
		Fetcher:   f,
		Scraper:   s,
		Analyzer:  a,
		Evaluator: ev,
		Store:     st,
	}), st
}

func TestRunOnceProcessesAdmittedStubs(t *testing.T) {
	sources := []feeds.Source{{Name: "zf", URL: "https://zf.ro/rss"}}
	f := &fakeFetcher{stubs: map[string][]feeds.Stub{
		"zf": {stubFor("https://zf.ro/a", "zf"), stubFor("https://zf.ro/b", "zf")},
	}}
	s := &fakeScraper{}
	a := &fakeAnalyzer{}
	e := &fakeEvaluator{}
	p, st := testPipeline(t, f, s, a, e, sources)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Fetched != 2 || summary.Admitted != 2 || summary.Enriched != 2 {
		t.Errorf("summary = %s", summary)
	}

	count, _ := st.Count()
	if count != 2 {
		t.Errorf("expected 2 stored articles, got %d", count)
	}

	got, err := st.Get("https://zf.ro/a")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enriched || got.ImpactScore != 9 {
		t.Errorf("article not enriched: %+v", got)
	}
	if len(e.seen) != 2 {
		t.Errorf("evaluator should see both articles, saw %d", len(e.seen))
	}
}

func TestRunOnceDedupsAcrossCycles(t *testing.T) {
	sources := []feeds.Source{{Name: "zf", URL: "https://zf.ro/rss"}}
	f := &fakeFetcher{stubs: map[string][]feeds.Stub{
		"zf": {stubFor("https://zf.ro/a", "zf")},
	}}
	s := &fakeScraper{}
	a := &fakeAnalyzer{}
	p, _ := testPipeline(t, f, s, a, nil, sources)

	first, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if first.Admitted != 1 {
		t.Errorf("first cycle should admit the stub, got %s", first)
	}
	if second.Admitted != 0 {
		t.Errorf("second cycle should dedup the stub, got %s", second)
	}
	if s.calls != 1 {
		t.Errorf("scraper should run once, ran %d times", s.calls)
	}
}

func TestRunOnceTracksTrackingVariantsAsOne(t *testing.T) {
	sources := []feeds.Source{{Name: "zf", URL: "https://zf.ro/rss"}}
	f := &fakeFetcher{stubs: map[string][]feeds.Stub{
		"zf": {
			stubFor("https://zf.ro/a?utm_source=rss", "zf"),
			stubFor("https://zf.ro/a?utm_source=twitter", "zf"),
		},
	}}
	s := &fakeScraper{}
	a := &fakeAnalyzer{}
	p, _ := testPipeline(t, f, s, a, nil, sources)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Admitted != 1 {
		t.Errorf("tracking variants should collapse to one admission, got %s", summary)
	}
}

func TestRunOnceDegradedOnAnalysisFailure(t *testing.T) {
	sources := []feeds.Source{{Name: "zf", URL: "https://zf.ro/rss"}}
	f := &fakeFetcher{stubs: map[string][]feeds.Stub{
		"zf": {stubFor("https://zf.ro/a", "zf")},
	}}
	s := &fakeScraper{}
	a := &fakeAnalyzer{err: &analyze.AnalysisError{Kind: analyze.KindUnavailable, Err: errors.New("all endpoints down")}}
	e := &fakeEvaluator{}
	p, st := testPipeline(t, f, s, a, e, sources)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Degraded != 1 || summary.Enriched != 0 {
		t.Errorf("summary = %s", summary)
	}

	got, err := st.Get("https://zf.ro/a")
	if err != nil {
		t.Fatalf("degraded article should still be stored: %v", err)
	}
	if got.Enriched {
		t.Error("record should be degraded")
	}
	if len(e.seen) != 0 {
		t.Error("degraded records should not reach the evaluator")
	}
}

func TestRunOnceDropsPermanentScrapeFailures(t *testing.T) {
	sources := []feeds.Source{{Name: "zf", URL: "https://zf.ro/rss"}}
	f := &fakeFetcher{stubs: map[string][]feeds.Stub{
		"zf": {stubFor("https://zf.ro/gone", "zf")},
	}}
	s := &fakeScraper{err: &scrape.Error{URL: "https://zf.ro/gone", Permanent: true, Err: errors.New("HTTP 404")}}
	a := &fakeAnalyzer{}
	p, st := testPipeline(t, f, s, a, nil, sources)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Dropped != 1 || summary.Failed != 0 {
		t.Errorf("summary = %s", summary)
	}
	count, _ := st.Count()
	if count != 0 {
		t.Errorf("dropped stub should not be stored, got %d rows", count)
	}
	if a.calls != 0 {
		t.Error("dropped stub should not be analyzed")
	}
}

func TestRunOnceSurvivesFeedFailure(t *testing.T) {
	sources := []feeds.Source{
		{Name: "down", URL: "https://down.example/rss"},
		{Name: "zf", URL: "https://zf.ro/rss"},
	}
	f := &fakeFetcher{
		stubs: map[string][]feeds.Stub{"zf": {stubFor("https://zf.ro/a", "zf")}},
		errs:  map[string]error{"down": errors.New("connection refused")},
	}
	s := &fakeScraper{}
	a := &fakeAnalyzer{}
	p, _ := testPipeline(t, f, s, a, nil, sources)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Enriched != 1 {
		t.Errorf("healthy feed should still process, got %s", summary)
	}
}

func TestRunOnceUsesResultCache(t *testing.T) {
	sources := []feeds.Source{{Name: "zf", URL: "https://zf.ro/rss"}}
	f := &fakeFetcher{stubs: map[string][]feeds.Stub{
		"zf": {stubFor("https://zf.ro/a", "zf")},
	}}
	s := &fakeScraper{}
	a := &fakeAnalyzer{}
	p, _ := testPipeline(t, f, s, a, nil, sources)

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Same content re-admitted (fresh ledger simulates an expired window
	// entry): analysis must come from the cache.
	p.ledger = dedup.NewLedger(p.cfg.DedupWindow)

	summary, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Enriched != 1 {
		t.Errorf("cached result should still count as enriched, got %s", summary)
	}
	if a.calls != 1 {
		t.Errorf("analyzer should run once, ran %d times", a.calls)
	}
}

func TestStartAndWaitShutdown(t *testing.T) {
	sources := []feeds.Source{{Name: "zf", URL: "https://zf.ro/rss"}}
	f := &fakeFetcher{stubs: map[string][]feeds.Stub{
		"zf": {stubFor("https://zf.ro/a", "zf")},
	}}
	s := &fakeScraper{}
	a := &fakeAnalyzer{}
	p, _ := testPipeline(t, f, s, a, nil, sources)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	// Give the initial cycle time to run, then shut down.
	time.Sleep(200 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not shut down after context cancellation")
	}

	if s.calls != 1 {
		t.Errorf("initial cycle should have scraped once, got %d", s.calls)
	}
}

func TestShutdownMidCycleReleasesQueuedItems(t *testing.T) {
	stubs := make([]feeds.Stub, 0, 8)
	for i := 0; i < 8; i++ {
		stubs = append(stubs, stubFor(fmt.Sprintf("https://zf.ro/a%d", i), "zf"))
	}
	sources := []feeds.Source{{Name: "zf", URL: "https://zf.ro/rss"}}
	f := &fakeFetcher{stubs: map[string][]feeds.Stub{"zf": stubs}}
	s := &fakeScraper{blockOnCtx: true}
	a := &fakeAnalyzer{}
	p, _ := testPipeline(t, f, s, a, nil, sources)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := p.RunOnce(ctx)
		done <- err
	}()

	// Wait until every worker is wedged in a scrape with items queued
	// behind them, then cancel mid-cycle.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		busy := s.calls
		s.mu.Unlock()
		if busy >= 4 && p.PoolStats().PendingCount > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not finish after cancellation with items queued")
	}
}

func TestSummaryString(t *testing.T) {
	s := Summary{Fetched: 10, Admitted: 4, Scraped: 3, Enriched: 2, Degraded: 1, Dropped: 1, Alerts: 1}
	got := s.String()
	want := fmt.Sprintf("fetched=%d admitted=%d scraped=%d enriched=%d degraded=%d dropped=%d failed=%d alerts=%d",
		10, 4, 3, 2, 1, 1, 0, 1)
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
