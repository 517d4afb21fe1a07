package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dmarin/newswatch/internal/alert"
	"github.com/dmarin/newswatch/internal/analyze"
	"github.com/dmarin/newswatch/internal/config"
	"github.com/dmarin/newswatch/internal/feeds"
	"github.com/dmarin/newswatch/internal/logging"
	"github.com/dmarin/newswatch/internal/pipeline"
	"github.com/dmarin/newswatch/internal/scrape"
	"github.com/dmarin/newswatch/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.newswatch/config.json)")
	once := flag.Bool("once", false, "run a single scan cycle and exit")
	reset := flag.Bool("reset", false, "delete all non-bookmarked articles and exit")
	flag.Parse()

	// Secrets from .env, silently skipped when absent
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.LogDir, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		logging.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logging.Error("Failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if *reset {
		purged, err := st.PurgeNonBookmarked()
		if err != nil {
			logging.Error("Reset failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Purged %d articles (bookmarks kept)\n", purged)
		return
	}

	sources, err := loadSources(cfg)
	if err != nil {
		logging.Error("Failed to load feed registry", "error", err)
		os.Exit(1)
	}
	logging.Info("Feed registry loaded", "sources", len(sources))

	deps := pipeline.Deps{
		Fetcher:  feeds.NewFetcher(30 * time.Second),
		Scraper:  buildScraper(cfg.Scrape),
		Analyzer: buildAnalyzer(cfg.Models),
		Store:    st,
	}
	// Assign only a non-nil evaluator so the pipeline's nil check works.
	if ev := buildEvaluator(cfg.Alerts, st); ev != nil {
		deps.Evaluator = ev
	}
	p := pipeline.New(cfg.Pipeline, sources, deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		summary, err := p.RunOnce(ctx)
		if err != nil {
			logging.Error("Scan cycle failed", "error", err)
			os.Exit(1)
		}
		fmt.Println(summary)
		return
	}

	logging.Info("newswatch starting",
		"workers", cfg.Pipeline.Workers,
		"interval", cfg.Pipeline.ScanInterval,
		"alerts", cfg.Alerts.Enabled)

	p.Start(ctx)
	<-ctx.Done()
	logging.Info("Shutting down")
	p.Wait()
}

func loadSources(cfg *config.Config) ([]feeds.Source, error) {
	if cfg.FeedsFile == "" {
		return feeds.DefaultSources(), nil
	}
	return feeds.LoadSources(cfg.FeedsFile)
}

func buildScraper(cfg config.ScrapeConfig) *scrape.Scraper {
	var renderer scrape.Renderer
	if cfg.RenderEnabled {
		renderer = scrape.NewChromeRenderer()
	}
	return scrape.New(scrape.Options{
		StaticTimeout: cfg.StaticTimeout,
		RenderTimeout: cfg.RenderTimeout,
		MinTextLen:    cfg.MinTextLen,
		MaxRetries:    cfg.MaxRetries,
		Renderer:      renderer,
	})
}

func buildAnalyzer(cfg config.ModelConfig) *analyze.Analyzer {
	manager := analyze.NewManager()

	local := func() {
		if cfg.Ollama.Enabled {
			manager.Add(analyze.NewOllamaProvider(cfg.Ollama))
		}
	}
	cloud := func() {
		if cfg.Gemini.Enabled {
			manager.Add(analyze.NewGeminiProvider(cfg.Gemini))
		}
	}

	// Addition order is fallback preference order
	if cfg.PreferLocal {
		local()
		cloud()
	} else {
		cloud()
		local()
	}

	return analyze.NewAnalyzer(manager, cfg.StrictScore)
}

func buildEvaluator(cfg config.AlertConfig, st *store.Store) *alert.Evaluator {
	if !cfg.Enabled || cfg.To == "" || cfg.SMTPHost == "" {
		logging.Debug("Email alerts disabled")
		return nil
	}
	return alert.NewEvaluator(cfg, st, alert.NewMailer(cfg))
}
