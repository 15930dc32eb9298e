package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newsdigest/internal/config"
	"newsdigest/internal/dedup"
	"newsdigest/internal/infrastructure/embedding"
	"newsdigest/internal/infrastructure/fetcher"
	"newsdigest/internal/infrastructure/llm"
	"newsdigest/internal/infrastructure/storage"
	"newsdigest/internal/infrastructure/telegram"
	"newsdigest/internal/logging"
	"newsdigest/internal/ports"
	"newsdigest/internal/ratelimit"
	"newsdigest/internal/scanner"
	"newsdigest/internal/usecase"
)

// Application wires configuration to use cases and owns the trigger
// loop. The use cases themselves hold no timers; each exposes an
// idempotent run-once entry point this loop invokes.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	Ingestion *usecase.IngestionService
	Retrieval *usecase.RetrievalService
	Digest    *usecase.DigestService
	Dedup     *dedup.Engine
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(cfg.Database.Path, baseLogger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := scanner.NewRegistry()
	if cfg.Sources.Arxiv.Enabled {
		categories := make([]fetcher.ArxivCategory, len(cfg.Sources.Arxiv.Categories))
		for i, c := range cfg.Sources.Arxiv.Categories {
			categories[i] = fetcher.ArxivCategory{Name: c.Name, URL: c.URL}
		}
		registry.Register(fetcher.NewArxivSource(
			newFetchClient(cfg.Sources.Arxiv.Fetch, baseLogger.With("component", "fetcher.arxiv")),
			categories,
			baseLogger.With("component", "source.arxiv")))
	}
	if cfg.Sources.HackerNews.Enabled {
		source := fetcher.NewHackerNewsSource(
			newFetchClient(cfg.Sources.HackerNews.Fetch, baseLogger.With("component", "fetcher.hackernews")),
			"",
			baseLogger.With("component", "source.hackernews"))
		source.SetKeywords(cfg.Sources.HackerNews.Keywords)
		registry.Register(source)
	}
	if cfg.Sources.RSS.Enabled {
		feeds := make([]fetcher.Feed, len(cfg.Sources.RSS.Feeds))
		for i, f := range cfg.Sources.RSS.Feeds {
			feeds[i] = fetcher.Feed{Name: f.Name, URL: f.URL}
		}
		registry.Register(fetcher.NewRSSSource(
			newFetchClient(cfg.Sources.RSS.Fetch, baseLogger.With("component", "fetcher.rss")),
			feeds,
			baseLogger.With("component", "source.rss")))
	}

	var analyzer ports.Analyzer
	if cfg.Scoring.APIKey != "" {
		analyzer = llm.NewScorer(llm.ScorerConfig{
			Endpoint: cfg.Scoring.Endpoint,
			Model:    cfg.Scoring.Model,
			APIKey:   cfg.Scoring.APIKey,
		}, baseLogger.With("component", "scorer"))
	}

	var embedder ports.Embedder
	if cfg.Embedding.APIKey != "" {
		embedder = embedding.NewCache(
			embedding.NewClient(embedding.ClientConfig{
				Endpoint:  cfg.Embedding.Endpoint,
				Model:     cfg.Embedding.Model,
				APIKey:    cfg.Embedding.APIKey,
				Dimension: cfg.Embedding.Dimension,
			}),
			embedding.CacheConfig{
				MaxEntries: cfg.Embedding.CacheEntries,
				MaxBytes:   cfg.Embedding.CacheSizeBytes,
			})
	}

	dedupEngine := dedup.NewEngine(store, dedup.Config{
		SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
		Window:              time.Duration(cfg.Dedup.WindowDays) * 24 * time.Hour,
	}, baseLogger.With("component", "dedup"))

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		notifier = telegram.NewNotifier(
			cfg.Notifications.Telegram.BotToken,
			cfg.Notifications.Telegram.ChatID)
	}

	ingestion := usecase.NewIngestionService(registry, analyzer, embedder, dedupEngine, store,
		usecase.IngestConfig{
			MaxItemsPerSource: cfg.Ingestion.MaxItemsPerSource,
			SourceConcurrency: cfg.Ingestion.SourceConcurrency,
			RunTimeout:        cfg.Ingestion.RunTimeout.Std(),
		}, baseLogger.With("component", "ingestion"))

	retrieval := usecase.NewRetrievalService(store, baseLogger.With("component", "retrieval"))

	digest := usecase.NewDigestService(store, store, notifier,
		usecase.DigestConfig{
			Window:       cfg.Digest.Window.Std(),
			MinRelevance: cfg.Digest.MinRelevance,
			MaxItems:     cfg.Digest.MaxItems,
		}, baseLogger.With("component", "digest"))

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		Ingestion: ingestion,
		Retrieval: retrieval,
		Digest:    digest,
		Dedup:     dedupEngine,
	}, nil
}

func newFetchClient(cfg config.FetchConfig, logger *slog.Logger) *fetcher.Client {
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
	breaker := ratelimit.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown.Std())
	return fetcher.NewClient(nil, limiter, breaker, fetcher.ClientConfig{
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: cfg.RequestTimeout.Std(),
		WaitBudget:     cfg.WaitBudget.Std(),
	}, logger)
}

// Run executes the trigger loop: ingestion every interval, digest once
// per day at the configured hour, and the dedup maintenance pass after
// each ingestion. Returns when the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if _, err := a.Ingestion.RunIngestionOnce(ctx); err != nil {
		a.logger.Error("ingestion run failed", "error", err)
	}

	ticker := time.NewTicker(a.cfg.Ingestion.Interval.Std())
	defer ticker.Stop()

	var lastDigestDay string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Ingestion.RunIngestionOnce(ctx); err != nil {
				a.logger.Error("ingestion run failed", "error", err)
			}
			if _, err := a.Ingestion.ReembedPending(ctx, 100); err != nil {
				a.logger.Warn("re-embedding pass failed", "error", err)
			}
			if collapsed, err := a.Dedup.RecheckRecent(ctx); err != nil {
				a.logger.Warn("dedup recheck failed", "error", err)
			} else if collapsed > 0 {
				a.logger.Info("dedup recheck collapsed pairs", "count", collapsed)
			}

			now := time.Now().UTC()
			day := now.Format("2006-01-02")
			if now.Hour() >= a.cfg.Digest.Hour && day != lastDigestDay {
				if _, err := a.Digest.RunDigestOnce(ctx, now); err != nil {
					a.logger.Error("digest run failed", "error", err)
				} else {
					lastDigestDay = day
				}
			}
		}
	}
}

// Close releases held resources.
func (a *Application) Close() error {
	return a.store.Close()
}
