package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "NEWSDIGEST_CONFIG"
	databasePathEnv   = "DATABASE_PATH"
	scoringAPIKeyEnv  = "SCORING_API_KEY"
	embeddingKeyEnv   = "EMBEDDING_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Duration wraps time.Duration so YAML values like "30m" parse.
type Duration time.Duration

// UnmarshalYAML parses Go duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to the standard type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Ingestion     IngestionConfig    `yaml:"ingestion"`
	Dedup         DedupConfig        `yaml:"dedup"`
	Digest        DigestConfig       `yaml:"digest"`
	Scoring       ScoringConfig      `yaml:"scoring"`
	Embedding     EmbeddingConfig    `yaml:"embedding"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
	Sources       SourcesConfig      `yaml:"sources"`
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// IngestionConfig tunes periodic ingestion runs.
type IngestionConfig struct {
	Interval          Duration `yaml:"interval"`
	RunTimeout        Duration `yaml:"runTimeout"`
	MaxItemsPerSource int      `yaml:"maxItemsPerSource"`
	SourceConcurrency int      `yaml:"sourceConcurrency"`
}

// DedupConfig tunes duplicate detection.
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	WindowDays          int     `yaml:"windowDays"`
}

// DigestConfig tunes daily digest generation.
type DigestConfig struct {
	Hour         int      `yaml:"hour"`
	Window       Duration `yaml:"window"`
	MinRelevance float64  `yaml:"minRelevance"`
	MaxItems     int      `yaml:"maxItems"`
}

// ScoringConfig defines how to contact the chat-completions API.
type ScoringConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"apiKey"`
}

// EmbeddingConfig defines the inference endpoint and cache bounds.
type EmbeddingConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"apiKey"`
	Dimension      int    `yaml:"dimension"`
	CacheEntries   int    `yaml:"cacheEntries"`
	CacheSizeBytes int    `yaml:"cacheSizeBytes"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SourcesConfig groups per-provider settings.
type SourcesConfig struct {
	Arxiv      ArxivConfig      `yaml:"arxiv"`
	HackerNews HackerNewsConfig `yaml:"hackernews"`
	RSS        RSSConfig        `yaml:"rss"`
}

// FetchConfig bounds outbound traffic for one provider.
type FetchConfig struct {
	RequestsPerSecond float64  `yaml:"requestsPerSecond"`
	Burst             int      `yaml:"burst"`
	MaxRetries        int      `yaml:"maxRetries"`
	RequestTimeout    Duration `yaml:"requestTimeout"`
	WaitBudget        Duration `yaml:"waitBudget"`
	BreakerThreshold  int      `yaml:"breakerThreshold"`
	BreakerCooldown   Duration `yaml:"breakerCooldown"`
}

// ArxivConfig lists the category listing pages to crawl.
type ArxivConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Categories []CategoryConfig `yaml:"categories"`
}

// CategoryConfig holds one concrete listing endpoint.
type CategoryConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// HackerNewsConfig filters top stories by keyword.
type HackerNewsConfig struct {
	Enabled  bool        `yaml:"enabled"`
	Fetch    FetchConfig `yaml:"fetch"`
	Keywords []string    `yaml:"keywords"`
}

// RSSConfig lists feeds to poll.
type RSSConfig struct {
	Enabled bool         `yaml:"enabled"`
	Fetch   FetchConfig  `yaml:"fetch"`
	Feeds   []FeedConfig `yaml:"feeds"`
}

// FeedConfig names one feed endpoint.
type FeedConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(scoringAPIKeyEnv); v != "" {
		c.Scoring.APIKey = v
	}
	if v := os.Getenv(embeddingKeyEnv); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Database.Path != "" {
		base.Database = override.Database
	}

	if override.Ingestion.Interval > 0 {
		base.Ingestion.Interval = override.Ingestion.Interval
	}
	if override.Ingestion.RunTimeout > 0 {
		base.Ingestion.RunTimeout = override.Ingestion.RunTimeout
	}
	if override.Ingestion.MaxItemsPerSource > 0 {
		base.Ingestion.MaxItemsPerSource = override.Ingestion.MaxItemsPerSource
	}
	if override.Ingestion.SourceConcurrency > 0 {
		base.Ingestion.SourceConcurrency = override.Ingestion.SourceConcurrency
	}

	if override.Dedup.SimilarityThreshold > 0 {
		base.Dedup.SimilarityThreshold = override.Dedup.SimilarityThreshold
	}
	if override.Dedup.WindowDays > 0 {
		base.Dedup.WindowDays = override.Dedup.WindowDays
	}

	if override.Digest.Hour > 0 {
		base.Digest.Hour = override.Digest.Hour
	}
	if override.Digest.Window > 0 {
		base.Digest.Window = override.Digest.Window
	}
	if override.Digest.MinRelevance > 0 {
		base.Digest.MinRelevance = override.Digest.MinRelevance
	}
	if override.Digest.MaxItems > 0 {
		base.Digest.MaxItems = override.Digest.MaxItems
	}

	if override.Scoring.Endpoint != "" {
		base.Scoring.Endpoint = override.Scoring.Endpoint
	}
	if override.Scoring.Model != "" {
		base.Scoring.Model = override.Scoring.Model
	}
	if override.Scoring.APIKey != "" {
		base.Scoring.APIKey = override.Scoring.APIKey
	}

	if override.Embedding.Endpoint != "" {
		base.Embedding.Endpoint = override.Embedding.Endpoint
	}
	if override.Embedding.Model != "" {
		base.Embedding.Model = override.Embedding.Model
	}
	if override.Embedding.APIKey != "" {
		base.Embedding.APIKey = override.Embedding.APIKey
	}
	if override.Embedding.Dimension > 0 {
		base.Embedding.Dimension = override.Embedding.Dimension
	}
	if override.Embedding.CacheEntries > 0 {
		base.Embedding.CacheEntries = override.Embedding.CacheEntries
	}
	if override.Embedding.CacheSizeBytes > 0 {
		base.Embedding.CacheSizeBytes = override.Embedding.CacheSizeBytes
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	base.Sources = mergeSources(base.Sources, override.Sources)
	return base
}

func mergeSources(base, override SourcesConfig) SourcesConfig {
	base.Arxiv.Enabled = base.Arxiv.Enabled || override.Arxiv.Enabled
	base.Arxiv.Fetch = mergeFetch(base.Arxiv.Fetch, override.Arxiv.Fetch)
	if len(override.Arxiv.Categories) > 0 {
		base.Arxiv.Categories = override.Arxiv.Categories
	}

	base.HackerNews.Enabled = base.HackerNews.Enabled || override.HackerNews.Enabled
	base.HackerNews.Fetch = mergeFetch(base.HackerNews.Fetch, override.HackerNews.Fetch)
	if len(override.HackerNews.Keywords) > 0 {
		base.HackerNews.Keywords = override.HackerNews.Keywords
	}

	base.RSS.Enabled = base.RSS.Enabled || override.RSS.Enabled
	base.RSS.Fetch = mergeFetch(base.RSS.Fetch, override.RSS.Fetch)
	if len(override.RSS.Feeds) > 0 {
		base.RSS.Feeds = override.RSS.Feeds
	}

	return base
}

func mergeFetch(base, override FetchConfig) FetchConfig {
	if override.RequestsPerSecond > 0 {
		base.RequestsPerSecond = override.RequestsPerSecond
	}
	if override.Burst > 0 {
		base.Burst = override.Burst
	}
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.RequestTimeout > 0 {
		base.RequestTimeout = override.RequestTimeout
	}
	if override.WaitBudget > 0 {
		base.WaitBudget = override.WaitBudget
	}
	if override.BreakerThreshold > 0 {
		base.BreakerThreshold = override.BreakerThreshold
	}
	if override.BreakerCooldown > 0 {
		base.BreakerCooldown = override.BreakerCooldown
	}
	return base
}

func defaultConfig() Config {
	defaultFetch := FetchConfig{
		RequestsPerSecond: 1,
		Burst:             5,
		MaxRetries:        3,
		RequestTimeout:    Duration(15 * time.Second),
		WaitBudget:        Duration(30 * time.Second),
		BreakerThreshold:  5,
		BreakerCooldown:   Duration(time.Minute),
	}

	return Config{
		Database: DatabaseConfig{Path: "newsdigest.db"},
		Ingestion: IngestionConfig{
			Interval:          Duration(time.Hour),
			RunTimeout:        Duration(10 * time.Minute),
			MaxItemsPerSource: 50,
			SourceConcurrency: 3,
		},
		Dedup: DedupConfig{
			SimilarityThreshold: 0.85,
			WindowDays:          30,
		},
		Digest: DigestConfig{
			Hour:         6,
			Window:       Duration(24 * time.Hour),
			MinRelevance: 50,
			MaxItems:     10,
		},
		Scoring: ScoringConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			Endpoint:  "https://api.openai.com/v1/embeddings",
			Model:     "text-embedding-3-small",
			Dimension: 384,
		},
		Logging: LoggingConfig{Level: "info"},
		Sources: SourcesConfig{
			Arxiv: ArxivConfig{
				Enabled: true,
				Fetch:   defaultFetch,
				Categories: []CategoryConfig{
					{Name: "cs.AI", URL: "https://export.arxiv.org/list/cs.AI/recent"},
					{Name: "cs.LG", URL: "https://export.arxiv.org/list/cs.LG/recent"},
				},
			},
			HackerNews: HackerNewsConfig{
				Enabled:  true,
				Fetch:    defaultFetch,
				Keywords: []string{"ai", "llm", "machine learning", "neural network", "gpt"},
			},
			RSS: RSSConfig{
				Enabled: true,
				Fetch:   defaultFetch,
				Feeds: []FeedConfig{
					{Name: "mit-ai", URL: "https://news.mit.edu/topic/mitartificial-intelligence2-rss.xml"},
				},
			},
		},
	}
}
