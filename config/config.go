package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API        APIConfig
	Database   DatabaseConfig
	Fetch      FetchConfig
	Scheduler  SchedulerConfig
	Media      MediaConfig
	Enrichment EnrichmentConfig
	S3         S3Config
	// Intra-batch duplicate precedence: "last_wins" or "first_wins".
	DedupPrecedence string
	OpsDBPath       string
	LogFile         string
	Markets         map[string]*MarketConfig
}

type APIConfig struct {
	Host    string
	Key     string
	Timeout time.Duration
}

type DatabaseConfig struct {
	URL string
}

// FetchConfig holds the retry and concurrency knobs the orchestrator
// consumes. Per-market page shape lives in MarketConfig.
type FetchConfig struct {
	Retries       int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	MaxConcurrent int
	PageSize      int
	MaxPages      int
}

type SchedulerConfig struct {
	Cron                 string
	Interval             time.Duration
	TransformAfterScrape bool
}

type MediaConfig struct {
	Enabled   bool
	BatchSize int
	Interval  time.Duration
}

type EnrichmentConfig struct {
	Enabled     bool
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// MarketConfig names a group of postal codes fetched together in one
// run. PageSize/MaxPages override the FetchConfig defaults when set.
type MarketConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	PostalCodes []string `yaml:"postal_codes"`
	Status      []string `yaml:"status"`
	PageSize    int      `yaml:"page_size"`
	MaxPages    int      `yaml:"max_pages"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		API: APIConfig{
			Host:    getEnv("RAPIDAPI_HOST", "realty-in-us.p.rapidapi.com"),
			Key:     os.Getenv("RAPIDAPI_KEY"),
			Timeout: getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL: databaseURL(),
		},
		Fetch: FetchConfig{
			Retries:       getEnvInt("FETCH_RETRIES", 3),
			BackoffBase:   getEnvDuration("FETCH_BACKOFF_BASE", 2*time.Second),
			BackoffMax:    getEnvDuration("FETCH_BACKOFF_MAX", 60*time.Second),
			MaxConcurrent: getEnvInt("MAX_CONCURRENT_FETCHES", 3),
			PageSize:      getEnvInt("FETCH_PAGE_SIZE", 15),
			MaxPages:      getEnvInt("FETCH_MAX_PAGES", 20),
		},
		Scheduler: SchedulerConfig{
			Cron:                 os.Getenv("SCRAPE_CRON"),
			TransformAfterScrape: getEnvBool("TRANSFORM_AFTER_SCRAPE", true),
		},
		Media: MediaConfig{
			Enabled:   getEnvBool("MEDIA_ENABLED", false),
			BatchSize: getEnvInt("MEDIA_BATCH_SIZE", 10),
			Interval:  getEnvDuration("MEDIA_INTERVAL", 30*time.Second),
		},
		Enrichment: EnrichmentConfig{
			Enabled:     getEnvBool("ENRICHMENT_ENABLED", false),
			BatchSize:   getEnvInt("ENRICHMENT_BATCH_SIZE", 5),
			Interval:    getEnvDuration("ENRICHMENT_INTERVAL", 60*time.Second),
			MaxAttempts: getEnvInt("ENRICHMENT_MAX_ATTEMPTS", 3),
		},
		S3: S3Config{
			Bucket:    os.Getenv("S3_BUCKET"),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Prefix:    getEnv("S3_PREFIX", "listing-photos"),
		},
		DedupPrecedence: getEnv("DEDUP_PRECEDENCE", "last_wins"),
		OpsDBPath:       getEnv("OPS_DB_PATH", "pipeline.db"),
		LogFile:         getEnv("LOG_FILE", "pipeline.log"),
		Markets:         make(map[string]*MarketConfig),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadMarketConfigs(); err != nil {
		return nil, err
	}

	// ZIP_CODES gives a single ad-hoc market without a config file.
	if zips := os.Getenv("ZIP_CODES"); zips != "" && len(cfg.Markets) == 0 {
		codes := splitCSV(zips)
		cfg.Markets["default"] = &MarketConfig{
			ID:          "default",
			Name:        "default",
			PostalCodes: codes,
		}
	}

	return cfg, nil
}

func (c *Config) loadMarketConfigs() error {
	configDir := getEnv("MARKETS_DIR", "config/markets")
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var market MarketConfig
		if err := yaml.Unmarshal(data, &market); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if market.ID == "" {
			return fmt.Errorf("market config %s missing id", path)
		}

		c.Markets[market.ID] = &market
	}

	return nil
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from
// the discrete DB_* variables.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	name := getEnv("DB_NAME", "real_estate")
	user := getEnv("DB_USER", "postgres")
	pass := os.Getenv("DB_PASSWORD")
	if pass == "" {
		return fmt.Sprintf("postgres://%s@%s:%s/%s", user, host, port, name)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go duration strings ("90s", "2m") and bare
// integers, which are read as seconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
