package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/blackmichael/bluesky-importer/internal/domain"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	// Identifier and AppPassword are the Bluesky credentials used to open a
	// session for every import.
	Identifier  string
	AppPassword string

	// PDS is the XRPC host sessions are created against.
	PDS string

	// WebURL is the base of derived post URLs.
	WebURL string

	// DatabaseURL selects PostgreSQL (postgres://) or SQLite (sqlite://, file:).
	DatabaseURL string

	// Port is the HTTP server port.
	Port int

	LogFormat string
	LogLevel  string

	// APIRate and APIBurst pace XRPC requests across all imports.
	APIRate  float64
	APIBurst int

	// AutoMigrate creates missing tables on start.
	AutoMigrate bool

	// FirehoseURL is the Jetstream WebSocket endpoint.
	FirehoseURL string

	// StreamRules enable the firehose ingester when non-empty.
	StreamRules         []domain.StreamRule
	StreamFlushSize     int
	StreamFlushInterval time.Duration

	// RetentionMaxAge of zero disables the retention job.
	RetentionMaxAge   time.Duration
	RetentionInterval time.Duration

	// Classifier is "vader" or "hugot".
	Classifier          string
	ClassifierModelPath string
}

// LoadEnvFiles loads .env and then .env.<APP_ENV> into the process
// environment. Missing files are skipped; variables already set win.
func LoadEnvFiles() error {
	files := []string{".env"}
	if env := os.Getenv("APP_ENV"); env != "" {
		files = append(files, ".env."+env)
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := gotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults.
// Missing credentials or database URL fail immediately.
func Load() (*Config, error) {
	cfg := &Config{
		Identifier:  os.Getenv("BLUESKY_IDENTIFIER"),
		AppPassword: os.Getenv("BLUESKY_APP_PASSWORD"),
		PDS:         getenv("BLUESKY_PDS", "https://bsky.social"),
		WebURL:      getenv("BLUESKY_WEB_URL", "https://bsky.app"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogFormat:   getenv("LOG_FORMAT", "json"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		FirehoseURL: getenv("FIREHOSE_URL", "wss://jetstream1.us-east.bsky.network/subscribe"),
		Classifier:  getenv("CLASSIFIER", "vader"),

		ClassifierModelPath: os.Getenv("CLASSIFIER_MODEL_PATH"),
	}

	if cfg.Identifier == "" || cfg.AppPassword == "" {
		return nil, fmt.Errorf("BLUESKY_IDENTIFIER and BLUESKY_APP_PASSWORD are required")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DB_URL")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.Port, err = intEnv("PORT", 3000); err != nil {
		return nil, err
	}
	if cfg.APIBurst, err = intEnv("BLUESKY_API_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.StreamFlushSize, err = intEnv("STREAM_FLUSH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.APIRate, err = floatEnv("BLUESKY_API_RPS", 5); err != nil {
		return nil, err
	}
	if cfg.AutoMigrate, err = boolEnv("AUTO_MIGRATE", true); err != nil {
		return nil, err
	}
	if cfg.StreamFlushInterval, err = durationEnv("STREAM_FLUSH_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetentionMaxAge, err = durationEnv("RETENTION_MAX_AGE", 0); err != nil {
		return nil, err
	}
	if cfg.RetentionInterval, err = durationEnv("RETENTION_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.RetentionMaxAge < 0 {
		return nil, fmt.Errorf("invalid RETENTION_MAX_AGE %s: must not be negative", cfg.RetentionMaxAge)
	}
	if cfg.RetentionMaxAge > 0 && cfg.RetentionInterval <= 0 {
		return nil, fmt.Errorf("invalid RETENTION_INTERVAL %s: must be positive when RETENTION_MAX_AGE is set", cfg.RetentionInterval)
	}

	switch cfg.Classifier {
	case "vader":
	case "hugot":
		if cfg.ClassifierModelPath == "" {
			return nil, fmt.Errorf("CLASSIFIER_MODEL_PATH is required when CLASSIFIER=hugot")
		}
	default:
		return nil, fmt.Errorf("invalid CLASSIFIER %q: want vader or hugot", cfg.Classifier)
	}

	if path := os.Getenv("STREAM_RULES_FILE"); path != "" {
		if cfg.StreamRules, err = LoadStreamRules(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

type streamRulesFile struct {
	Rules []domain.StreamRule `yaml:"rules"`
}

// LoadStreamRules reads the YAML rule list used by the firehose ingester.
func LoadStreamRules(path string) ([]domain.StreamRule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stream rules: %w", err)
	}
	var f streamRulesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse stream rules %s: %w", path, err)
	}
	for i, r := range f.Rules {
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("stream rule %d (%s): at least one keyword is required", i, r.Name)
		}
	}
	return f.Rules, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
