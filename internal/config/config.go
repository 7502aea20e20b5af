package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

// Config holds all agent settings, populated from environment variables.
type Config struct {
	// Remote region store and risk endpoint. One base URL serves both.
	APIBaseURL string
	APITimeout time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	StateDBPath string

	HeatDataDir      string
	DefaultHorizon   domain.Horizon
	DefaultThreshold float64

	RiskLimit           int
	RiskRefreshInterval time.Duration // 0 disables periodic refresh

	// Kafka notification stream, enabled when brokers are configured.
	KafkaBrokers     []string
	KafkaNotifyTopic string

	NotifyInboxSize int
	AssetBaseURL    string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	apiTimeout, err := parseDuration("API_TIMEOUT", "10s")
	if err != nil || apiTimeout <= 0 {
		return nil, errors.New("invalid API_TIMEOUT")
	}

	refresh, err := parseDuration("RISK_REFRESH_INTERVAL", "5m")
	if err != nil || refresh < 0 {
		return nil, errors.New("invalid RISK_REFRESH_INTERVAL")
	}

	horizon, err := domain.ParseHorizon(sharedcfg.EnvOrDefault("DEFAULT_HORIZON", string(domain.Horizon6h)))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_HORIZON: %w", err)
	}

	threshold, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("DEFAULT_THRESHOLD", "0.5"), 64)
	if err != nil || domain.ValidateThreshold(threshold) != nil {
		return nil, errors.New("invalid DEFAULT_THRESHOLD")
	}

	riskLimit, err := parsePositiveInt("RISK_LIMIT", domain.DefaultRiskLimit)
	if err != nil {
		return nil, err
	}
	inboxSize, err := parsePositiveInt("NOTIFY_INBOX_SIZE", 50)
	if err != nil {
		return nil, err
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = sharedcfg.ParseBrokers(raw)
	}

	cfg := &Config{
		APIBaseURL:          sharedcfg.EnvOrDefault("API_BASE_URL", "http://localhost:8000"),
		APITimeout:          apiTimeout,
		HTTPAddr:            sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:            sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:     shutdownTimeout,
		StateDBPath:         sharedcfg.EnvOrDefault("STATE_DB_PATH", "./data/firewatch.db"),
		HeatDataDir:         sharedcfg.EnvOrDefault("HEAT_DATA_DIR", "./data/heatmap"),
		DefaultHorizon:      horizon,
		DefaultThreshold:    threshold,
		RiskLimit:           riskLimit,
		RiskRefreshInterval: refresh,
		KafkaBrokers:        brokers,
		KafkaNotifyTopic:    sharedcfg.EnvOrDefault("KAFKA_NOTIFY_TOPIC", "region-notifications"),
		NotifyInboxSize:     inboxSize,
		AssetBaseURL:        sharedcfg.EnvOrDefault("ASSET_BASE_URL", "/static/markers"),
	}

	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("API_BASE_URL must be an absolute URL")
	}
	if cfg.KafkaEnabled() && cfg.KafkaNotifyTopic == "" {
		return nil, errors.New("KAFKA_NOTIFY_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// KafkaEnabled reports whether notifications are also published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// StoreConfig holds the development region store server settings.
type StoreConfig struct {
	HTTPAddr        string
	DBPath          string
	RateLimit       int
	RiskSeedFile    string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// LoadStore reads the development region store configuration.
func LoadStore() (*StoreConfig, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	rateLimit, err := parsePositiveInt("STORE_RATE_LIMIT", 20)
	if err != nil {
		return nil, err
	}

	return &StoreConfig{
		HTTPAddr:        sharedcfg.EnvOrDefault("STORE_HTTP_ADDR", ":8000"),
		DBPath:          sharedcfg.EnvOrDefault("STORE_DB_PATH", "./data/regionstore.db"),
		RateLimit:       rateLimit,
		RiskSeedFile:    os.Getenv("RISK_SEED_FILE"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	return time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}
