package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "GRIMOIRE"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultLogLevel           = "info"
	defaultLogEncoding        = "json"
	defaultDatabaseDriver     = "sqlite"
	defaultMongoDatabase      = "grimoire"
	defaultScryfallBaseURL    = "https://api.scryfall.com"
	defaultScryfallUserAgent  = "grimoire-api/1.0"
	defaultScryfallBatchSize  = 75
	defaultScryfallRate       = 10.0
	defaultScryfallTimeout    = 30
	defaultScryfallMaxRetries = 3
	defaultCacheSize          = 4096
	defaultCacheTTLMinutes    = 60
	defaultTracingExporter    = "otlp"
	defaultTracingSampleRatio = 0.1
	maxScryfallBatchSize      = 75
)

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string
	LogEncoding string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string
	MongoURI       string
	MongoDatabase  string

	ScryfallBaseURL           string
	ScryfallUserAgent         string
	ScryfallBatchSize         int
	ScryfallRequestsPerSecond float64
	ScryfallTimeout           time.Duration
	ScryfallMaxRetries        int

	CacheSize      int
	CacheRedisAddr string
	CacheTTL       time.Duration

	TracingEnabled     bool
	TracingExporter    string
	TracingEndpoint    string
	TracingSampleRatio float64
}

// DefaultDatabasePath places the SQLite file under the XDG data directory.
func DefaultDatabasePath() string {
	return filepath.Join(xdg.DataHome, "grimoire", "grimoire.db")
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", DefaultDatabasePath())
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("mongo.uri", "")
	configViper.SetDefault("mongo.database", defaultMongoDatabase)
	configViper.SetDefault("scryfall.base_url", defaultScryfallBaseURL)
	configViper.SetDefault("scryfall.user_agent", defaultScryfallUserAgent)
	configViper.SetDefault("scryfall.batch_size", defaultScryfallBatchSize)
	configViper.SetDefault("scryfall.requests_per_second", defaultScryfallRate)
	configViper.SetDefault("scryfall.timeout_seconds", defaultScryfallTimeout)
	configViper.SetDefault("scryfall.max_retries", defaultScryfallMaxRetries)
	configViper.SetDefault("cache.size", defaultCacheSize)
	configViper.SetDefault("cache.redis_addr", "")
	configViper.SetDefault("cache.ttl_minutes", defaultCacheTTLMinutes)
	configViper.SetDefault("tracing.enabled", false)
	configViper.SetDefault("tracing.exporter", defaultTracingExporter)
	configViper.SetDefault("tracing.endpoint", "")
	configViper.SetDefault("tracing.sample_ratio", defaultTracingSampleRatio)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		LogLevel:    configViper.GetString("log.level"),
		LogEncoding: configViper.GetString("log.encoding"),

		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		MongoURI:       configViper.GetString("mongo.uri"),
		MongoDatabase:  configViper.GetString("mongo.database"),

		ScryfallBaseURL:           configViper.GetString("scryfall.base_url"),
		ScryfallUserAgent:         configViper.GetString("scryfall.user_agent"),
		ScryfallBatchSize:         configViper.GetInt("scryfall.batch_size"),
		ScryfallRequestsPerSecond: configViper.GetFloat64("scryfall.requests_per_second"),
		ScryfallTimeout:           time.Duration(configViper.GetInt("scryfall.timeout_seconds")) * time.Second,
		ScryfallMaxRetries:        configViper.GetInt("scryfall.max_retries"),

		CacheSize:      configViper.GetInt("cache.size"),
		CacheRedisAddr: configViper.GetString("cache.redis_addr"),
		CacheTTL:       time.Duration(configViper.GetInt("cache.ttl_minutes")) * time.Minute,

		TracingEnabled:     configViper.GetBool("tracing.enabled"),
		TracingExporter:    configViper.GetString("tracing.exporter"),
		TracingEndpoint:    configViper.GetString("tracing.endpoint"),
		TracingSampleRatio: configViper.GetFloat64("tracing.sample_ratio"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "mongo":
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("mongo.uri is required for the mongo driver")
		}
		if strings.TrimSpace(c.MongoDatabase) == "" {
			return fmt.Errorf("mongo.database is required for the mongo driver")
		}
	default:
		return fmt.Errorf("database.driver must be one of sqlite, postgres, mongo; got %q", c.DatabaseDriver)
	}
	if c.ScryfallBatchSize < 1 || c.ScryfallBatchSize > maxScryfallBatchSize {
		return fmt.Errorf("scryfall.batch_size must be between 1 and %d", maxScryfallBatchSize)
	}
	if c.ScryfallRequestsPerSecond <= 0 {
		return fmt.Errorf("scryfall.requests_per_second must be positive")
	}
	if c.ScryfallTimeout <= 0 {
		return fmt.Errorf("scryfall.timeout_seconds must be positive")
	}
	if c.ScryfallMaxRetries < 0 {
		return fmt.Errorf("scryfall.max_retries must not be negative")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache.size must not be negative")
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}
