package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(testContext *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseDriver != "sqlite" || !strings.HasSuffix(cfg.DatabasePath, "grimoire.db") {
		testContext.Fatalf("unexpected database defaults %+v", cfg)
	}
	if cfg.ScryfallBatchSize != 75 || cfg.ScryfallTimeout != 30*time.Second {
		testContext.Fatalf("unexpected scryfall defaults %+v", cfg)
	}
	if cfg.CacheTTL != time.Hour || cfg.TracingEnabled {
		testContext.Fatalf("unexpected cache or tracing defaults %+v", cfg)
	}
}

func TestLoadReadsEnvironment(testContext *testing.T) {
	testContext.Setenv("GRIMOIRE_DATABASE_DRIVER", "postgres")
	testContext.Setenv("GRIMOIRE_DATABASE_DSN", "postgres://localhost/grimoire")
	testContext.Setenv("GRIMOIRE_SCRYFALL_BATCH_SIZE", "20")
	testContext.Setenv("GRIMOIRE_CACHE_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseDriver != "postgres" || cfg.DatabaseDSN != "postgres://localhost/grimoire" {
		testContext.Fatalf("unexpected database config %+v", cfg)
	}
	if cfg.ScryfallBatchSize != 20 || cfg.CacheRedisAddr != "localhost:6379" {
		testContext.Fatalf("unexpected env overrides %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(testContext *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{name: "batch above limit", key: "scryfall.batch_size", val: "76"},
		{name: "unknown driver", key: "database.driver", val: "oracle"},
		{name: "postgres without dsn", key: "database.driver", val: "postgres"},
		{name: "mongo without uri", key: "database.driver", val: "mongo"},
		{name: "sample ratio", key: "tracing.sample_ratio", val: "2"},
	}
	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.val)
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error for %s=%s", testCase.key, testCase.val)
			}
		})
	}
}
