package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/config"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/database"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/decks"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/mongostore"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/observability"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/scryfall"
)

// application holds the wired services shared by the HTTP server and CLI commands.
type application struct {
	Catalog *catalog.Service
	Decks   *decks.Service
	Logger  *zap.Logger

	closers []func(context.Context) error
}

func newApplication(ctx context.Context, appConfig config.AppConfig) (*application, error) {
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return nil, err
	}
	app := &application{Logger: logger}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     appConfig.TracingEnabled,
		ServiceName: "grimoire-api",
		Version:     version,
		Exporter:    appConfig.TracingExporter,
		Endpoint:    appConfig.TracingEndpoint,
		SampleRatio: appConfig.TracingSampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, shutdownTracing)

	cardStore, deckStore, err := app.openStores(ctx, appConfig)
	if err != nil {
		app.Close()
		return nil, err
	}

	cache, err := app.openCache(ctx, appConfig)
	if err != nil {
		app.Close()
		return nil, err
	}

	client := scryfall.NewClient(scryfall.ClientConfig{
		BaseURL:           appConfig.ScryfallBaseURL,
		UserAgent:         appConfig.ScryfallUserAgent,
		HTTPClient:        &http.Client{Timeout: appConfig.ScryfallTimeout},
		RequestsPerSecond: appConfig.ScryfallRequestsPerSecond,
		MaxRetries:        appConfig.ScryfallMaxRetries,
		Logger:            logger,
	})

	app.Catalog, err = catalog.NewService(catalog.ServiceConfig{
		Store:     cardStore,
		Fetcher:   client,
		Cache:     cache,
		BatchSize: appConfig.ScryfallBatchSize,
		Logger:    logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Decks, err = decks.NewService(decks.ServiceConfig{
		Store:      deckStore,
		Cards:      app.Catalog,
		Names:      app.Catalog,
		Clock:      time.Now,
		IDProvider: decks.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	return app, nil
}

func (a *application) openStores(ctx context.Context, appConfig config.AppConfig) (catalog.Store, decks.Store, error) {
	if appConfig.DatabaseDriver == "mongo" {
		store, err := mongostore.Open(ctx, mongostore.Config{URI: appConfig.MongoURI, Database: appConfig.MongoDatabase}, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store.Cards(), store.Decks(), nil
	}

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return database.Close(db) })

	cardStore, err := database.NewCardStore(db)
	if err != nil {
		return nil, nil, err
	}
	deckStore, err := database.NewDeckStore(db)
	if err != nil {
		return nil, nil, err
	}
	return cardStore, deckStore, nil
}

func (a *application) openCache(ctx context.Context, appConfig config.AppConfig) (catalog.Cache, error) {
	if appConfig.CacheRedisAddr != "" {
		client, err := catalog.DialRedis(ctx, appConfig.CacheRedisAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		cache, err := catalog.NewRedisCache(catalog.RedisCacheConfig{Client: client, TTL: appConfig.CacheTTL, Logger: a.Logger})
		if err != nil {
			return nil, err
		}
		return cache, nil
	}
	if appConfig.CacheSize == 0 {
		return nil, nil
	}
	cache, err := catalog.NewLRUCache(appConfig.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("build card cache: %w", err)
	}
	return cache, nil
}

// Close releases resources in reverse acquisition order.
func (a *application) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for index := len(a.closers) - 1; index >= 0; index-- {
		if err := a.closers[index](ctx); err != nil {
			a.Logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
}
