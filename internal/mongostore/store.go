// Package mongostore keeps the card catalog and decks in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	cardsCollection = "cards"
	decksCollection = "decks"
	connectTimeout  = 10 * time.Second
)

// Config locates the MongoDB deployment.
type Config struct {
	URI      string
	Database string
}

// Store owns the client connection shared by the card and deck stores.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
	logger   *zap.Logger
}

// Open connects, verifies the connection, and ensures the collection indexes exist.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("mongo uri is required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, errors.New("mongo database name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	store := &Store{client: client, database: client.Database(cfg.Database), logger: logger}
	if err := store.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("database initialized", zap.String("driver", "mongo"), zap.String("database", cfg.Database))
	return store, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	cardIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "external_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("idx_cards_external_id")},
		{Keys: bson.D{{Key: "name_lower", Value: 1}}, Options: options.Index().SetName("idx_cards_name")},
		{Keys: bson.D{{Key: "rarity", Value: 1}}, Options: options.Index().SetName("idx_cards_rarity")},
		{Keys: bson.D{{Key: "type_line", Value: 1}}, Options: options.Index().SetName("idx_cards_type_line")},
	}
	if _, err := s.database.Collection(cardsCollection).Indexes().CreateMany(ctx, cardIndexes); err != nil {
		return fmt.Errorf("create card indexes: %w", err)
	}

	deckIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true).SetName("idx_decks_name")},
		{Keys: bson.D{{Key: "format", Value: 1}}, Options: options.Index().SetName("idx_decks_format")},
		{Keys: bson.D{{Key: "created_at", Value: -1}}, Options: options.Index().SetName("idx_decks_created")},
	}
	if _, err := s.database.Collection(decksCollection).Indexes().CreateMany(ctx, deckIndexes); err != nil {
		return fmt.Errorf("create deck indexes: %w", err)
	}
	return nil
}

// Cards returns the catalog store backed by the cards collection.
func (s *Store) Cards() *CardStore {
	return &CardStore{collection: s.database.Collection(cardsCollection), clock: time.Now}
}

// Decks returns the deck store backed by the decks collection.
func (s *Store) Decks() *DeckStore {
	return &DeckStore{collection: s.database.Collection(decksCollection)}
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
