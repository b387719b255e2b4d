package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/cards"
)

const (
	defaultCacheSize = 4096
	redisKeyPrefix   = "grimoire:card:"
)

// Cache is a read-through card cache consulted before the catalog store.
// Implementations treat their own failures as misses.
type Cache interface {
	Get(ctx context.Context, externalID string) (cards.Card, bool)
	GetMany(ctx context.Context, externalIDs []string) map[string]cards.Card
	Add(ctx context.Context, card cards.Card)
}

// LRUCache keeps recently used cards in process memory.
type LRUCache struct {
	entries *lru.Cache
}

// NewLRUCache constructs an in-process cache holding up to size cards.
func NewLRUCache(size int) (*LRUCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("catalog: create lru cache: %w", err)
	}
	return &LRUCache{entries: entries}, nil
}

func (c *LRUCache) Get(_ context.Context, externalID string) (cards.Card, bool) {
	value, ok := c.entries.Get(externalID)
	if !ok {
		return cards.Card{}, false
	}
	card, ok := value.(cards.Card)
	if !ok {
		return cards.Card{}, false
	}
	return card.Clone(), true
}

func (c *LRUCache) GetMany(ctx context.Context, externalIDs []string) map[string]cards.Card {
	found := make(map[string]cards.Card, len(externalIDs))
	for _, externalID := range externalIDs {
		if card, ok := c.Get(ctx, externalID); ok {
			found[externalID] = card
		}
	}
	return found
}

func (c *LRUCache) Add(_ context.Context, card cards.Card) {
	c.entries.Add(card.ExternalID, card.Clone())
}

// Len reports the number of cached cards.
func (c *LRUCache) Len() int {
	return c.entries.Len()
}

// RedisCacheConfig configures the shared Redis card cache.
type RedisCacheConfig struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *zap.Logger
}

// RedisCache shares cached cards between API replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache wraps an already connected Redis client.
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	if cfg.Client == nil {
		return nil, errors.New("catalog: redis client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: cfg.Client, ttl: cfg.TTL, logger: logger}, nil
}

// DialRedis connects to addr and verifies the connection with a ping.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("catalog: redis ping: %w", err)
	}
	return client, nil
}

func (c *RedisCache) Get(ctx context.Context, externalID string) (cards.Card, bool) {
	payload, err := c.client.Get(ctx, redisKeyPrefix+externalID).Bytes()
	if errors.Is(err, redis.Nil) {
		return cards.Card{}, false
	}
	if err != nil {
		c.logger.Warn("card cache read failed", zap.String("external_id", externalID), zap.Error(err))
		return cards.Card{}, false
	}
	var card cards.Card
	if err := json.Unmarshal(payload, &card); err != nil {
		c.logger.Warn("card cache entry corrupt", zap.String("external_id", externalID), zap.Error(err))
		return cards.Card{}, false
	}
	return card, true
}

func (c *RedisCache) GetMany(ctx context.Context, externalIDs []string) map[string]cards.Card {
	found := make(map[string]cards.Card, len(externalIDs))
	if len(externalIDs) == 0 {
		return found
	}
	keys := make([]string, len(externalIDs))
	for index, externalID := range externalIDs {
		keys[index] = redisKeyPrefix + externalID
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("card cache batch read failed", zap.Int("keys", len(keys)), zap.Error(err))
		return found
	}
	for index, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var card cards.Card
		if err := json.Unmarshal([]byte(raw), &card); err != nil {
			continue
		}
		found[externalIDs[index]] = card
	}
	return found
}

func (c *RedisCache) Add(ctx context.Context, card cards.Card) {
	payload, err := json.Marshal(card)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+card.ExternalID, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("card cache write failed", zap.String("external_id", card.ExternalID), zap.Error(err))
	}
}
