package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

const (
	defaultRedisPrefix = "recipe-ingest:mapping:"
	maxTxRetries       = 8
)

// RedisStore shares ingredient mappings between processes through Redis.
// Updates use WATCH/MULTI so concurrent writers retry instead of clobbering.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisStore wraps client. A zero ttl keeps mappings forever.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration, log *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, log: log}
}

// NewRedisClient builds a client from cache settings and checks connectivity.
func NewRedisClient(ctx context.Context, cfg common.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Get(ctx context.Context, key string) (entity.IngredientMapping, bool, error) {
	return s.get(ctx, s.client, key)
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c redisGetter, key string) (entity.IngredientMapping, bool, error) {
	data, err := c.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.IngredientMapping{}, false, nil
	}
	if err != nil {
		return entity.IngredientMapping{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	var m entity.IngredientMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return entity.IngredientMapping{}, false, fmt.Errorf("decode mapping %q: %w", key, err)
	}
	return m, true, nil
}

func (s *RedisStore) Insert(ctx context.Context, m entity.IngredientMapping) (entity.IngredientMapping, bool, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return entity.IngredientMapping{}, false, fmt.Errorf("encode mapping %q: %w", m.Key, err)
	}
	created, err := s.client.SetNX(ctx, s.key(m.Key), data, s.ttl).Result()
	if err != nil {
		return entity.IngredientMapping{}, false, fmt.Errorf("redis setnx %q: %w", m.Key, err)
	}
	if created {
		return m, true, nil
	}
	existing, ok, err := s.Get(ctx, m.Key)
	if err != nil {
		return entity.IngredientMapping{}, false, err
	}
	if !ok {
		// expired between SETNX and GET
		return s.Insert(ctx, m)
	}
	return existing, false, nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fn func(*entity.IngredientMapping)) (entity.IngredientMapping, error) {
	var out entity.IngredientMapping
	txf := func(tx *redis.Tx) error {
		cur, ok, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("mapping %q: %w", key, common.ErrNotFound)
		}
		fn(&cur)
		cur.Key = key
		data, err := json.Marshal(cur)
		if err != nil {
			return fmt.Errorf("encode mapping %q: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, s.key(key), data, s.ttl)
			return nil
		})
		if err == nil {
			out = cur
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, s.key(key))
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug("normalize.redis.tx_retry", "key", key, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return entity.IngredientMapping{}, err
		}
		return out, nil
	}
	return entity.IngredientMapping{}, fmt.Errorf("mapping %q: too many concurrent updates", key)
}
