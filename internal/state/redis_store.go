package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is where the record lives when no key is configured.
const DefaultRedisKey = "prp-orchestrator:state"

// RedisStore keeps the record as a JSON string under a single key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// RedisConfig selects the Redis instance and key.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.Key), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (*Record, error) {
	return s.load(ctx, s.client)
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable) (*Record, error) {
	data, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewRecord(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from redis: %w", err)
	}
	return decode(data)
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save state to redis: %w", err)
	}
	return nil
}

// Update watches the key so a concurrent writer aborts the transaction
// instead of silently losing an update.
func (s *RedisStore) Update(ctx context.Context, fn func(*Record) error) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		data, err := encode(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}, s.key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("state changed concurrently: %w", err)
	}
	return err
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
