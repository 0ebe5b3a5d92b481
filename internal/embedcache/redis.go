package embedcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options of the Redis connection.
type Options struct {
	Address  string
	Password string
	DB       int
}

// RedisStore keeps each vector in a hash together with the model that produced it.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, opts Options) (*RedisStore, error) {
	if opts.Address == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Address, err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]float32, string, error) {
	vals, err := r.client.HMGet(ctx, key, "vector", "model").Result()
	if err != nil {
		return nil, "", err
	}
	if len(vals) < 2 || vals[0] == nil {
		return nil, "", ErrNotFound
	}

	raw, ok := vals[0].(string)
	if !ok || raw == "" {
		return nil, "", errors.New("cached vector has unexpected format")
	}
	var vector []float32
	if err := json.Unmarshal([]byte(raw), &vector); err != nil {
		return nil, "", fmt.Errorf("decode cached vector: %w", err)
	}

	model, _ := vals[1].(string)
	return vector, model, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, vector []float32, model string, ttl time.Duration) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, "vector", raw, "model", model)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store vector: %w", err)
	}
	return nil
}
