// Package embedcache memoizes embedding calls in Redis.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/metrics"
)

const keyPrefix = "resume-matcher:embedding:"

// ErrNotFound is returned by a VectorStore for an absent key.
var ErrNotFound = errors.New("vector not cached")

// VectorStore is the storage behind the cache.
type VectorStore interface {
	Get(ctx context.Context, key string) ([]float32, string, error)
	Set(ctx context.Context, key string, vector []float32, model string, ttl time.Duration) error
}

// Embedder wraps another embedder. Cache failures never fail an Embed call.
type Embedder struct {
	next   ai.Embedder
	store  VectorStore
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

func New(next ai.Embedder, store VectorStore, model string, ttl time.Duration, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{next: next, store: store, model: model, ttl: ttl, logger: logger}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := Key(e.model, text)

	vector, model, err := e.store.Get(ctx, key)
	switch {
	case err == nil && model == e.model && len(vector) > 0:
		metrics.ObserveCache("hit")
		e.logger.Debug("embedding cache hit", zap.String("key", key))
		return vector, nil
	case err == nil, errors.Is(err, ErrNotFound):
		metrics.ObserveCache("miss")
	default:
		metrics.ObserveCache("error")
		e.logger.Warn("embedding cache lookup failed", zap.String("key", key), zap.Error(err))
	}

	vector, err = e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := e.store.Set(ctx, key, vector, e.model, e.ttl); err != nil {
		e.logger.Warn("embedding cache store failed", zap.String("key", key), zap.Error(err))
	}

	return vector, nil
}

// Key derives the cache key of a text embedded with model.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return keyPrefix + hex.EncodeToString(sum[:])
}
