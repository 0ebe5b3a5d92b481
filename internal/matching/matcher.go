// Package matching embeds a profile and ranks corpus postings by similarity.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/metrics"
	"github.com/spigell/resume-matcher/internal/posting"
	"github.com/spigell/resume-matcher/internal/profile"
)

// Facet is a profile field embedded and scored on its own.
type Facet string

const (
	FacetDescription     Facet = "description"
	FacetTechnicalSkills Facet = "technical_skills"
	FacetSoftSkills      Facet = "soft_skills"
)

var (
	// ErrEmbeddingFailure means at least one facet embedding call failed.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrInvalidEmbeddingShape means a provider answered with an unusable vector.
	ErrInvalidEmbeddingShape = errors.New("invalid embedding shape")
	// ErrStoreQueryFailure means the similarity store query failed.
	ErrStoreQueryFailure = errors.New("store query failure")
)

// Store runs one similarity query over the corpus with the three facet vectors.
type Store interface {
	MatchJobs(ctx context.Context, description, technicalSkills, softSkills []float32) ([]posting.RankedMatch, error)
}

type Matcher struct {
	embedder ai.Embedder
	store    Store
	logger   *zap.Logger
}

func New(embedder ai.Embedder, store Store, logger *zap.Logger) (*Matcher, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{embedder: embedder, store: store, logger: logger}, nil
}

// Match embeds the three facets concurrently, queries the store once and
// returns the postings ranked by score. Any embedding failure fails the whole
// call before the store is queried. Nothing is retried.
func (m *Matcher) Match(ctx context.Context, p *profile.Profile) (posting.Matches, error) {
	start := time.Now()

	matches, err := m.match(ctx, p)

	result := "ok"
	switch {
	case errors.Is(err, ErrEmbeddingFailure):
		result = "embedding_failure"
	case errors.Is(err, ErrInvalidEmbeddingShape):
		result = "invalid_embedding_shape"
	case errors.Is(err, ErrStoreQueryFailure):
		result = "store_query_failure"
	case err != nil:
		result = "error"
	}
	metrics.ObserveMatch(result, time.Since(start))

	return matches, err
}

func (m *Matcher) match(ctx context.Context, p *profile.Profile) (posting.Matches, error) {
	if p == nil {
		return posting.Matches{}, errors.New("profile is required")
	}

	facets := [3]Facet{FacetDescription, FacetTechnicalSkills, FacetSoftSkills}
	texts := [3]string{p.Description, p.TechnicalSkills, p.SoftSkills}
	var vectors [3][]float32

	g, gctx := errgroup.WithContext(ctx)
	for i := range facets {
		g.Go(func() error {
			vec, err := m.embedder.Embed(gctx, texts[i])
			if err != nil {
				if errors.Is(err, ai.ErrInvalidEmbeddingShape) {
					return fmt.Errorf("%w: %s: %w", ErrInvalidEmbeddingShape, facets[i], err)
				}
				return fmt.Errorf("%w: %s: %w", ErrEmbeddingFailure, facets[i], err)
			}
			if err := validateVector(vec); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalidEmbeddingShape, facets[i], err)
			}
			vectors[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.logger.Warn("embedding profile facets failed", zap.Error(err))
		return posting.Matches{}, err
	}

	dimension := len(vectors[0])
	for i, vec := range vectors {
		if len(vec) != dimension {
			return posting.Matches{}, fmt.Errorf("%w: %s has dimension %d, expected %d",
				ErrInvalidEmbeddingShape, facets[i], len(vec), dimension)
		}
	}

	m.logger.Debug("profile facets embedded",
		zap.Int("dimension", dimension),
		zap.Int("description_length", len(texts[0])),
		zap.Int("technical_skills_length", len(texts[1])),
		zap.Int("soft_skills_length", len(texts[2])),
	)

	results, err := m.store.MatchJobs(ctx, vectors[0], vectors[1], vectors[2])
	if err != nil {
		return posting.Matches{}, fmt.Errorf("%w: %w", ErrStoreQueryFailure, err)
	}

	ranked := Rank(results)
	m.logger.Info("matched postings", zap.Int("count", len(ranked)))

	return posting.Matches{Items: ranked}, nil
}

func validateVector(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("empty vector")
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite value at index %d", i)
		}
	}
	return nil
}
