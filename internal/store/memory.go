package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/posting"
)

// Weights of the facet similarities in the composite score.
type Weights struct {
	Description     float64 `mapstructure:"description"`
	TechnicalSkills float64 `mapstructure:"technical-skills"`
	SoftSkills      float64 `mapstructure:"soft-skills"`
}

// EqualWeights averages the three facets.
func EqualWeights() Weights {
	return Weights{Description: 1, TechnicalSkills: 1, SoftSkills: 1}
}

func (w Weights) validate() error {
	if w.Description < 0 || w.TechnicalSkills < 0 || w.SoftSkills < 0 {
		return errors.New("weights must not be negative")
	}
	if w.Description+w.TechnicalSkills+w.SoftSkills == 0 {
		return errors.New("at least one weight must be positive")
	}
	return nil
}

// CorpusEntry is one posting of a corpus file with its precomputed facet
// embeddings.
type CorpusEntry struct {
	posting.Posting
	CompanyID  string           `json:"company_id"`
	Embeddings CorpusEmbeddings `json:"embeddings"`
}

type CorpusEmbeddings struct {
	Description     []float32 `json:"description"`
	TechnicalSkills []float32 `json:"technical_skills"`
	SoftSkills      []float32 `json:"soft_skills"`
}

// Memory scores a corpus held in memory by weighted cosine similarity.
type Memory struct {
	entries []CorpusEntry
	weights Weights
	logger  *zap.Logger
}

func NewMemory(entries []CorpusEntry, weights Weights, logger *zap.Logger) (*Memory, error) {
	if err := weights.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{entries: entries, weights: weights, logger: logger}, nil
}

// LoadMemory reads a JSON array of corpus entries.
func LoadMemory(path string, weights Weights, logger *zap.Logger) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}

	var entries []CorpusEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode corpus file: %w", err)
	}

	m, err := NewMemory(entries, weights, logger)
	if err != nil {
		return nil, err
	}
	m.logger.Info("corpus loaded", zap.String("path", path), zap.Int("postings", len(entries)))
	return m, nil
}

func (m *Memory) MatchJobs(ctx context.Context, description, technicalSkills, softSkills []float32) ([]posting.RankedMatch, error) {
	total := m.weights.Description + m.weights.TechnicalSkills + m.weights.SoftSkills

	matches := make([]posting.RankedMatch, 0, len(m.entries))
	for _, entry := range m.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d, err := cosine(description, entry.Embeddings.Description)
		if err != nil {
			return nil, fmt.Errorf("posting %s description: %w", entry.ID, err)
		}
		t, err := cosine(technicalSkills, entry.Embeddings.TechnicalSkills)
		if err != nil {
			return nil, fmt.Errorf("posting %s technical skills: %w", entry.ID, err)
		}
		s, err := cosine(softSkills, entry.Embeddings.SoftSkills)
		if err != nil {
			return nil, fmt.Errorf("posting %s soft skills: %w", entry.ID, err)
		}

		score := (m.weights.Description*d + m.weights.TechnicalSkills*t + m.weights.SoftSkills*s) / total
		matches = append(matches, posting.RankedMatch{Posting: entry.Posting, SimilarityScore: score})
	}

	return matches, nil
}

// ListCompanies returns the companies of the corpus ordered by name. Entries
// without a company id use the name as id.
func (m *Memory) ListCompanies(_ context.Context) ([]posting.Company, error) {
	companies := make([]posting.Company, 0, len(m.entries))
	for _, entry := range m.entries {
		if entry.CompanyName == "" {
			continue
		}
		id := entry.CompanyID
		if id == "" {
			id = entry.CompanyName
		}
		companies = append(companies, posting.Company{ID: id, Name: entry.CompanyName})
	}
	return posting.DedupeCompanies(companies), nil
}

// cosine of two vectors of the same dimension. A zero vector scores 0.
func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension %d does not match query dimension %d", len(b), len(a))
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
