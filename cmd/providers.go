package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/ai/gemini"
	"github.com/spigell/resume-matcher/internal/ai/openai"
	"github.com/spigell/resume-matcher/internal/ai/remote"
	"github.com/spigell/resume-matcher/internal/embedcache"
	"github.com/spigell/resume-matcher/internal/filtering"
	"github.com/spigell/resume-matcher/internal/logger"
	"github.com/spigell/resume-matcher/internal/matching"
	"github.com/spigell/resume-matcher/internal/secrets"
	"github.com/spigell/resume-matcher/internal/server"
	"github.com/spigell/resume-matcher/internal/session"
	"github.com/spigell/resume-matcher/internal/store"
	"github.com/spigell/resume-matcher/internal/stream"
)

const (
	providerGemini = "gemini"
	providerOpenAI = "openai"
	providerRemote = "remote"

	driverPostgres = "postgres"
	driverMemory   = "memory"
)

// corpus is what the commands need from a store backend.
type corpus interface {
	matching.Store
	server.CompanyLister
}

type modelNamer interface {
	Model() string
}

// stack holds the wired components of one process.
type stack struct {
	extractor ai.Extractor
	matcher   *matching.Matcher
	corpus    corpus
	dates     filtering.DateNormalizer
	logger    *zap.Logger
	closers   []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *stack) newSession() (*session.Session, error) {
	return session.New(s.extractor, s.matcher, filtering.NewApplier(s.dates, s.logger), s.logger)
}

func newStack(ctx context.Context, config *Config, log *zap.Logger) (*stack, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	s := &stack{
		dates:  newDateNormalizer(config.Filter, log),
		logger: log,
	}

	var err error
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.extractor, err = newExtractor(ctx, config, log)
	if err != nil {
		return nil, fmt.Errorf("building extractor: %w", err)
	}

	embedder, err := newEmbedder(ctx, config, log)
	if err != nil {
		return nil, fmt.Errorf("building embedder: %w", err)
	}

	if config.Cache != nil && config.Cache.Enabled {
		var cached ai.Embedder
		cached, err = withCache(ctx, config.Cache, embedder, s, log)
		if err != nil {
			return nil, fmt.Errorf("building embedding cache: %w", err)
		}
		embedder = cached
	}

	s.corpus, err = newCorpus(ctx, config.Store, s, log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s.matcher, err = matching.New(embedder, s.corpus, log)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func newDateNormalizer(cfg *FilterConfig, log *zap.Logger) filtering.DateNormalizer {
	if cfg == nil || cfg.ReferenceYear == 0 {
		return filtering.DateNormalizer{}
	}

	log.Warn("dates are rebased to a reference year",
		zap.Int("reference_year", cfg.ReferenceYear),
		zap.String("hint", "unset filter.reference-year to filter against the real calendar"),
	)

	return filtering.DateNormalizer{ReferenceYear: cfg.ReferenceYear}
}

func newExtractor(ctx context.Context, config *Config, log *zap.Logger) (ai.Extractor, error) {
	extraction := config.Extraction
	if extraction == nil {
		extraction = &ExtractionConfig{}
	}

	provider := strings.ToLower(strings.TrimSpace(extraction.Provider))
	if provider == "" {
		provider = providerGemini
	}

	switch provider {
	case providerGemini:
		cfg := geminiConfig(config)
		client, err := newGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return gemini.NewExtractor(client, cfg.Model, extraction.MaxLogLength, logger.WithProvider(log, providerGemini, cfg.Model))
	case providerOpenAI:
		cfg := openAIConfig(config)
		client, err := newOpenAIClient(cfg)
		if err != nil {
			return nil, err
		}
		return openai.NewExtractor(client, cfg.Model, extraction.MaxLogLength, logger.WithProvider(log, providerOpenAI, cfg.Model))
	case providerRemote:
		cfg := config.Remote
		if cfg == nil {
			return nil, errors.New("remote section is required for the remote provider")
		}

		token, err := secrets.LoadOptional(secrets.Source{Name: "remote token", Value: cfg.Token, File: cfg.TokenFile})
		if err != nil {
			return nil, err
		}

		framing, err := stream.ParseFraming(cfg.Framing)
		if err != nil {
			return nil, err
		}

		return remote.New(cfg.URL, token, framing, logger.WithProvider(log, providerRemote, ""))
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %s", extraction.Provider)
	}
}

func newEmbedder(ctx context.Context, config *Config, log *zap.Logger) (ai.Embedder, error) {
	provider := providerGemini
	if config.Embedding != nil && strings.TrimSpace(config.Embedding.Provider) != "" {
		provider = strings.ToLower(strings.TrimSpace(config.Embedding.Provider))
	}

	switch provider {
	case providerGemini:
		cfg := geminiConfig(config)
		client, err := newGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return gemini.NewEmbedder(client, cfg.EmbeddingModel, logger.WithProvider(log, providerGemini, cfg.EmbeddingModel))
	case providerOpenAI:
		cfg := openAIConfig(config)
		client, err := newOpenAIClient(cfg)
		if err != nil {
			return nil, err
		}
		return openai.NewEmbedder(client, cfg.EmbeddingModel, logger.WithProvider(log, providerOpenAI, cfg.EmbeddingModel))
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", provider)
	}
}

func withCache(ctx context.Context, cfg *CacheConfig, next ai.Embedder, s *stack, log *zap.Logger) (ai.Embedder, error) {
	password, err := secrets.LoadOptional(secrets.Source{Name: "redis password", Value: cfg.Password, File: cfg.PasswordFile})
	if err != nil {
		return nil, err
	}

	redisStore, err := embedcache.NewRedisStore(ctx, embedcache.Options{
		Address:  cfg.Address,
		Password: password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = redisStore.Close() })

	model := ""
	if named, ok := next.(modelNamer); ok {
		model = named.Model()
	}

	log.Info("embedding cache enabled", zap.String("address", cfg.Address), zap.Duration("ttl", cfg.TTL))

	return embedcache.New(next, redisStore, model, cfg.TTL, logger.WithProvider(log, "", model)), nil
}

func newCorpus(ctx context.Context, cfg *StoreConfig, s *stack, log *zap.Logger) (corpus, error) {
	if cfg == nil {
		cfg = &StoreConfig{}
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = driverPostgres
	}

	switch driver {
	case driverPostgres:
		pg, err := connectPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pg.Close)
		return pg, nil
	case driverMemory:
		weights := cfg.Weights
		if weights == (store.Weights{}) {
			weights = store.EqualWeights()
		}
		return store.LoadMemory(cfg.CorpusFile, weights, log)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

func connectPostgres(ctx context.Context, cfg *StoreConfig, log *zap.Logger) (*store.Postgres, error) {
	if cfg == nil {
		cfg = &StoreConfig{}
	}

	url, err := secrets.Load(secrets.Source{
		Name:  "database url",
		Value: cfg.DatabaseURL,
		File:  cfg.DatabaseURLFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set DATABASE_URL or store.database-url-file)", err)
	}

	return store.Connect(ctx, url, log)
}

func geminiConfig(config *Config) *GeminiConfig {
	if config.Gemini == nil {
		return &GeminiConfig{}
	}
	return config.Gemini
}

func openAIConfig(config *Config) *OpenAIConfig {
	if config.OpenAI == nil {
		return &OpenAIConfig{}
	}
	return config.OpenAI
}

func newGeminiClient(ctx context.Context, cfg *GeminiConfig) (*genai.Client, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set GEMINI_API_KEY or gemini.api-key-file)", err)
	}

	return gemini.NewClient(ctx, apiKey)
}

func newOpenAIClient(cfg *OpenAIConfig) (*openaisdk.Client, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "openai api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set OPENAI_API_KEY or openai.api-key-file)", err)
	}

	return openai.NewClient(apiKey, cfg.BaseURL)
}
