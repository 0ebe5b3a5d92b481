package cmd

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/resume-matcher/internal/server"
	"github.com/spigell/resume-matcher/internal/store"
)

const (
	app       = "resume-matcher"
	envPrefix = "RESUME_MATCHER"
)

type Config struct {
	Extraction *ExtractionConfig `mapstructure:"extraction"`
	Gemini     *GeminiConfig     `mapstructure:"gemini"`
	OpenAI     *OpenAIConfig     `mapstructure:"openai"`
	Remote     *RemoteConfig     `mapstructure:"remote"`
	Embedding  *EmbeddingConfig  `mapstructure:"embedding"`
	Cache      *CacheConfig      `mapstructure:"cache"`
	Store      *StoreConfig      `mapstructure:"store"`
	Filter     *FilterConfig     `mapstructure:"filter"`
	Server     *server.Config    `mapstructure:"server"`
	Ingest     *IngestConfig     `mapstructure:"ingest"`
}

type ExtractionConfig struct {
	Provider     string `mapstructure:"provider"`
	Instructions string `mapstructure:"instructions"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type GeminiConfig struct {
	APIKey         string `mapstructure:"api-key"`
	APIKeyFile     string `mapstructure:"api-key-file"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding-model"`
}

type OpenAIConfig struct {
	APIKey         string `mapstructure:"api-key"`
	APIKeyFile     string `mapstructure:"api-key-file"`
	BaseURL        string `mapstructure:"base-url"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding-model"`
}

type RemoteConfig struct {
	URL       string `mapstructure:"url"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token-file"`
	Framing   string `mapstructure:"framing"`
}

type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"`
}

type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	PasswordFile string        `mapstructure:"password-file"`
	DB           int           `mapstructure:"db"`
	TTL          time.Duration `mapstructure:"ttl"`
}

type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DatabaseURL     string        `mapstructure:"database-url"`
	DatabaseURLFile string        `mapstructure:"database-url-file"`
	CorpusFile      string        `mapstructure:"corpus-file"`
	Weights         store.Weights `mapstructure:"weights"`
}

type FilterConfig struct {
	ReferenceYear int      `mapstructure:"reference-year"`
	Companies     []string `mapstructure:"companies"`
	DateRange     string   `mapstructure:"date-range"`
	Sort          string   `mapstructure:"sort"`
}

type IngestConfig struct {
	ReadmeURL       string `mapstructure:"readme-url"`
	GitHubToken     string `mapstructure:"github-token"`
	GitHubTokenFile string `mapstructure:"github-token-file"`
}

var envReplacer = strings.NewReplacer(".", "_", "-", "_")

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "resume-matcher turns a resume into a structured profile and ranks job postings against it",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is resume-matcher.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults()

	// Well-known variables are accepted next to the prefixed ones.
	bindEnv("gemini.api-key", "GEMINI_API_KEY")
	bindEnv("openai.api-key", "OPENAI_API_KEY")
	bindEnv("store.database-url", "DATABASE_URL")
	bindEnv("ingest.github-token", "GITHUB_TOKEN")
	bindEnv("cache.password", "REDIS_PASSWORD")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(envReplacer)
	viper.AutomaticEnv()
}

func bindEnv(key, env string) {
	if err := viper.BindEnv(key, envName(key), env); err != nil {
		log.Fatalf("binding %s to %s: %s", key, env, err)
	}
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(envReplacer.Replace(key))
}

func setDefaults() {
	viper.SetDefault("extraction.provider", "gemini")
	viper.SetDefault("extraction.instructions", "")
	viper.SetDefault("extraction.max-log-length", 200)

	viper.SetDefault("gemini.api-key-file", "")
	viper.SetDefault("gemini.model", "gemini-2.5-flash")
	viper.SetDefault("gemini.embedding-model", "text-embedding-004")

	viper.SetDefault("openai.api-key-file", "")
	viper.SetDefault("openai.base-url", "")
	viper.SetDefault("openai.model", "gpt-4-turbo-preview")
	viper.SetDefault("openai.embedding-model", "text-embedding-3-small")

	viper.SetDefault("remote.url", "")
	viper.SetDefault("remote.token-file", "")
	viper.SetDefault("remote.framing", "sse")

	viper.SetDefault("embedding.provider", "gemini")

	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.address", "localhost:6379")
	viper.SetDefault("cache.password-file", "")
	viper.SetDefault("cache.db", 0)
	viper.SetDefault("cache.ttl", 24*time.Hour)

	viper.SetDefault("store.driver", "postgres")
	viper.SetDefault("store.database-url-file", "")
	viper.SetDefault("store.corpus-file", "")
	viper.SetDefault("store.weights.description", 1.0)
	viper.SetDefault("store.weights.technical-skills", 1.0)
	viper.SetDefault("store.weights.soft-skills", 1.0)

	viper.SetDefault("filter.reference-year", 0)
	viper.SetDefault("filter.companies", []string{})
	viper.SetDefault("filter.date-range", "all")
	viper.SetDefault("filter.sort", "similarity")

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.allow-origins", []string{})
	viper.SetDefault("server.session-ttl", 30*time.Minute)

	viper.SetDefault("ingest.readme-url", "")
	viper.SetDefault("ingest.github-token-file", "")
}

func initConfig() {
	// The version command works without any configuration.
	if versionCmd.CalledAs() != "" {
		return
	}

	// .env files are optional. Load never overrides a set variable, so the
	// environment wins over .env.local, which wins over .env.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			// We can't proceed if the config file parsed with error.
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
