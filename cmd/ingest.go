package cmd

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/logger"
	"github.com/spigell/resume-matcher/internal/scraper"
	"github.com/spigell/resume-matcher/internal/secrets"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load postings from the internship listings README into the corpus database",
	Run: func(cmd *cobra.Command, _ []string) {
		ingest(cmd)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Bool("only-today", false, "only ingest postings dated today")
	ingestCmd.Flags().Bool("dry-run", false, "parse the listings without writing to the database")
	ingestCmd.Flags().String("readme-url", "", "contents API url of the listings README")

	viper.BindPFlag("ingest.readme-url", ingestCmd.Flags().Lookup("readme-url"))
}

func ingest(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	cfg := config.Ingest
	if cfg == nil {
		cfg = &IngestConfig{}
	}

	url := strings.TrimSpace(cfg.ReadmeURL)
	if url == "" {
		url = scraper.DefaultReadmeURL
	}

	// The contents API works without a token at a lower rate limit.
	token, err := secrets.LoadOptional(secrets.Source{Name: "github token", Value: cfg.GitHubToken, File: cfg.GitHubTokenFile})
	if err != nil {
		logger.Fatal("loading github token", zap.Error(err),
			zap.String("hint", "set GITHUB_TOKEN or ingest.github-token-file"),
		)
	}

	readme, err := scraper.New(url, token, logger).FetchReadme(ctx)
	if err != nil {
		logger.Fatal("fetching listings", zap.Error(err), zap.String("url", url))
	}

	rows, err := scraper.ParseTable(readme)
	if err != nil {
		logger.Fatal("parsing listings", zap.Error(err))
	}

	logger.Info("parsed listings", zap.Int("rows", len(rows)))

	dates := newDateNormalizer(config.Filter, logger)

	if cmd.Flag("only-today").Value.String() == "true" {
		rows = scraper.PostedOn(rows, time.Now(), dates)
		logger.Info("keeping postings of today", zap.Int("rows", len(rows)))
	}

	if cmd.Flag("dry-run").Value.String() == "true" {
		for _, row := range rows {
			logger.Info("posting",
				zap.String("company", row.Company),
				zap.String("role", row.Role),
				zap.String("date_posted", row.DatePosted),
			)
		}
		return
	}

	pg, err := connectPostgres(ctx, config.Store, logger)
	if err != nil {
		logger.Fatal("opening store", zap.Error(err))
	}
	defer pg.Close()

	report, err := scraper.Ingest(ctx, rows, pg, dates, logger)
	if err != nil {
		logger.Fatal("ingesting postings", zap.Error(err))
	}

	logger.Info("ingest finished",
		zap.Int("rows", report.Rows),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
}
