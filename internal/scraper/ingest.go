package scraper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/filtering"
	"github.com/spigell/resume-matcher/internal/posting"
)

// Sink persists scraped companies and postings.
type Sink interface {
	UpsertCompany(ctx context.Context, name, websiteURL string) (string, error)
	InsertPostingIfAbsent(ctx context.Context, companyID string, job posting.Posting) (bool, error)
}

// Report summarizes an ingest run.
type Report struct {
	Rows     int
	Inserted int
	Skipped  int
	Failed   int
}

// PostedOn keeps the rows whose date falls on the civil day of day.
func PostedOn(rows []Row, day time.Time, dates filtering.DateNormalizer) []Row {
	target := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dates.Now = func() time.Time { return target }

	kept := make([]Row, 0, len(rows))
	for _, row := range rows {
		if delta, ok := dates.DayDelta(row.DatePosted); ok && delta == 0 {
			kept = append(kept, row)
		}
	}
	return kept
}

// Ingest stores rows through sink. Rows that fail are logged and counted;
// the run goes on with the next row.
func Ingest(ctx context.Context, rows []Row, sink Sink, dates filtering.DateNormalizer, logger *zap.Logger) (Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	report := Report{Rows: len(rows)}
	companies := make(map[string]string)

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		log := logger.With(zap.String("company", row.Company), zap.String("role", row.Role))

		companyID, ok := companies[row.Company]
		if !ok {
			id, err := sink.UpsertCompany(ctx, row.Company, row.CompanyURL)
			if err != nil {
				log.Warn("upsert company failed", zap.Error(err))
				report.Failed++
				continue
			}
			companies[row.Company] = id
			companyID = id
		}

		job := posting.Posting{
			Title:          row.Role,
			CompanyName:    row.Company,
			Location:       row.Location,
			ApplicationURL: row.ApplicationURL,
		}
		if row.DatePosted != "" {
			if date, ok := dates.Parse(row.DatePosted); ok {
				job.DatePosted = date.Format("2006-01-02")
			} else {
				log.Warn("could not parse posting date", zap.String("date", row.DatePosted))
			}
		}

		inserted, err := sink.InsertPostingIfAbsent(ctx, companyID, job)
		if err != nil {
			log.Warn("insert posting failed", zap.Error(err))
			report.Failed++
			continue
		}
		if !inserted {
			log.Debug("posting already exists, skipping")
			report.Skipped++
			continue
		}
		report.Inserted++
	}

	logger.Info("ingest finished",
		zap.Int("rows", report.Rows),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)

	if report.Failed > 0 && report.Failed == report.Rows {
		return report, fmt.Errorf("all %d rows failed", report.Rows)
	}
	return report, nil
}
