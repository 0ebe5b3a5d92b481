// Package store holds the corpus backends answering similarity queries.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/posting"
)

const matchJobsQuery = `SELECT
	id::text,
	coalesce(title, ''),
	coalesce(company_name, ''),
	coalesce(location, ''),
	coalesce(application_url, ''),
	coalesce(job_description, ''),
	coalesce(technical_skills, ''),
	coalesce(soft_skills, ''),
	coalesce(experience_level, ''),
	coalesce(date_posted::text, ''),
	similarity_score::float8
FROM match_jobs(
	input_description_embedding => $1,
	input_technical_skills_embedding => $2,
	input_soft_skills_embedding => $3
)`

// Postgres runs the match_jobs function of the corpus database.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect opens a pool and registers the vector type on every connection.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// MatchJobs issues one match_jobs call. Rows come back in store order.
func (p *Postgres) MatchJobs(ctx context.Context, description, technicalSkills, softSkills []float32) ([]posting.RankedMatch, error) {
	rows, err := p.pool.Query(ctx, matchJobsQuery,
		pgvector.NewVector(description),
		pgvector.NewVector(technicalSkills),
		pgvector.NewVector(softSkills),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query match_jobs: %w", err)
	}
	defer rows.Close()

	matches := make([]posting.RankedMatch, 0)
	for rows.Next() {
		var m posting.RankedMatch
		if err := rows.Scan(
			&m.ID,
			&m.Title,
			&m.CompanyName,
			&m.Location,
			&m.ApplicationURL,
			&m.JobDescription,
			&m.TechnicalSkills,
			&m.SoftSkills,
			&m.ExperienceLevel,
			&m.DatePosted,
			&m.SimilarityScore,
		); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read matches: %w", err)
	}

	p.logger.Debug("match_jobs answered", zap.Int("rows", len(matches)))

	return matches, nil
}

// ListCompanies returns the company facet ordered by name, one entry per name.
func (p *Postgres) ListCompanies(ctx context.Context) ([]posting.Company, error) {
	rows, err := p.pool.Query(ctx, `SELECT id::text, name FROM companies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	companies, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (posting.Company, error) {
		var c posting.Company
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan companies: %w", err)
	}
	return posting.DedupeCompanies(companies), nil
}

// UpsertCompany creates the company or refreshes it and returns its id.
// An empty website keeps the stored one.
func (p *Postgres) UpsertCompany(ctx context.Context, name, websiteURL string) (string, error) {
	if name == "" {
		return "", errors.New("company name cannot be empty")
	}

	var website *string
	if websiteURL != "" {
		website = &websiteURL
	}

	var id string
	err := p.pool.QueryRow(ctx,
		`INSERT INTO companies (name, website_url, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO UPDATE SET
		   website_url = coalesce(EXCLUDED.website_url, companies.website_url),
		   updated_at = NOW()
		 RETURNING id::text`,
		name, website,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert company %q: %w", name, err)
	}
	return id, nil
}

// InsertPostingIfAbsent inserts the posting unless the company already has one
// with the same title and application URL. It reports whether a row was added.
func (p *Postgres) InsertPostingIfAbsent(ctx context.Context, companyID string, job posting.Posting) (bool, error) {
	var datePosted *string
	if job.DatePosted != "" {
		datePosted = &job.DatePosted
	}

	tag, err := p.pool.Exec(ctx,
		`INSERT INTO jobs (company_id, title, location, application_url, date_posted, updated_at)
		 SELECT c.id, $2, $3, $4, $5::date, NOW()
		 FROM companies c
		 WHERE c.id::text = $1
		   AND NOT EXISTS (
		     SELECT 1 FROM jobs j
		     WHERE j.company_id = c.id AND j.title = $2 AND j.application_url = $4
		   )`,
		companyID, job.Title, job.Location, job.ApplicationURL, datePosted,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert job %q: %w", job.Title, err)
	}
	return tag.RowsAffected() == 1, nil
}
