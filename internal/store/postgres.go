package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayush/factcheck-agent/internal/models"
)

// ErrNotFound is returned when a lookup matches no row or document.
var ErrNotFound = errors.New("not found")

// PostgresStore persists research results, speaker profiles and API keys.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS speaker_profiles (
		id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name              TEXT        NOT NULL,
		name_normalized   TEXT        NOT NULL UNIQUE,
		type              VARCHAR(20) NOT NULL DEFAULT 'person'
		                  CHECK (type IN ('person', 'media', 'organization')),
		country           VARCHAR(8),
		party             TEXT,
		position          TEXT,
		credibility_score SMALLINT    NOT NULL DEFAULT 0
		                  CHECK (credibility_score BETWEEN 0 AND 100),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS research_results (
		id               UUID PRIMARY KEY,
		fingerprint      CHAR(64)    NOT NULL,
		statement        TEXT        NOT NULL,
		source           TEXT,
		request_datetime TIMESTAMPTZ NOT NULL,
		statement_date   DATE,
		country          VARCHAR(8),
		category         VARCHAR(32),
		status           VARCHAR(32) NOT NULL CHECK (status IN (
		                     'TRUE', 'FACTUAL_ERROR', 'DECEPTIVE_LIE', 'MANIPULATIVE',
		                     'PARTIALLY_TRUE', 'OUT_OF_CONTEXT', 'UNVERIFIABLE')),
		verdict          TEXT        NOT NULL,
		confidence_score SMALLINT    NOT NULL CHECK (confidence_score BETWEEN 0 AND 100),
		research_method  TEXT        NOT NULL,
		tri_factor       BOOLEAN     NOT NULL DEFAULT FALSE,
		profile_id       UUID REFERENCES speaker_profiles(id),
		payload          JSONB       NOT NULL,
		search_vector    TSVECTOR GENERATED ALWAYS AS (
		                     to_tsvector('english',
		                         coalesce(statement, '') || ' ' ||
		                         coalesce(source, '') || ' ' ||
		                         coalesce(verdict, ''))
		                 ) STORED,
		processed_at     TIMESTAMPTZ NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS research_results_fingerprint_idx ON research_results (fingerprint, created_at)`,
	`CREATE INDEX IF NOT EXISTS research_results_search_idx ON research_results USING GIN (search_vector)`,
	`CREATE INDEX IF NOT EXISTS research_results_status_idx ON research_results (status)`,
	`CREATE INDEX IF NOT EXISTS research_results_profile_idx ON research_results (profile_id)`,
	`CREATE INDEX IF NOT EXISTS research_results_created_idx ON research_results (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id           UUID PRIMARY KEY,
		name         VARCHAR(100) NOT NULL,
		hash         VARCHAR(255) NOT NULL,
		created_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		revoked_at   TIMESTAMPTZ
	)`,
}

// Migrate creates the tables and indexes if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertResult writes a research result in a single statement. The caller
// assigns res.ID; CreatedAt is filled from the database.
func (s *PostgresStore) InsertResult(ctx context.Context, res *models.ResearchResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("insert result: encode payload: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO research_results (
			id, fingerprint, statement, source, request_datetime, statement_date,
			country, category, status, verdict, confidence_score, research_method,
			tri_factor, profile_id, payload, processed_at
		 ) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, '')::date,
			NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12,
			$13, $14::uuid, $15, $16
		 )
		 RETURNING created_at`,
		res.ID, res.Fingerprint, res.Statement, res.Source, res.Datetime, res.StatementDate,
		res.Country, string(res.Category), string(res.Status), res.Verdict, res.ConfidenceScore, res.ResearchMethod,
		res.IsTriFactor(), res.ProfileID, payload, res.ProcessedAt,
	).Scan(&res.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResult loads a research result by id.
func (s *PostgresStore) GetResult(ctx context.Context, id string) (*models.ResearchResult, error) {
	var (
		payload []byte
		res     models.ResearchResult
	)
	err := s.pool.QueryRow(ctx,
		`SELECT payload, created_at FROM research_results WHERE id = $1::uuid`, id,
	).Scan(&payload, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	createdAt := res.CreatedAt
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("get result: decode payload: %w", err)
	}
	res.ID = id
	res.CreatedAt = createdAt
	return &res, nil
}

// FindByFingerprint returns the id of the oldest result with the fingerprint.
func (s *PostgresStore) FindByFingerprint(ctx context.Context, fingerprint string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id::text FROM research_results
		 WHERE fingerprint = $1
		 ORDER BY created_at ASC
		 LIMIT 1`, fingerprint,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find fingerprint: %w", err)
	}
	return id, true, nil
}

// SearchResults runs a filtered full-text search ordered by relevance then
// recency.
func (s *PostgresStore) SearchResults(ctx context.Context, q models.SearchQuery) (*models.SearchPage, error) {
	var (
		where = []string{"TRUE"}
		args  []any
		order = "created_at DESC"
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Search != "" {
		p := arg(q.Search)
		where = append(where, "search_vector @@ plainto_tsquery('english', "+p+")")
		order = "ts_rank(search_vector, plainto_tsquery('english', " + p + ")) DESC, created_at DESC"
	}
	if q.Status != "" {
		where = append(where, "status = "+arg(string(q.Status)))
	}
	if q.Country != "" {
		where = append(where, "lower(country) = lower("+arg(q.Country)+")")
	}
	if q.Category != "" {
		where = append(where, "category = "+arg(q.Category))
	}
	if q.ProfileID != "" {
		where = append(where, "profile_id = "+arg(q.ProfileID)+"::uuid")
	}
	if q.TriFactorOnly {
		where = append(where, "tri_factor")
	}

	sql := fmt.Sprintf(
		`SELECT id::text, payload, created_at,
		        count(*) OVER (),
		        count(*) FILTER (WHERE tri_factor) OVER ()
		 FROM research_results
		 WHERE %s
		 ORDER BY %s
		 LIMIT %s OFFSET %s`,
		strings.Join(where, " AND "), order, arg(q.Limit), arg(q.Offset),
	)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search results: %w", err)
	}
	defer rows.Close()

	page := &models.SearchPage{Results: []models.ResearchResult{}}
	for rows.Next() {
		var (
			id        string
			payload   []byte
			res       models.ResearchResult
			createdAt time.Time
		)
		if err := rows.Scan(&id, &payload, &createdAt, &page.Total, &page.TriFactorCount); err != nil {
			return nil, fmt.Errorf("search results: scan: %w", err)
		}
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("search results: decode payload: %w", err)
		}
		res.ID = id
		res.CreatedAt = createdAt
		page.Results = append(page.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search results: %w", err)
	}
	return page, nil
}
