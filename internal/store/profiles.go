package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ayush/factcheck-agent/internal/models"
)

const profileColumns = `id::text, name, name_normalized, type,
	COALESCE(country, ''), COALESCE(party, ''), COALESCE(position, ''),
	credibility_score, created_at, updated_at`

func scanProfile(row pgx.Row) (*models.SpeakerProfile, error) {
	var p models.SpeakerProfile
	err := row.Scan(&p.ID, &p.Name, &p.NameNormalized, &p.Type,
		&p.Country, &p.Party, &p.Position,
		&p.CredibilityScore, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrCreateProfile returns the profile for normalized, inserting it with
// default type and score on first sighting. Concurrent callers converge on
// the row that won the unique constraint.
func (s *PostgresStore) GetOrCreateProfile(ctx context.Context, name, normalized string) (*models.SpeakerProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`INSERT INTO speaker_profiles (name, name_normalized)
		 VALUES ($1, $2)
		 ON CONFLICT (name_normalized) DO NOTHING
		 RETURNING `+profileColumns,
		name, normalized,
	))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	p, err = scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM speaker_profiles WHERE name_normalized = $1`, normalized,
	))
	if err != nil {
		return nil, fmt.Errorf("get profile %q: %w", normalized, err)
	}
	return p, nil
}

// GetProfile loads a profile by id.
func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*models.SpeakerProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM speaker_profiles WHERE id = $1::uuid`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match itself literally inside a LIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// FindProfiles lists profiles whose normalized name contains fragment.
// '%' and '_' in fragment match literally.
func (s *PostgresStore) FindProfiles(ctx context.Context, fragment string, limit int) ([]models.SpeakerProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM speaker_profiles
		 WHERE name_normalized LIKE '%' || $1 || '%' ESCAPE '\'
		 ORDER BY name_normalized
		 LIMIT $2`, escapeLike(fragment), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find profiles: %w", err)
	}
	defer rows.Close()

	profiles := []models.SpeakerProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("find profiles: scan: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// ErrConflict is returned when an update collides with a unique constraint.
var ErrConflict = errors.New("conflict")

// UpdateProfile applies the non-nil fields of upd and returns the updated
// row, or ErrNotFound.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) (*models.SpeakerProfile, error) {
	var typ *string
	if upd.Type != nil {
		t := string(*upd.Type)
		typ = &t
	}
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`UPDATE speaker_profiles SET
			name              = COALESCE($2, name),
			name_normalized   = COALESCE($3, name_normalized),
			type              = COALESCE($4, type),
			country           = COALESCE($5, country),
			party             = COALESCE($6, party),
			position          = COALESCE($7, position),
			credibility_score = COALESCE($8, credibility_score),
			updated_at        = NOW()
		 WHERE id = $1::uuid
		 RETURNING `+profileColumns,
		id, upd.Name, upd.NameNormalized, typ, upd.Country, upd.Party, upd.Position, upd.CredibilityScore,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return p, nil
}

const recentStatementLimit = 10

// ProfileStats returns the latest statements attributed to a profile and
// its status and category breakdowns, or ErrNotFound.
func (s *PostgresStore) ProfileStats(ctx context.Context, id string) (*models.ProfileStats, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM speaker_profiles WHERE id = $1::uuid)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("profile stats: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	stats := &models.ProfileStats{
		ProfileID:        id,
		RecentStatements: []models.ProfileStatement{},
		Stats: models.StatementStats{
			Categories:      []models.CategoryCount{},
			StatusBreakdown: map[string]int{},
		},
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, statement, verdict, status, payload->>'correction',
		        COALESCE(country, ''), COALESCE(category, ''), processed_at
		 FROM research_results
		 WHERE profile_id = $1::uuid
		 ORDER BY processed_at DESC
		 LIMIT $2`, id, recentStatementLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("profile stats: recent: %w", err)
	}
	for rows.Next() {
		var st models.ProfileStatement
		if err := rows.Scan(&st.ID, &st.Statement, &st.Verdict, &st.Status, &st.Correction,
			&st.Country, &st.Category, &st.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("profile stats: scan recent: %w", err)
		}
		stats.RecentStatements = append(stats.RecentStatements, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile stats: recent: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT status, count(*) FROM research_results
		 WHERE profile_id = $1::uuid
		 GROUP BY status`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("profile stats: statuses: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("profile stats: scan status: %w", err)
		}
		stats.Stats.StatusBreakdown[status] = n
		stats.Stats.TotalStatements += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile stats: statuses: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT COALESCE(NULLIF(category, ''), 'other') AS c, count(*) AS n FROM research_results
		 WHERE profile_id = $1::uuid
		 GROUP BY c
		 ORDER BY n DESC, c`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("profile stats: categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cc models.CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, fmt.Errorf("profile stats: scan category: %w", err)
		}
		stats.Stats.Categories = append(stats.Stats.Categories, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile stats: categories: %w", err)
	}
	return stats, nil
}
