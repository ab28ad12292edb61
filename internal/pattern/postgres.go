package pattern

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/supplement-advisor-server/internal/domain"
)

// PostgresRepository persists patterns in PostgreSQL. The table is created by
// the migrations in migrations/.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an open connection.
func NewPostgresRepository(db *sql.DB) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{db: db}, nil
}

// NewPostgresRepositoryFromURL opens a connection pool from a URL.
func NewPostgresRepositoryFromURL(databaseURL string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	repo, err := NewPostgresRepository(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Save upserts a pattern by id.
func (r *PostgresRepository) Save(ctx context.Context, p *domain.Pattern) error {
	entities, ctxJSON, feedback, err := encodeColumns(p)
	if err != nil {
		return err
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now()
	}

	query := `
		INSERT INTO patterns (` + patternColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			entities = EXCLUDED.entities,
			effect = EXCLUDED.effect,
			severity = EXCLUDED.severity,
			description = EXCLUDED.description,
			confidence = EXCLUDED.confidence,
			frequency = EXCLUDED.frequency,
			context = EXCLUDED.context,
			feedback_history = EXCLUDED.feedback_history,
			last_updated = EXCLUDED.last_updated
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID, string(p.Type), string(entities), p.Effect, string(p.Severity), p.Description,
		p.Confidence, p.Frequency, string(ctxJSON), string(feedback), p.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

// Get returns the pattern with the given id, or nil.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*domain.Pattern, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = $1`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return p, nil
}

// List returns patterns ordered by type and id.
func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]*domain.Pattern, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM patterns
		ORDER BY type, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var result []*domain.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Count returns the number of stored patterns.
func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patterns").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count patterns: %w", err)
	}
	return count, nil
}

// ExportJSON writes every pattern to writer.
func (r *PostgresRepository) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, r, writer)
}

// ImportJSON stores patterns from an export, skipping known ids.
func (r *PostgresRepository) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, r, reader)
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
