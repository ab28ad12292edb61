package pattern

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/supplement-advisor-server/internal/domain"
)

// SQLiteRepository persists patterns in a local SQLite file.
type SQLiteRepository struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteRepository opens (and creates if needed) the pattern database at dbPath.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteRepository{db: db, dbPath: dbPath}, nil
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		entities TEXT NOT NULL DEFAULT '[]',
		effect TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL,
		frequency INTEGER NOT NULL DEFAULT 1,
		context TEXT NOT NULL DEFAULT '{}',
		feedback_history TEXT NOT NULL DEFAULT '[]',
		last_updated DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_patterns_type ON patterns(type);
	`
	_, err := db.Exec(schema)
	return err
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPattern scans a row selected with patternColumns.
func scanPattern(s scanner) (*domain.Pattern, error) {
	p := &domain.Pattern{}
	var ptype, severity string
	var entities, ctxJSON, feedback []byte

	err := s.Scan(
		&p.ID, &ptype, &entities, &p.Effect, &severity, &p.Description,
		&p.Confidence, &p.Frequency, &ctxJSON, &feedback, &p.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	p.Type = domain.PatternType(ptype)
	p.Severity = domain.Severity(severity)

	if err := decodeColumns(p, entities, ctxJSON, feedback); err != nil {
		return nil, err
	}
	return p, nil
}

const patternColumns = `id, type, entities, effect, severity, description,
	confidence, frequency, context, feedback_history, last_updated`

// encodeColumns marshals the JSON columns of a pattern.
func encodeColumns(p *domain.Pattern) (entities, ctxJSON, feedback []byte, err error) {
	if entities, err = json.Marshal(nonNilStrings(p.Entities)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode entities: %w", err)
	}
	ctxMap := p.Context
	if ctxMap == nil {
		ctxMap = map[string]any{}
	}
	if ctxJSON, err = json.Marshal(ctxMap); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode context: %w", err)
	}
	history := p.FeedbackHistory
	if history == nil {
		history = []domain.PatternFeedback{}
	}
	if feedback, err = json.Marshal(history); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode feedback: %w", err)
	}
	return entities, ctxJSON, feedback, nil
}

func decodeColumns(p *domain.Pattern, entities, ctxJSON, feedback []byte) error {
	if err := json.Unmarshal(entities, &p.Entities); err != nil {
		return fmt.Errorf("failed to decode entities: %w", err)
	}
	if err := json.Unmarshal(ctxJSON, &p.Context); err != nil {
		return fmt.Errorf("failed to decode context: %w", err)
	}
	if len(p.Context) == 0 {
		p.Context = nil
	}
	if err := json.Unmarshal(feedback, &p.FeedbackHistory); err != nil {
		return fmt.Errorf("failed to decode feedback: %w", err)
	}
	if len(p.FeedbackHistory) == 0 {
		p.FeedbackHistory = nil
	}
	return nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// Save inserts or replaces a pattern.
func (r *SQLiteRepository) Save(ctx context.Context, p *domain.Pattern) error {
	entities, ctxJSON, feedback, err := encodeColumns(p)
	if err != nil {
		return err
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entities = excluded.entities,
			effect = excluded.effect,
			severity = excluded.severity,
			description = excluded.description,
			confidence = excluded.confidence,
			frequency = excluded.frequency,
			context = excluded.context,
			feedback_history = excluded.feedback_history,
			last_updated = excluded.last_updated
	`,
		p.ID, string(p.Type), string(entities), p.Effect, string(p.Severity), p.Description,
		p.Confidence, p.Frequency, string(ctxJSON), string(feedback), p.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

// Get returns the pattern with the given id, or nil.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*domain.Pattern, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return p, nil
}

// List returns patterns ordered by type and id.
func (r *SQLiteRepository) List(ctx context.Context, limit, offset int) ([]*domain.Pattern, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM patterns
		ORDER BY type, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
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
func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patterns").Scan(&count)
	return count, err
}

// ExportJSON writes every pattern to writer.
func (r *SQLiteRepository) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, r, writer)
}

// ImportJSON stores patterns from an export, skipping known ids.
func (r *SQLiteRepository) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, r, reader)
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func exportJSON(ctx context.Context, r Repository, writer io.Writer) error {
	all, err := r.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list patterns: %w", err)
	}

	export := &Export{
		Version:    exportVersion,
		ExportedAt: time.Now(),
		Count:      len(all),
		Patterns:   all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, r Repository, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, p := range export.Patterns {
		if p == nil || !p.Type.IsValid() {
			skipped++
			continue
		}
		existing, err := r.Get(ctx, p.ID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}
		if err := r.Save(ctx, p); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}
	return imported, skipped, nil
}
