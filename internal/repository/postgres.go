package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
)

// PostgresSessionRepository handles session persistence in PostgreSQL
type PostgresSessionRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresSessionRepository creates a new session repository
func NewPostgresSessionRepository(db *pgxpool.Pool, logger *logrus.Logger) *PostgresSessionRepository {
	return &PostgresSessionRepository{
		db:  db,
		log: logger,
	}
}

// Get retrieves a session by its ID
func (r *PostgresSessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT data FROM sessions WHERE id = $1`

	var data []byte
	if err := r.db.QueryRow(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"session_id": id,
			"error":      err,
		}).Error("Failed to get session")
		return nil, fmt.Errorf("getting session: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &s, nil
}

// Put inserts or updates a session
func (r *PostgresSessionRepository) Put(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	query := `
		INSERT INTO sessions (
			id, status, current_step, total_expected_steps, failure_reason, data, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step = EXCLUDED.current_step,
			total_expected_steps = EXCLUDED.total_expected_steps,
			failure_reason = EXCLUDED.failure_reason,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.Exec(ctx, query,
		session.ID,
		string(session.Status),
		session.CurrentStep,
		session.TotalExpectedSteps,
		session.FailureReason,
		data,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": session.ID,
			"error":      err,
		}).Error("Failed to store session")
		return fmt.Errorf("storing session: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"status":     session.Status,
	}).Debug("Session stored")
	return nil
}

// Delete removes a session
func (r *PostgresSessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CountByStatus returns the number of sessions in each status
func (r *PostgresSessionRepository) CountByStatus(ctx context.Context) (map[domain.SessionStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SessionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning session count: %w", err)
		}
		counts[domain.SessionStatus(status)] = n
	}
	return counts, rows.Err()
}
