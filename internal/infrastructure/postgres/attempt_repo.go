package postgres

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AttemptRepository struct {
	pool *pgxpool.Pool
}

func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func (r *AttemptRepository) CreateAttempt(ctx context.Context, a *domain.AttemptRecord) (*domain.AttemptRecord, error) {
	query := `
		INSERT INTO run_attempts (run_id, attempt_num, started_at)
		VALUES ($1, $2, $3)
		RETURNING id, run_id, attempt_num, started_at,
		          completed_at, exit_code, error, diagnosis, duration_ms`

	row := r.pool.QueryRow(ctx, query, a.RunID, a.AttemptNum, a.StartedAt)
	return scanAttempt(row)
}

func (r *AttemptRepository) CompleteAttempt(ctx context.Context, id string, exitCode *int, errMsg, diagnosis *string, durationMS int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE run_attempts
		SET completed_at = NOW(),
		    exit_code    = $2,
		    error        = $3,
		    diagnosis    = $4,
		    duration_ms  = $5
		WHERE id = $1`,
		id, exitCode, errMsg, diagnosis, durationMS,
	)
	if err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) ListByRunID(ctx context.Context, runID string) ([]*domain.AttemptRecord, error) {
	query := `
		SELECT id, run_id, attempt_num, started_at,
		       completed_at, exit_code, error, diagnosis, duration_ms
		FROM run_attempts
		WHERE run_id = $1
		ORDER BY attempt_num ASC`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.AttemptRecord
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

func scanAttempt(row rowScanner) (*domain.AttemptRecord, error) {
	var a domain.AttemptRecord
	err := row.Scan(
		&a.ID, &a.RunID, &a.AttemptNum, &a.StartedAt,
		&a.CompletedAt, &a.ExitCode, &a.Error, &a.Diagnosis, &a.DurationMS,
	)
	if err != nil {
		return nil, fmt.Errorf("scan attempt: %w", err)
	}
	return &a, nil
}
