package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	"github.com/ErlanBelekov/script-runner/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

func (r *RunRepository) Create(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	query := `
		INSERT INTO runs (id, submitted_by, max_attempts, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, submitted_by, max_attempts, status, attempts,
		          last_error, report, created_at, completed_at`

	row := r.pool.QueryRow(ctx, query, run.ID, run.SubmittedBy, run.MaxAttempts, run.Status)
	return scanRun(row)
}

func (r *RunRepository) Finish(ctx context.Context, id string, in repository.FinishRunInput) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET status       = $2,
		    attempts     = $3,
		    last_error   = $4,
		    report       = $5,
		    completed_at = NOW()
		WHERE id = $1 AND completed_at IS NULL`,
		id, in.Status, in.Attempts, in.LastError, in.Report,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	query := `
		SELECT id, submitted_by, max_attempts, status, attempts,
		       last_error, report, created_at, completed_at
		FROM runs
		WHERE id = $1`

	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// MarkAbandoned closes runs a previous process left running. Called once at
// startup, before any new run is accepted.
func (r *RunRepository) MarkAbandoned(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET status       = 'cancelled',
		    last_error   = 'server restarted while the run was in progress',
		    completed_at = NOW()
		WHERE completed_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("mark abandoned runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	err := row.Scan(
		&run.ID, &run.SubmittedBy, &run.MaxAttempts, &run.Status, &run.Attempts,
		&run.LastError, &run.Report, &run.CreatedAt, &run.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &run, nil
}
