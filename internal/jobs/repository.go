package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/promptq/internal/database"
	"github.com/inaiurai/promptq/internal/models"
)

const jobColumns = `id, account_id, input, status, result, price, created_at, completed_at`

// Repository is the Postgres job store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	if err := row.Scan(&j.ID, &j.AccountID, &j.Input, &j.Status, &j.Result, &j.Price, &j.CreatedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

// CreatePending inserts job as pending inside the caller's transaction.
func (r *Repository) CreatePending(ctx context.Context, tx pgx.Tx, job *models.Job) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO jobs (id, account_id, input, status, price)
		VALUES ($1, $2, $3, 'pending', $4)
		RETURNING created_at
	`, job.ID, job.AccountID, job.Input, job.Price).Scan(&job.CreatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	if err != nil {
		return err
	}
	job.Status = models.JobStatusPending
	return nil
}

// WriteResult moves a pending job to status and reports whether this call
// performed the transition. If the job is already terminal nothing is
// written and the stored job is returned with applied=false, so a second
// writer always observes the first writer's outcome.
func (r *Repository) WriteResult(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, status, result string) (*models.Job, bool, error) {
	if !models.IsTerminalStatus(status) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	job, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, result = $3, completed_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+jobColumns, jobID, status, result))
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	job, err = scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	return job, false, nil
}

// Read returns the job only if it belongs to accountID.
func (r *Repository) Read(ctx context.Context, jobID, accountID uuid.UUID) (*models.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND account_id = $2
	`, jobID, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// Get looks a job up without an ownership check. Workers use it.
func (r *Repository) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Job, error) {
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
}

// ListStale returns pending jobs created before cutoff, oldest first.
func (r *Repository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
}

func (r *Repository) list(ctx context.Context, sql string, args ...any) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
