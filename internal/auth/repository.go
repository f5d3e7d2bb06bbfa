package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/promptq/internal/database"
	"github.com/inaiurai/promptq/internal/models"
)

const accountColumns = `id, username, password_hash, balance, is_admin, created_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Balance, &a.IsAdmin, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new account with a zero balance.
func (r *Repository) Create(ctx context.Context, username, passwordHash string) (*models.Account, error) {
	acc, err := scanAccount(r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+accountColumns, uuid.New(), username, passwordHash))
	if database.IsUniqueViolation(err) {
		return nil, ErrUsernameTaken
	}
	return acc, err
}

// GetByUsername returns nil, nil when no account has that username.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	acc, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return acc, err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	acc, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return acc, err
}

func (r *Repository) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// UpsertAdmin creates the admin account or promotes and re-keys an existing one.
func (r *Repository) UpsertAdmin(ctx context.Context, username, passwordHash string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, username, password_hash, is_admin)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (username) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, is_admin = TRUE
		RETURNING `+accountColumns, uuid.New(), username, passwordHash))
}
