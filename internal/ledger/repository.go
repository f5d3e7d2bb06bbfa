package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/promptq/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrAccountNotFound
	}
	return balance, err
}

// Debit runs inside the caller's transaction. The balance check and the
// decrement are a single conditional UPDATE, so concurrent debits against the
// same account serialize on the row lock and none can overdraw it.
func (r *Repository) Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error) {
	var balanceAfter decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance - $1
		WHERE id = $2 AND balance >= $1
		RETURNING balance
	`, amount, accountID).Scan(&balanceAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrAccountNotFound
		}
		return nil, ErrInsufficientFunds
	}
	if err != nil {
		return nil, err
	}
	return insertTransaction(ctx, tx, accountID, jobID, models.TransactionKindDebit, amount.Neg(), balanceAfter)
}

// Credit runs inside the caller's transaction.
func (r *Repository) Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error) {
	var balanceAfter decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $1
		WHERE id = $2
		RETURNING balance
	`, amount, accountID).Scan(&balanceAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return insertTransaction(ctx, tx, accountID, jobID, models.TransactionKindCredit, amount, balanceAfter)
}

func insertTransaction(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, jobID *uuid.UUID, kind string, amount, balanceAfter decimal.Decimal) (*models.Transaction, error) {
	t := &models.Transaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		JobID:        jobID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balanceAfter,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (id, account_id, job_id, kind, amount, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, t.ID, t.AccountID, t.JobID, t.Kind, t.Amount, t.BalanceAfter).Scan(&t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransactions returns the account's transactions, newest first.
func (r *Repository) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, job_id, kind, amount, balance_after, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.JobID, &t.Kind, &t.Amount, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
