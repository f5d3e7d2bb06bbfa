// Package dbtest opens the Postgres database named by TEST_DATABASE_URL for
// repository tests. Tests are skipped when the variable is unset.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/promptq/internal/database"
	"github.com/inaiurai/promptq/internal/logging"
)

func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := database.Migrate(ctx, pool, logging.Discard()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE transactions, jobs, accounts CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

// CreateAccount inserts an account with the given balance and a matching
// opening credit so the balance reconciles against the transaction log.
func CreateAccount(t *testing.T, pool *pgxpool.Pool, balance int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	amount := decimal.NewFromInt(balance)
	if _, err := pool.Exec(ctx, `
		INSERT INTO accounts (id, username, password_hash, balance)
		VALUES ($1, $2, 'x', $3)
	`, id, "user-"+id.String()[:8], amount); err != nil {
		t.Fatalf("insert account: %v", err)
	}
	if balance > 0 {
		if _, err := pool.Exec(ctx, `
			INSERT INTO transactions (id, account_id, kind, amount, balance_after)
			VALUES ($1, $2, 'credit', $3, $3)
		`, uuid.New(), id, amount); err != nil {
			t.Fatalf("insert opening credit: %v", err)
		}
	}
	return id
}
