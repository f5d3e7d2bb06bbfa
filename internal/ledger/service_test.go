package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/promptq/internal/models"
)

// --- trackingTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type trackingTx struct {
	mu         sync.Mutex
	committed  bool
	rolledBack bool
}

func (t *trackingTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *trackingTx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = true
	return nil
}
func (t *trackingTx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (*trackingTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (*trackingTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (*trackingTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (*trackingTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (*trackingTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (*trackingTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (*trackingTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (*trackingTx) Conn() *pgx.Conn { return nil }

// ---------------------------------------------------------------------------
// In-memory Store. Debit mirrors the repository's conditional update: the
// check and the decrement happen under one lock.
// ---------------------------------------------------------------------------

type memStore struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
	txns     []*models.Transaction
	lastTx   *trackingTx
}

func newMemStore() *memStore {
	return &memStore{balances: make(map[uuid.UUID]decimal.Decimal)}
}

func (m *memStore) open(balance int64) uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	m.balances[id] = decimal.NewFromInt(balance)
	m.mu.Unlock()
	return id
}

func (m *memStore) Begin(context.Context) (pgx.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTx = &trackingTx{}
	return m.lastTx, nil
}

func (m *memStore) Balance(_ context.Context, id uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	return b, nil
}

func (m *memStore) Debit(_ context.Context, _ pgx.Tx, id uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if b.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	m.balances[id] = b.Sub(amount)
	return m.record(id, jobID, models.TransactionKindDebit, amount.Neg()), nil
}

func (m *memStore) Credit(_ context.Context, _ pgx.Tx, id uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	m.balances[id] = b.Add(amount)
	return m.record(id, jobID, models.TransactionKindCredit, amount), nil
}

func (m *memStore) record(id uuid.UUID, jobID *uuid.UUID, kind string, amount decimal.Decimal) *models.Transaction {
	t := &models.Transaction{
		ID: uuid.New(), AccountID: id, JobID: jobID, Kind: kind,
		Amount: amount, BalanceAfter: m.balances[id],
	}
	m.txns = append(m.txns, t)
	return t
}

func (m *memStore) ListTransactions(_ context.Context, id uuid.UUID, limit int) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Transaction
	for i := len(m.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if m.txns[i].AccountID == id {
			out = append(out, m.txns[i])
		}
	}
	return out, nil
}

func (m *memStore) sum(id uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, t := range m.txns {
		if t.AccountID == id {
			total = total.Add(t.Amount)
		}
	}
	return total
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestDebit_RecordsNegativeAmount(t *testing.T) {
	store := newMemStore()
	acct := store.open(100)
	svc := NewService(store)

	jobID := uuid.New()
	txn, err := svc.Debit(context.Background(), &trackingTx{}, acct, decimal.NewFromInt(30), &jobID)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if !txn.Amount.Equal(decimal.NewFromInt(-30)) {
		t.Errorf("amount = %s, want -30", txn.Amount)
	}
	if !txn.BalanceAfter.Equal(decimal.NewFromInt(70)) {
		t.Errorf("balance_after = %s, want 70", txn.BalanceAfter)
	}
	if txn.JobID == nil || *txn.JobID != jobID {
		t.Errorf("job id not linked")
	}
}

func TestDebit_InsufficientFunds(t *testing.T) {
	store := newMemStore()
	acct := store.open(10)
	svc := NewService(store)

	_, err := svc.Debit(context.Background(), &trackingTx{}, acct, decimal.NewFromInt(30), nil)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if b, _ := svc.GetBalance(context.Background(), acct); !b.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance changed to %s", b)
	}
	if len(store.txns) != 0 {
		t.Errorf("expected no transactions, got %d", len(store.txns))
	}
}

func TestDebitCredit_RejectNonPositive(t *testing.T) {
	store := newMemStore()
	acct := store.open(10)
	svc := NewService(store)
	ctx := context.Background()

	for _, amt := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		if _, err := svc.Debit(ctx, &trackingTx{}, acct, amt, nil); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Debit(%s): expected ErrInvalidAmount, got %v", amt, err)
		}
		if _, err := svc.Credit(ctx, &trackingTx{}, acct, amt, nil); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Credit(%s): expected ErrInvalidAmount, got %v", amt, err)
		}
	}
}

func TestDebitCredit_RejectExcessScale(t *testing.T) {
	store := newMemStore()
	acct := store.open(10)
	svc := NewService(store)
	ctx := context.Background()

	amt := decimal.RequireFromString("0.00005")
	if _, err := svc.Debit(ctx, &trackingTx{}, acct, amt, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Debit(%s): expected ErrInvalidAmount, got %v", amt, err)
	}
	if _, err := svc.Credit(ctx, &trackingTx{}, acct, amt, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Credit(%s): expected ErrInvalidAmount, got %v", amt, err)
	}
	if len(store.txns) != 0 {
		t.Errorf("expected no transactions, got %d", len(store.txns))
	}

	// Trailing zeros past the fourth place are still exact.
	if _, err := svc.Credit(ctx, &trackingTx{}, acct, decimal.RequireFromString("1.250000"), nil); err != nil {
		t.Errorf("Credit(1.250000): %v", err)
	}
}

func TestGetBalance_UnknownAccount(t *testing.T) {
	svc := NewService(newMemStore())
	if _, err := svc.GetBalance(context.Background(), uuid.New()); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAdjust(t *testing.T) {
	ctx := context.Background()

	t.Run("positive credits", func(t *testing.T) {
		store := newMemStore()
		acct := store.open(0)
		txn, err := NewService(store).Adjust(ctx, acct, decimal.NewFromInt(100))
		if err != nil {
			t.Fatalf("Adjust: %v", err)
		}
		if txn.Kind != models.TransactionKindCredit {
			t.Errorf("kind = %s, want credit", txn.Kind)
		}
		if !store.lastTx.committed {
			t.Error("expected commit")
		}
	})

	t.Run("negative debits absolute value", func(t *testing.T) {
		store := newMemStore()
		acct := store.open(50)
		txn, err := NewService(store).Adjust(ctx, acct, decimal.NewFromInt(-20))
		if err != nil {
			t.Fatalf("Adjust: %v", err)
		}
		if txn.Kind != models.TransactionKindDebit || !txn.Amount.Equal(decimal.NewFromInt(-20)) {
			t.Errorf("got %s %s, want debit -20", txn.Kind, txn.Amount)
		}
		if b, _ := store.Balance(ctx, acct); !b.Equal(decimal.NewFromInt(30)) {
			t.Errorf("balance = %s, want 30", b)
		}
	})

	t.Run("overdraw rejected and rolled back", func(t *testing.T) {
		store := newMemStore()
		acct := store.open(5)
		_, err := NewService(store).Adjust(ctx, acct, decimal.NewFromInt(-6))
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("expected ErrInsufficientFunds, got %v", err)
		}
		if store.lastTx.committed || !store.lastTx.rolledBack {
			t.Error("expected rollback without commit")
		}
	})

	t.Run("zero rejected before opening a transaction", func(t *testing.T) {
		store := newMemStore()
		acct := store.open(5)
		if _, err := NewService(store).Adjust(ctx, acct, decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount, got %v", err)
		}
		if store.lastTx != nil {
			t.Error("transaction opened for a zero adjustment")
		}
	})

	t.Run("more than four decimal places rejected", func(t *testing.T) {
		store := newMemStore()
		acct := store.open(10)
		_, err := NewService(store).Adjust(ctx, acct, decimal.RequireFromString("-0.00005"))
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount, got %v", err)
		}
		if store.lastTx != nil {
			t.Error("transaction opened for an over-precise adjustment")
		}
		if b, _ := store.Balance(ctx, acct); !b.Equal(decimal.NewFromInt(10)) {
			t.Errorf("balance = %s, want 10", b)
		}
		if len(store.txns) != 0 {
			t.Errorf("expected no transactions, got %d", len(store.txns))
		}
	})
}

// TestConcurrentDebits_NoOverdraft fires more debits than the balance can
// cover and checks that exactly floor(balance/price) succeed and the ledger
// still reconciles.
func TestConcurrentDebits_NoOverdraft(t *testing.T) {
	store := newMemStore()
	acct := store.open(100)
	svc := NewService(store)
	price := decimal.NewFromInt(30)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), &trackingTx{}, acct, price, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 || rejected != 7 {
		t.Errorf("succeeded=%d rejected=%d, want 3/7", succeeded, rejected)
	}
	b, _ := store.Balance(context.Background(), acct)
	if !b.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance = %s, want 10", b)
	}
	// initial 100 + sum(transactions) == current balance
	if got := decimal.NewFromInt(100).Add(store.sum(acct)); !got.Equal(b) {
		t.Errorf("reconciliation failed: 100 + %s != %s", store.sum(acct), b)
	}
}
