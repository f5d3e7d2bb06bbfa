package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/promptq/internal/events"
	"github.com/inaiurai/promptq/internal/ledger"
	"github.com/inaiurai/promptq/internal/models"
	"github.com/inaiurai/promptq/internal/queue"
)

// ---------------------------------------------------------------------------
// memDB is an in-memory stand-in for Postgres. Writes apply immediately and
// register an undo step on the transaction, so Rollback without Commit
// restores the previous state. It implements database.TxBeginner, Store and
// Ledger.
// ---------------------------------------------------------------------------

type memDB struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
	txns     []*models.Transaction
	jobs     map[uuid.UUID]*models.Job
	calls    []string
	txs      []*memTx
}

func newMemDB() *memDB {
	return &memDB{
		balances: make(map[uuid.UUID]decimal.Decimal),
		jobs:     make(map[uuid.UUID]*models.Job),
	}
}

func (db *memDB) open(balance int64) uuid.UUID {
	id := uuid.New()
	db.mu.Lock()
	db.balances[id] = decimal.NewFromInt(balance)
	db.mu.Unlock()
	return id
}

func (db *memDB) balance(id uuid.UUID) decimal.Decimal {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.balances[id]
}

func (db *memDB) job(id uuid.UUID) *models.Job {
	db.mu.Lock()
	defer db.mu.Unlock()
	j, ok := db.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

func (db *memDB) jobCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.jobs)
}

func (db *memDB) transactions(id uuid.UUID) []*models.Transaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*models.Transaction
	for _, t := range db.txns {
		if t.AccountID == id {
			out = append(out, t)
		}
	}
	return out
}

func (db *memDB) callLog() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]string(nil), db.calls...)
}

func (db *memDB) lastTx() *memTx {
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.txs) == 0 {
		return nil
	}
	return db.txs[len(db.txs)-1]
}

// memTx satisfies pgx.Tx; only Commit and Rollback are called.
type memTx struct {
	pgx.Tx
	db         *memDB
	committed  bool
	rolledBack bool
	undo       []func()
}

func (db *memDB) Begin(context.Context) (pgx.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	tx := &memTx{db: db}
	db.txs = append(db.txs, tx)
	return tx, nil
}

func (tx *memTx) Commit(context.Context) error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.committed = true
	tx.db.calls = append(tx.db.calls, "commit")
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.committed || tx.rolledBack {
		return pgx.ErrTxClosed
	}
	tx.rolledBack = true
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	return nil
}

func (tx *memTx) onRollback(fn func()) {
	if tx != nil {
		tx.undo = append(tx.undo, fn)
	}
}

func asMemTx(tx pgx.Tx) *memTx {
	m, _ := tx.(*memTx)
	return m
}

// --- Ledger ---

func (db *memDB) Debit(_ context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = append(db.calls, "debit")
	b, ok := db.balances[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	if b.LessThan(amount) {
		return nil, ledger.ErrInsufficientFunds
	}
	db.balances[id] = b.Sub(amount)
	t := db.recordLocked(asMemTx(tx), id, jobID, models.TransactionKindDebit, amount.Neg())
	asMemTx(tx).onRollback(func() { db.balances[id] = db.balances[id].Add(amount) })
	return t, nil
}

func (db *memDB) Credit(_ context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = append(db.calls, "credit")
	b, ok := db.balances[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	db.balances[id] = b.Add(amount)
	t := db.recordLocked(asMemTx(tx), id, jobID, models.TransactionKindCredit, amount)
	asMemTx(tx).onRollback(func() { db.balances[id] = db.balances[id].Sub(amount) })
	return t, nil
}

func (db *memDB) recordLocked(tx *memTx, id uuid.UUID, jobID *uuid.UUID, kind string, amount decimal.Decimal) *models.Transaction {
	t := &models.Transaction{
		ID: uuid.New(), AccountID: id, JobID: jobID, Kind: kind,
		Amount: amount, BalanceAfter: db.balances[id], CreatedAt: time.Now(),
	}
	db.txns = append(db.txns, t)
	tx.onRollback(func() {
		for i, existing := range db.txns {
			if existing.ID == t.ID {
				db.txns = append(db.txns[:i], db.txns[i+1:]...)
				return
			}
		}
	})
	return t
}

// --- Store ---

func (db *memDB) CreatePending(_ context.Context, tx pgx.Tx, job *models.Job) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = append(db.calls, "create")
	if _, ok := db.jobs[job.ID]; ok {
		return ErrDuplicateJob
	}
	job.Status = models.JobStatusPending
	job.CreatedAt = time.Now()
	cp := *job
	db.jobs[job.ID] = &cp
	asMemTx(tx).onRollback(func() { delete(db.jobs, job.ID) })
	return nil
}

func (db *memDB) WriteResult(_ context.Context, tx pgx.Tx, jobID uuid.UUID, status, result string) (*models.Job, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = append(db.calls, "write_result")
	if !models.IsTerminalStatus(status) {
		return nil, false, ErrInvalidStatus
	}
	j, ok := db.jobs[jobID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if j.IsTerminal() {
		cp := *j
		return &cp, false, nil
	}
	now := time.Now()
	j.Status, j.Result, j.CompletedAt = status, &result, &now
	asMemTx(tx).onRollback(func() {
		j.Status, j.Result, j.CompletedAt = models.JobStatusPending, nil, nil
	})
	cp := *j
	return &cp, true, nil
}

func (db *memDB) Read(_ context.Context, jobID, accountID uuid.UUID) (*models.Job, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	j, ok := db.jobs[jobID]
	if !ok || j.AccountID != accountID {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (db *memDB) Get(_ context.Context, jobID uuid.UUID) (*models.Job, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	j, ok := db.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (db *memDB) ListByAccount(_ context.Context, accountID uuid.UUID, limit int) ([]*models.Job, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*models.Job
	for _, j := range db.jobs {
		if j.AccountID == accountID && len(out) < limit {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (db *memDB) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*models.Job
	for _, j := range db.jobs {
		if j.Status == models.JobStatusPending && j.CreatedAt.Before(cutoff) && len(out) < limit {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Publisher and event fakes
// ---------------------------------------------------------------------------

type fakePublisher struct {
	db            *memDB
	transactional bool
	err           error

	mu        sync.Mutex
	published []queue.Envelope
}

func (p *fakePublisher) Publish(_ context.Context, tx pgx.Tx, env queue.Envelope) error {
	p.db.mu.Lock()
	p.db.calls = append(p.db.calls, "publish")
	p.db.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, env)
	if p.transactional {
		n := len(p.published)
		asMemTx(tx).onRollback(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.published = p.published[:n-1]
		})
	}
	return nil
}

func (p *fakePublisher) Transactional() bool { return p.transactional }

func (p *fakePublisher) envelopes() []queue.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.Envelope(nil), p.published...)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
