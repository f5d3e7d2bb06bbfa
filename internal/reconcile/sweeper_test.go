package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/promptq/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	jobs     []*models.Job
	refunds  int
	settleFn func(id uuid.UUID) error
}

func (f *fakeStore) add(age time.Duration, now time.Time) *models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &models.Job{ID: uuid.New(), Status: models.JobStatusPending, CreatedAt: now.Add(-age)}
	f.jobs = append(f.jobs, j)
	return j
}

func (f *fakeStore) status(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ID == id {
			return j.Status
		}
	}
	return ""
}

func (f *fakeStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Job
	for _, j := range f.jobs {
		if j.Status == models.JobStatusPending && j.CreatedAt.Before(cutoff) && len(out) < limit {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) Settle(_ context.Context, id uuid.UUID, status, result string, refund bool) (*models.Job, bool, error) {
	if f.settleFn != nil {
		if err := f.settleFn(id); err != nil {
			return nil, false, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ID != id {
			continue
		}
		if j.IsTerminal() {
			cp := *j
			return &cp, false, nil
		}
		j.Status, j.Result = status, &result
		if refund {
			f.refunds++
		}
		cp := *j
		return &cp, true, nil
	}
	return nil, false, errors.New("not found")
}

func newTestSweeper(store *fakeStore, now time.Time) *Sweeper {
	s := NewSweeper(store, store, 30*time.Minute, nil)
	s.now = func() time.Time { return now }
	return s
}

func TestSweep_FailsAndRefundsOnlyStaleJobs(t *testing.T) {
	now := time.Now()
	store := &fakeStore{}
	old := store.add(time.Hour, now)
	fresh := store.add(time.Minute, now)

	n, err := newTestSweeper(store, now).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("settled = %d, want 1", n)
	}
	if got := store.status(old.ID); got != models.JobStatusFailed {
		t.Errorf("old job = %s, want failed", got)
	}
	if got := store.status(fresh.ID); got != models.JobStatusPending {
		t.Errorf("fresh job = %s, want pending", got)
	}
	if store.refunds != 1 {
		t.Errorf("refunds = %d, want 1", store.refunds)
	}
}

func TestSweep_IsIdempotent(t *testing.T) {
	now := time.Now()
	store := &fakeStore{}
	store.add(time.Hour, now)
	s := newTestSweeper(store, now)

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || store.refunds != 1 {
		t.Errorf("second sweep settled %d, refunds %d", n, store.refunds)
	}
}

func TestSweep_PagesThroughBatches(t *testing.T) {
	now := time.Now()
	store := &fakeStore{}
	for i := 0; i < 7; i++ {
		store.add(time.Hour, now)
	}
	s := newTestSweeper(store, now)
	s.batch = 3

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Errorf("settled = %d, want 7", n)
	}
}

func TestSweep_SettleErrorsDoNotLoop(t *testing.T) {
	now := time.Now()
	store := &fakeStore{settleFn: func(uuid.UUID) error { return errors.New("db down") }}
	store.add(time.Hour, now)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if n, err := newTestSweeper(store, now).Sweep(context.Background()); err != nil || n != 0 {
			t.Errorf("Sweep = %d, %v", n, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not return")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	now := time.Now()
	store := &fakeStore{}
	job := store.add(time.Hour, now)
	s := newTestSweeper(store, now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.status(job.ID) != models.JobStatusFailed {
		select {
		case <-deadline:
			t.Fatal("job never swept")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestRun_NonPositiveIntervalReturns(t *testing.T) {
	now := time.Now()
	store := &fakeStore{}
	job := store.add(time.Hour, now)
	s := newTestSweeper(store, now)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run(0) did not return")
	}
	if got := store.status(job.ID); got == models.JobStatusFailed {
		t.Error("job swept with a zero interval")
	}
}
