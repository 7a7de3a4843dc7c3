package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test"})
}

type fakeObligationReader struct {
	due       []models.ChargeableObligation
	open      []models.ChargeableObligation
	err       error
	lastNow   time.Time
	lastSince time.Time
	lastLimit int
}

func (f *fakeObligationReader) ListDueObligations(ctx context.Context, now time.Time, limit int) ([]models.ChargeableObligation, error) {
	f.lastNow = now
	f.lastLimit = limit
	return f.due, f.err
}

func (f *fakeObligationReader) ListOpenObligationsSince(ctx context.Context, since time.Time, limit int) ([]models.ChargeableObligation, error) {
	f.lastSince = since
	f.lastLimit = limit
	return f.open, f.err
}

type fakeRecoveryEngine struct {
	mu        sync.Mutex
	triggered map[uuid.UUID]int
	failures  map[uuid.UUID]error
	skip      map[uuid.UUID]string
	expired   int
	expireErr error
	expireNow time.Time
}

func newFakeRecoveryEngine() *fakeRecoveryEngine {
	return &fakeRecoveryEngine{
		triggered: map[uuid.UUID]int{},
		failures:  map[uuid.UUID]error{},
		skip:      map[uuid.UUID]string{},
	}
}

func (f *fakeRecoveryEngine) record(id uuid.UUID) (*recovery.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered[id]++
	if err := f.failures[id]; err != nil {
		return nil, err
	}
	if reason, ok := f.skip[id]; ok {
		return &recovery.Result{ObligationID: id, Skipped: true, SkipReason: reason}, nil
	}
	return &recovery.Result{ObligationID: id}, nil
}

func (f *fakeRecoveryEngine) TriggerRecovery(ctx context.Context, id uuid.UUID) (*recovery.Result, error) {
	return f.record(id)
}

func (f *fakeRecoveryEngine) Reconcile(ctx context.Context, id uuid.UUID) (*recovery.Result, error) {
	return f.record(id)
}

func (f *fakeRecoveryEngine) ExpireDueSessions(ctx context.Context, now time.Time, limit int) (int, error) {
	f.expireNow = now
	return f.expired, f.expireErr
}

func obligations(n int) []models.ChargeableObligation {
	out := make([]models.ChargeableObligation, n)
	for i := range out {
		out[i] = models.ChargeableObligation{ID: uuid.New()}
	}
	return out
}

func TestRecoveryRetryJobTriggersEveryDueObligation(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	reader := &fakeObligationReader{due: obligations(6)}
	engine := newFakeRecoveryEngine()
	engine.skip[reader.due[1].ID] = recovery.SkipLeaseHeld

	jobIface, err := NewRecoveryRetryJob(RecoveryRetryJobParams{
		Logger:    testLogger(),
		Reader:    reader,
		Engine:    engine,
		BatchSize: 25,
		Workers:   2,
	})
	if err != nil {
		t.Fatalf("NewRecoveryRetryJob: %v", err)
	}
	job := jobIface.(*recoveryRetryJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reader.lastNow.Equal(now) {
		t.Fatalf("expected now %s, got %s", now, reader.lastNow)
	}
	if reader.lastLimit != 25 {
		t.Fatalf("expected limit 25, got %d", reader.lastLimit)
	}
	for _, o := range reader.due {
		if engine.triggered[o.ID] != 1 {
			t.Fatalf("obligation %s triggered %d times", o.ID, engine.triggered[o.ID])
		}
	}
}

func TestRecoveryRetryJobAggregatesFailures(t *testing.T) {
	reader := &fakeObligationReader{due: obligations(3)}
	engine := newFakeRecoveryEngine()
	engine.failures[reader.due[0].ID] = errors.New("db down")
	engine.failures[reader.due[2].ID] = errors.New("gateway down")

	job, err := NewRecoveryRetryJob(RecoveryRetryJobParams{Logger: testLogger(), Reader: reader, Engine: engine})
	if err != nil {
		t.Fatalf("NewRecoveryRetryJob: %v", err)
	}
	err = job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 errors, got %d", got)
	}
	if engine.triggered[reader.due[1].ID] != 1 {
		t.Fatal("healthy obligation should still be triggered")
	}
}

func TestRecoveryRetryJobListError(t *testing.T) {
	reader := &fakeObligationReader{err: errors.New("boom")}
	job, _ := NewRecoveryRetryJob(RecoveryRetryJobParams{Logger: testLogger(), Reader: reader, Engine: newFakeRecoveryEngine()})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRecoveryRetryJobRequiresDeps(t *testing.T) {
	if _, err := NewRecoveryRetryJob(RecoveryRetryJobParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected error without reader")
	}
	if _, err := NewRecoveryRetryJob(RecoveryRetryJobParams{Logger: testLogger(), Reader: &fakeObligationReader{}}); err == nil {
		t.Fatal("expected error without engine")
	}
}

func TestSessionExpiryJobPassesClock(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	engine := newFakeRecoveryEngine()
	engine.expired = 3
	jobIface, err := NewSessionExpiryJob(SessionExpiryJobParams{Logger: testLogger(), Engine: engine})
	if err != nil {
		t.Fatalf("NewSessionExpiryJob: %v", err)
	}
	job := jobIface.(*sessionExpiryJob)
	job.now = func() time.Time { return now }
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !engine.expireNow.Equal(now) {
		t.Fatalf("expected now %s, got %s", now, engine.expireNow)
	}

	engine.expireErr = errors.New("boom")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestReconcileJobUsesLookback(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	reader := &fakeObligationReader{open: obligations(2)}
	engine := newFakeRecoveryEngine()
	engine.skip[reader.open[0].ID] = recovery.SkipConsistent

	jobIface, err := NewReconcileJob(ReconcileJobParams{
		Logger:   testLogger(),
		Reader:   reader,
		Engine:   engine,
		Lookback: 48 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewReconcileJob: %v", err)
	}
	job := jobIface.(*reconcileJob)
	job.now = func() time.Time { return now }
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-48 * time.Hour); !reader.lastSince.Equal(want) {
		t.Fatalf("expected since %s, got %s", want, reader.lastSince)
	}
	if reader.lastLimit != defaultReconcileBatchSize {
		t.Fatalf("expected default batch size, got %d", reader.lastLimit)
	}
	for _, o := range reader.open {
		if engine.triggered[o.ID] != 1 {
			t.Fatalf("obligation %s reconciled %d times", o.ID, engine.triggered[o.ID])
		}
	}
}

func TestReconcileJobContinuesPastFailures(t *testing.T) {
	reader := &fakeObligationReader{open: obligations(3)}
	engine := newFakeRecoveryEngine()
	engine.failures[reader.open[0].ID] = errors.New("processor timeout")

	job, _ := NewReconcileJob(ReconcileJobParams{Logger: testLogger(), Reader: reader, Engine: engine})
	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if engine.triggered[reader.open[2].ID] != 1 {
		t.Fatal("later obligations should still be reconciled")
	}
}
