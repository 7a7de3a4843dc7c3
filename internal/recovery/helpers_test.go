package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/pkg/db"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/metrics"
	"github.com/angelmondragon/kitchenshare-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testEpoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(
		&models.ChargeableObligation{},
		&models.ChargeAttempt{},
		&models.PaymentRecoverySession{},
		&models.EscalationTicket{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}

type gatewayStep struct {
	result ChargeResult
	err    error
}

type fakeGateway struct {
	mu         sync.Mutex
	steps      []gatewayStep
	charges    []ChargeRequest
	sessions   []SessionRequest
	sessionErr error

	entered  chan struct{}
	block    chan struct{}
	inflight int
	maxSeen  int
}

func (g *fakeGateway) queue(steps ...gatewayStep) {
	g.mu.Lock()
	g.steps = append(g.steps, steps...)
	g.mu.Unlock()
}

func (g *fakeGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	g.mu.Lock()
	g.inflight++
	if g.inflight > g.maxSeen {
		g.maxSeen = g.inflight
	}
	g.charges = append(g.charges, req)
	var step gatewayStep
	if len(g.steps) > 0 {
		step = g.steps[0]
		g.steps = g.steps[1:]
	} else {
		step = gatewayStep{result: ChargeResult{Outcome: enums.AttemptOutcomeSucceeded, ProcessorRef: "pay_default"}}
	}
	entered, block := g.entered, g.block
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	g.mu.Lock()
	g.inflight--
	g.mu.Unlock()
	return step.result, step.err
}

func (g *fakeGateway) CreateSession(_ context.Context, req SessionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionErr != nil {
		return "", g.sessionErr
	}
	g.sessions = append(g.sessions, req)
	return "https://pay.example.test/recover/" + req.Token, nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

func (g *fakeGateway) lastSession() SessionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions[len(g.sessions)-1]
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []Notification
	err      error
	onNotify func(Notification)
}

func (n *fakeNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	hook, err := n.onNotify, n.err
	n.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return err
}

func (n *fakeNotifier) byTemplate(template string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, msg := range n.sent {
		if msg.Template == template {
			out = append(out, msg)
		}
	}
	return out
}

type harness struct {
	t        *testing.T
	db       *gorm.DB
	repo     Repository
	ctrl     *Controller
	gateway  *fakeGateway
	notifier *fakeNotifier
	clock    *fakeClock
	leaser   *LocalLeaser
	registry *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := newTestDB(t)
	repo := NewRepository(conn)
	gateway := &fakeGateway{}
	notifier := &fakeNotifier{}
	clock := newFakeClock()
	logg := testLogger()
	registry := prometheus.NewRegistry()
	recMetrics := metrics.NewRecoveryMetrics(registry)

	executor, err := NewExecutor(ExecutorParams{Gateway: gateway, Timeout: 5 * time.Second, Logger: logg, Metrics: recMetrics, Now: clock.Now})
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	sessions, err := NewSessionIssuer(SessionIssuerParams{Gateway: gateway, Notifier: notifier, TTL: 72 * time.Hour, Logger: logg, Metrics: recMetrics})
	if err != nil {
		t.Fatalf("session issuer: %v", err)
	}
	escalations, err := NewEscalationManager(EscalationManagerParams{Repo: repo, Notifier: notifier, AdminRecipient: "ops", Logger: logg, Metrics: recMetrics, Now: clock.Now})
	if err != nil {
		t.Fatalf("escalations: %v", err)
	}
	leaser := NewLocalLeaser()
	ctrl, err := NewController(ControllerParams{
		DB:          db.FromConn(conn),
		Repo:        repo,
		Leaser:      leaser,
		Executor:    executor,
		Sessions:    sessions,
		Escalations: escalations,
		Accountant:  NewAccountant(Policy{}),
		Logger:      logg,
		Metrics:     recMetrics,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	return &harness{
		t:        t,
		db:       conn,
		repo:     repo,
		ctrl:     ctrl,
		gateway:  gateway,
		notifier: notifier,
		clock:    clock,
		leaser:   leaser,
		registry: registry,
	}
}

func (h *harness) createObligation(amount int64, instrument string) *models.ChargeableObligation {
	h.t.Helper()
	obligation, created, err := h.ctrl.CreateObligation(context.Background(), CreateObligationParams{
		Kind:                 enums.ObligationKindOverstayPenalty,
		ChefID:               uuid.New(),
		AmountMinor:          amount,
		Currency:             enums.CurrencyUSD,
		PaymentMethodRef:     instrument,
		ProcessorCustomerRef: "cust_1",
	})
	if err != nil {
		h.t.Fatalf("create obligation: %v", err)
	}
	if !created {
		h.t.Fatalf("expected a new obligation")
	}
	return obligation
}

func (h *harness) obligation(id uuid.UUID) *models.ChargeableObligation {
	h.t.Helper()
	obligation, err := h.repo.FindObligation(context.Background(), id)
	if err != nil || obligation == nil {
		h.t.Fatalf("find obligation: %v", err)
	}
	return obligation
}

func (h *harness) attempts(id uuid.UUID) []models.ChargeAttempt {
	h.t.Helper()
	attempts, err := h.repo.ListAttempts(context.Background(), id)
	if err != nil {
		h.t.Fatalf("list attempts: %v", err)
	}
	return attempts
}

func (h *harness) sessions(id uuid.UUID) []models.PaymentRecoverySession {
	h.t.Helper()
	sessions, err := h.repo.ListSessions(context.Background(), id)
	if err != nil {
		h.t.Fatalf("list sessions: %v", err)
	}
	return sessions
}

// advanceToNextAttempt moves the clock to the obligation's next eligible time.
func (h *harness) advanceToNextAttempt(id uuid.UUID) {
	h.t.Helper()
	obligation := h.obligation(id)
	if obligation.NextAttemptAt == nil {
		h.t.Fatalf("obligation %s has no next attempt scheduled", id)
	}
	if obligation.NextAttemptAt.After(h.clock.Now()) {
		h.clock.Set(*obligation.NextAttemptAt)
	}
}

func declined(code string) gatewayStep {
	return gatewayStep{result: ChargeResult{Outcome: enums.AttemptOutcomeDeclined, DeclineCode: code}}
}

func gatewayFault() gatewayStep {
	return gatewayStep{err: errors.New("connection reset by peer")}
}

func paginationParams(limit int, cursor string) pagination.Params {
	return pagination.Params{Limit: limit, Cursor: cursor}
}
