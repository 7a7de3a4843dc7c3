package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	recoverywebhook "github.com/angelmondragon/kitchenshare-backend/internal/webhooks/recovery"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/security"
)

const testSecret = "whsec_test"

func TestRecoveryWebhook_SuccessAndIdempotent(t *testing.T) {
	payload := buildRecoveryEvent(t, "evt_"+uuid.NewString())
	service := &fakeRecoveryService{}
	guard := newGuard(t)
	handler := RecoveryWebhook(service, testSecret, guard, nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/recovery-sessions", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, security.SignPayload(payload, testSecret))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d (%s)", i, rec.Code, rec.Body.String())
		}
	}
	if service.calls != 1 {
		t.Fatalf("duplicate delivery should not reach the service, got %d calls", service.calls)
	}
}

func TestRecoveryWebhook_InvalidSignature(t *testing.T) {
	payload := buildRecoveryEvent(t, "evt_1")
	service := &fakeRecoveryService{}
	handler := RecoveryWebhook(service, testSecret, newGuard(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/recovery-sessions", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, security.SignPayload(payload, "other"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestRecoveryWebhook_FailureAllowsRedelivery(t *testing.T) {
	payload := buildRecoveryEvent(t, "evt_retry")
	service := &fakeRecoveryService{err: pkgerrors.New(pkgerrors.CodeLeaseHeld, "recovery already in progress")}
	handler := RecoveryWebhook(service, testSecret, newGuard(t), nil)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/recovery-sessions", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, security.SignPayload(payload, testSecret))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusConflict {
		t.Fatalf("expected 409 while lease held, got %d", code)
	}
	service.err = nil
	if code := send(); code != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d", code)
	}
	if service.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", service.calls)
	}
}

func TestRecoveryWebhook_InFlightDeliveryIsRetryable(t *testing.T) {
	payload := buildRecoveryEvent(t, "evt_inflight")
	service := &fakeRecoveryService{}
	guard := newGuard(t)
	if _, err := guard.Begin(context.Background(), "evt_inflight"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	handler := RecoveryWebhook(service, testSecret, guard, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/recovery-sessions", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, security.SignPayload(payload, testSecret))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for in-flight duplicate, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After on in-flight duplicate")
	}
	if service.calls != 0 {
		t.Fatal("in-flight duplicate must not reach the service")
	}
}

func buildRecoveryEvent(t *testing.T, eventID string) []byte {
	event := recoverywebhook.Event{
		EventID:   eventID,
		Type:      recoverywebhook.EventSessionCompleted,
		CreatedAt: time.Now().UTC(),
		Data: recoverywebhook.EventData{
			SessionID:    uuid.NewString(),
			Outcome:      "succeeded",
			ProcessorRef: "pay_1",
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func newGuard(t *testing.T) *recoverywebhook.IdempotencyGuard {
	guard, err := recoverywebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "recovery-webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

type fakeRecoveryService struct {
	calls int
	err   error
}

func (f *fakeRecoveryService) HandleEvent(ctx context.Context, event *recoverywebhook.Event) error {
	f.calls++
	return f.err
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("ks:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
