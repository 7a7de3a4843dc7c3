package paymentgateway

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/square"
	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
)

type stubPayments struct {
	payment *sq.Payment
	err     error
	params  []square.PaymentCreateParams
}

func (s *stubPayments) CreatePayment(_ context.Context, params square.PaymentCreateParams) (*sq.Payment, error) {
	s.params = append(s.params, params)
	return s.payment, s.err
}

func newTestGateway(t *testing.T, payments paymentCreator) *SquareGateway {
	t.Helper()
	gateway, err := NewSquareGateway(payments, "https://app.kitchenshare.test/recover", logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("NewSquareGateway: %v", err)
	}
	return gateway
}

func payment(id, status string) *sq.Payment {
	return &sq.Payment{ID: &id, Status: &status}
}

func chargeRequest() recovery.ChargeRequest {
	id := uuid.New()
	return recovery.ChargeRequest{
		ObligationID:   id,
		AmountMinor:    15000,
		Currency:       enums.CurrencyUSD,
		InstrumentRef:  "ccof:abc",
		CustomerRef:    "cust_1",
		IdempotencyKey: recovery.IdempotencyKey(id, 1),
	}
}

func TestChargeCompletedPayment(t *testing.T) {
	payments := &stubPayments{payment: payment("pay_1", "COMPLETED")}
	gateway := newTestGateway(t, payments)
	req := chargeRequest()

	result, err := gateway.Charge(context.Background(), req)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if result.Outcome != enums.AttemptOutcomeSucceeded || result.ProcessorRef != "pay_1" {
		t.Fatalf("unexpected result %+v", result)
	}

	if len(payments.params) != 1 {
		t.Fatalf("expected 1 payment request, got %d", len(payments.params))
	}
	sent := payments.params[0]
	if sent.AmountMinor != 15000 || sent.Currency != "USD" {
		t.Fatalf("unexpected amount %d %s", sent.AmountMinor, sent.Currency)
	}
	if sent.SourceID != "ccof:abc" || sent.CustomerID != "cust_1" {
		t.Fatalf("unexpected source %q customer %q", sent.SourceID, sent.CustomerID)
	}
	if len(sent.IdempotencyKey) > 45 {
		t.Fatalf("idempotency key too long: %d", len(sent.IdempotencyKey))
	}
	if sent.IdempotencyKey != SquareIdempotencyKey(req.IdempotencyKey) {
		t.Fatalf("idempotency key not derived from the attempt key")
	}
}

func TestSquareIdempotencyKeyIsDeterministic(t *testing.T) {
	id := uuid.New()
	first := SquareIdempotencyKey(recovery.IdempotencyKey(id, 1))
	if first != SquareIdempotencyKey(recovery.IdempotencyKey(id, 1)) {
		t.Fatalf("same attempt produced different keys")
	}
	if first == SquareIdempotencyKey(recovery.IdempotencyKey(id, 2)) {
		t.Fatalf("different attempts produced the same key")
	}
}

func TestChargeMapsDeclines(t *testing.T) {
	cases := []struct {
		name    string
		codes   []string
		outcome enums.AttemptOutcome
		code    string
	}{
		{name: "soft", codes: []string{"INSUFFICIENT_FUNDS"}, outcome: enums.AttemptOutcomeDeclined, code: recovery.DeclineCodeInsufficientFunds},
		{name: "hard", codes: []string{"CARD_EXPIRED"}, outcome: enums.AttemptOutcomeDeclined, code: recovery.DeclineCodeCardExpired},
		{name: "unknown", codes: []string{"SHINY_NEW_CODE"}, outcome: enums.AttemptOutcomeDeclined, code: "shiny_new_code"},
		{name: "verification", codes: []string{"GENERIC_DECLINE", "CARD_DECLINED_VERIFICATION_REQUIRED"}, outcome: enums.AttemptOutcomeRequiresAction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payments := &stubPayments{err: &square.DeclineError{Codes: tc.codes, PaymentID: "pay_9"}}
			result, err := newTestGateway(t, payments).Charge(context.Background(), chargeRequest())
			if err != nil {
				t.Fatalf("charge: %v", err)
			}
			if result.Outcome != tc.outcome || result.DeclineCode != tc.code {
				t.Fatalf("expected %s/%q, got %s/%q", tc.outcome, tc.code, result.Outcome, result.DeclineCode)
			}
			if result.ProcessorRef != "pay_9" {
				t.Fatalf("unexpected processor ref %q", result.ProcessorRef)
			}
			if tc.outcome == enums.AttemptOutcomeRequiresAction && result.AuthorizationRef != "pay_9" {
				t.Fatalf("unexpected authorization ref %q", result.AuthorizationRef)
			}
		})
	}
}

func TestChargeFailedStatusIsDecline(t *testing.T) {
	payments := &stubPayments{payment: payment("pay_2", "FAILED")}
	result, err := newTestGateway(t, payments).Charge(context.Background(), chargeRequest())
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if result.Outcome != enums.AttemptOutcomeDeclined || result.DeclineCode != recovery.DeclineCodeGenericDecline {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestChargeMissingCardIsNoPaymentMethod(t *testing.T) {
	payments := &stubPayments{err: pkgerrors.Wrap(pkgerrors.CodeNotFound, errors.New("404"), "square create payment failed")}
	result, err := newTestGateway(t, payments).Charge(context.Background(), chargeRequest())
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if result.Outcome != enums.AttemptOutcomeNoPaymentMethod {
		t.Fatalf("unexpected outcome %s", result.Outcome)
	}
}

func TestChargeTransportErrorsSurface(t *testing.T) {
	cases := map[string]*stubPayments{
		"unavailable": {err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("503"), "square create payment failed")},
		"pending":     {payment: payment("pay_3", "PENDING")},
	}
	for name, payments := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := newTestGateway(t, payments).Charge(context.Background(), chargeRequest()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCreateSessionBuildsHostedLink(t *testing.T) {
	gateway := newTestGateway(t, &stubPayments{})
	link, err := gateway.CreateSession(context.Background(), recovery.SessionRequest{
		Token: "abc123",
		Mode:  enums.RecoverySessionModeCollectNewInstrument,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if link != "https://app.kitchenshare.test/recover/abc123?mode=collect_new_instrument" {
		t.Fatalf("unexpected link %q", link)
	}
	if _, err := gateway.CreateSession(context.Background(), recovery.SessionRequest{}); err == nil {
		t.Fatalf("expected error without a token")
	}
}

func TestNewSquareGatewayValidates(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	if _, err := NewSquareGateway(nil, "https://x.test", logg); err == nil {
		t.Fatalf("expected error for nil payments client")
	}
	_, err := NewSquareGateway(&stubPayments{}, "not a url", logg)
	if err == nil || !strings.Contains(err.Error(), "absolute") {
		t.Fatalf("expected absolute url error, got %v", err)
	}
}
