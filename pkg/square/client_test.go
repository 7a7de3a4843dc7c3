package square

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
)

func TestEnsureIdempotencyKey(t *testing.T) {
	c := &Client{}
	if got := c.ensureIdempotencyKey("pref", "obligation:abc:attempt:2"); got != "obligation:abc:attempt:2" {
		t.Fatalf("expected provided key, got %q", got)
	}
	if got := c.ensureIdempotencyKey("prefix", ""); !strings.HasPrefix(got, "prefix-") {
		t.Fatalf("generated idempotency key %q missing prefix", got)
	}
}

func TestRedact(t *testing.T) {
	c := &Client{}
	if out := c.redact("source_id", "ccof:abc"); out != "[REDACTED]" {
		t.Fatalf("expected redacted value, got %v", out)
	}
	if v := c.redact("status", "ok"); v != "ok" {
		t.Fatalf("unexpected redaction for safe key")
	}
}

func TestDomainCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusForbidden, pkgerrors.CodeForbidden},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusConflict, pkgerrors.CodeConflict},
		{http.StatusTooManyRequests, pkgerrors.CodeRateLimit},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict},
		{http.StatusInternalServerError, pkgerrors.CodeDependency},
	}
	for _, tt := range tests {
		if got := domainCodeForStatus(tt.status); got != tt.code {
			t.Fatalf("status %d expected %s got %s", tt.status, tt.code, got)
		}
	}
}

func TestMapSquareError(t *testing.T) {
	c := &Client{}
	table := []struct {
		name     string
		status   int
		payload  string
		wantCode pkgerrors.Code
	}{
		{
			name:     "authentication error",
			status:   http.StatusUnauthorized,
			payload:  `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`,
			wantCode: pkgerrors.CodeUnauthorized,
		},
		{
			name:     "idempotency key reused",
			status:   http.StatusConflict,
			payload:  `{"errors":[{"category":"API_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`,
			wantCode: pkgerrors.CodeIdempotency,
		},
		{
			name:     "upstream outage",
			status:   http.StatusBadGateway,
			payload:  `{"errors":[{"category":"API_ERROR","code":"BAD_GATEWAY"}]}`,
			wantCode: pkgerrors.CodeDependency,
		},
	}
	for _, tt := range table {
		err := sqcore.NewAPIError(tt.status, errors.New(tt.payload))
		mapped := c.mapSquareError(err, "operation")
		typed := pkgerrors.As(mapped)
		if typed == nil {
			t.Fatalf("%s: result is not pkgerror", tt.name)
		}
		if typed.Code() != tt.wantCode {
			t.Fatalf("%s: expected code %s, got %s", tt.name, tt.wantCode, typed.Code())
		}
	}
	if typed := pkgerrors.As(c.mapSquareError(errors.New("dial tcp: timeout"), "op")); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("transport errors should map to dependency errors")
	}
}

func TestDeclineFromError(t *testing.T) {
	c := &Client{}
	payload := `{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"INSUFFICIENT_FUNDS","detail":"Authorization error: 'INSUFFICIENT_FUNDS'"}],"payment":{"id":"pay_123","status":"FAILED"}}`
	err := fmt.Errorf("create: %w", sqcore.NewAPIError(http.StatusPaymentRequired, errors.New(payload)))

	decline := c.declineFromError(err)
	if decline == nil {
		t.Fatalf("expected decline error")
	}
	if decline.PrimaryCode() != "INSUFFICIENT_FUNDS" {
		t.Fatalf("unexpected code %q", decline.PrimaryCode())
	}
	if decline.PaymentID != "pay_123" {
		t.Fatalf("expected payment id, got %q", decline.PaymentID)
	}
	var target *DeclineError
	if !errors.As(decline, &target) {
		t.Fatalf("decline should be matchable with errors.As")
	}

	notDecline := sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"BAD_REQUEST"}]}`))
	if c.declineFromError(notDecline) != nil {
		t.Fatalf("request errors are not card declines")
	}
}

func TestExtractSquareErrors(t *testing.T) {
	c := &Client{}
	payload := `{"errors":[{"category":"API_ERROR","code":"BAD_REQUEST","detail":"oops"}]}`
	apiErr := sqcore.NewAPIError(http.StatusBadRequest, errors.New(payload))
	got := c.extractSquareErrors(apiErr)
	if len(got) != 1 {
		t.Fatalf("expected 1 error, got %d", len(got))
	}
	if got[0].GetCode() != sq.ErrorCodeBadRequest {
		t.Fatalf("unexpected error code %s", got[0].GetCode())
	}
}

func TestPaymentParamsToSquareRequest(t *testing.T) {
	req := PaymentCreateParams{
		AmountMinor:    15000,
		Currency:       "usd",
		LocationID:     "loc",
		CustomerID:     "cust",
		SourceID:       "ccof:card",
		ReferenceID:    "obl-1",
		IdempotencyKey: "ignored",
	}.toSquareRequest("obligation:obl-1:attempt:1")

	if req.IdempotencyKey != "obligation:obl-1:attempt:1" {
		t.Fatalf("unexpected idempotency key %q", req.IdempotencyKey)
	}
	if req.AmountMoney == nil || *req.AmountMoney.Amount != 15000 || string(*req.AmountMoney.Currency) != "USD" {
		t.Fatalf("unexpected money %+v", req.AmountMoney)
	}
	if req.Autocomplete == nil || !*req.Autocomplete {
		t.Fatalf("off-session charges should autocomplete")
	}
	if req.ReferenceID == nil || *req.ReferenceID != "obl-1" {
		t.Fatalf("reference id not set")
	}
}

func TestPaymentParamsValidate(t *testing.T) {
	valid := PaymentCreateParams{AmountMinor: 100, Currency: "USD", CustomerID: "cust", SourceID: "ccof:card"}
	if err := valid.validate(); err != nil {
		t.Fatalf("expected valid params, got %v", err)
	}

	invalid := PaymentCreateParams{IdempotencyKey: strings.Repeat("k", 46)}
	err := invalid.validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"amount", "source id", "customer id", "idempotency key"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestPaymentParamsTruncatesLongFields(t *testing.T) {
	req := PaymentCreateParams{
		AmountMinor: 1,
		ReferenceID: strings.Repeat("r", 60),
		Note:        strings.Repeat("n", 600),
	}.toSquareRequest("key")
	if len(*req.ReferenceID) != maxReferenceIDLen || len(*req.Note) != maxNoteLen {
		t.Fatalf("expected truncation, got ref=%d note=%d", len(*req.ReferenceID), len(*req.Note))
	}
	if string(*req.AmountMoney.Currency) != "USD" {
		t.Fatalf("expected USD default currency")
	}
}

func TestNormalizeEnv(t *testing.T) {
	if env, err := normalizeEnv(""); err != nil || env != sandboxEnv {
		t.Fatalf("expected sandbox default, got %q %v", env, err)
	}
	if _, err := normalizeEnv("staging"); err == nil {
		t.Fatalf("expected error for unknown env")
	}
}
