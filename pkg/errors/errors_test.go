package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeSessionClosed, status: http.StatusGone, publicMsg: "recovery session is no longer active", detailsOK: true},
		{code: CodeLeaseHeld, status: http.StatusConflict, publicMsg: "recovery already in progress", retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestDumpCapturesPostgresDetails(t *testing.T) {
	pgErr := &pq.Error{Code: "23505", Constraint: "escalation_tickets_obligation_id_key", Table: "escalation_tickets"}
	err := Wrap(CodeConflict, fmt.Errorf("insert ticket: %w", pgErr), "ticket exists")

	d := Dump(err)
	if d.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", d.Code)
	}
	if d.PGCode != "23505" || d.PGConstraint != "escalation_tickets_obligation_id_key" {
		t.Fatalf("unexpected pg fields %+v", d)
	}
	if len(d.Chain) < 3 {
		t.Fatalf("expected full unwrap chain, got %v", d.Chain)
	}
	if Dump(nil).TopMessage != "" {
		t.Fatalf("nil error should produce empty dump")
	}
}

func TestDumpWalksJoinedErrors(t *testing.T) {
	joined := stdErrors.Join(
		Wrap(CodeDependency, fmt.Errorf("gateway timeout"), "charge obligation a"),
		fmt.Errorf("obligation b: %w", &pgconn.PgError{Code: "40001", Message: "serialization failure"}),
	)
	d := Dump(joined)
	if d.PGCode != "40001" {
		t.Fatalf("expected pg code from joined branch, got %q", d.PGCode)
	}
	if len(d.Chain) < 4 {
		t.Fatalf("expected both branches in chain, got %v", d.Chain)
	}
	if !Dump(New(CodeDependency, "processor down")).Retryable {
		t.Fatalf("dependency errors should be retryable")
	}
}

func TestCodeHelpers(t *testing.T) {
	wrapped := fmt.Errorf("charge: %w", New(CodeLeaseHeld, "held"))
	if CodeOf(wrapped) != CodeLeaseHeld {
		t.Fatalf("expected lease code through wrapping, got %s", CodeOf(wrapped))
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatal("untyped errors should report internal")
	}
	if CodeOf(nil) != "" {
		t.Fatal("nil should report empty code")
	}
	if !HasCode(wrapped, CodeNotFound, CodeLeaseHeld) || HasCode(wrapped, CodeNotFound) || HasCode(nil, CodeInternal) {
		t.Fatal("HasCode mismatch")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{New(CodeDependency, "square down"), true},
		{New(CodeLeaseHeld, "held"), true},
		{New(CodeValidation, "bad"), false},
		{fmt.Errorf("gateway: %w", context.DeadlineExceeded), true},
		{Wrap(CodeDependency, context.Canceled, "aborted"), false},
		{stdErrors.New("plain"), false},
	}
	for i, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("case %d: expected %v got %v (%v)", i, tc.want, got, tc.err)
		}
	}
}
