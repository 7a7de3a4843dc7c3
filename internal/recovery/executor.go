package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/metrics"
	"github.com/google/uuid"
)

const maxErrorMessageLen = 500

// ExecutorParams groups dependencies for the charge attempt executor.
type ExecutorParams struct {
	Gateway Gateway
	Timeout time.Duration
	Logger  *logger.Logger
	Metrics *metrics.RecoveryMetrics
	Now     func() time.Time
}

// Executor performs one off-session charge and builds the attempt record. It
// does not persist: the caller writes the attempt together with the resulting
// status change.
type Executor struct {
	gateway Gateway
	timeout time.Duration
	logg    *logger.Logger
	metrics *metrics.RecoveryMetrics
	now     func() time.Time
}

func NewExecutor(params ExecutorParams) (*Executor, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Executor{
		gateway: params.Gateway,
		timeout: timeout,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

// IdempotencyKey is the processor key for the n-th attempt on an obligation.
// Replaying an attempt after a crash reuses it, so the processor collapses the
// duplicate instead of charging twice.
func IdempotencyKey(obligationID uuid.UUID, attemptNumber int) string {
	return fmt.Sprintf("obligation:%s:attempt:%d", obligationID, attemptNumber)
}

// NextAttemptNumber returns max(existing)+1. attempts may be in any order.
func NextAttemptNumber(attempts []models.ChargeAttempt) int {
	highest := 0
	for _, attempt := range attempts {
		if attempt.AttemptNumber > highest {
			highest = attempt.AttemptNumber
		}
	}
	return highest + 1
}

// Attempt charges the obligation's stored instrument once. Business declines
// and gateway faults are both reported through the returned attempt; the error
// is reserved for contract violations.
func (e *Executor) Attempt(ctx context.Context, obligation *models.ChargeableObligation, prior []models.ChargeAttempt) (*models.ChargeAttempt, error) {
	if obligation == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "obligation is required")
	}
	if !obligation.Status.IsChargeable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "obligation is not chargeable").
			WithDetails(map[string]any{"status": obligation.Status})
	}

	number := NextAttemptNumber(prior)
	attempt := &models.ChargeAttempt{
		ID:             uuid.New(),
		ObligationID:   obligation.ID,
		AttemptNumber:  number,
		IdempotencyKey: IdempotencyKey(obligation.ID, number),
	}
	if obligation.HasInstrument() {
		ref := *obligation.PaymentMethodRef
		attempt.InstrumentRef = &ref
	}

	if !obligation.HasInstrument() {
		attempt.Outcome = enums.AttemptOutcomeNoPaymentMethod
		e.finish(ctx, attempt, obligation, 0)
		return attempt, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	result, err := e.gateway.Charge(callCtx, ChargeRequest{
		ObligationID:   obligation.ID,
		AmountMinor:    obligation.AmountMinor,
		Currency:       obligation.Currency,
		InstrumentRef:  *obligation.PaymentMethodRef,
		CustomerRef:    stringOrEmpty(obligation.ProcessorCustomerRef),
		IdempotencyKey: attempt.IdempotencyKey,
	})
	latency := time.Since(started)

	if err != nil {
		attempt.Outcome = enums.AttemptOutcomeGatewayError
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "gateway timeout: " + msg
		}
		msg = truncate(msg, maxErrorMessageLen)
		attempt.ErrorMessage = &msg
		e.finish(ctx, attempt, obligation, latency)
		return attempt, nil
	}
	if !result.Outcome.IsValid() || result.Outcome == enums.AttemptOutcomeGatewayError {
		msg := fmt.Sprintf("gateway returned unknown outcome %q", result.Outcome)
		attempt.Outcome = enums.AttemptOutcomeGatewayError
		attempt.ErrorMessage = &msg
		e.finish(ctx, attempt, obligation, latency)
		return attempt, nil
	}

	attempt.Outcome = result.Outcome
	attempt.DeclineCode = optionalString(strings.ToLower(strings.TrimSpace(result.DeclineCode)))
	attempt.ProcessorRef = optionalString(result.ProcessorRef)
	attempt.AuthorizationRef = optionalString(result.AuthorizationRef)
	e.finish(ctx, attempt, obligation, latency)
	return attempt, nil
}

// LinkFailure builds the attempt recorded when a recovery link could not be
// opened for the obligation. No charge is made. The attempt counts as an
// infrastructure failure.
func (e *Executor) LinkFailure(ctx context.Context, obligation *models.ChargeableObligation, prior []models.ChargeAttempt, cause error) *models.ChargeAttempt {
	number := NextAttemptNumber(prior)
	disposition := enums.DispositionRetryLater
	msg := "create recovery session link failed"
	if cause != nil {
		msg = truncate("create recovery session link: "+cause.Error(), maxErrorMessageLen)
	}
	attempt := &models.ChargeAttempt{
		ID:             uuid.New(),
		ObligationID:   obligation.ID,
		AttemptNumber:  number,
		Outcome:        enums.AttemptOutcomeGatewayError,
		Disposition:    &disposition,
		IdempotencyKey: IdempotencyKey(obligation.ID, number),
		ErrorMessage:   &msg,
		CreatedAt:      e.now(),
	}
	if obligation.HasInstrument() {
		ref := *obligation.PaymentMethodRef
		attempt.InstrumentRef = &ref
	}
	e.metrics.ObserveAttempt(attempt.Outcome.String(), 0)
	e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
		"attempt_number": number,
		"outcome":        attempt.Outcome,
	}), msg)
	return attempt
}

func (e *Executor) finish(ctx context.Context, attempt *models.ChargeAttempt, obligation *models.ChargeableObligation, latency time.Duration) {
	disposition := Classify(attempt.Outcome, obligation.HasInstrument(), stringOrEmpty(attempt.DeclineCode))
	if disposition != "" {
		attempt.Disposition = &disposition
	}
	attempt.CreatedAt = e.now()
	e.metrics.ObserveAttempt(attempt.Outcome.String(), latency)

	fields := map[string]any{
		"attempt_number": attempt.AttemptNumber,
		"outcome":        attempt.Outcome,
	}
	if attempt.Disposition != nil {
		fields["disposition"] = *attempt.Disposition
	}
	if attempt.DeclineCode != nil {
		fields["decline_code"] = *attempt.DeclineCode
	}
	e.logg.Info(e.logg.WithFields(ctx, fields), "charge attempt completed")
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// truncate cuts value to at most limit bytes without splitting a rune.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
