package paymentgateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/square"
	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
)

// Square rejects idempotency keys longer than 45 characters, so engine keys
// are folded into a name-based UUID under this namespace.
var idempotencyNamespace = uuid.MustParse("0b6f3c1e-7f5e-4b8e-9a52-64c1a9d2e7f0")

const (
	paymentStatusCompleted = "COMPLETED"
	paymentStatusApproved  = "APPROVED"
	paymentStatusFailed    = "FAILED"
	paymentStatusCanceled  = "CANCELED"

	verificationRequired = "CARD_DECLINED_VERIFICATION_REQUIRED"
)

var squareDeclineCodes = map[string]string{
	"INSUFFICIENT_FUNDS":           recovery.DeclineCodeInsufficientFunds,
	"CHIP_INSUFFICIENT_FUNDS":      recovery.DeclineCodeInsufficientFunds,
	"GENERIC_DECLINE":              recovery.DeclineCodeGenericDecline,
	"CARD_DECLINED_CALL_ISSUER":    recovery.DeclineCodeGenericDecline,
	"CVV_FAILURE":                  recovery.DeclineCodeGenericDecline,
	"ADDRESS_VERIFICATION_FAILURE": recovery.DeclineCodeGenericDecline,
	"ALLOWABLE_PIN_TRIES_EXCEEDED": recovery.DeclineCodeGenericDecline,
	"TRANSACTION_LIMIT":            recovery.DeclineCodeLimitExceeded,
	"AMOUNT_TOO_HIGH":              recovery.DeclineCodeLimitExceeded,
	"PAYMENT_LIMIT_EXCEEDED":       recovery.DeclineCodeLimitExceeded,
	"TEMPORARY_ERROR":              recovery.DeclineCodeTryAgainLater,
	"CARD_EXPIRED":                 recovery.DeclineCodeCardExpired,
	"EXPIRATION_FAILURE":           recovery.DeclineCodeCardExpired,
	"INVALID_EXPIRATION":           recovery.DeclineCodeCardExpired,
	"BAD_EXPIRATION":               recovery.DeclineCodeCardExpired,
	"INVALID_ACCOUNT":              recovery.DeclineCodeInvalidAccount,
	"INVALID_CARD":                 recovery.DeclineCodeInvalidAccount,
	"PAN_FAILURE":                  recovery.DeclineCodeInvalidAccount,
	"CARD_NOT_SUPPORTED":           recovery.DeclineCodeCardNotSupported,
	"CARD_TOKEN_EXPIRED":           recovery.DeclineCodeCardClosed,
	"CARD_TOKEN_USED":              recovery.DeclineCodeCardClosed,
}

type paymentCreator interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
}

// SquareGateway charges cards on file through Square and hands out recovery
// links hosted by the kitchenshare web app.
type SquareGateway struct {
	payments paymentCreator
	baseURL  *url.URL
	logg     *logger.Logger
}

// NewSquareGateway wires the Square client. recoveryBaseURL is the page that
// renders the Square Web Payments form for a session token.
func NewSquareGateway(payments paymentCreator, recoveryBaseURL string, logg *logger.Logger) (*SquareGateway, error) {
	if payments == nil {
		return nil, fmt.Errorf("square client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	base, err := url.Parse(strings.TrimSpace(recoveryBaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("recovery base url must be absolute: %q", recoveryBaseURL)
	}
	return &SquareGateway{payments: payments, baseURL: base, logg: logg}, nil
}

// SquareIdempotencyKey folds an engine key into a Square-sized key. The same
// input always yields the same key.
func SquareIdempotencyKey(key string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(key)).String()
}

func (g *SquareGateway) Charge(ctx context.Context, req recovery.ChargeRequest) (recovery.ChargeResult, error) {
	payment, err := g.payments.CreatePayment(ctx, square.PaymentCreateParams{
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency.String(),
		CustomerID:     req.CustomerRef,
		SourceID:       req.InstrumentRef,
		IdempotencyKey: SquareIdempotencyKey(req.IdempotencyKey),
		ReferenceID:    req.ObligationID.String(),
		Note:           "kitchenshare obligation " + req.ObligationID.String(),
	})
	if err != nil {
		return g.resultFromError(err)
	}

	status := strings.ToUpper(derefString(payment.Status))
	ref := derefString(payment.ID)
	switch status {
	case paymentStatusCompleted, paymentStatusApproved:
		return recovery.ChargeResult{Outcome: enums.AttemptOutcomeSucceeded, ProcessorRef: ref}, nil
	case paymentStatusFailed, paymentStatusCanceled:
		return recovery.ChargeResult{
			Outcome:      enums.AttemptOutcomeDeclined,
			DeclineCode:  recovery.DeclineCodeGenericDecline,
			ProcessorRef: ref,
		}, nil
	default:
		return recovery.ChargeResult{}, fmt.Errorf("square payment %s in unexpected status %q", ref, status)
	}
}

func (g *SquareGateway) resultFromError(err error) (recovery.ChargeResult, error) {
	var decline *square.DeclineError
	if errors.As(err, &decline) {
		for _, code := range decline.Codes {
			if strings.EqualFold(code, verificationRequired) {
				return recovery.ChargeResult{
					Outcome:          enums.AttemptOutcomeRequiresAction,
					ProcessorRef:     decline.PaymentID,
					AuthorizationRef: decline.PaymentID,
				}, nil
			}
		}
		return recovery.ChargeResult{
			Outcome:      enums.AttemptOutcomeDeclined,
			DeclineCode:  NormalizeDeclineCode(decline.PrimaryCode()),
			ProcessorRef: decline.PaymentID,
		}, nil
	}
	if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		return recovery.ChargeResult{Outcome: enums.AttemptOutcomeNoPaymentMethod}, nil
	}
	return recovery.ChargeResult{}, err
}

// NormalizeDeclineCode maps a Square error code into the engine vocabulary.
// Unknown codes pass through lower-cased and are treated as soft declines.
func NormalizeDeclineCode(code string) string {
	upper := strings.ToUpper(strings.TrimSpace(code))
	if mapped, ok := squareDeclineCodes[upper]; ok {
		return mapped
	}
	return strings.ToLower(upper)
}

// CreateSession returns the hosted recovery page for the session token. The
// page collects or re-authenticates the card and reports back through the
// recovery webhook.
func (g *SquareGateway) CreateSession(_ context.Context, req recovery.SessionRequest) (string, error) {
	if strings.TrimSpace(req.Token) == "" {
		return "", fmt.Errorf("session token required")
	}
	link := g.baseURL.JoinPath(req.Token)
	query := link.Query()
	query.Set("mode", req.Mode.String())
	link.RawQuery = query.Encode()
	return link.String(), nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
