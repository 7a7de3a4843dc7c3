package recovery

import (
	"context"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	"github.com/google/uuid"
)

// ChargeRequest is one off-session charge against a stored instrument.
type ChargeRequest struct {
	ObligationID   uuid.UUID
	AmountMinor    int64
	Currency       enums.Currency
	InstrumentRef  string
	CustomerRef    string
	IdempotencyKey string
}

// ChargeResult is the normalized processor answer. Only business outcomes are
// returned here; transport and processor faults come back as errors.
type ChargeResult struct {
	Outcome          enums.AttemptOutcome
	DeclineCode      string
	ProcessorRef     string
	AuthorizationRef string
}

// SessionRequest asks the processor for an on-session recovery link.
type SessionRequest struct {
	ObligationID     uuid.UUID
	SessionID        uuid.UUID
	Token            string
	Mode             enums.RecoverySessionMode
	AuthorizationRef *string
	AmountMinor      int64
	Currency         enums.Currency
	ExpiresAt        time.Time
}

// Gateway is the payment processor as seen by the recovery engine.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	CreateSession(ctx context.Context, req SessionRequest) (string, error)
}
