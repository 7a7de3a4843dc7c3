package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
)

// ChargeAttempt is one append-only entry in an obligation's attempt log.
type ChargeAttempt struct {
	ID               uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	ObligationID     uuid.UUID            `gorm:"column:obligation_id;type:uuid;not null;uniqueIndex:idx_charge_attempts_obligation_number" json:"obligation_id"`
	AttemptNumber    int                  `gorm:"column:attempt_number;not null;uniqueIndex:idx_charge_attempts_obligation_number" json:"attempt_number"`
	Outcome          enums.AttemptOutcome `gorm:"column:outcome;type:text;not null" json:"outcome"`
	Disposition      *enums.Disposition   `gorm:"column:disposition;type:text" json:"disposition"`
	DeclineCode      *string              `gorm:"column:decline_code" json:"decline_code"`
	ProcessorRef     *string              `gorm:"column:processor_ref" json:"processor_ref"`
	AuthorizationRef *string              `gorm:"column:authorization_ref" json:"authorization_ref"`
	InstrumentRef    *string              `gorm:"column:instrument_ref" json:"instrument_ref"`
	IdempotencyKey   string               `gorm:"column:idempotency_key;not null;unique" json:"idempotency_key"`
	ErrorMessage     *string              `gorm:"column:error_message" json:"error_message"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// IsBusinessDecline reports whether the attempt counts against the decline budget.
func (a ChargeAttempt) IsBusinessDecline() bool {
	return a.Outcome == enums.AttemptOutcomeDeclined &&
		a.Disposition != nil && *a.Disposition == enums.DispositionRetryLater
}
