package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
)

// PaymentRecoverySession is an on-session link handed to the chef when an
// off-session charge cannot complete on its own.
type PaymentRecoverySession struct {
	ID                  uuid.UUID                  `gorm:"type:uuid;primaryKey" json:"id"`
	ObligationID        uuid.UUID                  `gorm:"column:obligation_id;type:uuid;not null;index" json:"obligation_id"`
	TriggeringAttemptID uuid.UUID                  `gorm:"column:triggering_attempt_id;type:uuid;not null" json:"triggering_attempt_id"`
	Mode                enums.RecoverySessionMode  `gorm:"column:mode;type:text;not null" json:"mode"`
	AuthorizationRef    *string                    `gorm:"column:authorization_ref" json:"authorization_ref"`
	InstrumentRef       *string                    `gorm:"column:instrument_ref" json:"instrument_ref"`
	TokenDigest         string                     `gorm:"column:token_digest;not null;unique" json:"-"`
	LinkURL             string                     `gorm:"column:link_url;not null" json:"link_url"`
	ExpiresAt           time.Time                  `gorm:"column:expires_at;not null;index" json:"expires_at"`
	Consumed            bool                       `gorm:"column:consumed;not null" json:"consumed"`
	State               enums.RecoverySessionState `gorm:"column:state;type:text;not null;index" json:"state"`
	ProcessorRef        *string                    `gorm:"column:processor_ref" json:"processor_ref"`
	ConsumedAt          *time.Time                 `gorm:"column:consumed_at" json:"consumed_at"`
	CreatedAt           time.Time                  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time                  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
