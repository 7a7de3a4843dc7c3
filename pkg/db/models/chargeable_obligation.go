package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
)

// ChargeableObligation is money a chef owes after a booking ends.
type ChargeableObligation struct {
	ID                   uuid.UUID              `gorm:"type:uuid;primaryKey" json:"id"`
	Kind                 enums.ObligationKind   `gorm:"column:kind;type:text;not null" json:"kind"`
	ChefID               uuid.UUID              `gorm:"column:chef_id;type:uuid;not null;index" json:"chef_id"`
	AmountMinor          int64                  `gorm:"column:amount_minor;not null" json:"amount_minor"`
	Currency             enums.Currency         `gorm:"column:currency;type:text;not null" json:"currency"`
	Status               enums.ObligationStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	PaymentMethodRef     *string                `gorm:"column:payment_method_ref" json:"payment_method_ref"`
	ProcessorCustomerRef *string                `gorm:"column:processor_customer_ref" json:"processor_customer_ref"`
	SourceEventRef       *string                `gorm:"column:source_event_ref" json:"source_event_ref"`
	NextAttemptAt        *time.Time             `gorm:"column:next_attempt_at;index" json:"next_attempt_at"`
	ResolutionNote       *string                `gorm:"column:resolution_note" json:"resolution_note"`
	Version              int64                  `gorm:"column:version;not null" json:"version"`
	CreatedAt            time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// HasInstrument reports whether a stored payment method is on file.
func (o ChargeableObligation) HasInstrument() bool {
	return o.PaymentMethodRef != nil && *o.PaymentMethodRef != ""
}
