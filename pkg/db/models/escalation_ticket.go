package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
)

// EscalationTicket hands an obligation to a human once automation gives up.
type EscalationTicket struct {
	ID             uuid.UUID              `gorm:"type:uuid;primaryKey" json:"id"`
	ObligationID   uuid.UUID              `gorm:"column:obligation_id;type:uuid;not null;unique" json:"obligation_id"`
	AttemptCount   int                    `gorm:"column:attempt_count;not null" json:"attempt_count"`
	Reason         enums.EscalationReason `gorm:"column:reason;type:text;not null" json:"reason"`
	Status         enums.EscalationStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	ResolutionNote *string                `gorm:"column:resolution_note" json:"resolution_note"`
	ResolvedAt     *time.Time             `gorm:"column:resolved_at" json:"resolved_at"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
