package enums

import "fmt"

// ObligationKind describes why a chef owes money after a booking.
type ObligationKind string

const (
	ObligationKindOverstayPenalty ObligationKind = "overstay_penalty"
	ObligationKindDamageClaim     ObligationKind = "damage_claim"
)

var validObligationKinds = []ObligationKind{
	ObligationKindOverstayPenalty,
	ObligationKindDamageClaim,
}

// String implements fmt.Stringer.
func (k ObligationKind) String() string {
	return string(k)
}

// IsValid reports whether the value is known.
func (k ObligationKind) IsValid() bool {
	for _, candidate := range validObligationKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseObligationKind converts raw input into an ObligationKind.
func ParseObligationKind(value string) (ObligationKind, error) {
	for _, candidate := range validObligationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid obligation kind %q", value)
}

// ObligationStatus tracks the recovery lifecycle of a chargeable obligation.
type ObligationStatus string

const (
	ObligationStatusPending         ObligationStatus = "pending"
	ObligationStatusChargeSucceeded ObligationStatus = "charge_succeeded"
	ObligationStatusRequiresAction  ObligationStatus = "requires_action"
	ObligationStatusChargeFailed    ObligationStatus = "charge_failed"
	ObligationStatusEscalated       ObligationStatus = "escalated"
)

var validObligationStatuses = []ObligationStatus{
	ObligationStatusPending,
	ObligationStatusChargeSucceeded,
	ObligationStatusRequiresAction,
	ObligationStatusChargeFailed,
	ObligationStatusEscalated,
}

// String implements fmt.Stringer.
func (s ObligationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s ObligationStatus) IsValid() bool {
	for _, candidate := range validObligationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition may leave this status.
func (s ObligationStatus) IsTerminal() bool {
	return s == ObligationStatusChargeSucceeded || s == ObligationStatusEscalated
}

// IsChargeable reports whether an off-session attempt may start from this status.
func (s ObligationStatus) IsChargeable() bool {
	return s == ObligationStatusPending || s == ObligationStatusChargeFailed
}

// ParseObligationStatus converts raw input into an ObligationStatus.
func ParseObligationStatus(value string) (ObligationStatus, error) {
	for _, candidate := range validObligationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid obligation status %q", value)
}
