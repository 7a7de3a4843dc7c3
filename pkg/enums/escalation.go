package enums

import "fmt"

// EscalationStatus tracks admin handling of an escalated obligation.
type EscalationStatus string

const (
	EscalationStatusOpen     EscalationStatus = "open"
	EscalationStatusResolved EscalationStatus = "resolved"
)

var validEscalationStatuses = []EscalationStatus{
	EscalationStatusOpen,
	EscalationStatusResolved,
}

// String implements fmt.Stringer.
func (s EscalationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s EscalationStatus) IsValid() bool {
	for _, candidate := range validEscalationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseEscalationStatus converts raw input into an EscalationStatus.
func ParseEscalationStatus(value string) (EscalationStatus, error) {
	for _, candidate := range validEscalationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escalation status %q", value)
}

// EscalationReason records why automated recovery gave up.
type EscalationReason string

const (
	EscalationReasonDeclinesExhausted       EscalationReason = "declines_exhausted"
	EscalationReasonWindowExhausted         EscalationReason = "window_exhausted"
	EscalationReasonInfrastructureExhausted EscalationReason = "infrastructure_exhausted"
)

var validEscalationReasons = []EscalationReason{
	EscalationReasonDeclinesExhausted,
	EscalationReasonWindowExhausted,
	EscalationReasonInfrastructureExhausted,
}

// String implements fmt.Stringer.
func (r EscalationReason) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r EscalationReason) IsValid() bool {
	for _, candidate := range validEscalationReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseEscalationReason converts raw input into an EscalationReason.
func ParseEscalationReason(value string) (EscalationReason, error) {
	for _, candidate := range validEscalationReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escalation reason %q", value)
}
