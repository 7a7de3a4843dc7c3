package enums

import "fmt"

// RecoverySessionMode selects what the chef is asked to do on-session.
type RecoverySessionMode string

const (
	RecoverySessionModeAuthenticateExisting RecoverySessionMode = "authenticate_existing"
	RecoverySessionModeCollectNewInstrument RecoverySessionMode = "collect_new_instrument"
)

var validRecoverySessionModes = []RecoverySessionMode{
	RecoverySessionModeAuthenticateExisting,
	RecoverySessionModeCollectNewInstrument,
}

// String implements fmt.Stringer.
func (m RecoverySessionMode) String() string {
	return string(m)
}

// IsValid reports whether the value is known.
func (m RecoverySessionMode) IsValid() bool {
	for _, candidate := range validRecoverySessionModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseRecoverySessionMode converts raw input into a RecoverySessionMode.
func ParseRecoverySessionMode(value string) (RecoverySessionMode, error) {
	for _, candidate := range validRecoverySessionModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid recovery session mode %q", value)
}

// RecoverySessionState tracks a recovery link from issue to close.
type RecoverySessionState string

const (
	RecoverySessionStateActive     RecoverySessionState = "active"
	RecoverySessionStateSuperseded RecoverySessionState = "superseded"
	RecoverySessionStateSucceeded  RecoverySessionState = "succeeded"
	RecoverySessionStateFailed     RecoverySessionState = "failed"
	RecoverySessionStateExpired    RecoverySessionState = "expired"
)

var validRecoverySessionStates = []RecoverySessionState{
	RecoverySessionStateActive,
	RecoverySessionStateSuperseded,
	RecoverySessionStateSucceeded,
	RecoverySessionStateFailed,
	RecoverySessionStateExpired,
}

// String implements fmt.Stringer.
func (s RecoverySessionState) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s RecoverySessionState) IsValid() bool {
	for _, candidate := range validRecoverySessionStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// EndedUnsuccessfully reports whether the chef had the link and it did not
// produce a payment.
func (s RecoverySessionState) EndedUnsuccessfully() bool {
	return s == RecoverySessionStateFailed || s == RecoverySessionStateExpired
}

// ParseRecoverySessionState converts raw input into a RecoverySessionState.
func ParseRecoverySessionState(value string) (RecoverySessionState, error) {
	for _, candidate := range validRecoverySessionStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid recovery session state %q", value)
}

// RecoverySessionOutcome is reported by the processor when a chef completes a link.
type RecoverySessionOutcome string

const (
	RecoverySessionOutcomeSucceeded RecoverySessionOutcome = "succeeded"
	RecoverySessionOutcomeFailed    RecoverySessionOutcome = "failed"
)

// IsValid reports whether the value is known.
func (o RecoverySessionOutcome) IsValid() bool {
	return o == RecoverySessionOutcomeSucceeded || o == RecoverySessionOutcomeFailed
}

// ParseRecoverySessionOutcome converts raw input into a RecoverySessionOutcome.
func ParseRecoverySessionOutcome(value string) (RecoverySessionOutcome, error) {
	o := RecoverySessionOutcome(value)
	if !o.IsValid() {
		return "", fmt.Errorf("invalid recovery session outcome %q", value)
	}
	return o, nil
}
