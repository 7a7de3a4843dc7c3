package enums

import "fmt"

// AttemptOutcome is the normalized result of one off-session charge.
type AttemptOutcome string

const (
	AttemptOutcomeSucceeded       AttemptOutcome = "succeeded"
	AttemptOutcomeRequiresAction  AttemptOutcome = "requires_action"
	AttemptOutcomeDeclined        AttemptOutcome = "declined"
	AttemptOutcomeNoPaymentMethod AttemptOutcome = "no_payment_method"
	AttemptOutcomeGatewayError    AttemptOutcome = "gateway_error"
)

var validAttemptOutcomes = []AttemptOutcome{
	AttemptOutcomeSucceeded,
	AttemptOutcomeRequiresAction,
	AttemptOutcomeDeclined,
	AttemptOutcomeNoPaymentMethod,
	AttemptOutcomeGatewayError,
}

// String implements fmt.Stringer.
func (o AttemptOutcome) String() string {
	return string(o)
}

// IsValid reports whether the value is known.
func (o AttemptOutcome) IsValid() bool {
	for _, candidate := range validAttemptOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseAttemptOutcome converts raw input into an AttemptOutcome.
func ParseAttemptOutcome(value string) (AttemptOutcome, error) {
	for _, candidate := range validAttemptOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid attempt outcome %q", value)
}

// Disposition is the recovery strategy chosen for a failed attempt.
type Disposition string

const (
	DispositionRetryLater          Disposition = "retry_later"
	DispositionNeedsAuthentication Disposition = "needs_authentication"
	DispositionHardDecline         Disposition = "hard_decline"
	DispositionNoInstrument        Disposition = "no_instrument"
)

var validDispositions = []Disposition{
	DispositionRetryLater,
	DispositionNeedsAuthentication,
	DispositionHardDecline,
	DispositionNoInstrument,
}

// String implements fmt.Stringer.
func (d Disposition) String() string {
	return string(d)
}

// IsValid reports whether the value is known.
func (d Disposition) IsValid() bool {
	for _, candidate := range validDispositions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisposition converts raw input into a Disposition.
func ParseDisposition(value string) (Disposition, error) {
	for _, candidate := range validDispositions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid disposition %q", value)
}
