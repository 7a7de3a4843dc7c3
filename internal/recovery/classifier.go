package recovery

import (
	"strings"

	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
)

// Normalized decline codes. Gateways translate provider codes into this
// vocabulary before results reach the engine.
const (
	DeclineCodeInsufficientFunds = "insufficient_funds"
	DeclineCodeGenericDecline    = "generic_decline"
	DeclineCodeLimitExceeded     = "limit_exceeded"
	DeclineCodeTryAgainLater     = "try_again_later"
	DeclineCodeCardClosed        = "card_closed"
	DeclineCodeCardExpired       = "card_expired"
	DeclineCodeStolenCard        = "stolen_card"
	DeclineCodeLostCard          = "lost_card"
	DeclineCodeInvalidAccount    = "invalid_account"
	DeclineCodeCardNotSupported  = "card_not_supported"
	DeclineCodeFraudulent        = "fraudulent"
)

var hardDeclineCodes = map[string]struct{}{
	DeclineCodeCardClosed:       {},
	DeclineCodeCardExpired:      {},
	DeclineCodeStolenCard:       {},
	DeclineCodeLostCard:         {},
	DeclineCodeInvalidAccount:   {},
	DeclineCodeCardNotSupported: {},
	DeclineCodeFraudulent:       {},
}

// IsHardDeclineCode reports whether the instrument itself can never succeed again.
func IsHardDeclineCode(code string) bool {
	_, ok := hardDeclineCodes[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// Classify maps a charge outcome onto the recovery strategy. It returns an
// empty disposition for a successful charge.
func Classify(outcome enums.AttemptOutcome, instrumentPresent bool, declineCode string) enums.Disposition {
	if outcome == enums.AttemptOutcomeSucceeded {
		return ""
	}
	if !instrumentPresent || outcome == enums.AttemptOutcomeNoPaymentMethod {
		return enums.DispositionNoInstrument
	}
	switch outcome {
	case enums.AttemptOutcomeRequiresAction:
		return enums.DispositionNeedsAuthentication
	case enums.AttemptOutcomeDeclined:
		if IsHardDeclineCode(declineCode) {
			return enums.DispositionHardDecline
		}
		return enums.DispositionRetryLater
	default:
		return enums.DispositionRetryLater
	}
}
