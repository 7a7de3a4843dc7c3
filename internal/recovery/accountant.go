package recovery

import (
	"time"

	"github.com/angelmondragon/kitchenshare-backend/pkg/config"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
)

// Policy holds the retry thresholds. Zero values fall back to the defaults.
type Policy struct {
	MaxDeclines      int
	MaxInfraFailures int
	Window           time.Duration
	BackoffBase      time.Duration
	BackoffFactor    int
	BackoffMaxStep   time.Duration
	InfraBackoffBase time.Duration
	InfraBackoffMax  time.Duration
}

// PolicyFromConfig builds a Policy from the recovery configuration.
func PolicyFromConfig(cfg config.RecoveryConfig) Policy {
	return Policy{
		MaxDeclines:      cfg.MaxDeclines,
		MaxInfraFailures: cfg.MaxInfraFailures,
		Window:           cfg.Window,
		BackoffBase:      cfg.BackoffBase,
		BackoffFactor:    cfg.BackoffFactor,
		BackoffMaxStep:   cfg.BackoffMaxStep,
		InfraBackoffBase: cfg.InfraBackoffBase,
		InfraBackoffMax:  cfg.InfraBackoffMax,
	}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if p.MaxDeclines <= 0 {
		p.MaxDeclines = 3
	}
	if p.MaxInfraFailures <= 0 {
		p.MaxInfraFailures = 5
	}
	if p.Window <= 0 {
		p.Window = 14 * 24 * time.Hour
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = time.Hour
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 4
	}
	if p.BackoffMaxStep <= 0 {
		p.BackoffMaxStep = 72 * time.Hour
	}
	if p.InfraBackoffBase <= 0 {
		p.InfraBackoffBase = 5 * time.Minute
	}
	if p.InfraBackoffMax <= 0 {
		p.InfraBackoffMax = time.Hour
	}
	return p
}

// Accountant answers "escalate or retry, and when" from the attempt log and
// session history. It never stores a counter of its own.
type Accountant struct {
	policy Policy
}

func NewAccountant(policy Policy) *Accountant {
	return &Accountant{policy: policy.withDefaults()}
}

// Policy returns the effective thresholds.
func (a *Accountant) Policy() Policy {
	return a.policy
}

// DeclineCount counts business declines: soft-declined attempts plus recovery
// sessions that ended without payment. Infrastructure failures never count.
func (a *Accountant) DeclineCount(attempts []models.ChargeAttempt, sessions []models.PaymentRecoverySession) int {
	count := 0
	for _, attempt := range attempts {
		if attempt.IsBusinessDecline() {
			count++
		}
	}
	for _, session := range sessions {
		if session.State.EndedUnsuccessfully() {
			count++
		}
	}
	return count
}

// TrailingInfraFailures counts consecutive infrastructure failures at the end
// of the log: gateway_error attempts, and an attempt whose recovery link was
// never issued. attempts must be ordered by attempt number.
func (a *Accountant) TrailingInfraFailures(attempts []models.ChargeAttempt, sessions []models.PaymentRecoverySession) int {
	count := 0
	for i := len(attempts) - 1; i >= 0; i-- {
		switch {
		case attempts[i].Outcome == enums.AttemptOutcomeGatewayError:
			count++
		case awaitingLink(attempts[i], sessions):
			return count + 1
		default:
			return count
		}
	}
	return count
}

// awaitingLink reports whether attempt called for a recovery session that no
// session row points back to.
func awaitingLink(attempt models.ChargeAttempt, sessions []models.PaymentRecoverySession) bool {
	if attempt.Outcome == enums.AttemptOutcomeGatewayError || attempt.Disposition == nil {
		return false
	}
	if _, ok := ModeFor(*attempt.Disposition); !ok {
		return false
	}
	for _, session := range sessions {
		if session.TriggeringAttemptID == attempt.ID {
			return false
		}
	}
	return true
}

// NextBackoff returns the wait after the n-th business decline:
// base * factor^(n-1), capped at the max step.
func (a *Accountant) NextBackoff(n int) time.Duration {
	return geometric(a.policy.BackoffBase, a.policy.BackoffFactor, a.policy.BackoffMaxStep, n)
}

// InfraBackoff returns the wait after the n-th consecutive gateway failure.
func (a *Accountant) InfraBackoff(n int) time.Duration {
	return geometric(a.policy.InfraBackoffBase, 2, a.policy.InfraBackoffMax, n)
}

func geometric(base time.Duration, factor int, limit time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	step := base
	for i := 1; i < n; i++ {
		if step >= limit {
			return limit
		}
		step *= time.Duration(factor)
	}
	if step > limit {
		return limit
	}
	return step
}

// Deadline is the last moment automated recovery may run for the obligation.
func (a *Accountant) Deadline(obligation *models.ChargeableObligation) time.Time {
	return obligation.CreatedAt.Add(a.policy.Window)
}

// Verdict is the accountant's decision after a business decline.
type Verdict struct {
	Escalate      bool
	Reason        enums.EscalationReason
	DeclineCount  int
	NextAttemptAt *time.Time
}

// AfterDecline decides what follows once declineCount business declines have
// been recorded.
func (a *Accountant) AfterDecline(obligation *models.ChargeableObligation, declineCount int, now time.Time) Verdict {
	verdict := Verdict{DeclineCount: declineCount}
	if declineCount >= a.policy.MaxDeclines {
		verdict.Escalate = true
		verdict.Reason = enums.EscalationReasonDeclinesExhausted
		return verdict
	}
	next := now.Add(a.NextBackoff(declineCount))
	if a.pastDeadline(obligation, next) {
		verdict.Escalate = true
		verdict.Reason = enums.EscalationReasonWindowExhausted
		return verdict
	}
	verdict.NextAttemptAt = &next
	return verdict
}

// AfterGatewayError decides what follows a run of consecutive infrastructure failures.
func (a *Accountant) AfterGatewayError(obligation *models.ChargeableObligation, declineCount, trailing int, now time.Time) Verdict {
	verdict := Verdict{DeclineCount: declineCount}
	if trailing >= a.policy.MaxInfraFailures {
		verdict.Escalate = true
		verdict.Reason = enums.EscalationReasonInfrastructureExhausted
		return verdict
	}
	next := now.Add(a.InfraBackoff(trailing))
	if a.pastDeadline(obligation, next) {
		verdict.Escalate = true
		verdict.Reason = enums.EscalationReasonWindowExhausted
		return verdict
	}
	verdict.NextAttemptAt = &next
	return verdict
}

// WindowExhausted reports whether now is already past the recovery deadline.
func (a *Accountant) WindowExhausted(obligation *models.ChargeableObligation, now time.Time) bool {
	return a.pastDeadline(obligation, now)
}

func (a *Accountant) pastDeadline(obligation *models.ChargeableObligation, at time.Time) bool {
	return at.After(a.Deadline(obligation))
}
