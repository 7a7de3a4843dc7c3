package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reasons reported on skipped results.
const (
	SkipLeaseHeld       = "lease_held"
	SkipTerminal        = "terminal"
	SkipAwaitingSession = "awaiting_session"
	SkipNotDue          = "not_due"
	SkipSessionInactive = "session_inactive"
	SkipAlreadyConsumed = "already_consumed"
	SkipConsistent      = "consistent"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ControllerParams wires the lifecycle controller.
type ControllerParams struct {
	DB          txRunner
	Repo        Repository
	Leaser      Leaser
	Executor    *Executor
	Sessions    *SessionIssuer
	Escalations *EscalationManager
	Accountant  *Accountant
	Logger      *logger.Logger
	Metrics     *metrics.RecoveryMetrics
	Now         func() time.Time
}

// Controller owns the obligation state machine. Every entry point takes the
// obligation lease, reads fresh state and commits the transition atomically.
type Controller struct {
	db          txRunner
	repo        Repository
	leaser      Leaser
	executor    *Executor
	sessions    *SessionIssuer
	escalations *EscalationManager
	accountant  *Accountant
	logg        *logger.Logger
	metrics     *metrics.RecoveryMetrics
	now         func() time.Time
}

// NewController validates dependencies and returns a controller.
func NewController(params ControllerParams) (*Controller, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("db required")
	case params.Repo == nil:
		return nil, fmt.Errorf("repository required")
	case params.Leaser == nil:
		return nil, fmt.Errorf("leaser required")
	case params.Executor == nil:
		return nil, fmt.Errorf("executor required")
	case params.Sessions == nil:
		return nil, fmt.Errorf("session issuer required")
	case params.Escalations == nil:
		return nil, fmt.Errorf("escalation manager required")
	case params.Accountant == nil:
		return nil, fmt.Errorf("accountant required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Controller{
		db:          params.DB,
		repo:        params.Repo,
		leaser:      params.Leaser,
		executor:    params.Executor,
		sessions:    params.Sessions,
		escalations: params.Escalations,
		accountant:  params.Accountant,
		logg:        params.Logger,
		metrics:     params.Metrics,
		now:         now,
	}, nil
}

// Result describes what an entry point did to an obligation.
type Result struct {
	ObligationID uuid.UUID                      `json:"obligation_id"`
	Status       enums.ObligationStatus         `json:"status"`
	Attempt      *models.ChargeAttempt          `json:"attempt,omitempty"`
	Session      *models.PaymentRecoverySession `json:"session,omitempty"`
	Ticket       *models.EscalationTicket       `json:"ticket,omitempty"`
	Skipped      bool                           `json:"skipped"`
	SkipReason   string                         `json:"skip_reason,omitempty"`

	notify []func(context.Context)
}

func skipped(obligationID uuid.UUID, status enums.ObligationStatus, reason string) *Result {
	return &Result{ObligationID: obligationID, Status: status, Skipped: true, SkipReason: reason}
}

// transition is the write set of one state change.
type transition struct {
	from            enums.ObligationStatus
	obligation      *models.ChargeableObligation
	expectedVersion int64
	attempt         *models.ChargeAttempt
	session         *PreparedSession
	closeSession    *models.PaymentRecoverySession
	closeFrom       enums.RecoverySessionState
	supersede       bool
	escalate        *enums.EscalationReason
	declineCount    int
}

// TriggerRecovery runs one recovery step for an obligation: an off-session
// attempt, or a fresh session when the previous link lapsed or could not be
// opened on an unchanged instrument. A held lease or a terminal status yields
// a skipped result.
func (c *Controller) TriggerRecovery(ctx context.Context, obligationID uuid.UUID) (result *Result, err error) {
	if obligationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "obligation id is required")
	}
	ctx = c.logg.WithObligationID(ctx, obligationID.String())

	lease, ok, err := c.acquire(ctx, obligationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.contended(ctx, obligationID)
	}
	defer c.flush(ctx, &result)
	defer c.release(ctx, lease)

	obligation, err := c.load(ctx, obligationID)
	if err != nil {
		return nil, err
	}
	if obligation.Status.IsTerminal() {
		return skipped(obligation.ID, obligation.Status, SkipTerminal), nil
	}
	if obligation.Status == enums.ObligationStatusRequiresAction {
		return skipped(obligation.ID, obligation.Status, SkipAwaitingSession), nil
	}

	now := c.now()
	if obligation.NextAttemptAt != nil && now.Before(*obligation.NextAttemptAt) {
		return skipped(obligation.ID, obligation.Status, SkipNotDue), nil
	}

	attempts, sessions, err := c.history(ctx, obligation.ID)
	if err != nil {
		return nil, err
	}

	if c.accountant.WindowExhausted(obligation, now) {
		reason := enums.EscalationReasonWindowExhausted
		return c.commit(ctx, &transition{
			from:            obligation.Status,
			obligation:      escalated(obligation, now),
			expectedVersion: obligation.Version,
			escalate:        &reason,
			declineCount:    c.accountant.DeclineCount(attempts, sessions),
		}, attempts)
	}

	if mode, authRef, triggeringID, ok := reissueCandidate(obligation, attempts, sessions); ok {
		prepared, err := c.sessions.Prepare(ctx, obligation, triggeringID, mode, authRef, now)
		if err != nil {
			return c.linkFailed(ctx, obligation, attempts, sessions, err, now)
		}
		next := *obligation
		next.Status = enums.ObligationStatusRequiresAction
		next.NextAttemptAt = nil
		next.UpdatedAt = now
		return c.commit(ctx, &transition{
			from:            obligation.Status,
			obligation:      &next,
			expectedVersion: obligation.Version,
			session:         prepared,
		}, attempts)
	}

	attempt, err := c.executor.Attempt(ctx, obligation, attempts)
	if err != nil {
		return nil, err
	}
	attempts = append(attempts, *attempt)

	return c.commitAttempt(ctx, c.afterAttempt(ctx, obligation, attempt, attempts, sessions, now), attempts)
}

// linkFailed records a recovery link that could not be opened as an
// infrastructure attempt and schedules the next try.
func (c *Controller) linkFailed(ctx context.Context, obligation *models.ChargeableObligation, attempts []models.ChargeAttempt, sessions []models.PaymentRecoverySession, cause error, now time.Time) (*Result, error) {
	attempt := c.executor.LinkFailure(ctx, obligation, attempts, cause)
	attempts = append(attempts, *attempt)

	next := *obligation
	next.UpdatedAt = now
	t := &transition{
		from:            obligation.Status,
		obligation:      &next,
		expectedVersion: obligation.Version,
		attempt:         attempt,
		declineCount:    c.accountant.DeclineCount(attempts, sessions),
	}
	c.applyInfraVerdict(t, obligation, attempts, sessions, now)
	return c.commitAttempt(ctx, t, attempts)
}

// commitAttempt commits a transition carrying an attempt. Escalating for
// infrastructure reasons is also reported as a dependency error.
func (c *Controller) commitAttempt(ctx context.Context, t *transition, attempts []models.ChargeAttempt) (*Result, error) {
	result, err := c.commit(ctx, t, attempts)
	if err != nil {
		return nil, err
	}
	if t.escalate != nil && *t.escalate == enums.EscalationReasonInfrastructureExhausted {
		return result, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway unavailable; obligation escalated").
			WithDetails(map[string]any{"obligation_id": t.obligation.ID.String()})
	}
	return result, nil
}

func (c *Controller) applyInfraVerdict(t *transition, obligation *models.ChargeableObligation, attempts []models.ChargeAttempt, sessions []models.PaymentRecoverySession, now time.Time) {
	trailing := c.accountant.TrailingInfraFailures(attempts, sessions)
	applyVerdict(t, c.accountant.AfterGatewayError(obligation, t.declineCount, trailing, now), enums.ObligationStatusChargeFailed)
}

func (c *Controller) afterAttempt(ctx context.Context, obligation *models.ChargeableObligation, attempt *models.ChargeAttempt, attempts []models.ChargeAttempt, sessions []models.PaymentRecoverySession, now time.Time) *transition {
	next := *obligation
	next.UpdatedAt = now
	t := &transition{
		from:            obligation.Status,
		obligation:      &next,
		expectedVersion: obligation.Version,
		attempt:         attempt,
	}

	if attempt.Outcome == enums.AttemptOutcomeSucceeded {
		next.Status = enums.ObligationStatusChargeSucceeded
		next.NextAttemptAt = nil
		t.supersede = true
		return t
	}

	declines := c.accountant.DeclineCount(attempts, sessions)
	t.declineCount = declines

	if attempt.Outcome == enums.AttemptOutcomeGatewayError {
		c.applyInfraVerdict(t, obligation, attempts, sessions, now)
		return t
	}

	disposition := enums.DispositionRetryLater
	if attempt.Disposition != nil {
		disposition = *attempt.Disposition
	}
	if mode, ok := ModeFor(disposition); ok {
		prepared, err := c.sessions.Prepare(ctx, obligation, attempt.ID, mode, attempt.AuthorizationRef, now)
		if err != nil {
			// The charge already ran, so its attempt is kept. The link is
			// retried on the next step and counts as an infrastructure failure.
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "recovery link unavailable after charge attempt")
			msg := truncate("create recovery session link: "+err.Error(), maxErrorMessageLen)
			attempt.ErrorMessage = &msg
			c.applyInfraVerdict(t, obligation, attempts, sessions, now)
			return t
		}
		next.Status = enums.ObligationStatusRequiresAction
		next.NextAttemptAt = nil
		t.session = prepared
		return t
	}

	applyVerdict(t, c.accountant.AfterDecline(obligation, declines, now), enums.ObligationStatusChargeFailed)
	return t
}

// applyVerdict sets the escalation or the retry schedule on t. retryStatus is
// the status to keep when recovery continues.
func applyVerdict(t *transition, verdict Verdict, retryStatus enums.ObligationStatus) {
	if verdict.Escalate {
		reason := verdict.Reason
		t.escalate = &reason
		t.obligation.Status = enums.ObligationStatusEscalated
		t.obligation.NextAttemptAt = nil
		return
	}
	t.obligation.Status = retryStatus
	t.obligation.NextAttemptAt = verdict.NextAttemptAt
}

// reissueCandidate reports whether the next step should open a recovery link
// instead of charging: either the link for the latest attempt was never
// issued, or the latest session lapsed. Both only apply while the instrument
// is unchanged, since charging it off-session again would repeat a known
// failure. Link failures recorded since then are skipped over.
func reissueCandidate(obligation *models.ChargeableObligation, attempts []models.ChargeAttempt, sessions []models.PaymentRecoverySession) (enums.RecoverySessionMode, *string, uuid.UUID, bool) {
	if obligation.Status != enums.ObligationStatusChargeFailed {
		return "", nil, uuid.Nil, false
	}
	last := -1
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Outcome != enums.AttemptOutcomeGatewayError {
			last = i
			break
		}
	}
	if last < 0 {
		return "", nil, uuid.Nil, false
	}
	latestAttempt := attempts[last]

	if awaitingLink(latestAttempt, sessions) {
		if stringOrEmpty(latestAttempt.InstrumentRef) != stringOrEmpty(obligation.PaymentMethodRef) {
			return "", nil, uuid.Nil, false
		}
		mode, _ := ModeFor(*latestAttempt.Disposition)
		return mode, latestAttempt.AuthorizationRef, latestAttempt.ID, true
	}

	if len(sessions) == 0 {
		return "", nil, uuid.Nil, false
	}
	latest := sessions[len(sessions)-1]
	if !latest.State.EndedUnsuccessfully() {
		return "", nil, uuid.Nil, false
	}
	if latestAttempt.ID != latest.TriggeringAttemptID {
		return "", nil, uuid.Nil, false
	}
	if stringOrEmpty(latest.InstrumentRef) != stringOrEmpty(obligation.PaymentMethodRef) {
		return "", nil, uuid.Nil, false
	}
	return latest.Mode, latest.AuthorizationRef, latest.TriggeringAttemptID, true
}

func escalated(obligation *models.ChargeableObligation, now time.Time) *models.ChargeableObligation {
	next := *obligation
	next.Status = enums.ObligationStatusEscalated
	next.NextAttemptAt = nil
	next.UpdatedAt = now
	return &next
}

// commit writes t in one transaction and runs the post-commit side effects.
func (c *Controller) commit(ctx context.Context, t *transition, attempts []models.ChargeAttempt) (*Result, error) {
	result := &Result{ObligationID: t.obligation.ID}

	err := c.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := c.repo.WithTx(tx)
		if t.attempt != nil {
			if err := repo.CreateAttempt(ctx, t.attempt); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record charge attempt")
			}
		}
		if t.closeSession != nil {
			closed, err := repo.CloseSession(ctx, t.closeSession, t.closeFrom)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close recovery session")
			}
			if !closed {
				return pkgerrors.New(pkgerrors.CodeSessionClosed, "recovery session changed concurrently")
			}
		}
		if t.supersede {
			if _, err := repo.SupersedeActiveSessions(ctx, t.obligation.ID, t.obligation.UpdatedAt); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "supersede recovery sessions")
			}
		}
		if t.session != nil {
			if err := c.sessions.Persist(ctx, repo, t.session); err != nil {
				return err
			}
		}
		if t.escalate != nil {
			ticket, _, err := c.escalations.Escalate(ctx, repo, t.obligation, t.declineCount, *t.escalate)
			if err != nil {
				return err
			}
			result.Ticket = ticket
		}
		if err := repo.UpdateObligation(ctx, t.obligation, t.expectedVersion); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "obligation changed concurrently")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update obligation")
		}
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit recovery transition")
	}

	result.Status = t.obligation.Status
	result.Attempt = t.attempt
	if t.session != nil {
		result.Session = t.session.Session
	} else if t.closeSession != nil {
		result.Session = t.closeSession
	}

	if t.from != t.obligation.Status {
		c.metrics.IncTransition(t.from.String(), t.obligation.Status.String())
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{
			"from": t.from,
			"to":   t.obligation.Status,
		}), "obligation transitioned")
	}
	if t.session != nil {
		obligation, session := t.obligation, t.session.Session
		result.notify = append(result.notify, func(ctx context.Context) {
			c.sessions.NotifyIssued(ctx, obligation, session)
		})
	}
	if result.Ticket != nil && t.escalate != nil {
		obligation, ticket := t.obligation, result.Ticket
		result.notify = append(result.notify, func(ctx context.Context) {
			c.escalations.NotifyEscalated(ctx, obligation, ticket, attempts)
		})
	}
	return result, nil
}

// flush sends the notifications queued by a committed step. Entry points
// defer it ahead of the lease release, so it runs once the lease is free.
func (c *Controller) flush(ctx context.Context, result **Result) {
	if result == nil || *result == nil {
		return
	}
	pending := (*result).notify
	(*result).notify = nil
	for _, send := range pending {
		send(context.WithoutCancel(ctx))
	}
}

func (c *Controller) acquire(ctx context.Context, obligationID uuid.UUID) (Lease, bool, error) {
	lease, ok, err := c.leaser.Acquire(ctx, obligationID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire obligation lease")
	}
	return lease, ok, nil
}

func (c *Controller) release(ctx context.Context, lease Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "release obligation lease failed")
	}
}

// contended reports the current status without waiting for the holder.
func (c *Controller) contended(ctx context.Context, obligationID uuid.UUID) (*Result, error) {
	c.metrics.IncLeaseContended()
	obligation, err := c.load(ctx, obligationID)
	if err != nil {
		return nil, err
	}
	return skipped(obligation.ID, obligation.Status, SkipLeaseHeld), nil
}

func (c *Controller) load(ctx context.Context, obligationID uuid.UUID) (*models.ChargeableObligation, error) {
	obligation, err := c.repo.FindObligation(ctx, obligationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load obligation")
	}
	if obligation == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "obligation not found")
	}
	return obligation, nil
}

func (c *Controller) history(ctx context.Context, obligationID uuid.UUID) ([]models.ChargeAttempt, []models.PaymentRecoverySession, error) {
	attempts, err := c.repo.ListAttempts(ctx, obligationID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list charge attempts")
	}
	sessions, err := c.repo.ListSessions(ctx, obligationID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list recovery sessions")
	}
	return attempts, sessions, nil
}
