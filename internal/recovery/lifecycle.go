package recovery

import (
	"context"
	"strings"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// OnRecoverySessionConsumed applies the processor's report that the chef
// finished a recovery link. Replaying the same report is a no-op. A payment
// reported on a link that already expired or was superseded still settles
// the obligation.
func (c *Controller) OnRecoverySessionConsumed(ctx context.Context, sessionID uuid.UUID, outcome enums.RecoverySessionOutcome, processorRef string) (result *Result, err error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	if !outcome.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid session outcome")
	}
	session, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ctx = c.logg.WithObligationID(ctx, session.ObligationID.String())

	lease, ok, err := c.acquire(ctx, session.ObligationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.metrics.IncLeaseContended()
		return nil, pkgerrors.New(pkgerrors.CodeLeaseHeld, "recovery already in progress for obligation")
	}
	defer c.flush(ctx, &result)
	defer c.release(ctx, lease)

	// Re-read under the lease.
	session, err = c.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	obligation, err := c.load(ctx, session.ObligationID)
	if err != nil {
		return nil, err
	}

	finalState := enums.RecoverySessionStateSucceeded
	if outcome == enums.RecoverySessionOutcomeFailed {
		finalState = enums.RecoverySessionStateFailed
	}

	lapsed := false
	switch session.State {
	case enums.RecoverySessionStateActive:
	case finalState:
		skip := skipped(obligation.ID, obligation.Status, SkipAlreadyConsumed)
		skip.Session = session
		return skip, nil
	case enums.RecoverySessionStateSucceeded, enums.RecoverySessionStateFailed:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "recovery session already consumed with a different outcome").
			WithDetails(map[string]any{"state": session.State})
	default:
		if outcome != enums.RecoverySessionOutcomeSucceeded {
			return nil, pkgerrors.New(pkgerrors.CodeSessionClosed, "recovery session is no longer active").
				WithDetails(map[string]any{"state": session.State})
		}
		lapsed = true
	}

	previousState := session.State
	now := c.now()
	session.State = finalState
	session.Consumed = true
	session.ConsumedAt = &now
	session.UpdatedAt = now
	if ref := strings.TrimSpace(processorRef); ref != "" {
		session.ProcessorRef = &ref
	}

	next := *obligation
	next.UpdatedAt = now
	t := &transition{
		from:            obligation.Status,
		obligation:      &next,
		expectedVersion: obligation.Version,
		closeSession:    session,
		closeFrom:       previousState,
	}

	attempts, sessions, err := c.history(ctx, obligation.ID)
	if err != nil {
		return nil, err
	}

	if lapsed {
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"session_id":    session.ID.String(),
			"session_state": previousState,
		}), "payment received on closed recovery session")
	}

	switch {
	case obligation.Status.IsTerminal():
		// Money may still have moved at the processor; record the session but
		// leave the terminal status alone.
		c.logg.Warn(c.logg.WithField(ctx, "session_id", session.ID.String()), "recovery session consumed on terminal obligation")
	case outcome == enums.RecoverySessionOutcomeSucceeded:
		next.Status = enums.ObligationStatusChargeSucceeded
		next.NextAttemptAt = nil
		t.supersede = lapsed
	default:
		sessions = replaceSession(sessions, *session)
		declines := c.accountant.DeclineCount(attempts, sessions)
		t.declineCount = declines
		applyVerdict(t, c.accountant.AfterDecline(obligation, declines, now), enums.ObligationStatusChargeFailed)
	}
	return c.commit(ctx, t, attempts)
}

// ExpireSession closes an active session whose expiry has passed. The lapse
// counts as a business decline against the obligation.
func (c *Controller) ExpireSession(ctx context.Context, sessionID uuid.UUID) (result *Result, err error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	session, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ctx = c.logg.WithObligationID(ctx, session.ObligationID.String())

	lease, ok, err := c.acquire(ctx, session.ObligationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.contended(ctx, session.ObligationID)
	}
	defer c.flush(ctx, &result)
	defer c.release(ctx, lease)

	session, err = c.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	obligation, err := c.load(ctx, session.ObligationID)
	if err != nil {
		return nil, err
	}
	if session.State != enums.RecoverySessionStateActive {
		skip := skipped(obligation.ID, obligation.Status, SkipSessionInactive)
		skip.Session = session
		return skip, nil
	}

	now := c.now()
	if session.ExpiresAt.After(now) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "recovery session has not expired").
			WithDetails(map[string]any{"expires_at": session.ExpiresAt})
	}

	session.State = enums.RecoverySessionStateExpired
	session.UpdatedAt = now

	next := *obligation
	next.UpdatedAt = now
	t := &transition{
		from:            obligation.Status,
		obligation:      &next,
		expectedVersion: obligation.Version,
		closeSession:    session,
		closeFrom:       enums.RecoverySessionStateActive,
	}
	attempts, sessions, err := c.history(ctx, obligation.ID)
	if err != nil {
		return nil, err
	}
	if obligation.Status == enums.ObligationStatusRequiresAction {
		sessions = replaceSession(sessions, *session)
		declines := c.accountant.DeclineCount(attempts, sessions)
		t.declineCount = declines
		applyVerdict(t, c.accountant.AfterDecline(obligation, declines, now), enums.ObligationStatusChargeFailed)
	}
	return c.commit(ctx, t, attempts)
}

// ExpireDueSessions expires up to limit sessions past their expiry at now. It
// returns how many sessions were closed.
func (c *Controller) ExpireDueSessions(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := c.repo.ListExpiredSessions(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired sessions")
	}
	expired := 0
	var errs error
	for _, session := range due {
		result, err := c.ExpireSession(ctx, session.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !result.Skipped {
			expired++
		}
	}
	return expired, errs
}

// ResolveOutOfBand marks a non-terminal obligation paid through some channel
// outside the engine and closes any open session.
func (c *Controller) ResolveOutOfBand(ctx context.Context, obligationID uuid.UUID, note string) (result *Result, err error) {
	if obligationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "obligation id is required")
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution note is required")
	}
	ctx = c.logg.WithObligationID(ctx, obligationID.String())

	lease, ok, err := c.acquire(ctx, obligationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.metrics.IncLeaseContended()
		return nil, pkgerrors.New(pkgerrors.CodeLeaseHeld, "recovery already in progress for obligation")
	}
	defer c.flush(ctx, &result)
	defer c.release(ctx, lease)

	obligation, err := c.load(ctx, obligationID)
	if err != nil {
		return nil, err
	}
	if obligation.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "obligation is already closed").
			WithDetails(map[string]any{"status": obligation.Status})
	}

	now := c.now()
	next := *obligation
	next.Status = enums.ObligationStatusChargeSucceeded
	next.NextAttemptAt = nil
	next.ResolutionNote = &note
	next.UpdatedAt = now
	return c.commit(ctx, &transition{
		from:            obligation.Status,
		obligation:      &next,
		expectedVersion: obligation.Version,
		supersede:       true,
	}, nil)
}

// Reconcile re-derives the status from the attempt, session and ticket
// records and rewrites the cached status when they disagree. Terminal
// statuses are never rewritten.
func (c *Controller) Reconcile(ctx context.Context, obligationID uuid.UUID) (result *Result, err error) {
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
	attempts, sessions, err := c.history(ctx, obligation.ID)
	if err != nil {
		return nil, err
	}
	ticket, err := c.repo.FindTicketByObligation(ctx, obligation.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find escalation ticket")
	}

	derived := DeriveStatus(attempts, sessions, ticket)
	if derived == obligation.Status {
		return skipped(obligation.ID, obligation.Status, SkipConsistent), nil
	}

	now := c.now()
	next := *obligation
	next.Status = derived
	next.UpdatedAt = now
	switch {
	case derived.IsTerminal() || derived == enums.ObligationStatusRequiresAction:
		next.NextAttemptAt = nil
	case next.NextAttemptAt == nil:
		next.NextAttemptAt = &now
	}
	c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
		"cached":  obligation.Status,
		"derived": derived,
	}), "obligation status drifted from records")

	result, err = c.commit(ctx, &transition{
		from:            obligation.Status,
		obligation:      &next,
		expectedVersion: obligation.Version,
	}, attempts)
	if err != nil {
		return nil, err
	}
	result.Ticket = ticket
	return result, nil
}

// DeriveStatus computes the status the records imply.
func DeriveStatus(attempts []models.ChargeAttempt, sessions []models.PaymentRecoverySession, ticket *models.EscalationTicket) enums.ObligationStatus {
	if ticket != nil {
		return enums.ObligationStatusEscalated
	}
	for _, attempt := range attempts {
		if attempt.Outcome == enums.AttemptOutcomeSucceeded {
			return enums.ObligationStatusChargeSucceeded
		}
	}
	for _, session := range sessions {
		if session.State == enums.RecoverySessionStateSucceeded {
			return enums.ObligationStatusChargeSucceeded
		}
	}
	for _, session := range sessions {
		if session.State == enums.RecoverySessionStateActive {
			return enums.ObligationStatusRequiresAction
		}
	}
	if len(attempts) > 0 {
		return enums.ObligationStatusChargeFailed
	}
	return enums.ObligationStatusPending
}

func (c *Controller) loadSession(ctx context.Context, sessionID uuid.UUID) (*models.PaymentRecoverySession, error) {
	session, err := c.repo.FindSession(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load recovery session")
	}
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "recovery session not found")
	}
	return session, nil
}

func replaceSession(sessions []models.PaymentRecoverySession, updated models.PaymentRecoverySession) []models.PaymentRecoverySession {
	out := make([]models.PaymentRecoverySession, 0, len(sessions))
	found := false
	for _, session := range sessions {
		if session.ID == updated.ID {
			out = append(out, updated)
			found = true
			continue
		}
		out = append(out, session)
	}
	if !found {
		out = append(out, updated)
	}
	return out
}
