package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/metrics"
	"github.com/angelmondragon/kitchenshare-backend/pkg/security"
	"github.com/google/uuid"
)

// SessionIssuerParams groups dependencies for the session issuer.
type SessionIssuerParams struct {
	Gateway  Gateway
	Notifier Notifier
	TTL      time.Duration
	Timeout  time.Duration
	Logger   *logger.Logger
	Metrics  *metrics.RecoveryMetrics
}

// SessionIssuer opens on-session recovery links.
type SessionIssuer struct {
	gateway  Gateway
	notifier Notifier
	ttl      time.Duration
	timeout  time.Duration
	logg     *logger.Logger
	metrics  *metrics.RecoveryMetrics
}

func NewSessionIssuer(params SessionIssuerParams) (*SessionIssuer, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &SessionIssuer{
		gateway:  params.Gateway,
		notifier: params.Notifier,
		ttl:      ttl,
		timeout:  timeout,
		logg:     params.Logger,
		metrics:  params.Metrics,
	}, nil
}

// PreparedSession is a session whose link exists at the processor but which
// has not been written yet. Token is the only copy of the raw secret.
type PreparedSession struct {
	Session *models.PaymentRecoverySession
	Token   string
}

// ModeFor maps a disposition to the session mode that can recover from it.
func ModeFor(disposition enums.Disposition) (enums.RecoverySessionMode, bool) {
	switch disposition {
	case enums.DispositionNeedsAuthentication:
		return enums.RecoverySessionModeAuthenticateExisting, true
	case enums.DispositionHardDecline, enums.DispositionNoInstrument:
		return enums.RecoverySessionModeCollectNewInstrument, true
	default:
		return "", false
	}
}

// Prepare mints a token and asks the gateway for a link. authorizationRef is
// only carried for authenticate_existing sessions.
func (s *SessionIssuer) Prepare(ctx context.Context, obligation *models.ChargeableObligation, triggeringAttemptID uuid.UUID, mode enums.RecoverySessionMode, authorizationRef *string, now time.Time) (*PreparedSession, error) {
	if !mode.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid recovery session mode")
	}
	token, err := security.NewSessionToken()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate session token")
	}

	session := &models.PaymentRecoverySession{
		ID:                  uuid.New(),
		ObligationID:        obligation.ID,
		TriggeringAttemptID: triggeringAttemptID,
		Mode:                mode,
		TokenDigest:         security.DigestToken(token),
		ExpiresAt:           now.Add(s.ttl),
		State:               enums.RecoverySessionStateActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if mode == enums.RecoverySessionModeAuthenticateExisting && authorizationRef != nil {
		ref := *authorizationRef
		session.AuthorizationRef = &ref
	}
	if obligation.HasInstrument() {
		ref := *obligation.PaymentMethodRef
		session.InstrumentRef = &ref
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	link, err := s.gateway.CreateSession(callCtx, SessionRequest{
		ObligationID:     obligation.ID,
		SessionID:        session.ID,
		Token:            token,
		Mode:             mode,
		AuthorizationRef: session.AuthorizationRef,
		AmountMinor:      obligation.AmountMinor,
		Currency:         obligation.Currency,
		ExpiresAt:        session.ExpiresAt,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create recovery session link")
	}
	if link == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned empty session link")
	}
	session.LinkURL = link
	return &PreparedSession{Session: session, Token: token}, nil
}

// Persist supersedes every active session of the obligation and writes the
// prepared one. repo must be bound to the caller's transaction.
func (s *SessionIssuer) Persist(ctx context.Context, repo Repository, prepared *PreparedSession) error {
	session := prepared.Session
	if _, err := repo.SupersedeActiveSessions(ctx, session.ObligationID, session.CreatedAt); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "supersede recovery sessions")
	}
	if err := repo.CreateSession(ctx, session); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create recovery session")
	}
	return nil
}

// NotifyIssued tells the chef about a committed session. Failures are logged.
func (s *SessionIssuer) NotifyIssued(ctx context.Context, obligation *models.ChargeableObligation, session *models.PaymentRecoverySession) {
	s.metrics.IncSessionIssued(session.Mode.String())
	err := s.notifier.Notify(ctx, Notification{
		RecipientKind: RecipientChef,
		Recipient:     obligation.ChefID.String(),
		Template:      TemplateRecoverySessionIssued,
		Payload: map[string]any{
			"obligation_id": obligation.ID.String(),
			"kind":          obligation.Kind.String(),
			"amount_minor":  obligation.AmountMinor,
			"currency":      obligation.Currency.String(),
			"mode":          session.Mode.String(),
			"link_url":      session.LinkURL,
			"expires_at":    session.ExpiresAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "session_id", session.ID.String()), "recovery session notification failed", err)
	}
}
