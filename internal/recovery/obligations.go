package recovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/pkg/db"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/pagination"
	"github.com/angelmondragon/kitchenshare-backend/pkg/security"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// CreateObligationParams describes a finalized overstay or damage event.
type CreateObligationParams struct {
	Kind                 enums.ObligationKind
	ChefID               uuid.UUID
	AmountMinor          int64
	Currency             enums.Currency
	PaymentMethodRef     string
	ProcessorCustomerRef string
	SourceEventRef       string
}

// CreateObligation records a new pending obligation that is due immediately.
// Events carrying a source reference are deduplicated per kind; created is
// false when an existing obligation is returned.
func (c *Controller) CreateObligation(ctx context.Context, params CreateObligationParams) (*models.ChargeableObligation, bool, error) {
	if !params.Kind.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "invalid obligation kind")
	}
	if params.ChefID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "chef id is required")
	}
	if params.AmountMinor <= 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !params.Currency.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}

	sourceRef := strings.TrimSpace(params.SourceEventRef)
	if sourceRef != "" {
		existing, err := c.repo.FindObligationBySourceEvent(ctx, params.Kind, sourceRef)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find obligation by source event")
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	now := c.now()
	obligation := &models.ChargeableObligation{
		ID:                   uuid.New(),
		Kind:                 params.Kind,
		ChefID:               params.ChefID,
		AmountMinor:          params.AmountMinor,
		Currency:             params.Currency,
		Status:               enums.ObligationStatusPending,
		PaymentMethodRef:     optionalString(params.PaymentMethodRef),
		ProcessorCustomerRef: optionalString(params.ProcessorCustomerRef),
		SourceEventRef:       optionalString(sourceRef),
		NextAttemptAt:        &now,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := c.repo.CreateObligation(ctx, obligation); err != nil {
		if sourceRef != "" && db.IsUniqueViolation(err, "") {
			existing, findErr := c.repo.FindObligationBySourceEvent(ctx, params.Kind, sourceRef)
			if findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create obligation")
	}

	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"obligation_id": obligation.ID.String(),
		"chef_id":       obligation.ChefID.String(),
		"kind":          obligation.Kind,
		"amount_minor":  obligation.AmountMinor,
	}), "obligation created")
	return obligation, true, nil
}

// ObligationDetail is an obligation with its full recovery history.
type ObligationDetail struct {
	Obligation models.ChargeableObligation     `json:"obligation"`
	Attempts   []models.ChargeAttempt          `json:"attempts"`
	Sessions   []models.PaymentRecoverySession `json:"sessions"`
	Ticket     *models.EscalationTicket        `json:"ticket,omitempty"`
}

// GetObligation returns an obligation and everything recorded against it.
func (c *Controller) GetObligation(ctx context.Context, obligationID uuid.UUID) (*ObligationDetail, error) {
	if obligationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "obligation id is required")
	}
	obligation, err := c.load(ctx, obligationID)
	if err != nil {
		return nil, err
	}
	attempts, sessions, err := c.history(ctx, obligationID)
	if err != nil {
		return nil, err
	}
	ticket, err := c.repo.FindTicketByObligation(ctx, obligationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find escalation ticket")
	}
	return &ObligationDetail{
		Obligation: *obligation,
		Attempts:   attempts,
		Sessions:   sessions,
		Ticket:     ticket,
	}, nil
}

// Outstanding is the booking gate view of a chef.
type Outstanding struct {
	ChefID        uuid.UUID                     `json:"chef_id"`
	HasUnresolved bool                          `json:"has_unresolved"`
	Obligations   []models.ChargeableObligation `json:"obligations"`
}

// ListOutstanding returns the chef's open obligations plus escalated ones
// whose ticket is still open.
func (c *Controller) ListOutstanding(ctx context.Context, chefID uuid.UUID) (*Outstanding, error) {
	if chefID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "chef id is required")
	}
	open, err := c.repo.ListOpenObligationsByChef(ctx, chefID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open obligations")
	}
	escalated, err := c.repo.ListEscalatedObligationsByChef(ctx, chefID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list escalated obligations")
	}
	all := append(open, escalated...)
	if all == nil {
		all = []models.ChargeableObligation{}
	}
	return &Outstanding{
		ChefID:        chefID,
		HasUnresolved: len(all) > 0,
		Obligations:   all,
	}, nil
}

// HasUnresolvedObligations answers the booking gate question for a chef.
func (c *Controller) HasUnresolvedObligations(ctx context.Context, chefID uuid.UUID) (bool, error) {
	outstanding, err := c.ListOutstanding(ctx, chefID)
	if err != nil {
		return false, err
	}
	return outstanding.HasUnresolved, nil
}

// UpdatePaymentMethod stores a new instrument on every open obligation of the
// chef. Chargeable obligations become due immediately. It returns how many
// obligations were updated; obligations busy under another lease are reported
// in the error.
func (c *Controller) UpdatePaymentMethod(ctx context.Context, chefID uuid.UUID, paymentMethodRef, customerRef string) (int, error) {
	if chefID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "chef id is required")
	}
	instrument := optionalString(paymentMethodRef)
	if instrument == nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "payment method ref is required")
	}
	customer := optionalString(customerRef)
	ctx = c.logg.WithChefID(ctx, chefID.String())

	open, err := c.repo.ListOpenObligationsByChef(ctx, chefID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open obligations")
	}

	updated := 0
	var errs error
	for i := range open {
		if err := c.updateInstrument(ctx, open[i].ID, instrument, customer); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		updated++
	}
	return updated, errs
}

func (c *Controller) updateInstrument(ctx context.Context, obligationID uuid.UUID, instrument, customer *string) error {
	lease, ok, err := c.acquire(ctx, obligationID)
	if err != nil {
		return err
	}
	if !ok {
		c.metrics.IncLeaseContended()
		return pkgerrors.New(pkgerrors.CodeLeaseHeld, "recovery already in progress for obligation").
			WithDetails(map[string]any{"obligation_id": obligationID.String()})
	}
	defer c.release(ctx, lease)

	obligation, err := c.load(ctx, obligationID)
	if err != nil {
		return err
	}
	if obligation.Status.IsTerminal() {
		return nil
	}

	now := c.now()
	expected := obligation.Version
	obligation.PaymentMethodRef = instrument
	if customer != nil {
		obligation.ProcessorCustomerRef = customer
	}
	if obligation.Status.IsChargeable() {
		obligation.NextAttemptAt = &now
	}
	obligation.UpdatedAt = now
	if err := c.repo.UpdateObligation(ctx, obligation, expected); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "obligation changed concurrently")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update obligation instrument")
	}
	return nil
}

// SessionList is one page of recovery sessions.
type SessionList struct {
	Items  []models.PaymentRecoverySession `json:"items"`
	Cursor string                          `json:"cursor,omitempty"`
}

// ListActiveSessions pages through live recovery links, newest first. Admins
// use it to find chefs who never received their link.
func (c *Controller) ListActiveSessions(ctx context.Context, params pagination.Params) (*SessionList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	sessions, err := c.repo.ListActiveSessions(ctx, cursor, pagination.LimitWithBuffer(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active sessions")
	}
	items, next := pagination.Trim(sessions, limit, func(s models.PaymentRecoverySession) pagination.Cursor {
		return pagination.Cursor{CreatedAt: s.CreatedAt, ID: s.ID}
	})
	return &SessionList{Items: items, Cursor: next}, nil
}

// SessionView is what a chef holding a link may see about it. It carries no
// internal identifiers.
type SessionView struct {
	Mode        enums.RecoverySessionMode  `json:"mode"`
	State       enums.RecoverySessionState `json:"state"`
	LinkURL     string                     `json:"link_url"`
	ExpiresAt   time.Time                  `json:"expires_at"`
	Kind        enums.ObligationKind       `json:"kind"`
	AmountMinor int64                      `json:"amount_minor"`
	Currency    enums.Currency             `json:"currency"`
}

// FindSessionByToken resolves a raw link token. Only active, unexpired
// sessions are visible.
func (c *Controller) FindSessionByToken(ctx context.Context, token string) (*SessionView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token is required")
	}
	session, err := c.repo.FindSessionByTokenDigest(ctx, security.DigestToken(token))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find recovery session")
	}
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "recovery session not found")
	}
	if session.State != enums.RecoverySessionStateActive || !session.ExpiresAt.After(c.now()) {
		return nil, pkgerrors.New(pkgerrors.CodeSessionClosed, "recovery session is no longer active")
	}
	obligation, err := c.load(ctx, session.ObligationID)
	if err != nil {
		return nil, err
	}
	return &SessionView{
		Mode:        session.Mode,
		State:       session.State,
		LinkURL:     session.LinkURL,
		ExpiresAt:   session.ExpiresAt,
		Kind:        obligation.Kind,
		AmountMinor: obligation.AmountMinor,
		Currency:    obligation.Currency,
	}, nil
}
