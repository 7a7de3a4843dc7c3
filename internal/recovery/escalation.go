package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/pkg/db"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/metrics"
	"github.com/angelmondragon/kitchenshare-backend/pkg/pagination"
	"github.com/google/uuid"
)

// EscalationManagerParams groups dependencies for the escalation manager.
type EscalationManagerParams struct {
	Repo           Repository
	Notifier       Notifier
	AdminRecipient string
	Logger         *logger.Logger
	Metrics        *metrics.RecoveryMetrics
	Now            func() time.Time
}

// EscalationManager hands obligations to a human and tracks the handoff.
type EscalationManager struct {
	repo      Repository
	notifier  Notifier
	recipient string
	logg      *logger.Logger
	metrics   *metrics.RecoveryMetrics
	now       func() time.Time
}

func NewEscalationManager(params EscalationManagerParams) (*EscalationManager, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("repository required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	recipient := strings.TrimSpace(params.AdminRecipient)
	if recipient == "" {
		recipient = "billing-ops"
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &EscalationManager{
		repo:      params.Repo,
		notifier:  params.Notifier,
		recipient: recipient,
		logg:      params.Logger,
		metrics:   params.Metrics,
		now:       now,
	}, nil
}

// Escalate opens the ticket for an obligation inside the caller's transaction.
// An existing ticket is returned unchanged, with created=false.
func (m *EscalationManager) Escalate(ctx context.Context, repo Repository, obligation *models.ChargeableObligation, attemptCount int, reason enums.EscalationReason) (*models.EscalationTicket, bool, error) {
	if !reason.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "invalid escalation reason")
	}
	existing, err := repo.FindTicketByObligation(ctx, obligation.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find escalation ticket")
	}
	if existing != nil {
		return existing, false, nil
	}

	now := m.now()
	ticket := &models.EscalationTicket{
		ID:           uuid.New(),
		ObligationID: obligation.ID,
		AttemptCount: attemptCount,
		Reason:       reason,
		Status:       enums.EscalationStatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.CreateTicket(ctx, ticket); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "obligation already escalated")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create escalation ticket")
	}
	return ticket, true, nil
}

// NotifyEscalated alerts the admin queue about a committed ticket.
func (m *EscalationManager) NotifyEscalated(ctx context.Context, obligation *models.ChargeableObligation, ticket *models.EscalationTicket, attempts []models.ChargeAttempt) {
	m.metrics.IncEscalation(ticket.Reason.String())

	summary := make([]map[string]any, 0, len(attempts))
	for _, attempt := range attempts {
		entry := map[string]any{
			"attempt_number": attempt.AttemptNumber,
			"outcome":        attempt.Outcome.String(),
			"at":             attempt.CreatedAt.Format(time.RFC3339),
		}
		if attempt.DeclineCode != nil {
			entry["decline_code"] = *attempt.DeclineCode
		}
		summary = append(summary, entry)
	}

	err := m.notifier.Notify(ctx, Notification{
		RecipientKind: RecipientAdmin,
		Recipient:     m.recipient,
		Template:      TemplateObligationEscalated,
		Payload: map[string]any{
			"obligation_id": obligation.ID.String(),
			"ticket_id":     ticket.ID.String(),
			"chef_id":       obligation.ChefID.String(),
			"kind":          obligation.Kind.String(),
			"amount_minor":  obligation.AmountMinor,
			"currency":      obligation.Currency.String(),
			"reason":        ticket.Reason.String(),
			"attempt_count": ticket.AttemptCount,
			"attempts":      summary,
		},
	})
	if err != nil {
		m.logg.Error(m.logg.WithField(ctx, "ticket_id", ticket.ID.String()), "escalation notification failed", err)
	}
}

// Resolve closes an open ticket. The obligation stays escalated.
func (m *EscalationManager) Resolve(ctx context.Context, ticketID uuid.UUID, note string) (*models.EscalationTicket, error) {
	if ticketID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ticket id is required")
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution note is required")
	}
	ticket, err := m.repo.FindTicket(ctx, ticketID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find escalation ticket")
	}
	if ticket == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escalation ticket not found")
	}
	if ticket.Status == enums.EscalationStatusResolved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "escalation ticket already resolved")
	}

	now := m.now()
	ticket.ResolutionNote = &note
	ticket.ResolvedAt = &now
	ticket.UpdatedAt = now
	ok, err := m.repo.ResolveTicket(ctx, ticket)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve escalation ticket")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "escalation ticket already resolved")
	}
	ticket.Status = enums.EscalationStatusResolved
	m.logg.Info(m.logg.WithField(ctx, "ticket_id", ticket.ID.String()), "escalation ticket resolved")
	return ticket, nil
}

// ListTicketsParams filters the admin ticket listing.
type ListTicketsParams struct {
	Status *enums.EscalationStatus
	Limit  int
	Cursor string
}

// TicketList is one page of tickets.
type TicketList struct {
	Items  []models.EscalationTicket `json:"items"`
	Cursor string                    `json:"cursor,omitempty"`
}

// List pages through tickets newest first.
func (m *EscalationManager) List(ctx context.Context, params ListTicketsParams) (*TicketList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	tickets, err := m.repo.ListTickets(ctx, params.Status, cursor, pagination.LimitWithBuffer(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list escalation tickets")
	}
	items, next := pagination.Trim(tickets, limit, func(t models.EscalationTicket) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return &TicketList{Items: items, Cursor: next}, nil
}
