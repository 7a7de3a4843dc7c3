package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	"github.com/angelmondragon/kitchenshare-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrVersionConflict is returned when a conditional obligation update loses a race.
var ErrVersionConflict = errors.New("obligation version changed")

var chargeableStatuses = []enums.ObligationStatus{
	enums.ObligationStatusPending,
	enums.ObligationStatusChargeFailed,
}

var openStatuses = []enums.ObligationStatus{
	enums.ObligationStatusPending,
	enums.ObligationStatusRequiresAction,
	enums.ObligationStatusChargeFailed,
}

// Repository persists obligations and their recovery records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateObligation(ctx context.Context, obligation *models.ChargeableObligation) error
	FindObligation(ctx context.Context, id uuid.UUID) (*models.ChargeableObligation, error)
	FindObligationBySourceEvent(ctx context.Context, kind enums.ObligationKind, sourceEventRef string) (*models.ChargeableObligation, error)
	UpdateObligation(ctx context.Context, obligation *models.ChargeableObligation, expectedVersion int64) error
	ListDueObligations(ctx context.Context, now time.Time, limit int) ([]models.ChargeableObligation, error)
	ListOpenObligationsSince(ctx context.Context, since time.Time, limit int) ([]models.ChargeableObligation, error)
	ListOpenObligationsByChef(ctx context.Context, chefID uuid.UUID) ([]models.ChargeableObligation, error)
	ListEscalatedObligationsByChef(ctx context.Context, chefID uuid.UUID) ([]models.ChargeableObligation, error)

	CreateAttempt(ctx context.Context, attempt *models.ChargeAttempt) error
	ListAttempts(ctx context.Context, obligationID uuid.UUID) ([]models.ChargeAttempt, error)

	CreateSession(ctx context.Context, session *models.PaymentRecoverySession) error
	FindSession(ctx context.Context, id uuid.UUID) (*models.PaymentRecoverySession, error)
	FindSessionByTokenDigest(ctx context.Context, digest string) (*models.PaymentRecoverySession, error)
	ListSessions(ctx context.Context, obligationID uuid.UUID) ([]models.PaymentRecoverySession, error)
	SupersedeActiveSessions(ctx context.Context, obligationID uuid.UUID, now time.Time) (int64, error)
	CloseSession(ctx context.Context, session *models.PaymentRecoverySession, from enums.RecoverySessionState) (bool, error)
	ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]models.PaymentRecoverySession, error)
	ListActiveSessions(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.PaymentRecoverySession, error)

	CreateTicket(ctx context.Context, ticket *models.EscalationTicket) error
	FindTicket(ctx context.Context, id uuid.UUID) (*models.EscalationTicket, error)
	FindTicketByObligation(ctx context.Context, obligationID uuid.UUID) (*models.EscalationTicket, error)
	ResolveTicket(ctx context.Context, ticket *models.EscalationTicket) (bool, error)
	ListTickets(ctx context.Context, status *enums.EscalationStatus, cursor *pagination.Cursor, limit int) ([]models.EscalationTicket, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a recovery repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateObligation(ctx context.Context, obligation *models.ChargeableObligation) error {
	return r.db.WithContext(ctx).Create(obligation).Error
}

func (r *repository) FindObligation(ctx context.Context, id uuid.UUID) (*models.ChargeableObligation, error) {
	var obligation models.ChargeableObligation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&obligation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &obligation, nil
}

func (r *repository) FindObligationBySourceEvent(ctx context.Context, kind enums.ObligationKind, sourceEventRef string) (*models.ChargeableObligation, error) {
	if sourceEventRef == "" {
		return nil, nil
	}
	var obligation models.ChargeableObligation
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND source_event_ref = ?", kind, sourceEventRef).
		First(&obligation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &obligation, nil
}

// UpdateObligation writes the mutable columns only if the row still carries
// expectedVersion, then bumps the version on the struct.
func (r *repository) UpdateObligation(ctx context.Context, obligation *models.ChargeableObligation, expectedVersion int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.ChargeableObligation{}).
		Where("id = ? AND version = ?", obligation.ID, expectedVersion).
		Updates(map[string]any{
			"status":                 obligation.Status,
			"next_attempt_at":        obligation.NextAttemptAt,
			"resolution_note":        obligation.ResolutionNote,
			"payment_method_ref":     obligation.PaymentMethodRef,
			"processor_customer_ref": obligation.ProcessorCustomerRef,
			"version":                expectedVersion + 1,
			"updated_at":             obligation.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	obligation.Version = expectedVersion + 1
	return nil
}

func (r *repository) ListDueObligations(ctx context.Context, now time.Time, limit int) ([]models.ChargeableObligation, error) {
	if limit <= 0 {
		limit = 100
	}
	var obligations []models.ChargeableObligation
	if err := r.db.WithContext(ctx).
		Where("status IN ?", chargeableStatuses).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
		Order("next_attempt_at ASC, created_at ASC").
		Limit(limit).
		Find(&obligations).Error; err != nil {
		return nil, err
	}
	return obligations, nil
}

func (r *repository) ListOpenObligationsSince(ctx context.Context, since time.Time, limit int) ([]models.ChargeableObligation, error) {
	if limit <= 0 {
		limit = 250
	}
	var obligations []models.ChargeableObligation
	if err := r.db.WithContext(ctx).
		Where("status IN ?", openStatuses).
		Where("updated_at >= ?", since).
		Order("updated_at DESC").
		Limit(limit).
		Find(&obligations).Error; err != nil {
		return nil, err
	}
	return obligations, nil
}

func (r *repository) ListOpenObligationsByChef(ctx context.Context, chefID uuid.UUID) ([]models.ChargeableObligation, error) {
	var obligations []models.ChargeableObligation
	if err := r.db.WithContext(ctx).
		Where("chef_id = ? AND status IN ?", chefID, openStatuses).
		Order("created_at ASC").
		Find(&obligations).Error; err != nil {
		return nil, err
	}
	return obligations, nil
}

// ListEscalatedObligationsByChef returns escalated obligations whose ticket is
// still open.
func (r *repository) ListEscalatedObligationsByChef(ctx context.Context, chefID uuid.UUID) ([]models.ChargeableObligation, error) {
	var obligations []models.ChargeableObligation
	if err := r.db.WithContext(ctx).
		Where("chef_id = ? AND status = ?", chefID, enums.ObligationStatusEscalated).
		Where("EXISTS (SELECT 1 FROM escalation_tickets t WHERE t.obligation_id = chargeable_obligations.id AND t.status = ?)", enums.EscalationStatusOpen).
		Order("created_at ASC").
		Find(&obligations).Error; err != nil {
		return nil, err
	}
	return obligations, nil
}

func (r *repository) CreateAttempt(ctx context.Context, attempt *models.ChargeAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) ListAttempts(ctx context.Context, obligationID uuid.UUID) ([]models.ChargeAttempt, error) {
	var attempts []models.ChargeAttempt
	if err := r.db.WithContext(ctx).
		Where("obligation_id = ?", obligationID).
		Order("attempt_number ASC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *repository) CreateSession(ctx context.Context, session *models.PaymentRecoverySession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) FindSession(ctx context.Context, id uuid.UUID) (*models.PaymentRecoverySession, error) {
	var session models.PaymentRecoverySession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *repository) FindSessionByTokenDigest(ctx context.Context, digest string) (*models.PaymentRecoverySession, error) {
	if digest == "" {
		return nil, nil
	}
	var session models.PaymentRecoverySession
	if err := r.db.WithContext(ctx).Where("token_digest = ?", digest).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *repository) ListSessions(ctx context.Context, obligationID uuid.UUID) ([]models.PaymentRecoverySession, error) {
	var sessions []models.PaymentRecoverySession
	if err := r.db.WithContext(ctx).
		Where("obligation_id = ?", obligationID).
		Order("created_at ASC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repository) SupersedeActiveSessions(ctx context.Context, obligationID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentRecoverySession{}).
		Where("obligation_id = ? AND state = ?", obligationID, enums.RecoverySessionStateActive).
		Updates(map[string]any{
			"state":      enums.RecoverySessionStateSuperseded,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// CloseSession moves a session from state from to its final state. It
// reports false when the session was no longer in that state.
func (r *repository) CloseSession(ctx context.Context, session *models.PaymentRecoverySession, from enums.RecoverySessionState) (bool, error) {
	if from == "" {
		from = enums.RecoverySessionStateActive
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentRecoverySession{}).
		Where("id = ? AND state = ?", session.ID, from).
		Updates(map[string]any{
			"state":         session.State,
			"consumed":      session.Consumed,
			"consumed_at":   session.ConsumedAt,
			"processor_ref": session.ProcessorRef,
			"updated_at":    session.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]models.PaymentRecoverySession, error) {
	if limit <= 0 {
		limit = 100
	}
	var sessions []models.PaymentRecoverySession
	if err := r.db.WithContext(ctx).
		Where("state = ? AND expires_at <= ?", enums.RecoverySessionStateActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repository) ListActiveSessions(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.PaymentRecoverySession, error) {
	query := r.db.WithContext(ctx).
		Where("state = ?", enums.RecoverySessionStateActive)
	query = applyCursor(query, cursor)
	var sessions []models.PaymentRecoverySession
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repository) CreateTicket(ctx context.Context, ticket *models.EscalationTicket) error {
	return r.db.WithContext(ctx).Create(ticket).Error
}

func (r *repository) FindTicket(ctx context.Context, id uuid.UUID) (*models.EscalationTicket, error) {
	var ticket models.EscalationTicket
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ticket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *repository) FindTicketByObligation(ctx context.Context, obligationID uuid.UUID) (*models.EscalationTicket, error) {
	var ticket models.EscalationTicket
	if err := r.db.WithContext(ctx).Where("obligation_id = ?", obligationID).First(&ticket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *repository) ResolveTicket(ctx context.Context, ticket *models.EscalationTicket) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EscalationTicket{}).
		Where("id = ? AND status = ?", ticket.ID, enums.EscalationStatusOpen).
		Updates(map[string]any{
			"status":          enums.EscalationStatusResolved,
			"resolution_note": ticket.ResolutionNote,
			"resolved_at":     ticket.ResolvedAt,
			"updated_at":      ticket.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListTickets(ctx context.Context, status *enums.EscalationStatus, cursor *pagination.Cursor, limit int) ([]models.EscalationTicket, error) {
	query := r.db.WithContext(ctx).Model(&models.EscalationTicket{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	query = applyCursor(query, cursor)
	var tickets []models.EscalationTicket
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&tickets).Error; err != nil {
		return nil, err
	}
	return tickets, nil
}

func applyCursor(query *gorm.DB, cursor *pagination.Cursor) *gorm.DB {
	if cursor == nil {
		return query
	}
	return query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
}
