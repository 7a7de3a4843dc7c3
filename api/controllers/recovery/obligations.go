package recovery

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/kitchenshare-backend/api/responses"
	"github.com/angelmondragon/kitchenshare-backend/api/validators"
	recoverysvc "github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
)

type obligationService interface {
	CreateObligation(ctx context.Context, params recoverysvc.CreateObligationParams) (*models.ChargeableObligation, bool, error)
	GetObligation(ctx context.Context, obligationID uuid.UUID) (*recoverysvc.ObligationDetail, error)
	TriggerRecovery(ctx context.Context, obligationID uuid.UUID) (*recoverysvc.Result, error)
	ResolveOutOfBand(ctx context.Context, obligationID uuid.UUID, note string) (*recoverysvc.Result, error)
	Reconcile(ctx context.Context, obligationID uuid.UUID) (*recoverysvc.Result, error)
}

type createObligationRequest struct {
	Kind                 string `json:"kind" validate:"required,oneof=overstay_penalty damage_claim"`
	ChefID               string `json:"chef_id" validate:"required,uuid"`
	AmountMinor          int64  `json:"amount_minor" validate:"required,gt=0"`
	Currency             string `json:"currency" validate:"required,iso4217"`
	PaymentMethodRef     string `json:"payment_method_ref" validate:"max=255"`
	ProcessorCustomerRef string `json:"processor_customer_ref" validate:"max=255"`
	SourceEventRef       string `json:"source_event_ref" validate:"max=255"`
}

type resolveRequest struct {
	Note string `json:"note" validate:"required,max=2000"`
}

// AdminCreateObligation records a finalized overstay or damage event.
// Replays of a source event return 200 with the existing obligation.
func AdminCreateObligation(svc obligationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}

		var req createObligationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind, err := enums.ParseObligationKind(req.Kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind"))
			return
		}
		currency, err := enums.ParseCurrency(req.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
			return
		}
		chefID, err := uuid.Parse(req.ChefID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid chef_id"))
			return
		}

		obligation, created, err := svc.CreateObligation(r.Context(), recoverysvc.CreateObligationParams{
			Kind:                 kind,
			ChefID:               chefID,
			AmountMinor:          req.AmountMinor,
			Currency:             currency,
			PaymentMethodRef:     validators.SanitizeString(req.PaymentMethodRef, 255),
			ProcessorCustomerRef: validators.SanitizeString(req.ProcessorCustomerRef, 255),
			SourceEventRef:       validators.SanitizeString(req.SourceEventRef, 255),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, obligation)
	}
}

// AdminObligationDetail returns an obligation with its attempts, sessions and ticket.
func AdminObligationDetail(svc obligationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}
		obligationID, err := validators.ParseUUIDParam(r, "obligationId", "obligation id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.GetObligation(r.Context(), obligationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// AdminTriggerRecovery runs one recovery step now. A skipped step is still a
// 200; infrastructure escalation returns the dependency error.
func AdminTriggerRecovery(svc obligationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}
		obligationID, err := validators.ParseUUIDParam(r, "obligationId", "obligation id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithObligationID(ctx, obligationID.String())
		}
		result, err := svc.TriggerRecovery(ctx, obligationID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminResolveObligation marks an obligation paid out of band.
func AdminResolveObligation(svc obligationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}
		obligationID, err := validators.ParseUUIDParam(r, "obligationId", "obligation id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req resolveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ResolveOutOfBand(r.Context(), obligationID, validators.SanitizeString(req.Note, 2000))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminReconcileObligation re-derives the status from the recorded history.
func AdminReconcileObligation(svc obligationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}
		obligationID, err := validators.ParseUUIDParam(r, "obligationId", "obligation id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Reconcile(r.Context(), obligationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
