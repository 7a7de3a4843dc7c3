package recovery

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/kitchenshare-backend/api/middleware"
	"github.com/angelmondragon/kitchenshare-backend/api/responses"
	"github.com/angelmondragon/kitchenshare-backend/api/validators"
	recoverysvc "github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
)

type chefService interface {
	ListOutstanding(ctx context.Context, chefID uuid.UUID) (*recoverysvc.Outstanding, error)
	UpdatePaymentMethod(ctx context.Context, chefID uuid.UUID, paymentMethodRef, customerRef string) (int, error)
}

type paymentMethodRequest struct {
	PaymentMethodRef     string `json:"payment_method_ref" validate:"required,max=255"`
	ProcessorCustomerRef string `json:"processor_customer_ref" validate:"max=255"`
}

type paymentMethodResponse struct {
	ChefID  uuid.UUID `json:"chef_id"`
	Updated int       `json:"updated"`
}

// chefScope resolves the chefId path param and checks a chef caller only
// touches their own record.
func chefScope(r *http.Request) (uuid.UUID, error) {
	chefID, err := validators.ParseUUIDParam(r, "chefId", "chef id")
	if err != nil {
		return uuid.Nil, err
	}
	if middleware.RoleFromContext(r.Context()) == string(enums.ActorRoleChef) &&
		middleware.ActorIDFromContext(r.Context()) != chefID.String() {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "chefs may only access their own obligations")
	}
	return chefID, nil
}

// ChefOutstanding is the booking gate: unresolved obligations for a chef.
func ChefOutstanding(svc chefService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}
		chefID, err := chefScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outstanding, err := svc.ListOutstanding(r.Context(), chefID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outstanding)
	}
}

// ChefUpdatePaymentMethod records a new card on file and makes chargeable
// obligations due immediately.
func ChefUpdatePaymentMethod(svc chefService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}
		chefID, err := chefScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req paymentMethodRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		updated, err := svc.UpdatePaymentMethod(r.Context(), chefID,
			validators.SanitizeString(req.PaymentMethodRef, 255),
			validators.SanitizeString(req.ProcessorCustomerRef, 255))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, paymentMethodResponse{ChefID: chefID, Updated: updated})
	}
}
