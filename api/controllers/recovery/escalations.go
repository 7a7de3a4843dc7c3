package recovery

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/kitchenshare-backend/api/responses"
	"github.com/angelmondragon/kitchenshare-backend/api/validators"
	recoverysvc "github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/pagination"
)

type escalationService interface {
	List(ctx context.Context, params recoverysvc.ListTicketsParams) (*recoverysvc.TicketList, error)
	Resolve(ctx context.Context, ticketID uuid.UUID, note string) (*models.EscalationTicket, error)
}

// AdminListEscalations pages through escalation tickets, optionally by status.
func AdminListEscalations(svc escalationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escalation service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryEnum(r, "status", enums.ParseEscalationStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := recoverysvc.ListTicketsParams{
			Status: status,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		list, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// AdminResolveEscalation closes a ticket. The obligation itself is not
// touched; resolve it out of band separately if the chef paid.
func AdminResolveEscalation(svc escalationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escalation service unavailable"))
			return
		}
		ticketID, err := validators.ParseUUIDParam(r, "ticketId", "ticket id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req resolveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ticket, err := svc.Resolve(r.Context(), ticketID, validators.SanitizeString(req.Note, 2000))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ticket)
	}
}
