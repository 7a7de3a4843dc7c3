package recovery

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/kitchenshare-backend/api/responses"
	"github.com/angelmondragon/kitchenshare-backend/api/validators"
	recoverysvc "github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/pagination"
)

type sessionService interface {
	ListActiveSessions(ctx context.Context, params pagination.Params) (*recoverysvc.SessionList, error)
	ExpireSession(ctx context.Context, sessionID uuid.UUID) (*recoverysvc.Result, error)
	FindSessionByToken(ctx context.Context, token string) (*recoverysvc.SessionView, error)
}

// AdminListRecoverySessions pages through active recovery links.
func AdminListRecoverySessions(svc sessionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListActiveSessions(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// AdminExpireRecoverySession expires a lapsed session ahead of the sweep.
func AdminExpireRecoverySession(svc sessionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}
		sessionID, err := validators.ParseUUIDParam(r, "sessionId", "session id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ExpireSession(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PublicRecoverySession backs the hosted recovery page. The raw token in the
// path is the only credential.
func PublicRecoverySession(svc sessionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery service unavailable"))
			return
		}
		token := strings.TrimSpace(chi.URLParam(r, "token"))
		if token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "token is required"))
			return
		}
		view, err := svc.FindSessionByToken(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccess(w, view)
	}
}
