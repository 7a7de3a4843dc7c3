package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/kitchenshare-backend/api/responses"
	recoverywebhook "github.com/angelmondragon/kitchenshare-backend/internal/webhooks/recovery"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/security"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Recovery-Signature"

const maxWebhookBody = 1 << 20

type RecoveryWebhookService interface {
	HandleEvent(ctx context.Context, event *recoverywebhook.Event) error
}

// EventGuard deduplicates processor deliveries by event id.
type EventGuard interface {
	Begin(ctx context.Context, eventID string) (recoverywebhook.EventState, error)
	Complete(ctx context.Context, eventID string) error
	Abandon(ctx context.Context, eventID string) error
}

// RecoveryWebhook receives session completion events from the hosted
// recovery page.
func RecoveryWebhook(svc RecoveryWebhookService, secret string, guard EventGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get(SignatureHeader)
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "recovery signature missing"))
			return
		}
		if !security.ValidSignature(payload, secret, sigHeader) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid recovery signature"))
			return
		}

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		var event recoverywebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		eventID := strings.TrimSpace(event.EventID)
		if eventID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event_id is required"))
			return
		}

		state, err := guard.Begin(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		switch state {
		case recoverywebhook.EventDone:
			responses.WriteSuccess(w, nil)
			return
		case recoverywebhook.EventInFlight:
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeLeaseHeld, "event is being processed"))
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if abandonErr := guard.Abandon(context.WithoutCancel(ctx), eventID); abandonErr != nil && logg != nil {
				logg.Error(ctx, "release webhook event claim", abandonErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := guard.Complete(context.WithoutCancel(ctx), eventID); err != nil && logg != nil {
			// The event is applied; a redelivery is skipped by the engine's own
			// state checks.
			logg.Error(ctx, "mark webhook event done", err)
		}

		if logg != nil {
			logg.Info(logg.WithField(ctx, "event_id", eventID), "recovery webhook processed")
		}
		responses.WriteSuccess(w, nil)
	}
}
