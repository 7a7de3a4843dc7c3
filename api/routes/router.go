package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/kitchenshare-backend/api/controllers"
	recoverycontrollers "github.com/angelmondragon/kitchenshare-backend/api/controllers/recovery"
	webhookcontrollers "github.com/angelmondragon/kitchenshare-backend/api/controllers/webhooks"
	"github.com/angelmondragon/kitchenshare-backend/api/middleware"
	"github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/config"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/redis"
)

// Deps bundles what the router hands to controllers.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	Readiness      map[string]controllers.Pinger
	Redis          *redis.Client
	Engine         *recovery.Controller
	Escalations    *recovery.EscalationManager
	WebhookService webhookcontrollers.RecoveryWebhookService
	WebhookGuard   webhookcontrollers.EventGuard
	Metrics        http.Handler
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	sessionLookupPolicy := middleware.NewRateLimitPolicy(
		"session_lookup",
		cfg.API.SessionLookupWindow,
		cfg.API.SessionLookupLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.With(middleware.RateLimit(sessionLookupPolicy, redisStore(deps.Redis), logg)).
			Get("/v1/recovery-sessions/{token}", recoverycontrollers.PublicRecoverySession(deps.Engine, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/recovery-sessions", webhookcontrollers.RecoveryWebhook(deps.WebhookService, cfg.Webhooks.RecoverySecret, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleChef, enums.ActorRoleService, enums.ActorRoleAdmin))
		r.Use(middleware.Idempotency(idempotencyStore(deps.Redis), logg))

		r.Route("/chefs/{chefId}", func(r chi.Router) {
			r.Get("/outstanding", recoverycontrollers.ChefOutstanding(deps.Engine, logg))
			r.Put("/payment-method", recoverycontrollers.ChefUpdatePaymentMethod(deps.Engine, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin, enums.ActorRoleService))
		r.Use(middleware.Idempotency(idempotencyStore(deps.Redis), logg))

		r.Get("/ping", controllers.AdminPing())
		r.Route("/obligations", func(r chi.Router) {
			r.Post("/", recoverycontrollers.AdminCreateObligation(deps.Engine, logg))
			r.Get("/{obligationId}", recoverycontrollers.AdminObligationDetail(deps.Engine, logg))
			r.Post("/{obligationId}/recover", recoverycontrollers.AdminTriggerRecovery(deps.Engine, logg))
			r.Post("/{obligationId}/resolve", recoverycontrollers.AdminResolveObligation(deps.Engine, logg))
			r.Post("/{obligationId}/reconcile", recoverycontrollers.AdminReconcileObligation(deps.Engine, logg))
		})
		r.Route("/escalations", func(r chi.Router) {
			r.Get("/", recoverycontrollers.AdminListEscalations(deps.Escalations, logg))
			r.Post("/{ticketId}/resolve", recoverycontrollers.AdminResolveEscalation(deps.Escalations, logg))
		})
		r.Route("/recovery-sessions", func(r chi.Router) {
			r.Get("/", recoverycontrollers.AdminListRecoverySessions(deps.Engine, logg))
			r.Post("/{sessionId}/expire", recoverycontrollers.AdminExpireRecoverySession(deps.Engine, logg))
		})
	})

	return r
}

// The helpers below keep a nil *redis.Client from becoming a non-nil
// interface, which would bypass the middleware nil checks.
func redisStore(client *redis.Client) middleware.RateLimiterStore {
	if client == nil {
		return nil
	}
	return client
}

func idempotencyStore(client *redis.Client) middleware.ResponseStore {
	if client == nil {
		return nil
	}
	return client
}
