package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/kitchenshare-backend/internal/notifications"
	"github.com/angelmondragon/kitchenshare-backend/internal/paymentgateway"
	"github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/config"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/metrics"
	"github.com/angelmondragon/kitchenshare-backend/pkg/pubsub"
	"github.com/angelmondragon/kitchenshare-backend/pkg/redis"
	"github.com/angelmondragon/kitchenshare-backend/pkg/square"
)

// RecoveryParams are the shared clients a process hands to the engine.
type RecoveryParams struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Redis   *redis.Client
	PubSub  *pubsub.Client
	Metrics *metrics.RecoveryMetrics
}

// Recovery bundles the engine pieces every process needs.
type Recovery struct {
	Repo        recovery.Repository
	Engine      *recovery.Controller
	Escalations *recovery.EscalationManager
}

// BuildRecovery assembles the recovery engine against Square and the
// configured notifier.
func BuildRecovery(ctx context.Context, params RecoveryParams) (*Recovery, error) {
	cfg := params.Config
	logg := params.Logger
	switch {
	case cfg == nil:
		return nil, errors.New("config required")
	case logg == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db client required")
	}

	squareClient, err := square.NewClient(ctx, cfg.Square, logg)
	if err != nil {
		return nil, fmt.Errorf("square client: %w", err)
	}
	gateway, err := paymentgateway.NewSquareGateway(squareClient, cfg.Square.RecoveryBaseURL, logg)
	if err != nil {
		return nil, fmt.Errorf("square gateway: %w", err)
	}

	notifier, err := buildNotifier(cfg, logg, params.PubSub)
	if err != nil {
		return nil, err
	}
	leaser, err := buildLeaser(cfg, params.Redis)
	if err != nil {
		return nil, err
	}

	repo := recovery.NewRepository(params.DB.DB())
	executor, err := recovery.NewExecutor(recovery.ExecutorParams{
		Gateway: gateway,
		Timeout: cfg.Recovery.GatewayTimeout,
		Logger:  logg,
		Metrics: params.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	sessions, err := recovery.NewSessionIssuer(recovery.SessionIssuerParams{
		Gateway:  gateway,
		Notifier: notifier,
		TTL:      cfg.Recovery.SessionTTL,
		Timeout:  cfg.Recovery.GatewayTimeout,
		Logger:   logg,
		Metrics:  params.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("session issuer: %w", err)
	}
	escalations, err := recovery.NewEscalationManager(recovery.EscalationManagerParams{
		Repo:           repo,
		Notifier:       notifier,
		AdminRecipient: cfg.Recovery.AdminRecipient,
		Logger:         logg,
		Metrics:        params.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("escalation manager: %w", err)
	}
	engine, err := recovery.NewController(recovery.ControllerParams{
		DB:          params.DB,
		Repo:        repo,
		Leaser:      leaser,
		Executor:    executor,
		Sessions:    sessions,
		Escalations: escalations,
		Accountant:  recovery.NewAccountant(recovery.PolicyFromConfig(cfg.Recovery)),
		Logger:      logg,
		Metrics:     params.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("recovery controller: %w", err)
	}
	return &Recovery{Repo: repo, Engine: engine, Escalations: escalations}, nil
}

func buildNotifier(cfg *config.Config, logg *logger.Logger, ps *pubsub.Client) (recovery.Notifier, error) {
	if cfg.FeatureFlags.DisableDispatching || ps == nil {
		return notifications.NewLogDispatcher(logg), nil
	}
	dispatcher, err := notifications.NewPubSubDispatcher(ps.NotificationPublisher(), cfg.PubSub.PublishTimeout, logg)
	if err != nil {
		return nil, fmt.Errorf("notification dispatcher: %w", err)
	}
	return dispatcher, nil
}

func buildLeaser(cfg *config.Config, rc *redis.Client) (recovery.Leaser, error) {
	if cfg.FeatureFlags.UseLocalLease {
		return recovery.NewLocalLeaser(), nil
	}
	if rc == nil {
		return nil, errors.New("redis client required for recovery lease")
	}
	leaser, err := recovery.NewRedisLeaser(rc, cfg.Recovery.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("recovery leaser: %w", err)
	}
	return leaser, nil
}
