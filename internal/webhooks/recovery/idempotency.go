package recoverywebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/kitchenshare-backend/pkg/redis"
)

const (
	markerProcessing = "processing"
	markerDone       = "done"

	defaultProcessingTTL = 2 * time.Minute
)

// EventState is the outcome of claiming an event id.
type EventState int

const (
	// EventFresh means the caller now owns processing of the event.
	EventFresh EventState = iota
	// EventInFlight means another delivery of the event is being processed.
	EventInFlight
	// EventDone means the event was already applied.
	EventDone
)

type eventStore interface {
	redis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// IdempotencyGuard tracks processor event ids in Redis. An id is claimed with
// a short processing marker and promoted to done on success, so a worker that
// dies mid-event does not swallow the processor's redelivery.
type IdempotencyGuard struct {
	store         eventStore
	ttl           time.Duration
	processingTTL time.Duration
	scope         string
}

func NewIdempotencyGuard(store eventStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	processingTTL := defaultProcessingTTL
	if ttl > 0 && ttl < processingTTL {
		processingTTL = ttl
	}
	return &IdempotencyGuard{store: store, ttl: ttl, processingTTL: processingTTL, scope: scope}, nil
}

// Begin claims eventID for processing.
func (g *IdempotencyGuard) Begin(ctx context.Context, eventID string) (EventState, error) {
	if eventID == "" {
		return 0, errors.New("event id is required")
	}
	key := g.key(eventID)
	claimed, err := g.store.SetNX(ctx, key, markerProcessing, g.processingTTL)
	if err != nil {
		return 0, fmt.Errorf("claim event: %w", err)
	}
	if claimed {
		return EventFresh, nil
	}
	marker, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// The processing marker lapsed between SetNX and Get.
		return EventInFlight, nil
	case err != nil:
		return 0, fmt.Errorf("read event marker: %w", err)
	case marker == markerDone:
		return EventDone, nil
	default:
		return EventInFlight, nil
	}
}

// Complete records eventID as applied for the guard's TTL.
func (g *IdempotencyGuard) Complete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Set(ctx, g.key(eventID), markerDone, g.ttl)
}

// Abandon clears the claim so a failed event can be redelivered.
func (g *IdempotencyGuard) Abandon(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(eventID))
}

func (g *IdempotencyGuard) key(eventID string) string {
	return g.store.IdempotencyKey(g.scope, eventID)
}
