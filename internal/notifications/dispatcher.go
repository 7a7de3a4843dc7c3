package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/google/uuid"
)

const defaultPublishTimeout = 10 * time.Second

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
}

// Envelope is the message body consumed by the delivery service that owns
// email, SMS and push channels.
type Envelope struct {
	NotificationID string         `json:"notification_id"`
	RecipientKind  string         `json:"recipient_kind"`
	Recipient      string         `json:"recipient"`
	Template       string         `json:"template"`
	Payload        map[string]any `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PubSubDispatcher publishes recovery notifications to the notification topic.
type PubSubDispatcher struct {
	pub     publisher
	timeout time.Duration
	logg    *logger.Logger
	now     func() time.Time
}

// NewPubSubDispatcher wraps a Pub/Sub publisher for the notification topic.
func NewPubSubDispatcher(p *pubsub.Publisher, timeout time.Duration, logg *logger.Logger) (*PubSubDispatcher, error) {
	if p == nil {
		return nil, errors.New("notification publisher required")
	}
	return newDispatcher(&gcpPublisher{Publisher: p}, timeout, logg)
}

func newDispatcher(pub publisher, timeout time.Duration, logg *logger.Logger) (*PubSubDispatcher, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &PubSubDispatcher{
		pub:     pub,
		timeout: timeout,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Notify publishes n and waits for the server ack.
func (d *PubSubDispatcher) Notify(ctx context.Context, n recovery.Notification) error {
	envelope := Envelope{
		NotificationID: uuid.NewString(),
		RecipientKind:  string(n.RecipientKind),
		Recipient:      n.Recipient,
		Template:       n.Template,
		Payload:        Decorate(n.Payload),
		CreatedAt:      d.now(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"notification_id": envelope.NotificationID,
			"template":        envelope.Template,
			"recipient_kind":  envelope.RecipientKind,
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	result := d.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	serverID, err := result.Get(publishCtx)
	if err != nil {
		return fmt.Errorf("publish notification %s: %w", envelope.Template, err)
	}

	d.logg.Info(d.logg.WithFields(ctx, map[string]any{
		"notification_id": envelope.NotificationID,
		"template":        envelope.Template,
		"recipient_kind":  envelope.RecipientKind,
		"message_id":      serverID,
	}), "notification published")
	return nil
}

type gcpPublisher struct {
	*pubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

// LogDispatcher writes notifications to the structured log. It serves local
// runs where no notification topic is configured.
type LogDispatcher struct {
	logg *logger.Logger
}

func NewLogDispatcher(logg *logger.Logger) *LogDispatcher {
	return &LogDispatcher{logg: logg}
}

func (d *LogDispatcher) Notify(ctx context.Context, n recovery.Notification) error {
	d.logg.Info(d.logg.WithFields(ctx, map[string]any{
		"template":       n.Template,
		"recipient_kind": n.RecipientKind,
		"recipient":      n.Recipient,
		"payload":        Decorate(n.Payload),
	}), "notification dispatched")
	return nil
}
