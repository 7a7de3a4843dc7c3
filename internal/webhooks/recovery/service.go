package recoverywebhook

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/google/uuid"
)

// EventSessionCompleted is sent once the chef finishes an on-session link.
const EventSessionCompleted = "recovery_session.completed"

// Event is the payload posted by the hosted recovery page after the chef acts.
type Event struct {
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      EventData `json:"data"`
}

type EventData struct {
	SessionID    string `json:"session_id"`
	Outcome      string `json:"outcome"`
	ProcessorRef string `json:"processor_ref"`
}

type sessionConsumer interface {
	OnRecoverySessionConsumed(ctx context.Context, sessionID uuid.UUID, outcome enums.RecoverySessionOutcome, processorRef string) (*recovery.Result, error)
}

// Service routes verified webhook events into the recovery engine.
type Service struct {
	engine sessionConsumer
	logg   *logger.Logger
}

func NewService(engine sessionConsumer, logg *logger.Logger) (*Service, error) {
	if engine == nil {
		return nil, errors.New("recovery engine required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Service{engine: engine, logg: logg}, nil
}

// HandleEvent applies event. Events that can never succeed on redelivery
// (closed sessions, conflicting outcomes) are acknowledged and logged.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":   event.EventID,
		"event_type": event.Type,
	})
	if event.Type != EventSessionCompleted {
		s.logg.Info(ctx, "ignoring unsupported recovery event")
		return nil
	}

	sessionID, err := uuid.Parse(strings.TrimSpace(event.Data.SessionID))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid session_id")
	}
	outcome, err := enums.ParseRecoverySessionOutcome(strings.ToLower(strings.TrimSpace(event.Data.Outcome)))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid outcome")
	}

	result, err := s.engine.OnRecoverySessionConsumed(ctx, sessionID, outcome, strings.TrimSpace(event.Data.ProcessorRef))
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeSessionClosed, pkgerrors.CodeStateConflict, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "recovery event acknowledged without effect: "+err.Error())
			return nil
		}
		return err
	}

	ctx = s.logg.WithObligationID(ctx, result.ObligationID.String())
	if result.Skipped {
		s.logg.Info(s.logg.WithField(ctx, "skip_reason", result.SkipReason), "recovery event already applied")
		return nil
	}
	s.logg.Info(s.logg.WithField(ctx, "status", result.Status), "recovery event applied")
	return nil
}
