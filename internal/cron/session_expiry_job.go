package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
)

const defaultExpiryBatchSize = 200

type sessionExpirer interface {
	ExpireDueSessions(ctx context.Context, now time.Time, limit int) (int, error)
}

// SessionExpiryJobParams configures the recovery session expiry sweep.
type SessionExpiryJobParams struct {
	Logger    *logger.Logger
	Engine    sessionExpirer
	BatchSize int
}

type sessionExpiryJob struct {
	logg      *logger.Logger
	engine    sessionExpirer
	batchSize int
	now       func() time.Time
}

// NewSessionExpiryJob builds the job that closes recovery sessions past their expiry.
func NewSessionExpiryJob(params SessionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Engine == nil {
		return nil, errors.New("recovery engine required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	return &sessionExpiryJob{
		logg:      params.Logger,
		engine:    params.Engine,
		batchSize: batch,
		now:       time.Now,
	}, nil
}

func (j *sessionExpiryJob) Name() string { return "recovery-session-expiry" }

func (j *sessionExpiryJob) Run(ctx context.Context) error {
	expired, err := j.engine.ExpireDueSessions(ctx, j.now().UTC(), j.batchSize)
	if err != nil {
		return fmt.Errorf("expire sessions: %w", err)
	}
	if expired > 0 {
		j.logg.Info(j.logg.WithField(ctx, "expired", expired), "recovery sessions expired")
	}
	return nil
}
