package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRetryBatchSize = 100
	defaultRetryWorkers   = 4
)

type dueObligationReader interface {
	ListDueObligations(ctx context.Context, now time.Time, limit int) ([]models.ChargeableObligation, error)
}

type recoveryTrigger interface {
	TriggerRecovery(ctx context.Context, obligationID uuid.UUID) (*recovery.Result, error)
}

// RecoveryRetryJobParams configures the due-obligation sweep.
type RecoveryRetryJobParams struct {
	Logger    *logger.Logger
	Reader    dueObligationReader
	Engine    recoveryTrigger
	BatchSize int
	Workers   int
}

type recoveryRetryJob struct {
	logg      *logger.Logger
	reader    dueObligationReader
	engine    recoveryTrigger
	batchSize int
	workers   int
	now       func() time.Time
}

// NewRecoveryRetryJob builds the job that re-drives obligations whose retry time has passed.
func NewRecoveryRetryJob(params RecoveryRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Reader == nil {
		return nil, errors.New("obligation reader required")
	}
	if params.Engine == nil {
		return nil, errors.New("recovery engine required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRetryBatchSize
	}
	workers := params.Workers
	if workers <= 0 {
		workers = defaultRetryWorkers
	}
	return &recoveryRetryJob{
		logg:      params.Logger,
		reader:    params.Reader,
		engine:    params.Engine,
		batchSize: batch,
		workers:   workers,
		now:       time.Now,
	}, nil
}

func (j *recoveryRetryJob) Name() string { return "recovery-retry" }

func (j *recoveryRetryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	due, err := j.reader.ListDueObligations(ctx, now, j.batchSize)
	if err != nil {
		return fmt.Errorf("list due obligations: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		errs    error
		applied int
		skips   int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(j.workers)
	for _, obligation := range due {
		id := obligation.ID
		group.Go(func() error {
			result, err := j.engine.TriggerRecovery(groupCtx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("obligation %s: %w", id, err))
				return nil
			}
			if result != nil && result.Skipped {
				skips++
				return nil
			}
			applied++
			return nil
		})
	}
	_ = group.Wait()

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due":     len(due),
		"applied": applied,
		"skipped": skips,
	})
	if errs != nil {
		j.logg.Warn(logCtx, "recovery retry sweep finished with errors")
		return errs
	}
	j.logg.Info(logCtx, "recovery retry sweep complete")
	return nil
}
