package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	defaultReconcileLookback  = 72 * time.Hour
	defaultReconcileBatchSize = 250
)

type openObligationReader interface {
	ListOpenObligationsSince(ctx context.Context, since time.Time, limit int) ([]models.ChargeableObligation, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, obligationID uuid.UUID) (*recovery.Result, error)
}

// ReconcileJobParams configures the processor reconciliation sweep.
type ReconcileJobParams struct {
	Logger    *logger.Logger
	Reader    openObligationReader
	Engine    reconciler
	Lookback  time.Duration
	BatchSize int
}

type reconcileJob struct {
	logg      *logger.Logger
	reader    openObligationReader
	engine    reconciler
	lookback  time.Duration
	batchSize int
	now       func() time.Time
}

// NewReconcileJob builds the job that compares open obligations against the processor.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Reader == nil {
		return nil, errors.New("obligation reader required")
	}
	if params.Engine == nil {
		return nil, errors.New("recovery engine required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatchSize
	}
	return &reconcileJob{
		logg:      params.Logger,
		reader:    params.Reader,
		engine:    params.Engine,
		lookback:  lookback,
		batchSize: batch,
		now:       time.Now,
	}, nil
}

func (j *reconcileJob) Name() string { return "recovery-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.lookback)
	open, err := j.reader.ListOpenObligationsSince(ctx, since, j.batchSize)
	if err != nil {
		return fmt.Errorf("list open obligations: %w", err)
	}

	var errs error
	repaired := 0
	for _, obligation := range open {
		result, err := j.engine.Reconcile(ctx, obligation.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", obligation.ID, err))
			continue
		}
		if result != nil && !result.Skipped {
			repaired++
			j.logg.Warn(j.logg.WithObligationID(ctx, obligation.ID.String()), "obligation repaired from processor state")
		}
	}
	if len(open) > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"checked":  len(open),
			"repaired": repaired,
		}), "reconcile sweep complete")
	}
	return errs
}
