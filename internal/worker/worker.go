package worker

import (
	"context"
	"fmt"
	"time"

	"chargehive/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleExpirer is the sweep the worker drives; *service.PaymentService
// satisfies it.
type StaleExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// ExpiryWorker periodically fails pending payments whose hold window
// has lapsed, freeing their slots for new bookings.
type ExpiryWorker struct {
	expirer  StaleExpirer
	interval time.Duration
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewExpiryWorker creates a new expiry worker sweeping every interval.
func NewExpiryWorker(expirer StaleExpirer, interval time.Duration) *ExpiryWorker {
	return &ExpiryWorker{
		expirer:  expirer,
		interval: interval,
		cron:     cron.New(cron.WithSeconds()),
		logger:   util.GetLogger(),
	}
}

// Start schedules the sweep and runs one immediately so a restart does
// not leave stale holds in place for a full interval.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.sweep(ctx)

	spec := fmt.Sprintf("@every %s", w.interval)
	if _, err := w.cron.AddFunc(spec, func() { w.sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	w.logger.Info("Starting expiry worker", zap.Duration("interval", w.interval))
	w.cron.Start()
	return nil
}

// Stop stops the worker and waits for an in-flight sweep to finish.
func (w *ExpiryWorker) Stop() {
	w.logger.Info("Stopping expiry worker")
	<-w.cron.Stop().Done()
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	if _, err := w.expirer.ExpireStale(ctx); err != nil {
		w.logger.Error("Expiry sweep failed", zap.Error(err))
	}
}
