package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/seller-ledger/internal/observability"
	"github.com/ayo6706/seller-ledger/internal/service"
	"go.uber.org/zap"
)

// Reconciler verifies wallets against their ledgers.
type Reconciler interface {
	Run(ctx context.Context) (*service.ReconciliationReport, error)
}

// ReconciliationWorker periodically proves every wallet against its ledger.
// It only reports; drift is never corrected automatically.
type ReconciliationWorker struct {
	svc      Reconciler
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReconciliationWorker constructs a worker with a default hourly interval.
func NewReconciliationWorker(svc Reconciler) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:      svc,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start runs a pass immediately, then on every tick until stopped.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// CheckOnce runs a single reconciliation pass immediately.
func (w *ReconciliationWorker) CheckOnce(ctx context.Context) (*service.ReconciliationReport, error) {
	started := time.Now()
	report, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		return nil, err
	}
	result := "success"
	if len(report.Violations) > 0 {
		result = "violations"
	}
	observability.IncrementWorkerRun("reconciliation", result)
	zap.L().Debug("reconciliation pass finished",
		zap.Int("wallets_checked", report.WalletsChecked),
		zap.Int("violations", len(report.Violations)),
		zap.Int64("flagged_orders", report.FlaggedOrders),
		zap.Duration("duration", time.Since(started)),
	)
	return report, nil
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) {
	if _, err := w.CheckOnce(ctx); err != nil {
		zap.L().Error("reconciliation run failed", zap.Error(err))
	}
}
