package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/seller-ledger/internal/observability"
	"github.com/ayo6706/seller-ledger/internal/service"
	"go.uber.org/zap"
)

// OrderRepairer re-applies the pending effects of orders flagged for reconciliation.
type OrderRepairer interface {
	RepairFlagged(ctx context.Context, batchSize int32) (service.RepairResult, error)
}

// RepairWorker drains the reconciliation queue in the background.
// Concurrent instances are safe because every repair step is idempotent.
type RepairWorker struct {
	repairer     OrderRepairer
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewRepairWorker(repairer OrderRepairer) *RepairWorker {
	return &RepairWorker{
		repairer:     repairer,
		pollInterval: time.Minute,
		batchSize:    25,
		stopCh:       make(chan struct{}),
	}
}

func (w *RepairWorker) WithPollInterval(interval time.Duration) *RepairWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

func (w *RepairWorker) WithBatchSize(size int32) *RepairWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or ctx is canceled.
func (w *RepairWorker) Start(ctx context.Context) {
	zap.L().Info("repair worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("repair worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("repair worker stop signal received")
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				zap.L().Error("repair batch failed", zap.Error(err))
			}
		}
	}
}

func (w *RepairWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce repairs a single batch immediately.
func (w *RepairWorker) ProcessOnce(ctx context.Context) (service.RepairResult, error) {
	result, err := w.repairer.RepairFlagged(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("repair", "failed")
		return result, err
	}
	observability.IncrementWorkerRun("repair", "success")
	if result.Scanned > 0 {
		zap.L().Info("repair batch finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("repaired", result.Repaired),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *RepairWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *RepairWorker) String() string {
	return fmt.Sprintf("RepairWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
