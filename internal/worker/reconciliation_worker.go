package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/observability"
	"go.uber.org/zap"
)

// PendingSettler re-runs deposit settlement for payments left pending.
type PendingSettler interface {
	RetryPending(ctx context.Context, limit int32) (int, error)
}

// QueueCounter reports how many requests wait on an operator.
type QueueCounter interface {
	ManualQueueSize(ctx context.Context) (int64, error)
}

// ReconciliationWorker periodically retries deposits whose settlement was
// deferred, e.g. during a rate outage, and refreshes the manual queue gauge.
type ReconciliationWorker struct {
	settler   PendingSettler
	queue     QueueCounter
	interval  time.Duration
	batchSize int32
	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

func NewReconciliationWorker(settler PendingSettler, queue QueueCounter) *ReconciliationWorker {
	return &ReconciliationWorker{
		settler:   settler,
		queue:     queue,
		interval:  time.Minute,
		batchSize: 20,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *ReconciliationWorker) WithBatchSize(n int32) *ReconciliationWorker {
	if n > 0 {
		w.batchSize = n
	}
	return w
}

// Start blocks and runs the sweep at the configured interval.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	defer close(w.done)
	zap.L().Info("reconciliation worker starting",
		zap.Duration("interval", w.interval), zap.Int32("batch_size", w.batchSize))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

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

// Stop stops the loop and waits for an in-flight sweep to finish.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.done
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) {
	settled, err := w.settler.RetryPending(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("pending settlement sweep failed", zap.Error(err))
	} else {
		observability.IncrementWorkerRun("reconciliation", "success")
		if settled > 0 {
			zap.L().Info("pending deposits settled", zap.Int("count", settled))
		}
	}

	if w.queue == nil {
		return
	}
	n, err := w.queue.ManualQueueSize(ctx)
	if err != nil {
		zap.L().Warn("manual queue size refresh failed", zap.Error(err))
		return
	}
	observability.SetManualReviewQueueSize(n)
}
