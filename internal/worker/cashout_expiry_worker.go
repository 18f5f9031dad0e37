package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sahelpay/sahelpay/internal/observability"
	"github.com/sahelpay/sahelpay/internal/service"
	"go.uber.org/zap"
)

// CashOutExpiryWorker reverses cash-out requests whose token was never
// redeemed within the redemption window. Each reversal is its own atomic
// unit, so a crash mid-batch leaves no partial state.
type CashOutExpiryWorker struct {
	svc          *service.CashService
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewCashOutExpiryWorker(svc *service.CashService) *CashOutExpiryWorker {
	return &CashOutExpiryWorker{
		svc:          svc,
		pollInterval: time.Minute,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets how often the worker scans for expired requests.
func (w *CashOutExpiryWorker) WithPollInterval(interval time.Duration) *CashOutExpiryWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize caps how many reversals one sweep performs.
func (w *CashOutExpiryWorker) WithBatchSize(size int) *CashOutExpiryWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *CashOutExpiryWorker) Start(ctx context.Context) {
	zap.L().Info("cash-out expiry worker starting",
		zap.Duration("poll_interval", w.pollInterval), zap.Int("batch_size", w.batchSize))
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("cash-out expiry worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("cash-out expiry worker stop signal received")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *CashOutExpiryWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *CashOutExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *CashOutExpiryWorker) sweep(ctx context.Context) {
	reversed, err := w.svc.ExpireCashOuts(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("cashout_expiry", "failed")
		zap.L().Error("cash-out expiry sweep failed", zap.Error(err))
		return
	}
	if reversed > 0 {
		zap.L().Info("expired cash-outs reversed", zap.Int("count", reversed))
	}
	observability.IncrementWorkerRun("cashout_expiry", "success")
}
