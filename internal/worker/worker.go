package worker

import (
	"context"
	"sync"
	"time"

	"github.com/Avertenandor/sigmatradebot/internal/config"
	"github.com/Avertenandor/sigmatradebot/internal/logic/reconcile"
	"github.com/Avertenandor/sigmatradebot/internal/logic/retry"
	"github.com/Avertenandor/sigmatradebot/pkg/log"
)

// Worker owns the background sweep loops: earning payouts, the two
// retry queues and pending-deposit expiry. Each loop runs once at
// start, then on its ticker, until Stop.
type Worker struct {
	cfg        *config.Config
	reconciler *reconcile.Reconciler
	payments   *retry.PaymentRetrier
	notifs     *retry.NotificationRetrier
	log        log.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
}

func New(
	cfg *config.Config,
	reconciler *reconcile.Reconciler,
	payments *retry.PaymentRetrier,
	notifs *retry.NotificationRetrier,
	logger log.Logger,
) *Worker {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Worker{
		cfg:        cfg,
		reconciler: reconciler,
		payments:   payments,
		notifs:     notifs,
		log:        logger.WithName("worker"),
		stopChan:   make(chan struct{}),
	}
}

// Start launches all sweep loops and returns immediately.
func (w *Worker) Start() {
	w.runLoop("earning-payout", w.cfg.RewardSweepInterval, func(ctx context.Context) {
		if _, err := w.payments.PayoutPendingEarnings(ctx); err != nil {
			w.log.Errorw("earning payout sweep", "error", err)
		}
	})
	w.runLoop("notification-retry", w.cfg.NotificationRetryInterval, func(ctx context.Context) {
		if _, err := w.notifs.ProcessDue(ctx); err != nil {
			w.log.Errorw("notification retry sweep", "error", err)
		}
	})
	w.runLoop("payment-retry", w.cfg.PaymentRetryInterval, func(ctx context.Context) {
		if _, err := w.payments.ProcessDue(ctx); err != nil {
			w.log.Errorw("payment retry sweep", "error", err)
		}
	})
	w.runLoop("deposit-expiry", w.cfg.DepositExpiryInterval, func(ctx context.Context) {
		if _, err := w.reconciler.SweepExpiredDeposits(ctx, w.cfg.DepositMaxAge); err != nil {
			w.log.Errorw("deposit expiry sweep", "error", err)
		}
	})
	w.log.Infow("worker started",
		"rewardSweep", w.cfg.RewardSweepInterval,
		"notificationSweep", w.cfg.NotificationRetryInterval,
		"paymentSweep", w.cfg.PaymentRetryInterval,
		"depositSweep", w.cfg.DepositExpiryInterval)
}

// Stop signals all loops and waits for in-flight sweeps to finish.
func (w *Worker) Stop() {
	w.log.Warnw("worker stopping")
	close(w.stopChan)
	w.wg.Wait()
	w.log.Infow("worker stopped")
}

func (w *Worker) runLoop(name string, period time.Duration, fn func(ctx context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx := context.Background()

		fn(ctx)

		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopChan:
				w.log.Warnw("sweep loop stopping", "loop", name)
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}
