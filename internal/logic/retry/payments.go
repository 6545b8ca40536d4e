package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Avertenandor/sigmatradebot/internal/logic/referral"
	"github.com/Avertenandor/sigmatradebot/internal/model"
	"github.com/Avertenandor/sigmatradebot/internal/store"
	"github.com/Avertenandor/sigmatradebot/internal/types"
	"github.com/Avertenandor/sigmatradebot/pkg/log"
)

// PaymentRetrier drives outbound payments to success or the dead-letter
// queue. It is the only writer of PaymentRetry bookkeeping. Every
// mutation happens under the retry row's exclusive lock, so one sweep
// cycle advances each item by exactly one writer.
type PaymentRetrier struct {
	db       *gorm.DB
	chain    types.ChainClient
	earnings *referral.Propagator
	schedule Schedule
	alerter  Alerter
	log      log.Logger
}

func NewPaymentRetrier(db *gorm.DB, chain types.ChainClient, earnings *referral.Propagator, alerter Alerter, logger log.Logger) *PaymentRetrier {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &PaymentRetrier{
		db:       db,
		chain:    chain,
		earnings: earnings,
		schedule: PaymentSchedule(),
		alerter:  alerter,
		log:      logger.WithName("payment-retry"),
	}
}

// Dispatch attempts to send one pending payment. Success settles the
// payment, writes the system_payout ledger entry and resolves any retry
// bookkeeping; failure is captured into the retry row instead of being
// returned to the caller.
func (p *PaymentRetrier) Dispatch(ctx context.Context, paymentID uint) error {
	var movedToDLQ bool

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment model.Payment
		err := store.LockForUpdate(tx, &payment, "id = ? AND status = ?", paymentID, model.PaymentStatusPending)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Settled or failed by another writer.
				return nil
			}
			return fmt.Errorf("lock payment %d: %w", paymentID, err)
		}

		receipt, err := p.chain.SendPayment(ctx, payment.ToAddress, payment.Amount)
		if err != nil {
			movedToDLQ, err = p.recordFailureTx(tx, payment.ID, err.Error())
			return err
		}
		if !receipt.Success {
			movedToDLQ, err = p.recordFailureTx(tx, payment.ID, receipt.Error)
			return err
		}

		return p.settleTx(tx, &payment, receipt.TxHash)
	})
	if err != nil {
		return err
	}

	if movedToDLQ {
		p.alertDLQ(ctx, paymentID)
	}
	return nil
}

// RecordFailure captures one failed attempt for a payment. The first
// failure creates the retry row at attempt 1; later failures increment
// under the row lock and push next_retry_at out per the schedule. The
// attempt that reaches MaxAttempts dead-letters the item and raises
// exactly one critical alert.
func (p *PaymentRetrier) RecordFailure(ctx context.Context, paymentID uint, cause string) error {
	var movedToDLQ bool
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		movedToDLQ, err = p.recordFailureTx(tx, paymentID, cause)
		return err
	})
	if err != nil {
		return err
	}
	if movedToDLQ {
		p.alertDLQ(ctx, paymentID)
	}
	return nil
}

func (p *PaymentRetrier) recordFailureTx(tx *gorm.DB, paymentID uint, cause string) (bool, error) {
	now := time.Now().UTC()

	var r model.PaymentRetry
	err := store.LockForUpdate(tx, &r, "payment_id = ?", paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r = model.PaymentRetry{
				PaymentID:    paymentID,
				AttemptCount: 1,
				LastError:    cause,
				NextRetryAt:  now.Add(p.schedule.Delay(1)),
			}
			if err := tx.Create(&r).Error; err != nil {
				return false, fmt.Errorf("create payment retry: %w", err)
			}
			p.log.Warnw("payment attempt failed, scheduled for retry",
				"paymentID", paymentID, "attempt", 1, "error", cause)
			return false, nil
		}
		return false, fmt.Errorf("lock payment retry: %w", err)
	}

	attempts := r.AttemptCount + 1
	cols := model.PaymentRetry{}.Column()
	updates := map[string]interface{}{
		cols.AttemptCount: attempts,
		cols.LastError:    cause,
		cols.NextRetryAt:  now.Add(p.schedule.Delay(attempts)),
	}

	// The transition into the DLQ happens at most once per item because
	// attempt counts only grow; that is what makes the alert exactly-once.
	movedToDLQ := false
	if attempts >= MaxAttempts && !r.InDLQ {
		updates[cols.InDLQ] = true
		movedToDLQ = true
	}

	err = tx.Model(&model.PaymentRetry{}).Where("id = ?", r.ID).Updates(updates).Error
	if err != nil {
		return false, fmt.Errorf("update payment retry: %w", err)
	}

	p.log.Warnw("payment attempt failed",
		"paymentID", paymentID, "attempt", attempts, "error", cause, "inDlq", movedToDLQ)
	return movedToDLQ, nil
}

// settleTx finalizes a successful payment inside the caller's
// transaction: payment confirmed, system_payout ledger entry, linked
// earning flagged paid, retry row resolved.
func (p *PaymentRetrier) settleTx(tx *gorm.DB, payment *model.Payment, txHash string) error {
	err := tx.Model(&model.Payment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]interface{}{
			"status":  model.PaymentStatusConfirmed,
			"tx_hash": txHash,
		}).Error
	if err != nil {
		return fmt.Errorf("confirm payment %d: %w", payment.ID, err)
	}

	ledger := model.Transaction{
		UserID:    payment.UserID,
		TxHash:    txHash,
		Type:      model.TxTypeSystemPayout,
		Amount:    payment.Amount,
		ToAddress: payment.ToAddress,
		Status:    model.TxStatusConfirmed,
	}
	// ON CONFLICT DO NOTHING: the ledger row may exist from an earlier
	// run, and a failed INSERT would abort the transaction before the
	// earning and retry bookkeeping below.
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ledger).Error; err != nil {
		return fmt.Errorf("create payout ledger transaction: %w", err)
	}

	if payment.EarningID != nil {
		err := p.earnings.MarkEarningPaidTx(tx, *payment.EarningID, txHash)
		if err != nil && !errors.Is(err, referral.ErrAlreadyPaid) {
			return err
		}
	}

	if err := p.resolveTx(tx, payment.ID); err != nil {
		return err
	}

	p.log.Infow("payment settled",
		"paymentID", payment.ID,
		"userID", payment.UserID,
		"amount", payment.Amount.String(),
		"txHash", txHash)
	return nil
}

func (p *PaymentRetrier) resolveTx(tx *gorm.DB, paymentID uint) error {
	now := time.Now().UTC()
	cols := model.PaymentRetry{}.Column()
	err := tx.Model(&model.PaymentRetry{}).
		Where("payment_id = ? AND resolved = ?", paymentID, false).
		Updates(map[string]interface{}{
			cols.Resolved:   true,
			cols.ResolvedAt: now,
		}).Error
	if err != nil {
		return fmt.Errorf("resolve payment retry: %w", err)
	}
	return nil
}

// Resolve marks one retry item as resolved; resolved items never come
// back into selection.
func (p *PaymentRetrier) Resolve(ctx context.Context, retryID uint) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r model.PaymentRetry
		if err := store.LockForUpdate(tx, &r, "id = ?", retryID); err != nil {
			return fmt.Errorf("lock payment retry %d: %w", retryID, err)
		}
		return p.resolveTx(tx, r.PaymentID)
	})
}

// SelectReadyBatch returns unresolved, non-DLQ items whose next retry
// time has passed, oldest first, capped at limit.
func (p *PaymentRetrier) SelectReadyBatch(ctx context.Context, limit int) ([]model.PaymentRetry, error) {
	if limit <= 0 {
		limit = BatchLimit
	}
	var ready []model.PaymentRetry
	err := p.db.WithContext(ctx).
		Where("resolved = ? AND in_dlq = ? AND next_retry_at <= ?", false, false, time.Now().UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&ready).Error
	if err != nil {
		return nil, fmt.Errorf("select ready payment retries: %w", err)
	}
	return ready, nil
}

// ProcessDue advances every due retry item by one attempt.
func (p *PaymentRetrier) ProcessDue(ctx context.Context) (SweepStats, error) {
	stats := SweepStats{}

	batch, err := p.SelectReadyBatch(ctx, BatchLimit)
	if err != nil {
		return stats, err
	}
	if len(batch) == 0 {
		p.log.Debugw("no payment retries due")
		return stats, nil
	}

	for _, item := range batch {
		stats.Processed++
		outcome, err := p.retryOne(ctx, item.ID)
		if err != nil {
			p.log.Errorw("payment retry cycle error", "retryID", item.ID, "error", err)
			continue
		}
		switch outcome {
		case retrySucceeded:
			stats.Successful++
		case retryFailed:
			stats.Failed++
		case retryGaveUp:
			stats.Failed++
			stats.GaveUp++
		}
	}

	p.log.Infow("payment retry sweep complete",
		"processed", stats.Processed,
		"successful", stats.Successful,
		"failed", stats.Failed,
		"gaveUp", stats.GaveUp)
	return stats, nil
}

type retryOutcome int

const (
	retrySkipped retryOutcome = iota
	retrySucceeded
	retryFailed
	retryGaveUp
)

func (p *PaymentRetrier) retryOne(ctx context.Context, retryID uint) (retryOutcome, error) {
	outcome := retrySkipped
	var movedToDLQ bool

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r model.PaymentRetry
		err := store.LockForUpdate(tx, &r, "id = ? AND resolved = ? AND in_dlq = ?", retryID, false, false)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("lock payment retry %d: %w", retryID, err)
		}
		// Re-checked under the lock: a concurrent sweep may have advanced
		// the item since selection.
		if r.NextRetryAt.After(time.Now().UTC()) {
			return nil
		}

		var payment model.Payment
		if err := tx.First(&payment, r.PaymentID).Error; err != nil {
			return fmt.Errorf("load payment %d: %w", r.PaymentID, err)
		}
		if payment.Status != model.PaymentStatusPending {
			// Settled out of band; close the bookkeeping.
			return p.resolveTx(tx, payment.ID)
		}

		receipt, err := p.chain.SendPayment(ctx, payment.ToAddress, payment.Amount)
		if err != nil {
			movedToDLQ, err = p.recordFailureTx(tx, payment.ID, err.Error())
			if err != nil {
				return err
			}
			outcome = retryFailed
			if movedToDLQ {
				outcome = retryGaveUp
			}
			return nil
		}
		if !receipt.Success {
			movedToDLQ, err = p.recordFailureTx(tx, payment.ID, receipt.Error)
			if err != nil {
				return err
			}
			outcome = retryFailed
			if movedToDLQ {
				outcome = retryGaveUp
			}
			return nil
		}

		if err := p.settleTx(tx, &payment, receipt.TxHash); err != nil {
			return err
		}
		outcome = retrySucceeded
		return nil
	})
	if err != nil {
		return retrySkipped, err
	}

	if movedToDLQ {
		var r model.PaymentRetry
		if lookupErr := p.db.WithContext(ctx).First(&r, retryID).Error; lookupErr == nil {
			p.alertDLQ(ctx, r.PaymentID)
		}
	}
	return outcome, nil
}

// AdminRequeue puts a dead-lettered item back into the active retry
// population: attempt count reset, DLQ flag cleared, immediately
// eligible. This is the only path out of the DLQ.
func (p *PaymentRetrier) AdminRequeue(ctx context.Context, retryID uint) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r model.PaymentRetry
		if err := store.LockForUpdate(tx, &r, "id = ?", retryID); err != nil {
			return fmt.Errorf("lock payment retry %d: %w", retryID, err)
		}
		if !r.InDLQ {
			return ErrNotInDLQ
		}
		cols := model.PaymentRetry{}.Column()
		err := tx.Model(&model.PaymentRetry{}).
			Where("id = ?", r.ID).
			Updates(map[string]interface{}{
				cols.AttemptCount: 0,
				cols.InDLQ:        false,
				cols.NextRetryAt:  time.Now().UTC(),
			}).Error
		if err != nil {
			return fmt.Errorf("requeue payment retry: %w", err)
		}
		p.log.Infow("payment retry requeued from DLQ", "retryID", retryID, "paymentID", r.PaymentID)
		return nil
	})
}

// DeadLettered lists the items currently parked in the DLQ.
func (p *PaymentRetrier) DeadLettered(ctx context.Context) ([]model.PaymentRetry, error) {
	var items []model.PaymentRetry
	err := p.db.WithContext(ctx).
		Where("in_dlq = ? AND resolved = ?", true, false).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list DLQ: %w", err)
	}
	return items, nil
}

func (p *PaymentRetrier) alertDLQ(ctx context.Context, paymentID uint) {
	if p.alerter == nil {
		return
	}
	p.alerter.Critical(ctx, fmt.Sprintf(
		"🚨 Payment #%d exhausted its retry budget and was moved to the dead-letter queue. Manual intervention required.",
		paymentID))
}
