package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Avertenandor/sigmatradebot/internal/model"
	"github.com/Avertenandor/sigmatradebot/internal/store"
)

// SweepExpiredDeposits moves pending deposits older than maxAge to
// expired_pending and returns how many rows moved. Each row is handled
// in its own transaction under the same lock and status='pending'
// predicate as ConfirmDeposit, so a deposit confirmed mid-sweep is
// skipped rather than overwritten. Re-running with nothing due performs
// no writes.
func (r *Reconciler) SweepExpiredDeposits(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	var stale []model.Deposit
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.DepositStatusPending, cutoff).
		Order("created_at ASC").
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("find stale deposits: %w", err)
	}

	expired := 0
	for _, deposit := range stale {
		err := store.WithSerializable(r.db.WithContext(ctx), func(tx *gorm.DB) error {
			var locked model.Deposit
			err := store.LockForUpdate(tx, &locked, "id = ? AND status = ?", deposit.ID, model.DepositStatusPending)
			if err != nil {
				return err
			}
			return tx.Model(&model.Deposit{}).
				Where("id = ?", locked.ID).
				Update(model.Deposit{}.Column().Status, model.DepositStatusExpiredPending).Error
		})
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Confirmed by a racing caller after the scan; terminal
				// states stay untouched.
				continue
			}
			r.log.Errorw("failed to expire deposit", "depositID", deposit.ID, "error", err)
			continue
		}

		expired++
		r.log.Infow("pending deposit expired",
			"depositID", deposit.ID,
			"userID", deposit.UserID,
			"createdAt", deposit.CreatedAt)
	}

	return expired, nil
}
