package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Avertenandor/sigmatradebot/internal/model"
	"github.com/Avertenandor/sigmatradebot/internal/store"
)

// CreatePendingDeposit records a freshly detected on-chain deposit in
// pending state. The partial unique index on (user_id, level) for
// pending rows rejects a second open deposit at the same level.
func (r *Reconciler) CreatePendingDeposit(ctx context.Context, userID uint, level int, amount decimal.Decimal, txHash, fromAddress, toAddress string) (*model.Deposit, error) {
	deposit := model.Deposit{
		UserID:      userID,
		Level:       level,
		Amount:      amount,
		TxHash:      txHash,
		FromAddress: fromAddress,
		ToAddress:   toAddress,
		Status:      model.DepositStatusPending,
	}
	if err := r.db.WithContext(ctx).Create(&deposit).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrPendingExists
		}
		return nil, fmt.Errorf("create pending deposit: %w", err)
	}

	r.log.Infow("pending deposit created",
		"depositID", deposit.ID,
		"userID", userID,
		"level", level,
		"amount", amount.String())
	return &deposit, nil
}

// ConfirmDeposit moves one pending deposit to confirmed, writes the
// ledger entry, credits the user balance and fans referral rewards out,
// all inside one SERIALIZABLE transaction. A crash cannot separate a
// confirmed deposit from its side effects.
//
// Concurrent callers racing the same deposit observe exactly one winner:
// the row lock carries a status='pending' predicate, so every loser sees
// no row and gets ErrAlreadyProcessed.
func (r *Reconciler) ConfirmDeposit(ctx context.Context, depositID uint, verifiedAmount decimal.Decimal, blockNumber int64) error {
	var confirmed model.Deposit

	err := store.WithSerializable(r.db.WithContext(ctx), func(tx *gorm.DB) error {
		var deposit model.Deposit
		err := store.LockForUpdate(tx, &deposit, "id = ? AND status = ?", depositID, model.DepositStatusPending)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAlreadyProcessed
			}
			return fmt.Errorf("lock deposit %d: %w", depositID, err)
		}

		if !withinTolerance(deposit.Amount, verifiedAmount) {
			r.log.Warnw("deposit amount outside tolerance, kept pending for manual review",
				"depositID", depositID,
				"expected", deposit.Amount.String(),
				"verified", verifiedAmount.String())
			return ErrAmountMismatch
		}

		now := time.Now().UTC()
		err = tx.Model(&model.Deposit{}).
			Where("id = ?", deposit.ID).
			Updates(map[string]interface{}{
				model.Deposit{}.Column().Status:      model.DepositStatusConfirmed,
				model.Deposit{}.Column().BlockNumber: blockNumber,
				model.Deposit{}.Column().ConfirmedAt: now,
			}).Error
		if err != nil {
			return fmt.Errorf("confirm deposit %d: %w", depositID, err)
		}

		ledger := model.Transaction{
			UserID:      deposit.UserID,
			TxHash:      deposit.TxHash,
			Type:        model.TxTypeDeposit,
			Amount:      deposit.Amount,
			FromAddress: deposit.FromAddress,
			ToAddress:   deposit.ToAddress,
			BlockNumber: blockNumber,
			Status:      model.TxStatusConfirmed,
		}
		if err := tx.Create(&ledger).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateTransaction
			}
			return fmt.Errorf("create ledger transaction: %w", err)
		}

		// User lock is always taken after the deposit lock; every writer
		// follows the same order, which rules out lock inversion.
		var user model.User
		if err := store.LockForUpdate(tx, &user, "id = ?", deposit.UserID); err != nil {
			return fmt.Errorf("lock user %d: %w", deposit.UserID, err)
		}
		err = tx.Model(&model.User{}).
			Where("id = ?", user.ID).
			Update("balance", gorm.Expr("balance + ?", deposit.Amount)).Error
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		if _, err := r.rewards.PropagateRewards(tx, deposit.UserID, deposit.Amount, ledger.ID); err != nil {
			return err
		}

		confirmed = deposit
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Infow("deposit confirmed",
		"depositID", confirmed.ID,
		"userID", confirmed.UserID,
		"amount", confirmed.Amount.String(),
		"blockNumber", blockNumber)

	if r.notify != nil {
		var user model.User
		if err := r.db.WithContext(ctx).First(&user, confirmed.UserID).Error; err == nil {
			r.notify.Deliver(ctx, user.TelegramID, "deposit_confirmed",
				fmt.Sprintf("✅ Your deposit of %s has been confirmed.", confirmed.Amount.String()),
				false)
		}
	}
	return nil
}
