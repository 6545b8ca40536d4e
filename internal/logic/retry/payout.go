package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Avertenandor/sigmatradebot/internal/model"
)

// pendingPayout is one unpaid earning joined with its owed referrer.
type pendingPayout struct {
	EarningID     uint            `gorm:"column:earning_id"`
	Amount        decimal.Decimal `gorm:"column:amount"`
	ReferrerID    uint            `gorm:"column:referrer_id"`
	WalletAddress string          `gorm:"column:wallet_address"`
}

// PayoutPendingEarnings creates and dispatches a Payment for every
// unpaid earning that has no payment yet. Re-running the sweep is safe:
// the NOT EXISTS filter keeps re-scans cheap, and the unique index on
// payments.earning_id is what actually holds an earning to at most one
// payment row when sweeps overlap. Already-created payments are driven
// by the retry sweep instead.
func (p *PaymentRetrier) PayoutPendingEarnings(ctx context.Context) (SweepStats, error) {
	stats := SweepStats{}

	var due []pendingPayout
	err := p.db.WithContext(ctx).
		Table("referral_earnings").
		Select("referral_earnings.id AS earning_id, referral_earnings.amount, referrals.referrer_id, users.wallet_address").
		Joins("JOIN referrals ON referrals.id = referral_earnings.referral_id").
		Joins("JOIN users ON users.id = referrals.referrer_id").
		Where("referral_earnings.paid = ?", false).
		Where("NOT EXISTS (SELECT 1 FROM payments WHERE payments.earning_id = referral_earnings.id)").
		Order("referral_earnings.created_at ASC").
		Limit(BatchLimit).
		Scan(&due).Error
	if err != nil {
		return stats, fmt.Errorf("select payable earnings: %w", err)
	}
	if len(due) == 0 {
		p.log.Debugw("no earnings due for payout")
		return stats, nil
	}

	for _, item := range due {
		if item.WalletAddress == "" {
			p.log.Warnw("skipping payout, referrer has no wallet address",
				"earningID", item.EarningID, "referrerID", item.ReferrerID)
			continue
		}
		stats.Processed++

		earningID := item.EarningID
		payment := model.Payment{
			UserID:    item.ReferrerID,
			EarningID: &earningID,
			Amount:    item.Amount,
			ToAddress: item.WalletAddress,
			Type:      model.PaymentTypeReferralPayout,
			Status:    model.PaymentStatusPending,
		}
		err := p.db.WithContext(ctx).Create(&payment).Error
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// A concurrent sweep created the payment first.
				continue
			}
			p.log.Errorw("create payout payment", "earningID", item.EarningID, "error", err)
			stats.Failed++
			continue
		}

		if err := p.Dispatch(ctx, payment.ID); err != nil {
			p.log.Errorw("dispatch payout", "paymentID", payment.ID, "error", err)
			stats.Failed++
			continue
		}
		stats.Successful++
	}

	p.log.Infow("earning payout sweep complete",
		"processed", stats.Processed,
		"successful", stats.Successful,
		"failed", stats.Failed)
	return stats, nil
}
