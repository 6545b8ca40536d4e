package referral

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Avertenandor/sigmatradebot/internal/model"
)

// rewardScale is the fixed-point precision of all monetary amounts.
const rewardScale = 8

// LevelReward is one computed per-level reward.
type LevelReward struct {
	Level  int
	Rate   decimal.Decimal
	Reward decimal.Decimal
}

// CalculateRewards computes the per-level rewards for a deposit amount.
// Rounding is half-away-from-zero at 8 digits so re-runs reproduce the
// same sums. A level without a rate entry is a configuration error.
func CalculateRewards(amount decimal.Decimal, rates map[int]decimal.Decimal, depth int) ([]LevelReward, error) {
	rewards := make([]LevelReward, 0, depth)
	for level := 1; level <= depth; level++ {
		rate, ok := rates[level]
		if !ok {
			return nil, fmt.Errorf("%w: level %d", ErrMissingRate, level)
		}
		rewards = append(rewards, LevelReward{
			Level:  level,
			Rate:   rate,
			Reward: amount.Mul(rate).Round(rewardScale),
		})
	}
	return rewards, nil
}

// PropagateRewards fans one confirmed deposit out to every ancestor
// relationship of userID and returns the total credited. It runs inside
// the caller's transaction so a crash cannot separate a confirmed deposit
// from its reward fan-out.
//
// Idempotency is the earning table's (referral_id, source_transaction_id)
// unique index, not a prior existence check: a duplicate insert skips
// both the earning and the total_earned increment, so calling this twice
// for the same deposit credits nothing extra.
func (p *Propagator) PropagateRewards(tx *gorm.DB, userID uint, depositAmount decimal.Decimal, sourceTransactionID uint) (decimal.Decimal, error) {
	var relationships []model.Referral
	err := tx.
		Where("referral_id = ?", userID).
		Order("level ASC").
		Find(&relationships).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("load relationships for user %d: %w", userID, err)
	}

	if len(relationships) == 0 {
		p.log.Debugw("no referrers for user", "userID", userID)
		return decimal.Zero, nil
	}

	total := decimal.Zero
	for _, rel := range relationships {
		rate, ok := p.rates[rel.Level]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: level %d", ErrMissingRate, rel.Level)
		}
		reward := depositAmount.Mul(rate).Round(rewardScale)

		earning := model.ReferralEarning{
			ReferralID:          rel.ID,
			Amount:              reward,
			SourceTransactionID: sourceTransactionID,
		}
		// ON CONFLICT DO NOTHING rather than a tolerated insert error: a
		// failed INSERT would abort the enclosing transaction and poison
		// every later statement in it.
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&earning)
		if res.Error != nil {
			return decimal.Zero, fmt.Errorf("create earning: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Already credited for this deposit.
			continue
		}

		// Same transaction as the insert: the increment cannot be lost
		// or applied without its earning row.
		err = tx.Model(&model.Referral{}).
			Where("id = ?", rel.ID).
			Update("total_earned", gorm.Expr("total_earned + ?", reward)).Error
		if err != nil {
			return decimal.Zero, fmt.Errorf("increment total_earned: %w", err)
		}

		total = total.Add(reward)

		p.log.Infow("referral reward created",
			"referrerID", rel.ReferrerID,
			"referralUserID", userID,
			"level", rel.Level,
			"amount", reward.String(),
			"sourceTransactionID", sourceTransactionID)
	}

	return total, nil
}
