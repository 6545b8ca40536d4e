package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Avertenandor/sigmatradebot/internal/model"
	"github.com/Avertenandor/sigmatradebot/pkg/log"
)

// ChainDepth is how many ancestor levels earn from a referral's deposits.
const ChainDepth = 3

var (
	ErrSelfReferral = errors.New("user cannot refer themselves")
	ErrCyclicChain  = errors.New("referral chain would contain a cycle")
	ErrMissingRate  = errors.New("no reward rate configured for level")
	ErrAlreadyPaid  = errors.New("earning already paid")
)

// Deliverer sends a best-effort user notification. Implementations must
// capture delivery failures into their own retry bookkeeping and never
// propagate them to the caller.
type Deliverer interface {
	Deliver(ctx context.Context, telegramID int64, notificationType, message string, critical bool) error
}

// Propagator owns the referral relationship graph, earning rows and the
// running totals on relationships. Nothing else writes those.
type Propagator struct {
	db     *gorm.DB
	rates  map[int]decimal.Decimal
	notify Deliverer
	log    log.Logger
}

func NewPropagator(db *gorm.DB, rates map[int]decimal.Decimal, notify Deliverer, logger log.Logger) *Propagator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Propagator{
		db:     db,
		rates:  rates,
		notify: notify,
		log:    logger.WithName("referral"),
	}
}

// BuildReferralChain walks the referrer backlinks starting at userID and
// returns the ancestors nearest-first, at most depth of them. The walk
// stops early when an ancestor has no referrer.
func (p *Propagator) BuildReferralChain(ctx context.Context, userID uint, depth int) ([]model.User, error) {
	chain := make([]model.User, 0, depth)
	currentID := userID

	for hop := 0; hop < depth; hop++ {
		var current model.User
		err := p.db.WithContext(ctx).First(&current, currentID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return nil, fmt.Errorf("load user %d: %w", currentID, err)
		}
		if current.ReferrerID == nil {
			break
		}

		var referrer model.User
		if err := p.db.WithContext(ctx).First(&referrer, *current.ReferrerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return nil, fmt.Errorf("load referrer %d: %w", *current.ReferrerID, err)
		}

		chain = append(chain, referrer)
		currentID = referrer.ID
	}

	return chain, nil
}

// RegisterReferral creates the relationship rows linking newUserID to its
// ancestors, one per level up to ChainDepth. Safe to call more than once
// for the same pair: existing rows are left alone. Exactly one best-effort
// notification goes to the direct referrer; its failure never rolls back
// the relationship writes.
func (p *Propagator) RegisterReferral(ctx context.Context, newUserID, directReferrerID uint) error {
	if newUserID == directReferrerID {
		return ErrSelfReferral
	}

	var direct model.User
	if err := p.db.WithContext(ctx).First(&direct, directReferrerID).Error; err != nil {
		return fmt.Errorf("load direct referrer %d: %w", directReferrerID, err)
	}

	upper, err := p.BuildReferralChain(ctx, directReferrerID, ChainDepth-1)
	if err != nil {
		return err
	}
	ancestors := append([]model.User{direct}, upper...)

	// A candidate chain containing the new user would close a loop
	// (A -> B -> C -> A); the relationship graph must stay a forest.
	for _, ancestor := range ancestors {
		if ancestor.ID == newUserID {
			p.log.Warnw("referral loop rejected",
				"newUserID", newUserID,
				"directReferrerID", directReferrerID)
			return ErrCyclicChain
		}
	}

	var newUser model.User
	if err := p.db.WithContext(ctx).First(&newUser, newUserID).Error; err != nil {
		return fmt.Errorf("load new user %d: %w", newUserID, err)
	}

	for i, ancestor := range ancestors {
		if i >= ChainDepth {
			break
		}
		level := i + 1

		rel := model.Referral{
			ReferrerID:  ancestor.ID,
			ReferralID:  newUserID,
			Level:       level,
			TotalEarned: decimal.Zero,
		}
		if err := p.db.WithContext(ctx).Create(&rel).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			return fmt.Errorf("create referral relationship: %w", err)
		}

		p.log.Infow("referral relationship created",
			"referrerID", ancestor.ID,
			"referralID", newUserID,
			"level", level)

		if level == 1 && p.notify != nil {
			name := newUser.Username
			if name == "" {
				name = fmt.Sprintf("ID %d", newUser.TelegramID)
			}
			p.notify.Deliver(ctx, ancestor.TelegramID, "new_referral",
				fmt.Sprintf("🎉 New referral! User %s registered with your link. You will earn rewards from their deposits.", name),
				false)
		}
	}

	return nil
}

// MarkEarningPaid flips the paid flag on one earning and records the
// payout hash. An already-paid earning is refused.
func (p *Propagator) MarkEarningPaid(ctx context.Context, earningID uint, txHash string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return markEarningPaidTx(tx, earningID, txHash)
	})
}

// MarkEarningPaidTx is MarkEarningPaid inside a caller-owned transaction.
func (p *Propagator) MarkEarningPaidTx(tx *gorm.DB, earningID uint, txHash string) error {
	return markEarningPaidTx(tx, earningID, txHash)
}

func markEarningPaidTx(tx *gorm.DB, earningID uint, txHash string) error {
	var earning model.ReferralEarning
	if err := tx.First(&earning, earningID).Error; err != nil {
		return fmt.Errorf("load earning %d: %w", earningID, err)
	}
	if earning.Paid {
		return ErrAlreadyPaid
	}
	return tx.Model(&model.ReferralEarning{}).
		Where("id = ?", earningID).
		Updates(map[string]interface{}{
			"paid":    true,
			"tx_hash": txHash,
		}).Error
}

// PendingEarnings returns the unpaid earnings owed to a referrer and
// their sum.
func (p *Propagator) PendingEarnings(ctx context.Context, referrerID uint) ([]model.ReferralEarning, decimal.Decimal, error) {
	var earnings []model.ReferralEarning
	err := p.db.WithContext(ctx).
		Joins("JOIN referrals ON referrals.id = referral_earnings.referral_id").
		Where("referrals.referrer_id = ? AND referral_earnings.paid = ?", referrerID, false).
		Order("referral_earnings.created_at DESC").
		Find(&earnings).Error
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("load pending earnings: %w", err)
	}

	total := decimal.Zero
	for _, e := range earnings {
		total = total.Add(e.Amount)
	}
	return earnings, total, nil
}
