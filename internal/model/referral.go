package model

import "github.com/shopspring/decimal"

// Referral links a referrer to one of their referrals at a fixed chain
// distance. One row exists per ancestor level, up to depth 3.
type Referral struct {
	Base
	ReferrerID  uint            `json:"referrer_id" gorm:"not null;index;uniqueIndex:uniq_referrals_pair,priority:1"`
	ReferralID  uint            `json:"referral_id" gorm:"not null;index;uniqueIndex:uniq_referrals_pair,priority:2"`
	Level       int             `json:"level" gorm:"not null;comment:chain distance 1-3"`
	TotalEarned decimal.Decimal `json:"total_earned" gorm:"type:decimal(18,8);not null;default:0"`
}

func (Referral) TableName() string {
	return "referrals"
}
