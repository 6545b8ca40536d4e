package model

import "github.com/shopspring/decimal"

// ReferralEarning is one reward credit for one (deposit, ancestor) pair.
// The (referral_id, source_transaction_id) unique index is the idempotency
// guard: re-running propagation for the same deposit cannot double-credit.
type ReferralEarning struct {
	Base
	ReferralID          uint            `json:"referral_id" gorm:"not null;index;uniqueIndex:uniq_earnings_relation_source,priority:1"`
	Amount              decimal.Decimal `json:"amount" gorm:"type:decimal(18,8);not null"`
	SourceTransactionID uint            `json:"source_transaction_id" gorm:"not null;index;uniqueIndex:uniq_earnings_relation_source,priority:2"`
	Paid                bool            `json:"paid" gorm:"not null;default:false;index"`
	TxHash              string          `json:"tx_hash" gorm:"type:varchar(66);comment:payout tx hash"`
}

func (ReferralEarning) TableName() string {
	return "referral_earnings"
}
