package model

import "github.com/shopspring/decimal"

const (
	TxTypeDeposit        = "deposit"
	TxTypeReferralReward = "referral_reward"
	TxTypeSystemPayout   = "system_payout"

	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
)

// Transaction is a ledger entry. The (tx_hash, type) unique index is what
// makes crediting the same on-chain event twice impossible.
type Transaction struct {
	Base
	UserID      uint            `json:"user_id" gorm:"index"`
	TxHash      string          `json:"tx_hash" gorm:"type:varchar(66);not null;uniqueIndex:uniq_transactions_hash_type,priority:1"`
	Type        string          `json:"type" gorm:"type:varchar(20);not null;uniqueIndex:uniq_transactions_hash_type,priority:2;index"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(18,8);not null"`
	FromAddress string          `json:"from_address" gorm:"type:varchar(42)"`
	ToAddress   string          `json:"to_address" gorm:"type:varchar(42)"`
	BlockNumber int64           `json:"block_number"`
	Status      string          `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// IsConfirmed reports whether the entry reached its terminal confirmed state.
func (t Transaction) IsConfirmed() bool {
	return t.Status == TxStatusConfirmed
}
