package model

import "github.com/shopspring/decimal"

const (
	PaymentStatusPending   = "pending"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusFailed    = "failed"

	PaymentTypeReferralPayout = "referral_payout"
	PaymentTypeWithdrawal     = "withdrawal"
)

// Payment is an outbound transfer owed to a user: a referral earning
// payout or a withdrawal.
type Payment struct {
	Base
	UserID    uint            `json:"user_id" gorm:"not null;index"`
	EarningID *uint           `json:"earning_id" gorm:"uniqueIndex;comment:referral earning being paid out, if any"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(18,8);not null"`
	ToAddress string          `json:"to_address" gorm:"type:varchar(42);not null"`
	Type      string          `json:"type" gorm:"type:varchar(20);not null"`
	Status    string          `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	TxHash    string          `json:"tx_hash" gorm:"type:varchar(66)"`
}

func (Payment) TableName() string {
	return "payments"
}
