package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DepositStatusPending        = "pending"
	DepositStatusConfirmed      = "confirmed"
	DepositStatusFailed         = "failed"
	DepositStatusExpiredPending = "expired_pending"
)

type Deposit struct {
	Base
	UserID      uint            `json:"user_id" gorm:"not null;index"`
	Level       int             `json:"level" gorm:"not null;comment:deposit level 1-5"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(18,8);not null"`
	TxHash      string          `json:"tx_hash" gorm:"type:varchar(66);uniqueIndex"`
	FromAddress string          `json:"from_address" gorm:"type:varchar(42);index"`
	ToAddress   string          `json:"to_address" gorm:"type:varchar(42);index"`
	BlockNumber int64           `json:"block_number" gorm:"comment:confirmation block number"`
	Status      string          `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	ConfirmedAt *time.Time      `json:"confirmed_at"`
}

func (Deposit) TableName() string {
	return "deposits"
}

type DepositColumns struct {
	Status      string
	BlockNumber string
	ConfirmedAt string
}

func (Deposit) Column() DepositColumns {
	return DepositColumns{
		Status:      "status",
		BlockNumber: "block_number",
		ConfirmedAt: "confirmed_at",
	}
}
