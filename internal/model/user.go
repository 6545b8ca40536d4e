package model

import "github.com/shopspring/decimal"

const (
	UserStatusActive  = "active"
	UserStatusBlocked = "blocked"
)

type User struct {
	Base
	TelegramID    int64           `json:"telegram_id" gorm:"not null;uniqueIndex"`
	Username      string          `json:"username" gorm:"type:varchar(255)"`
	WalletAddress string          `json:"wallet_address" gorm:"type:varchar(255);index"`
	Balance       decimal.Decimal `json:"balance" gorm:"type:decimal(18,8);not null;default:0"`
	ReferrerID    *uint           `json:"referrer_id" gorm:"index;comment:direct referrer backlink"`
	Status        string          `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
}

func (User) TableName() string {
	return "users"
}
