package model

import "time"

// PaymentRetry is the retry bookkeeping row for one Payment. Owned
// exclusively by the retry engine.
type PaymentRetry struct {
	Base
	PaymentID    uint       `json:"payment_id" gorm:"not null;uniqueIndex"`
	AttemptCount int        `json:"attempt_count" gorm:"not null;default:0"`
	LastError    string     `json:"last_error" gorm:"type:text"`
	NextRetryAt  time.Time  `json:"next_retry_at" gorm:"index"`
	InDLQ        bool       `json:"in_dlq" gorm:"column:in_dlq;not null;default:false;index"`
	Resolved     bool       `json:"resolved" gorm:"not null;default:false;index"`
	ResolvedAt   *time.Time `json:"resolved_at"`
}

func (PaymentRetry) TableName() string {
	return "payment_retries"
}

type PaymentRetryColumns struct {
	AttemptCount string
	LastError    string
	NextRetryAt  string
	InDLQ        string
	Resolved     string
	ResolvedAt   string
}

func (PaymentRetry) Column() PaymentRetryColumns {
	return PaymentRetryColumns{
		AttemptCount: "attempt_count",
		LastError:    "last_error",
		NextRetryAt:  "next_retry_at",
		InDLQ:        "in_dlq",
		Resolved:     "resolved",
		ResolvedAt:   "resolved_at",
	}
}
