package model

import "time"

// FailedNotification tracks a message that could not be delivered
// (user blocked the bot, deleted account, network error). Keyed by
// recipient rather than by a domain transaction.
type FailedNotification struct {
	Base
	UserTelegramID   int64      `json:"user_telegram_id" gorm:"not null;index"`
	NotificationType string     `json:"notification_type" gorm:"type:varchar(100);not null;index"`
	Message          string     `json:"message" gorm:"type:text;not null"`
	Metadata         string     `json:"metadata" gorm:"type:jsonb"`
	AttemptCount     int        `json:"attempt_count" gorm:"not null;default:1"`
	LastError        string     `json:"last_error" gorm:"type:text"`
	Resolved         bool       `json:"resolved" gorm:"not null;default:false;index"`
	Critical         bool       `json:"critical" gorm:"not null;default:false"`
	LastAttemptAt    *time.Time `json:"last_attempt_at"`
	ResolvedAt       *time.Time `json:"resolved_at"`
}

func (FailedNotification) TableName() string {
	return "failed_notifications"
}

type FailedNotificationColumns struct {
	AttemptCount  string
	LastError     string
	Resolved      string
	LastAttemptAt string
	ResolvedAt    string
}

func (FailedNotification) Column() FailedNotificationColumns {
	return FailedNotificationColumns{
		AttemptCount:  "attempt_count",
		LastError:     "last_error",
		Resolved:      "resolved",
		LastAttemptAt: "last_attempt_at",
		ResolvedAt:    "resolved_at",
	}
}
