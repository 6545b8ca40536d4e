package retry

import (
	"context"
	"errors"
	"time"
)

const (
	// MaxAttempts is the retry budget; an item reaching it is
	// dead-lettered and needs operator intervention.
	MaxAttempts = 5
	// BatchLimit caps how many items one sweep cycle advances, bounding
	// retry storms and giving older items fairness.
	BatchLimit = 100
)

// ErrNotInDLQ is returned when an admin requeue targets an item that has
// not exhausted its retry budget.
var ErrNotInDLQ = errors.New("retry item is not dead-lettered")

// Schedule is a per-attempt backoff delay table, indexed 1-based by
// attempt number. Attempts beyond the table reuse the last entry.
type Schedule []time.Duration

// Delay returns the wait after the given failed attempt.
func (s Schedule) Delay(attempt int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(s) {
		attempt = len(s)
	}
	return s[attempt-1]
}

// NotificationSchedule is the backoff table for user notifications.
func NotificationSchedule() Schedule {
	return Schedule{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		1 * time.Hour,
		2 * time.Hour,
	}
}

// PaymentSchedule is the backoff table for outbound payments.
func PaymentSchedule() Schedule {
	return Schedule{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		1 * time.Hour,
		4 * time.Hour,
	}
}

// Alerter raises critical operator alerts.
type Alerter interface {
	Critical(ctx context.Context, message string)
}

// SweepStats summarizes one retry sweep cycle.
type SweepStats struct {
	Processed  int
	Successful int
	Failed     int
	GaveUp     int
}
