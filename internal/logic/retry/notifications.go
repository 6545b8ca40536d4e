package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Avertenandor/sigmatradebot/internal/model"
	"github.com/Avertenandor/sigmatradebot/internal/store"
	"github.com/Avertenandor/sigmatradebot/internal/types"
	"github.com/Avertenandor/sigmatradebot/pkg/log"
)

// NotificationRetrier delivers user messages with a bounded retry
// budget. Deliver never surfaces delivery errors to its caller: a
// failed send is captured as a FailedNotification row and retried by
// the sweep until it succeeds or gives up.
type NotificationRetrier struct {
	db        *gorm.DB
	messenger types.Messenger
	schedule  Schedule
	alerter   Alerter
	log       log.Logger
}

func NewNotificationRetrier(db *gorm.DB, messenger types.Messenger, alerter Alerter, logger log.Logger) *NotificationRetrier {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &NotificationRetrier{
		db:        db,
		messenger: messenger,
		schedule:  NotificationSchedule(),
		alerter:   alerter,
		log:       logger.WithName("notification-retry"),
	}
}

// Deliver sends the message immediately and, on failure, enqueues it
// for retry. The returned error only reports enqueue problems, never
// delivery ones, so callers' transactions are not poisoned by a flaky
// messenger.
func (n *NotificationRetrier) Deliver(ctx context.Context, telegramID int64, notificationType, message string, critical bool) error {
	err := n.messenger.SendMessage(ctx, telegramID, message)
	if err == nil {
		return nil
	}
	n.log.Warnw("notification delivery failed, enqueueing",
		"telegramID", telegramID, "type", notificationType, "error", err)
	return n.Enqueue(ctx, telegramID, notificationType, message, "", critical, err.Error())
}

// Enqueue records a failed delivery as attempt 1. The first retry
// becomes eligible once the schedule's first delay has elapsed since
// this attempt. metadata is an optional JSON payload kept for operator
// context.
func (n *NotificationRetrier) Enqueue(ctx context.Context, telegramID int64, notificationType, message, metadata string, critical bool, cause string) error {
	now := time.Now().UTC()
	row := model.FailedNotification{
		UserTelegramID:   telegramID,
		NotificationType: notificationType,
		Message:          message,
		Metadata:         metadata,
		AttemptCount:     1,
		LastError:        cause,
		LastAttemptAt:    &now,
		Critical:         critical,
	}
	if err := n.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("enqueue failed notification: %w", err)
	}
	return nil
}

// ProcessDue retries every eligible failed notification once. An item
// is eligible when the delay for its current attempt count has elapsed
// since the last attempt. Items whose attempt count reaches MaxAttempts
// are given up on, with a single critical alert for critical ones.
func (n *NotificationRetrier) ProcessDue(ctx context.Context) (SweepStats, error) {
	stats := SweepStats{}

	var candidates []model.FailedNotification
	err := n.db.WithContext(ctx).
		Where("resolved = ? AND attempt_count < ?", false, MaxAttempts).
		Order("created_at ASC").
		Limit(BatchLimit).
		Find(&candidates).Error
	if err != nil {
		return stats, fmt.Errorf("select failed notifications: %w", err)
	}
	if len(candidates) == 0 {
		n.log.Debugw("no failed notifications to retry")
		return stats, nil
	}

	for _, item := range candidates {
		outcome, gaveUpID, err := n.retryOne(ctx, item.ID)
		if err != nil {
			n.log.Errorw("notification retry cycle error", "notificationID", item.ID, "error", err)
			continue
		}
		if outcome == retrySkipped {
			continue
		}
		stats.Processed++
		switch outcome {
		case retrySucceeded:
			stats.Successful++
		case retryFailed:
			stats.Failed++
		case retryGaveUp:
			stats.Failed++
			stats.GaveUp++
			n.alertGaveUp(ctx, gaveUpID)
		}
	}

	n.log.Infow("notification retry sweep complete",
		"processed", stats.Processed,
		"successful", stats.Successful,
		"failed", stats.Failed,
		"gaveUp", stats.GaveUp)
	return stats, nil
}

func (n *NotificationRetrier) retryOne(ctx context.Context, id uint) (retryOutcome, uint, error) {
	outcome := retrySkipped
	var gaveUpID uint

	err := n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item model.FailedNotification
		err := store.LockForUpdate(tx, &item, "id = ? AND resolved = ? AND attempt_count < ?", id, false, MaxAttempts)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("lock failed notification %d: %w", id, err)
		}

		now := time.Now().UTC()
		if item.LastAttemptAt != nil {
			due := item.LastAttemptAt.Add(n.schedule.Delay(item.AttemptCount))
			if now.Before(due) {
				return nil
			}
		}

		cols := model.FailedNotification{}.Column()
		sendErr := n.messenger.SendMessage(ctx, item.UserTelegramID, item.Message)
		if sendErr == nil {
			err := tx.Model(&model.FailedNotification{}).
				Where("id = ?", item.ID).
				Updates(map[string]interface{}{
					cols.Resolved:   true,
					cols.ResolvedAt: now,
				}).Error
			if err != nil {
				return fmt.Errorf("resolve notification: %w", err)
			}
			outcome = retrySucceeded
			return nil
		}

		attempts := item.AttemptCount + 1
		err = tx.Model(&model.FailedNotification{}).
			Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				cols.AttemptCount:  attempts,
				cols.LastError:     sendErr.Error(),
				cols.LastAttemptAt: now,
			}).Error
		if err != nil {
			return fmt.Errorf("update failed notification: %w", err)
		}

		outcome = retryFailed
		if attempts >= MaxAttempts {
			// The crossing into MaxAttempts happens once per item, which is
			// what keeps the give-up alert exactly-once.
			outcome = retryGaveUp
			gaveUpID = item.ID
		}
		n.log.Warnw("notification retry failed",
			"notificationID", item.ID,
			"telegramID", item.UserTelegramID,
			"attempt", attempts,
			"error", sendErr)
		return nil
	})
	return outcome, gaveUpID, err
}

// Resolve marks one failed notification as handled.
func (n *NotificationRetrier) Resolve(ctx context.Context, id uint) error {
	cols := model.FailedNotification{}.Column()
	err := n.db.WithContext(ctx).
		Model(&model.FailedNotification{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			cols.Resolved:   true,
			cols.ResolvedAt: time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("resolve notification %d: %w", id, err)
	}
	return nil
}

// AdminRequeue puts a given-up notification back into the retry
// population. Only items that exhausted their budget are eligible.
func (n *NotificationRetrier) AdminRequeue(ctx context.Context, id uint) error {
	return n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item model.FailedNotification
		if err := store.LockForUpdate(tx, &item, "id = ?", id); err != nil {
			return fmt.Errorf("lock failed notification %d: %w", id, err)
		}
		if item.Resolved || item.AttemptCount < MaxAttempts {
			return ErrNotInDLQ
		}
		cols := model.FailedNotification{}.Column()
		err := tx.Model(&model.FailedNotification{}).
			Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				cols.AttemptCount:  0,
				cols.LastAttemptAt: nil,
			}).Error
		if err != nil {
			return fmt.Errorf("requeue notification: %w", err)
		}
		n.log.Infow("notification requeued", "notificationID", id)
		return nil
	})
}

// NotificationStats is a point-in-time summary of the failed
// notification backlog.
type NotificationStats struct {
	Total      int64
	Unresolved int64
	GivenUp    int64
	Critical   int64
	ByType     map[string]int64
}

// Statistics aggregates the failed notification table for the admin
// surface.
func (n *NotificationRetrier) Statistics(ctx context.Context) (NotificationStats, error) {
	stats := NotificationStats{ByType: make(map[string]int64)}
	db := n.db.WithContext(ctx).Model(&model.FailedNotification{})

	if err := db.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return stats, fmt.Errorf("count notifications: %w", err)
	}
	err := db.Session(&gorm.Session{}).
		Where("resolved = ?", false).
		Count(&stats.Unresolved).Error
	if err != nil {
		return stats, fmt.Errorf("count unresolved: %w", err)
	}
	err = db.Session(&gorm.Session{}).
		Where("resolved = ? AND attempt_count >= ?", false, MaxAttempts).
		Count(&stats.GivenUp).Error
	if err != nil {
		return stats, fmt.Errorf("count given up: %w", err)
	}
	err = db.Session(&gorm.Session{}).
		Where("resolved = ? AND critical = ?", false, true).
		Count(&stats.Critical).Error
	if err != nil {
		return stats, fmt.Errorf("count critical: %w", err)
	}

	type typeCount struct {
		NotificationType string
		Count            int64
	}
	var byType []typeCount
	err = db.Session(&gorm.Session{}).
		Select("notification_type, COUNT(*) AS count").
		Where("resolved = ?", false).
		Group("notification_type").
		Scan(&byType).Error
	if err != nil {
		return stats, fmt.Errorf("count by type: %w", err)
	}
	for _, tc := range byType {
		stats.ByType[tc.NotificationType] = tc.Count
	}
	return stats, nil
}

func (n *NotificationRetrier) alertGaveUp(ctx context.Context, id uint) {
	if n.alerter == nil {
		return
	}
	var item model.FailedNotification
	if err := n.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return
	}
	severity := "Notification"
	if item.Critical {
		severity = "Critical notification"
	}
	n.alerter.Critical(ctx, fmt.Sprintf(
		"🚨 %s #%d (%s) for user %d could not be delivered after %d attempts.",
		severity, item.ID, item.NotificationType, item.UserTelegramID, MaxAttempts))
}
