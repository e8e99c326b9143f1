package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldcheck/servicereport-backend/pkg/config"
	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	dbtypes "github.com/fieldcheck/servicereport-backend/pkg/db/types"
)

// GormQueue persists retries in notification_retries and dead letters in
// notification_dead_letters so pending work survives restarts.
type GormQueue struct {
	db *gorm.DB
}

func NewGormQueue(db *gorm.DB) (*GormQueue, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	return &GormQueue{db: db}, nil
}

// NewRetryQueue picks the durable queue unless the config opts out of it.
func NewRetryQueue(cfg config.NotificationsConfig, db *gorm.DB) (RetryQueue, error) {
	if !cfg.UseDurableQueue {
		return NewMemoryQueue(), nil
	}
	return NewGormQueue(db)
}

func (q *GormQueue) Enqueue(ctx context.Context, item RetryItem) error {
	payload, err := dbtypes.NewJSON(item.Notification)
	if err != nil {
		return fmt.Errorf("encode retry payload: %w", err)
	}
	row := models.NotificationRetry{
		NotificationID: item.NotificationID(),
		RecipientID:    item.Notification.RecipientID,
		Payload:        payload,
		Attempts:       item.Attempts,
		LastError:      item.LastError,
		NextAttemptAt:  item.NextAttemptAt.UTC(),
	}
	return q.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "notification_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"attempts", "last_error", "next_attempt_at", "updated_at"}),
		}).
		Create(&row).Error
}

func (q *GormQueue) Due(ctx context.Context, now time.Time, limit int) ([]RetryItem, error) {
	query := q.db.WithContext(ctx).
		Where("next_attempt_at <= ?", now.UTC()).
		Order("next_attempt_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.NotificationRetry
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]RetryItem, 0, len(rows))
	for _, row := range rows {
		var n models.Notification
		if err := row.Payload.Decode(&n); err != nil {
			return nil, fmt.Errorf("decode retry payload %s: %w", row.NotificationID, err)
		}
		items = append(items, RetryItem{
			Notification:  n,
			Attempts:      row.Attempts,
			LastError:     row.LastError,
			NextAttemptAt: row.NextAttemptAt,
		})
	}
	return items, nil
}

// Claim is a conditional update, so of two sweepers that read the same row
// only one wins.
func (q *GormQueue) Claim(ctx context.Context, item RetryItem, now, leaseUntil time.Time) (RetryItem, bool, error) {
	res := q.db.WithContext(ctx).
		Model(&models.NotificationRetry{}).
		Where("notification_id = ? AND attempts = ? AND next_attempt_at <= ?", item.NotificationID(), item.Attempts, now.UTC()).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": leaseUntil.UTC(),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return item, false, res.Error
	}
	if res.RowsAffected != 1 {
		return item, false, nil
	}
	item.Attempts++
	item.NextAttemptAt = leaseUntil.UTC()
	item.claimed = true
	return item, true, nil
}

func (q *GormQueue) Release(ctx context.Context, item RetryItem, at time.Time) error {
	if !item.claimed {
		return nil
	}
	res := q.db.WithContext(ctx).
		Model(&models.NotificationRetry{}).
		Where("notification_id = ? AND attempts = ?", item.NotificationID(), item.Attempts).
		Updates(map[string]any{
			"attempts":        item.Attempts - 1,
			"next_attempt_at": at.UTC(),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

func (q *GormQueue) Reschedule(ctx context.Context, item RetryItem) error {
	query := q.db.WithContext(ctx).
		Model(&models.NotificationRetry{}).
		Where("notification_id = ?", item.NotificationID())
	if item.claimed {
		query = query.Where("attempts = ?", item.Attempts)
	}
	res := query.Updates(map[string]any{
		"attempts":        item.Attempts,
		"last_error":      item.LastError,
		"next_attempt_at": item.NextAttemptAt.UTC(),
		"updated_at":      time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if item.claimed && res.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

func (q *GormQueue) Remove(ctx context.Context, notificationID uuid.UUID) error {
	return q.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Delete(&models.NotificationRetry{}).Error
}

func (q *GormQueue) Bury(ctx context.Context, item RetryItem, failedAt time.Time) error {
	payload, err := dbtypes.NewJSON(item.Notification)
	if err != nil {
		return fmt.Errorf("encode dead letter payload: %w", err)
	}
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where("notification_id = ?", item.NotificationID())
		if item.claimed {
			del = del.Where("attempts = ?", item.Attempts)
		}
		res := del.Delete(&models.NotificationRetry{})
		if res.Error != nil {
			return res.Error
		}
		if item.claimed && res.RowsAffected == 0 {
			return ErrClaimLost
		}
		return tx.Create(&models.NotificationDeadLetter{
			ID:             uuid.New(),
			NotificationID: item.NotificationID(),
			RecipientID:    item.Notification.RecipientID,
			Payload:        payload,
			Attempts:       item.Attempts,
			LastError:      item.LastError,
			FailedAt:       failedAt.UTC(),
		}).Error
	})
}

// PurgeDeadLetters drops dead letters that failed before cutoff.
func (q *GormQueue) PurgeDeadLetters(ctx context.Context, cutoff time.Time) (int64, error) {
	res := q.db.WithContext(ctx).
		Where("failed_at < ?", cutoff.UTC()).
		Delete(&models.NotificationDeadLetter{})
	return res.RowsAffected, res.Error
}

func (q *GormQueue) Len(ctx context.Context) (int, error) {
	var count int64
	if err := q.db.WithContext(ctx).Model(&models.NotificationRetry{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}
