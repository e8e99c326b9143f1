package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/fieldcheck/servicereport-backend/pkg/db/types"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
)

// Notification is an in-app message owned by exactly one recipient.
type Notification struct {
	ID          uuid.UUID                  `gorm:"type:uuid;primaryKey" json:"id"`
	RecipientID uuid.UUID                  `gorm:"column:recipient_id;type:uuid;not null;index" json:"recipient_id"`
	Type        enums.NotificationType     `gorm:"type:text;not null" json:"type"`
	Priority    enums.NotificationPriority `gorm:"type:text;not null;default:'medium'" json:"priority"`
	Title       string                     `gorm:"type:text;not null" json:"title"`
	Message     string                     `gorm:"type:text;not null" json:"message"`
	Data        dbtypes.JSON               `gorm:"type:jsonb" json:"data,omitempty"`
	IsRead      bool                       `gorm:"column:is_read;not null;default:false" json:"is_read"`
	ReadAt      *time.Time                 `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time                  `gorm:"column:created_at" json:"created_at"`
}

// NotificationRetry is a pending redelivery keyed by notification and recipient.
type NotificationRetry struct {
	NotificationID uuid.UUID    `gorm:"column:notification_id;type:uuid;primaryKey"`
	RecipientID    uuid.UUID    `gorm:"column:recipient_id;type:uuid;not null;index"`
	Payload        dbtypes.JSON `gorm:"type:jsonb;not null"`
	Attempts       int          `gorm:"not null;default:0"`
	LastError      string       `gorm:"column:last_error;type:text;not null;default:''"`
	NextAttemptAt  time.Time    `gorm:"column:next_attempt_at;not null;index"`
	CreatedAt      time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

// NotificationDeadLetter captures notifications that exhausted their attempts.
type NotificationDeadLetter struct {
	ID             uuid.UUID    `gorm:"type:uuid;primaryKey"`
	NotificationID uuid.UUID    `gorm:"column:notification_id;type:uuid;not null;uniqueIndex"`
	RecipientID    uuid.UUID    `gorm:"column:recipient_id;type:uuid;not null;index"`
	Payload        dbtypes.JSON `gorm:"type:jsonb;not null"`
	Attempts       int          `gorm:"not null"`
	LastError      string       `gorm:"column:last_error;type:text;not null;default:''"`
	FailedAt       time.Time    `gorm:"column:failed_at;not null"`
}
