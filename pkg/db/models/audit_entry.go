package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/fieldcheck/servicereport-backend/pkg/db/types"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
)

// AuditEntry is an immutable record of one state-changing operation.
type AuditEntry struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID     uuid.UUID         `gorm:"column:actor_id;type:uuid;not null;index" json:"actor_id"`
	Action      enums.AuditAction `gorm:"type:text;not null" json:"action"`
	TargetTable string            `gorm:"column:target_table;type:text;not null;index:idx_audit_target,priority:1" json:"target_table"`
	TargetID    uuid.UUID         `gorm:"column:target_id;type:uuid;not null;index:idx_audit_target,priority:2" json:"target_id"`
	Before      dbtypes.JSON      `gorm:"type:jsonb" json:"before"`
	After       dbtypes.JSON      `gorm:"type:jsonb" json:"after"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (AuditEntry) TableName() string {
	return "audit_entries"
}

func (e *AuditEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
