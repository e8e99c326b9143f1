package audit

import (
	"context"

	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists audit entries. There is deliberately no update or
// delete path.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.AuditEntry) error
	ListByTarget(ctx context.Context, params ListParams) ([]models.AuditEntry, error)
}

// ListParams selects one target's history, newest first.
type ListParams struct {
	TargetTable string
	TargetID    uuid.UUID
	Limit       int
	Cursor      *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListByTarget(ctx context.Context, params ListParams) ([]models.AuditEntry, error) {
	query := r.db.WithContext(ctx).
		Where("target_table = ? AND target_id = ?", params.TargetTable, params.TargetID)
	if params.Cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var entries []models.AuditEntry
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
