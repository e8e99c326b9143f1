package reports

import (
	"context"
	"time"

	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	"github.com/fieldcheck/servicereport-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for service_reports.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, report *models.ServiceReport) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ServiceReport, error)
	// UpdateVersioned writes report only if the stored version still equals
	// expectedVersion. It returns false when another writer got there first.
	UpdateVersioned(ctx context.Context, report *models.ServiceReport, expectedVersion int64) (bool, error)
	DeleteVersioned(ctx context.Context, id uuid.UUID, expectedVersion int64) (bool, error)
	List(ctx context.Context, params ListParams) ([]models.ServiceReport, error)
}

// ListParams filters reports by owning technician.
type ListParams struct {
	TechnicianIDs []uuid.UUID
	Status        enums.ReportStatus
	Limit         int
	Cursor        *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a reports repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, report *models.ServiceReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ServiceReport, error) {
	var report models.ServiceReport
	if err := r.db.WithContext(ctx).First(&report, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *repository) UpdateVersioned(ctx context.Context, report *models.ServiceReport, expectedVersion int64) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.ServiceReport{}).
		Where("id = ? AND version = ?", report.ID, expectedVersion).
		Updates(map[string]any{
			"status":               report.Status,
			"location":             report.Location,
			"customer_name":        report.CustomerName,
			"work_summary":         report.WorkSummary,
			"checklist":            report.Checklist,
			"measurements":         report.Measurements,
			"labor_hours":          report.LaborHours,
			"technician_signature": report.TechnicianSignature,
			"approver_signature":   report.ApproverSignature,
			"rejection_remarks":    report.RejectionRemarks,
			"approval_notes":       report.ApprovalNotes,
			"submitted_at":         report.SubmittedAt,
			"decided_by":           report.DecidedBy,
			"decided_at":           report.DecidedAt,
			"version":              expectedVersion + 1,
			"updated_at":           now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	report.Version = expectedVersion + 1
	report.UpdatedAt = now
	return true, nil
}

func (r *repository) DeleteVersioned(ctx context.Context, id uuid.UUID, expectedVersion int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND version = ?", id, expectedVersion).
		Delete(&models.ServiceReport{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) List(ctx context.Context, params ListParams) ([]models.ServiceReport, error) {
	if len(params.TechnicianIDs) == 0 {
		return nil, nil
	}
	query := r.db.WithContext(ctx).Where("technician_id IN ?", params.TechnicianIDs)
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.ServiceReport
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
