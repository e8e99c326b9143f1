package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/fieldcheck/servicereport-backend/pkg/db/types"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
)

// ServiceReport is one unit of field work moving through the approval chain.
type ServiceReport struct {
	ID                  uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	TechnicianID        uuid.UUID          `gorm:"column:technician_id;type:uuid;not null;index" json:"technician_id"`
	Status              enums.ReportStatus `gorm:"type:text;not null;index" json:"status"`
	Location            string             `gorm:"type:text;not null;default:''" json:"location"`
	CustomerName        string             `gorm:"column:customer_name;type:text;not null;default:''" json:"customer_name"`
	WorkSummary         string             `gorm:"column:work_summary;type:text;not null;default:''" json:"work_summary"`
	Checklist           dbtypes.JSON       `gorm:"type:jsonb" json:"checklist"`
	Measurements        dbtypes.JSON       `gorm:"type:jsonb" json:"measurements"`
	LaborHours          decimal.Decimal    `gorm:"column:labor_hours;type:numeric(6,2);not null;default:0" json:"labor_hours"`
	TechnicianSignature string             `gorm:"column:technician_signature;type:text;not null;default:''" json:"technician_signature,omitempty"`
	ApproverSignature   string             `gorm:"column:approver_signature;type:text;not null;default:''" json:"approver_signature,omitempty"`
	RejectionRemarks    string             `gorm:"column:rejection_remarks;type:text;not null;default:''" json:"rejection_remarks,omitempty"`
	ApprovalNotes       string             `gorm:"column:approval_notes;type:text;not null;default:''" json:"approval_notes,omitempty"`
	SubmittedAt         *time.Time         `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	DecidedBy           *uuid.UUID         `gorm:"column:decided_by;type:uuid" json:"decided_by,omitempty"`
	DecidedAt           *time.Time         `gorm:"column:decided_at" json:"decided_at,omitempty"`
	Version             int64              `gorm:"not null;default:1" json:"version"`
	CreatedAt           time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (r *ServiceReport) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return nil
}

// ApprovalStatus is derived from Status and never stored.
func (r ServiceReport) ApprovalStatus() enums.ApprovalStatus {
	return r.Status.ApprovalStatus()
}
