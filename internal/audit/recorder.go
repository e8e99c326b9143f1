// Package audit records who changed what. Entries are written in the same
// transaction as the change they describe and are never modified afterwards.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	dbtypes "github.com/fieldcheck/servicereport-backend/pkg/db/types"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
	"github.com/fieldcheck/servicereport-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Target tables recorded in audit_entries.target_table.
const (
	TargetServiceReports = "service_reports"
	TargetUsers          = "users"
)

// Entry is the input to Record. Before and After are JSON-encoded snapshots;
// either may be nil (create has no Before, delete has no After).
type Entry struct {
	ActorID     uuid.UUID
	Action      enums.AuditAction
	TargetTable string
	TargetID    uuid.UUID
	Before      any
	After       any
}

// Recorder writes and reads the audit trail.
type Recorder interface {
	// Record appends one entry using tx. A non-nil error must abort the
	// surrounding transaction.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.AuditEntry, error)
	Trail(ctx context.Context, targetTable string, targetID uuid.UUID, params pagination.Params) ([]models.AuditEntry, string, error)
}

type recorder struct {
	repo Repository
	now  func() time.Time
}

// NewRecorder wires a recorder with the provided repository.
func NewRecorder(repo Repository) (Recorder, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &recorder{repo: repo, now: time.Now}, nil
}

func (r *recorder) Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.AuditEntry, error) {
	if entry.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "audit actor id is required")
	}
	if !entry.Action.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid audit action %q", entry.Action)
	}
	if entry.TargetTable == "" || entry.TargetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "audit target is required")
	}

	before, err := dbtypes.NewJSON(entry.Before)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode audit before snapshot")
	}
	after, err := dbtypes.NewJSON(entry.After)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode audit after snapshot")
	}

	row := &models.AuditEntry{
		ID:          uuid.New(),
		ActorID:     entry.ActorID,
		Action:      entry.Action,
		TargetTable: entry.TargetTable,
		TargetID:    entry.TargetID,
		Before:      before,
		After:       after,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.repo.WithTx(tx).Create(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "write audit entry")
	}
	return row, nil
}

func (r *recorder) Trail(ctx context.Context, targetTable string, targetID uuid.UUID, params pagination.Params) ([]models.AuditEntry, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := r.repo.ListByTarget(ctx, ListParams{
		TargetTable: targetTable,
		TargetID:    targetID,
		Limit:       params.Limit,
		Cursor:      cursor,
	})
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list audit entries")
	}
	items, next := pagination.Trim(rows, params.Limit, func(e models.AuditEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return items, next, nil
}
