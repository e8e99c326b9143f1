package reports

import (
	"strings"
	"time"

	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	dbtypes "github.com/fieldcheck/servicereport-backend/pkg/db/types"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// transitions lists every defined (status, event) pair. Anything missing is
// an invalid transition.
var transitions = map[enums.ReportStatus]map[enums.ReportEvent]enums.ReportStatus{
	enums.ReportStatusDraft: {
		enums.ReportEventUpdate: enums.ReportStatusDraft,
		enums.ReportEventSubmit: enums.ReportStatusSubmitted,
		enums.ReportEventDelete: enums.ReportStatusDraft,
	},
	enums.ReportStatusSubmitted: {
		enums.ReportEventApprove: enums.ReportStatusApproved,
		enums.ReportEventReject:  enums.ReportStatusRejected,
	},
}

var maxLaborHours = decimal.NewFromInt(9999)

// Actor is who requests a transition. IsAncestor must already reflect the
// hierarchy: true when the actor has authority over the report's technician.
type Actor struct {
	ID         uuid.UUID
	IsAncestor bool
}

// Payload carries the event-specific inputs. Fields irrelevant to an event
// are ignored.
type Payload struct {
	Signature string
	Remarks   string
	Notes     string
	Fields    DraftFields
}

// DraftFields is a partial edit of a draft. Nil pointers leave the field as is.
type DraftFields struct {
	Location            *string
	CustomerName        *string
	WorkSummary         *string
	Checklist           dbtypes.JSON
	Measurements        dbtypes.JSON
	LaborHours          *decimal.Decimal
	TechnicianSignature *string
}

// Transition applies event to current and returns the next record. It never
// mutates current and performs no I/O. For delete the returned record is the
// unchanged input; removing it is the caller's job.
func Transition(current models.ServiceReport, event enums.ReportEvent, actor Actor, payload Payload, now time.Time) (models.ServiceReport, error) {
	to, ok := transitions[current.Status][event]
	if !ok {
		return current, invalidTransition(current.Status, event)
	}

	next := current
	switch event {
	case enums.ReportEventUpdate:
		if err := requireOwner(current, actor, event); err != nil {
			return current, err
		}
		if err := applyDraftFields(&next, payload.Fields); err != nil {
			return current, err
		}
	case enums.ReportEventDelete:
		if err := requireOwner(current, actor, event); err != nil {
			return current, err
		}
		return current, nil
	case enums.ReportEventSubmit:
		if err := requireOwner(current, actor, event); err != nil {
			return current, err
		}
		if sig := strings.TrimSpace(payload.Signature); sig != "" {
			next.TechnicianSignature = sig
		}
		if err := requireSubmittable(next); err != nil {
			return current, err
		}
		at := now.UTC()
		next.SubmittedAt = &at
	case enums.ReportEventApprove, enums.ReportEventReject:
		if err := requireApprover(current, actor, event); err != nil {
			return current, err
		}
		remarks := strings.TrimSpace(payload.Remarks)
		if event == enums.ReportEventReject && remarks == "" {
			return current, pkgerrors.New(pkgerrors.CodeValidation, "rejection_remarks required").
				WithDetails(map[string]any{"field": "rejection_remarks"})
		}
		sig := strings.TrimSpace(payload.Signature)
		if sig == "" {
			return current, pkgerrors.New(pkgerrors.CodeValidation, "approver_signature required").
				WithDetails(map[string]any{"field": "signature"})
		}
		next.ApproverSignature = sig
		decidedBy := actor.ID
		at := now.UTC()
		next.DecidedBy = &decidedBy
		next.DecidedAt = &at
		if event == enums.ReportEventReject {
			next.RejectionRemarks = remarks
			next.ApprovalNotes = ""
		} else {
			next.ApprovalNotes = strings.TrimSpace(payload.Notes)
			next.RejectionRemarks = ""
		}
	}

	next.Status = to
	return next, nil
}

// Allowed reports whether event is defined for status, ignoring guards.
func Allowed(status enums.ReportStatus, event enums.ReportEvent) bool {
	_, ok := transitions[status][event]
	return ok
}

func invalidTransition(status enums.ReportStatus, event enums.ReportEvent) error {
	return pkgerrors.Newf(pkgerrors.CodeInvalidTransition, "cannot %s report in status %s", event, status).
		WithDetails(map[string]any{"status": status, "event": event})
}

func requireOwner(report models.ServiceReport, actor Actor, event enums.ReportEvent) error {
	if actor.ID == report.TechnicianID {
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeForbidden, "only the owning technician may %s this report", event)
}

func requireApprover(report models.ServiceReport, actor Actor, event enums.ReportEvent) error {
	if actor.ID == report.TechnicianID {
		return pkgerrors.Newf(pkgerrors.CodeForbidden, "a technician may not %s their own report", event)
	}
	if !actor.IsAncestor {
		return pkgerrors.Newf(pkgerrors.CodeForbidden, "only the technician's team leader or their manager chain may %s this report", event)
	}
	return nil
}

func requireSubmittable(report models.ServiceReport) error {
	var missing []string
	if strings.TrimSpace(report.Location) == "" {
		missing = append(missing, "location")
	}
	if strings.TrimSpace(report.WorkSummary) == "" {
		missing = append(missing, "work_summary")
	}
	if strings.TrimSpace(report.TechnicianSignature) == "" {
		missing = append(missing, "technician_signature")
	}
	if len(missing) == 0 {
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeValidation, "%s required", strings.Join(missing, ", ")).
		WithDetails(map[string]any{"missing": missing})
}

func applyDraftFields(report *models.ServiceReport, f DraftFields) error {
	if f.Location != nil {
		report.Location = strings.TrimSpace(*f.Location)
	}
	if f.CustomerName != nil {
		report.CustomerName = strings.TrimSpace(*f.CustomerName)
	}
	if f.WorkSummary != nil {
		report.WorkSummary = strings.TrimSpace(*f.WorkSummary)
	}
	if f.Checklist != nil {
		report.Checklist = f.Checklist
	}
	if f.Measurements != nil {
		report.Measurements = f.Measurements
	}
	if f.LaborHours != nil {
		if f.LaborHours.IsNegative() || f.LaborHours.GreaterThan(maxLaborHours) {
			return pkgerrors.New(pkgerrors.CodeValidation, "labor_hours must be between 0 and 9999").
				WithDetails(map[string]any{"field": "labor_hours"})
		}
		report.LaborHours = f.LaborHours.Round(2)
	}
	if f.TechnicianSignature != nil {
		report.TechnicianSignature = strings.TrimSpace(*f.TechnicianSignature)
	}
	return nil
}
