package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldcheck/servicereport-backend/api/responses"
	"github.com/fieldcheck/servicereport-backend/api/validators"
	"github.com/fieldcheck/servicereport-backend/internal/reports"
	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	dbtypes "github.com/fieldcheck/servicereport-backend/pkg/db/types"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
	"github.com/fieldcheck/servicereport-backend/pkg/logger"
)

type reportFieldsRequest struct {
	Location            *string          `json:"location" validate:"omitempty,max=500"`
	CustomerName        *string          `json:"customer_name" validate:"omitempty,max=200"`
	WorkSummary         *string          `json:"work_summary" validate:"omitempty,max=10000"`
	Checklist           json.RawMessage  `json:"checklist"`
	Measurements        json.RawMessage  `json:"measurements"`
	LaborHours          *decimal.Decimal `json:"labor_hours"`
	TechnicianSignature *string          `json:"technician_signature" validate:"omitempty,max=100000"`
}

func (r reportFieldsRequest) toFields() reports.DraftFields {
	return reports.DraftFields{
		Location:            r.Location,
		CustomerName:        r.CustomerName,
		WorkSummary:         r.WorkSummary,
		Checklist:           rawJSON(r.Checklist),
		Measurements:        rawJSON(r.Measurements),
		LaborHours:          r.LaborHours,
		TechnicianSignature: r.TechnicianSignature,
	}
}

func rawJSON(raw json.RawMessage) dbtypes.JSON {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return dbtypes.JSON(raw)
}

type submitRequest struct {
	Signature string `json:"signature"`
}

type decisionRequest struct {
	Decision  string `json:"decision" validate:"required,oneof=approve reject"`
	Signature string `json:"signature"`
	Remarks   string `json:"rejection_remarks" validate:"max=5000"`
	Notes     string `json:"approval_notes" validate:"max=5000"`
}

type reportResponse struct {
	models.ServiceReport
	ApprovalStatus enums.ApprovalStatus `json:"approval_status"`
	ApprovedBy     *uuid.UUID           `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time           `json:"approved_at,omitempty"`
}

func reportResponseFromModel(m *models.ServiceReport) reportResponse {
	resp := reportResponse{ServiceReport: *m, ApprovalStatus: m.ApprovalStatus()}
	if m.Status == enums.ReportStatusApproved {
		resp.ApprovedBy = m.DecidedBy
		resp.ApprovedAt = m.DecidedAt
	}
	return resp
}

// ReportCreate starts a draft owned by the caller.
func ReportCreate(svc reports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload reportFieldsRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Create(r.Context(), actor, reports.CreateInput{Fields: payload.toFields()})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, reportResponseFromModel(created))
	}
}

// ReportList returns the reports the caller may see.
func ReportList(svc reports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := reports.ListInput{Params: page}
		if raw := validators.SanitizeString(r.URL.Query().Get("status"), 32); raw != "" {
			status, err := enums.ParseReportStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			input.Status = status
		}

		rows, next, err := svc.List(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]reportResponse, 0, len(rows))
		for i := range rows {
			items = append(items, reportResponseFromModel(&rows[i]))
		}
		responses.WritePage(w, items, next)
	}
}

func ReportGet(svc reports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reportID, err := uuidParam(r, "reportId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report, err := svc.Get(r.Context(), actor, reportID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reportResponseFromModel(report))
	}
}

// ReportUpdate edits a draft. Absent fields are left unchanged.
func ReportUpdate(svc reports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reportID, err := uuidParam(r, "reportId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload reportFieldsRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.UpdateDraft(r.Context(), actor, reportID, payload.toFields())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reportResponseFromModel(updated))
	}
}

func ReportDelete(svc reports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reportID, err := uuidParam(r, "reportId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), actor, reportID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"deleted": true})
	}
}

func ReportSubmit(svc reports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reportID, err := uuidParam(r, "reportId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload submitRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report, err := svc.Submit(r.Context(), actor, reportID, payload.Signature)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reportResponseFromModel(report))
	}
}

// ReportDecision approves or rejects a submitted report.
func ReportDecision(svc reports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reportID, err := uuidParam(r, "reportId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload decisionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		decision, err := enums.ParseDecision(payload.Decision)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid decision"))
			return
		}

		report, err := svc.Decide(r.Context(), actor, reportID, reports.DecisionInput{
			Decision:  decision,
			Signature: payload.Signature,
			Remarks:   payload.Remarks,
			Notes:     payload.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reportResponseFromModel(report))
	}
}

// ReportHistory returns the audit trail of a report, newest first.
func ReportHistory(svc reports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reportID, err := uuidParam(r, "reportId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, next, err := svc.History(r.Context(), actor, reportID, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WritePage(w, entries, next)
	}
}
