package reports

import (
	"testing"
	"time"

	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 4, 2, 14, 30, 0, 0, time.UTC)

func draftReport(technicianID uuid.UUID) models.ServiceReport {
	return models.ServiceReport{
		ID:                  uuid.New(),
		TechnicianID:        technicianID,
		Status:              enums.ReportStatusDraft,
		Location:            "Plant 4, chiller room",
		WorkSummary:         "Replaced condenser fan motor",
		TechnicianSignature: "sig-tech",
		Version:             1,
	}
}

func submittedReport(technicianID uuid.UUID) models.ServiceReport {
	r := draftReport(technicianID)
	r.Status = enums.ReportStatusSubmitted
	at := fixedNow.Add(-time.Hour)
	r.SubmittedAt = &at
	return r
}

func TestTransitionTotality(t *testing.T) {
	tech := uuid.New()
	statuses := []enums.ReportStatus{
		enums.ReportStatusDraft,
		enums.ReportStatusSubmitted,
		enums.ReportStatusApproved,
		enums.ReportStatusRejected,
	}
	events := []enums.ReportEvent{
		enums.ReportEventUpdate,
		enums.ReportEventSubmit,
		enums.ReportEventApprove,
		enums.ReportEventReject,
		enums.ReportEventDelete,
		enums.ReportEvent("archive"),
	}

	for _, status := range statuses {
		for _, event := range events {
			if Allowed(status, event) {
				continue
			}
			t.Run(string(status)+"/"+string(event), func(t *testing.T) {
				current := draftReport(tech)
				current.Status = status
				next, err := Transition(current, event, Actor{ID: uuid.New(), IsAncestor: true}, Payload{Signature: "s", Remarks: "r"}, fixedNow)
				require.Error(t, err)
				assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), "got %v", err)
				assert.Contains(t, err.Error(), string(status))
				assert.Contains(t, err.Error(), string(event))
				assert.Equal(t, current, next)
			})
		}
	}
}

func TestSubmit(t *testing.T) {
	tech := uuid.New()

	t.Run("ok", func(t *testing.T) {
		next, err := Transition(draftReport(tech), enums.ReportEventSubmit, Actor{ID: tech}, Payload{}, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, enums.ReportStatusSubmitted, next.Status)
		require.NotNil(t, next.SubmittedAt)
		assert.Equal(t, fixedNow, *next.SubmittedAt)
		assert.Equal(t, enums.ApprovalStatusPending, next.ApprovalStatus())
	})

	t.Run("signature from payload", func(t *testing.T) {
		r := draftReport(tech)
		r.TechnicianSignature = ""
		next, err := Transition(r, enums.ReportEventSubmit, Actor{ID: tech}, Payload{Signature: " sig-2 "}, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, "sig-2", next.TechnicianSignature)
	})

	t.Run("missing fields named", func(t *testing.T) {
		r := draftReport(tech)
		r.Location = "  "
		r.TechnicianSignature = ""
		_, err := Transition(r, enums.ReportEventSubmit, Actor{ID: tech}, Payload{}, fixedNow)
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		assert.Contains(t, err.Error(), "location")
		assert.Contains(t, err.Error(), "technician_signature")
		assert.NotContains(t, err.Error(), "work_summary")
	})

	t.Run("not owner", func(t *testing.T) {
		_, err := Transition(draftReport(tech), enums.ReportEventSubmit, Actor{ID: uuid.New(), IsAncestor: true}, Payload{}, fixedNow)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	})
}

func TestApprove(t *testing.T) {
	tech := uuid.New()
	lead := uuid.New()

	next, err := Transition(submittedReport(tech), enums.ReportEventApprove, Actor{ID: lead, IsAncestor: true},
		Payload{Signature: "sig-lead", Notes: " good work ", Remarks: "ignored"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, enums.ReportStatusApproved, next.Status)
	assert.Equal(t, enums.ApprovalStatusApprove, next.ApprovalStatus())
	assert.Equal(t, "sig-lead", next.ApproverSignature)
	assert.Equal(t, "good work", next.ApprovalNotes)
	assert.Empty(t, next.RejectionRemarks)
	require.NotNil(t, next.DecidedBy)
	assert.Equal(t, lead, *next.DecidedBy)
	require.NotNil(t, next.DecidedAt)
	assert.Equal(t, fixedNow, *next.DecidedAt)

	_, err = Transition(next, enums.ReportEventApprove, Actor{ID: lead, IsAncestor: true}, Payload{Signature: "sig-lead"}, fixedNow)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), "approved is terminal")
}

func TestDecisionGuards(t *testing.T) {
	tech := uuid.New()
	lead := uuid.New()

	cases := []struct {
		name    string
		event   enums.ReportEvent
		actor   Actor
		payload Payload
		code    pkgerrors.Code
		message string
	}{
		{"reject without remarks", enums.ReportEventReject, Actor{ID: lead, IsAncestor: true}, Payload{Signature: "s", Remarks: "  "}, pkgerrors.CodeValidation, "rejection_remarks required"},
		{"reject remarks checked before signature", enums.ReportEventReject, Actor{ID: lead, IsAncestor: true}, Payload{}, pkgerrors.CodeValidation, "rejection_remarks required"},
		{"reject without signature", enums.ReportEventReject, Actor{ID: lead, IsAncestor: true}, Payload{Remarks: "x"}, pkgerrors.CodeValidation, "approver_signature required"},
		{"approve without signature", enums.ReportEventApprove, Actor{ID: lead, IsAncestor: true}, Payload{}, pkgerrors.CodeValidation, "approver_signature required"},
		{"not an ancestor", enums.ReportEventApprove, Actor{ID: lead}, Payload{Signature: "s"}, pkgerrors.CodeForbidden, "manager chain"},
		{"own report", enums.ReportEventApprove, Actor{ID: tech, IsAncestor: true}, Payload{Signature: "s"}, pkgerrors.CodeForbidden, "their own report"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			current := submittedReport(tech)
			next, err := Transition(current, tc.event, tc.actor, tc.payload, fixedNow)
			require.Error(t, err)
			assert.Equal(t, tc.code, pkgerrors.CodeOf(err))
			assert.Contains(t, err.Error(), tc.message)
			assert.Equal(t, current, next)
		})
	}
}

func TestReject(t *testing.T) {
	tech := uuid.New()
	lead := uuid.New()

	next, err := Transition(submittedReport(tech), enums.ReportEventReject, Actor{ID: lead, IsAncestor: true},
		Payload{Signature: "sig-lead", Remarks: "missing thermistor reading", Notes: "dropped"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, enums.ReportStatusRejected, next.Status)
	assert.Equal(t, enums.ApprovalStatusReject, next.ApprovalStatus())
	assert.Equal(t, "missing thermistor reading", next.RejectionRemarks)
	assert.Empty(t, next.ApprovalNotes)
	assert.Equal(t, lead, *next.DecidedBy)
}

func TestUpdateDraft(t *testing.T) {
	tech := uuid.New()
	location := " Site B "
	hours := decimal.RequireFromString("2.755")

	next, err := Transition(draftReport(tech), enums.ReportEventUpdate, Actor{ID: tech}, Payload{Fields: DraftFields{
		Location:   &location,
		LaborHours: &hours,
		Checklist:  []byte(`{"ppe":true}`),
	}}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, enums.ReportStatusDraft, next.Status)
	assert.Equal(t, "Site B", next.Location)
	assert.Equal(t, "2.76", next.LaborHours.StringFixed(2))
	assert.JSONEq(t, `{"ppe":true}`, string(next.Checklist))
	assert.Equal(t, "Replaced condenser fan motor", next.WorkSummary)

	negative := decimal.NewFromInt(-1)
	_, err = Transition(draftReport(tech), enums.ReportEventUpdate, Actor{ID: tech}, Payload{Fields: DraftFields{LaborHours: &negative}}, fixedNow)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = Transition(draftReport(tech), enums.ReportEventUpdate, Actor{ID: uuid.New(), IsAncestor: true}, Payload{}, fixedNow)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestDelete(t *testing.T) {
	tech := uuid.New()
	current := draftReport(tech)

	next, err := Transition(current, enums.ReportEventDelete, Actor{ID: tech}, Payload{}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, current, next)

	_, err = Transition(current, enums.ReportEventDelete, Actor{ID: uuid.New(), IsAncestor: true}, Payload{}, fixedNow)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = Transition(submittedReport(tech), enums.ReportEventDelete, Actor{ID: tech}, Payload{}, fixedNow)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
}
