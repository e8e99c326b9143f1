package reports

import (
	"fmt"

	"github.com/fieldcheck/servicereport-backend/internal/notifications"
	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
)

func reportData(report models.ServiceReport, event enums.ReportEvent) map[string]any {
	return map[string]any{
		"report_id": report.ID.String(),
		"status":    report.Status,
		"event":     event,
	}
}

func siteLabel(report models.ServiceReport) string {
	if report.Location != "" {
		return report.Location
	}
	return report.ID.String()
}

func submittedMessage(report models.ServiceReport, technician *models.User) notifications.Message {
	who := "A technician"
	if technician != nil && technician.FullName != "" {
		who = technician.FullName
	}
	return notifications.Message{
		Type:     enums.NotificationTypeInfo,
		Priority: enums.NotificationPriorityMedium,
		Title:    "Report submitted for review",
		Message:  fmt.Sprintf("%s submitted the service report for %s.", who, siteLabel(report)),
		Data:     reportData(report, enums.ReportEventSubmit),
	}
}

func decisionMessage(report models.ServiceReport, event enums.ReportEvent) notifications.Message {
	if event == enums.ReportEventReject {
		return notifications.Message{
			Type:     enums.NotificationTypeWarning,
			Priority: enums.NotificationPriorityHigh,
			Title:    "Report rejected",
			Message:  fmt.Sprintf("Your service report for %s was rejected: %s", siteLabel(report), report.RejectionRemarks),
			Data:     reportData(report, event),
		}
	}
	msg := fmt.Sprintf("Your service report for %s was approved.", siteLabel(report))
	if report.ApprovalNotes != "" {
		msg = fmt.Sprintf("Your service report for %s was approved. Notes: %s", siteLabel(report), report.ApprovalNotes)
	}
	return notifications.Message{
		Type:     enums.NotificationTypeSuccess,
		Priority: enums.NotificationPriorityMedium,
		Title:    "Report approved",
		Message:  msg,
		Data:     reportData(report, event),
	}
}

// escalationMessage tells the direct team leader that someone above them
// decided a report from their team.
func escalationMessage(report models.ServiceReport, event enums.ReportEvent, decider *models.User) notifications.Message {
	who := "an escalated approver"
	if decider != nil && decider.FullName != "" {
		who = decider.FullName
	}
	verb := "approved"
	if event == enums.ReportEventReject {
		verb = "rejected"
	}
	return notifications.Message{
		Type:     enums.NotificationTypeInfo,
		Priority: enums.NotificationPriorityLow,
		Title:    "Team report " + verb,
		Message:  fmt.Sprintf("The service report for %s was %s by %s.", siteLabel(report), verb, who),
		Data:     reportData(report, event),
	}
}
