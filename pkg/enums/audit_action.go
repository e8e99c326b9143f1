package enums

// AuditAction labels an audit_entries row.
type AuditAction string

const (
	AuditActionCreate        AuditAction = "CREATE"
	AuditActionUpdate        AuditAction = "UPDATE"
	AuditActionDelete        AuditAction = "DELETE"
	AuditActionSubmit        AuditAction = "SUBMIT"
	AuditActionApprove       AuditAction = "APPROVE"
	AuditActionReject        AuditAction = "REJECT"
	AuditActionPasswordReset AuditAction = "PASSWORD_RESET"
)

func (a AuditAction) String() string {
	return string(a)
}

// AuditActionForEvent maps a report event onto the audit action it records.
func AuditActionForEvent(event ReportEvent) AuditAction {
	switch event {
	case ReportEventSubmit:
		return AuditActionSubmit
	case ReportEventApprove:
		return AuditActionApprove
	case ReportEventReject:
		return AuditActionReject
	case ReportEventDelete:
		return AuditActionDelete
	default:
		return AuditActionUpdate
	}
}

func (a AuditAction) IsValid() bool {
	switch a {
	case AuditActionCreate, AuditActionUpdate, AuditActionDelete, AuditActionSubmit,
		AuditActionApprove, AuditActionReject, AuditActionPasswordReset:
		return true
	default:
		return false
	}
}
