package enums

import "fmt"

// ReportStatus is the single authoritative lifecycle state of a service report.
type ReportStatus string

const (
	ReportStatusDraft     ReportStatus = "draft"
	ReportStatusSubmitted ReportStatus = "submitted"
	ReportStatusApproved  ReportStatus = "approved"
	ReportStatusRejected  ReportStatus = "rejected"
)

var validReportStatuses = []ReportStatus{
	ReportStatusDraft,
	ReportStatusSubmitted,
	ReportStatusApproved,
	ReportStatusRejected,
}

func (s ReportStatus) IsValid() bool {
	for _, candidate := range validReportStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (s ReportStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is defined.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusApproved || s == ReportStatusRejected
}

// ApprovalStatus derives the display-only decision flag.
func (s ReportStatus) ApprovalStatus() ApprovalStatus {
	switch s {
	case ReportStatusSubmitted:
		return ApprovalStatusPending
	case ReportStatusApproved:
		return ApprovalStatusApprove
	case ReportStatusRejected:
		return ApprovalStatusReject
	default:
		return ApprovalStatusNone
	}
}

func ParseReportStatus(value string) (ReportStatus, error) {
	for _, candidate := range validReportStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid report status %q", value)
}

// ApprovalStatus is never persisted; it is derived from ReportStatus.
type ApprovalStatus string

const (
	ApprovalStatusNone    ApprovalStatus = ""
	ApprovalStatusPending ApprovalStatus = "pending"
	ApprovalStatusApprove ApprovalStatus = "approve"
	ApprovalStatusReject  ApprovalStatus = "reject"
)
