package enums

import "fmt"

// ReportEvent is an input to the report state machine.
type ReportEvent string

const (
	ReportEventUpdate  ReportEvent = "update"
	ReportEventSubmit  ReportEvent = "submit"
	ReportEventApprove ReportEvent = "approve"
	ReportEventReject  ReportEvent = "reject"
	ReportEventDelete  ReportEvent = "delete"
)

func (e ReportEvent) String() string {
	return string(e)
}

// Decision is the subset of events an approver may request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Event maps the decision onto its state machine event.
func (d Decision) Event() ReportEvent {
	if d == DecisionReject {
		return ReportEventReject
	}
	return ReportEventApprove
}

func ParseDecision(value string) (Decision, error) {
	switch Decision(value) {
	case DecisionApprove, DecisionReject:
		return Decision(value), nil
	}
	return "", fmt.Errorf("invalid decision %q", value)
}
