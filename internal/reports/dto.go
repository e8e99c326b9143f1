package reports

import (
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	"github.com/fieldcheck/servicereport-backend/pkg/pagination"
)

// CreateInput seeds a new draft. Every field may be completed later.
type CreateInput struct {
	Fields DraftFields
}

// DecisionInput is what an approver submits with approve or reject.
type DecisionInput struct {
	Decision  enums.Decision
	Signature string
	Remarks   string
	Notes     string
}

// ListInput filters the reports an actor can see.
type ListInput struct {
	Status enums.ReportStatus
	pagination.Params
}
