package notifications

import (
	"strings"

	"github.com/google/uuid"

	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
)

// Message is what a domain event wants to tell a recipient. Priority
// defaults to medium.
type Message struct {
	Type     enums.NotificationType     `json:"type"`
	Priority enums.NotificationPriority `json:"priority"`
	Title    string                     `json:"title"`
	Message  string                     `json:"message"`
	Data     map[string]any             `json:"data,omitempty"`
}

func (m Message) normalize() (Message, error) {
	m.Title = strings.TrimSpace(m.Title)
	m.Message = strings.TrimSpace(m.Message)
	if m.Priority == "" {
		m.Priority = enums.NotificationPriorityMedium
	}
	if !m.Type.IsValid() {
		return m, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid notification type %q", m.Type)
	}
	if !m.Priority.IsValid() {
		return m, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid notification priority %q", m.Priority)
	}
	if m.Title == "" || m.Message == "" {
		return m, pkgerrors.New(pkgerrors.CodeValidation, "notification title and message are required")
	}
	return m, nil
}

// Result reports what happened to one recipient's notification.
type Result struct {
	RecipientID    uuid.UUID
	NotificationID uuid.UUID
	// Delivered is true once the record is persisted and published.
	Delivered bool
	// Queued is true when the first attempt failed and a retry is pending.
	Queued bool
	Err    error
}

// BulkResult holds one Result per distinct recipient, in request order.
type BulkResult struct {
	Results []Result
}

func (b BulkResult) Delivered() int {
	n := 0
	for _, r := range b.Results {
		if r.Delivered {
			n++
		}
	}
	return n
}

func (b BulkResult) Failed() int {
	return len(b.Results) - b.Delivered()
}
