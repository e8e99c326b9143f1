package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcheck/servicereport-backend/pkg/db/dbtest"
	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
)

func seedNotifications(t *testing.T, repo Repository, recipient uuid.UUID, count int) []models.Notification {
	t.Helper()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	out := make([]models.Notification, 0, count)
	for i := 0; i < count; i++ {
		n := models.Notification{
			ID:          uuid.New(),
			RecipientID: recipient,
			Type:        enums.NotificationTypeInfo,
			Priority:    enums.NotificationPriorityMedium,
			Title:       "Report submitted",
			Message:     "A report is waiting for review",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.CreateIfAbsent(context.Background(), &n))
		out = append(out, n)
	}
	return out
}

func TestCreateIfAbsentIgnoresDuplicates(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	n := seedNotifications(t, repo, uuid.New(), 1)[0]

	dup := n
	dup.Title = "changed"
	require.NoError(t, repo.CreateIfAbsent(context.Background(), &dup))

	var rows []models.Notification
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "Report submitted", rows[0].Title)
}

func TestService_ListPaginatesNewestFirst(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(repo)
	require.NoError(t, err)
	recipient := uuid.New()
	seeded := seedNotifications(t, repo, recipient, 3)
	seedNotifications(t, repo, uuid.New(), 2)
	ctx := context.Background()

	page, err := svc.List(ctx, ListParams{RecipientID: recipient, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, seeded[2].ID, page.Items[0].ID)
	assert.Equal(t, seeded[1].ID, page.Items[1].ID)
	require.NotEmpty(t, page.Cursor)

	rest, err := svc.List(ctx, ListParams{RecipientID: recipient, Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Equal(t, seeded[0].ID, rest.Items[0].ID)
	assert.Empty(t, rest.Cursor)

	_, err = svc.List(ctx, ListParams{RecipientID: recipient, Cursor: "not-a-cursor"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.List(ctx, ListParams{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestService_MarkRead(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(repo)
	require.NoError(t, err)
	recipient := uuid.New()
	seeded := seedNotifications(t, repo, recipient, 3)
	ctx := context.Background()

	require.NoError(t, svc.MarkRead(ctx, recipient, seeded[0].ID))
	require.NoError(t, svc.MarkRead(ctx, recipient, seeded[0].ID), "marking twice is fine")

	err = svc.MarkRead(ctx, uuid.New(), seeded[1].ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "another recipient cannot read it")

	unread, err := svc.UnreadCount(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	page, err := svc.List(ctx, ListParams{RecipientID: recipient, UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	updated, err := svc.MarkAllRead(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	unread, err = svc.UnreadCount(ctx, recipient)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestNewServiceRequiresRepository(t *testing.T) {
	_, err := NewService(nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestDeleteReadBeforeKeepsUnreadAndRecent(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	recipient := uuid.New()
	seeded := seedNotifications(t, repo, recipient, 3)

	for _, n := range seeded[:2] {
		_, err := repo.MarkRead(ctx, recipient, n.ID, time.Now())
		require.NoError(t, err)
	}

	// Only the first notification is both read and older than the cutoff.
	cutoff := seeded[1].CreatedAt
	deleted, err := repo.DeleteReadBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining []models.Notification
	require.NoError(t, conn.Order("created_at ASC").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, seeded[1].ID, remaining[0].ID)
	assert.Equal(t, seeded[2].ID, remaining[1].ID)
}
