package reports

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcheck/servicereport-backend/pkg/db/dbtest"
	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
)

func TestUpdateVersionedRejectsStaleVersion(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	report := &models.ServiceReport{TechnicianID: uuid.New(), Status: enums.ReportStatusDraft}
	require.NoError(t, repo.Create(ctx, report))
	assert.Equal(t, int64(1), report.Version)

	first := *report
	first.Location = "North yard"
	ok, err := repo.UpdateVersioned(ctx, &first, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), first.Version)

	stale := *report
	stale.Location = "South yard"
	ok, err = repo.UpdateVersioned(ctx, &stale, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.FindByID(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, "North yard", stored.Location)
	assert.Equal(t, int64(2), stored.Version)

	ok, err = repo.DeleteVersioned(ctx, report.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.DeleteVersioned(ctx, report.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListFiltersByOwnerAndStatus(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	mine, other := uuid.New(), uuid.New()

	for _, r := range []*models.ServiceReport{
		{TechnicianID: mine, Status: enums.ReportStatusDraft},
		{TechnicianID: mine, Status: enums.ReportStatusSubmitted},
		{TechnicianID: other, Status: enums.ReportStatusSubmitted},
	} {
		require.NoError(t, repo.Create(ctx, r))
	}

	rows, err := repo.List(ctx, ListParams{TechnicianIDs: []uuid.UUID{mine}})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = repo.List(ctx, ListParams{TechnicianIDs: []uuid.UUID{mine, other}, Status: enums.ReportStatusSubmitted})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = repo.List(ctx, ListParams{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
