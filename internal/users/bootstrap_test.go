package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcheck/servicereport-backend/internal/audit"
	"github.com/fieldcheck/servicereport-backend/pkg/db"
	"github.com/fieldcheck/servicereport-backend/pkg/db/dbtest"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
	"github.com/fieldcheck/servicereport-backend/pkg/pagination"
)

func TestBootstrapAdminOnlyOnce(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	rec, err := audit.NewRecorder(audit.NewRepository(conn))
	require.NoError(t, err)

	admin, err := BootstrapAdmin(ctx, repo, db.NewFromConn(conn), rec, " Root@Example.com ", "Root Admin")
	require.NoError(t, err)
	assert.Equal(t, "root@example.com", admin.Email)
	assert.Equal(t, enums.RoleAdmin, admin.Role)
	assert.True(t, admin.IsActive)

	trail, _, err := rec.Trail(ctx, audit.TargetUsers, admin.ID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, admin.ID, trail[0].ActorID)

	_, err = BootstrapAdmin(ctx, repo, db.NewFromConn(conn), rec, "second@example.com", "Second Admin")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = BootstrapAdmin(ctx, repo, db.NewFromConn(conn), rec, "not-an-email", "Bad")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
