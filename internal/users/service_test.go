package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fieldcheck/servicereport-backend/internal/audit"
	"github.com/fieldcheck/servicereport-backend/internal/hierarchy"
	"github.com/fieldcheck/servicereport-backend/internal/notifications"
	"github.com/fieldcheck/servicereport-backend/pkg/db"
	"github.com/fieldcheck/servicereport-backend/pkg/db/dbtest"
	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
	"github.com/fieldcheck/servicereport-backend/pkg/logger"
	"github.com/fieldcheck/servicereport-backend/pkg/pagination"
)

type sentNotification struct {
	recipient uuid.UUID
	msg       notifications.Message
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (f *fakeNotifier) Notify(_ context.Context, recipientID uuid.UUID, msg notifications.Message) notifications.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{recipient: recipientID, msg: msg})
	return notifications.Result{RecipientID: recipientID, Delivered: true}
}

type org struct {
	admin, manager, otherManager, leader, otherLeader, tech models.User
}

type harness struct {
	conn     *gorm.DB
	repo     *Repository
	cache    *hierarchy.Cache
	audit    audit.Recorder
	notifier *fakeNotifier
	svc      Service
	org      org
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	cache := hierarchy.NewCache(time.Minute)
	resolver, err := hierarchy.NewResolver(repo, cache)
	require.NoError(t, err)
	rec, err := audit.NewRecorder(audit.NewRepository(conn))
	require.NoError(t, err)
	notifier := &fakeNotifier{}

	svc, err := NewService(ServiceParams{
		Repo:      repo,
		Tx:        db.NewFromConn(conn),
		Authority: resolver,
		Cache:     cache,
		Audit:     rec,
		Notifier:  notifier,
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)

	h := &harness{conn: conn, repo: repo, cache: cache, audit: rec, notifier: notifier, svc: svc}
	h.org.admin = h.seed(t, "admin@example.com", enums.RoleAdmin, nil)
	h.org.manager = h.seed(t, "manager@example.com", enums.RoleManager, nil)
	h.org.otherManager = h.seed(t, "manager2@example.com", enums.RoleManager, nil)
	h.org.leader = h.seed(t, "leader@example.com", enums.RoleTeamLeader, &h.org.manager.ID)
	h.org.otherLeader = h.seed(t, "leader2@example.com", enums.RoleTeamLeader, &h.org.otherManager.ID)
	h.org.tech = h.seed(t, "tech@example.com", enums.RoleTechnician, &h.org.leader.ID)
	return h
}

func (h *harness) seed(t *testing.T, email string, role enums.Role, owner *uuid.UUID) models.User {
	t.Helper()
	user, err := h.repo.Create(context.Background(), CreateUserDTO{
		Email:    email,
		FullName: email,
		Role:     role,
		OwnerID:  owner,
	})
	require.NoError(t, err)
	return *user
}

func TestCreateRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Create(context.Background(), h.org.manager.ID, CreateUserDTO{
		Email:    "new@example.com",
		FullName: "New Tech",
		Role:     enums.RoleTechnician,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)
}

func TestCreateAuditsAndValidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.Create(ctx, h.org.admin.ID, CreateUserDTO{
		Email:    "  New.Exec@Example.com ",
		FullName: "New Exec",
		Role:     enums.RoleTechnicalExecutive,
		OwnerID:  &h.org.leader.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "new.exec@example.com", created.Email)
	require.NotNil(t, created.TeamLeaderID)
	assert.Equal(t, h.org.leader.ID, *created.TeamLeaderID)
	assert.True(t, created.IsActive)

	trail, _, err := h.audit.Trail(ctx, audit.TargetUsers, created.ID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, enums.AuditActionCreate, trail[0].Action)
	assert.Equal(t, h.org.admin.ID, trail[0].ActorID)

	_, err = h.svc.Create(ctx, h.org.admin.ID, CreateUserDTO{
		Email:    "new.exec@example.com",
		FullName: "Duplicate",
		Role:     enums.RoleTechnician,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)

	cases := map[string]CreateUserDTO{
		"bad email":    {Email: "nope", FullName: "X", Role: enums.RoleTechnician},
		"no name":      {Email: "x@example.com", Role: enums.RoleTechnician},
		"bad role":     {Email: "x@example.com", FullName: "X", Role: "intern"},
		"wrong owner":  {Email: "x@example.com", FullName: "X", Role: enums.RoleTechnician, OwnerID: &h.org.manager.ID},
		"absent owner": {Email: "x@example.com", FullName: "X", Role: enums.RoleTeamLeader, OwnerID: ptr(uuid.New())},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Create(ctx, h.org.admin.ID, input)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestAssignOwnerInvalidatesHierarchy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Get(ctx, h.org.otherLeader.ID, h.org.tech.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
	assert.Positive(t, h.cache.Len())

	updated, err := h.svc.AssignOwner(ctx, h.org.admin.ID, h.org.tech.ID, &h.org.otherLeader.ID)
	require.NoError(t, err)
	assert.Equal(t, h.org.otherLeader.ID, *updated.TeamLeaderID)
	assert.Zero(t, h.cache.Len())

	got, err := h.svc.Get(ctx, h.org.otherLeader.ID, h.org.tech.ID)
	require.NoError(t, err)
	assert.Equal(t, h.org.tech.ID, got.ID)

	_, err = h.svc.Get(ctx, h.org.leader.ID, h.org.tech.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	trail, _, err := h.audit.Trail(ctx, audit.TargetUsers, h.org.tech.ID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, enums.AuditActionUpdate, trail[0].Action)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, h.org.tech.ID, h.notifier.sent[0].recipient)
}

func TestAssignOwnerManagerScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.AssignOwner(ctx, h.org.manager.ID, h.org.tech.ID, &h.org.otherLeader.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "owner outside team: %v", err)

	_, err = h.svc.AssignOwner(ctx, h.org.otherManager.ID, h.org.tech.ID, &h.org.otherLeader.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "user outside team: %v", err)

	_, err = h.svc.AssignOwner(ctx, h.org.leader.ID, h.org.tech.ID, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "team leader: %v", err)

	updated, err := h.svc.AssignOwner(ctx, h.org.manager.ID, h.org.tech.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, updated.TeamLeaderID)

	_, err = h.svc.AssignOwner(ctx, h.org.admin.ID, h.org.manager.ID, &h.org.admin.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "manager has no owner: %v", err)
}

func TestSetActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.SetActive(ctx, h.org.manager.ID, h.org.tech.ID, false)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.SetActive(ctx, h.org.admin.ID, h.org.admin.ID, false)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	subs, err := h.svc.ListSubordinates(ctx, h.org.leader.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	updated, err := h.svc.SetActive(ctx, h.org.admin.ID, h.org.tech.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	stored, err := h.repo.FindUser(ctx, h.org.tech.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	subs, err = h.svc.ListSubordinates(ctx, h.org.leader.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	_, err = h.svc.SetActive(ctx, h.org.admin.ID, h.org.tech.ID, true)
	require.NoError(t, err)
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, enums.NotificationTypeSuccess, h.notifier.sent[0].msg.Type)
}

func TestInactiveActorIsForbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.SetActive(ctx, h.org.admin.ID, false))

	_, err := h.svc.Create(ctx, h.org.admin.ID, CreateUserDTO{Email: "a@example.com", FullName: "A", Role: enums.RoleManager})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestListSubordinatesExcludesSelf(t *testing.T) {
	h := newHarness(t)
	subs, err := h.svc.ListSubordinates(context.Background(), h.org.manager.ID)
	require.NoError(t, err)

	ids := make([]uuid.UUID, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{h.org.leader.ID, h.org.tech.ID}, ids)
}

func ptr[T any](v T) *T { return &v }
