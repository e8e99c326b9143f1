// Package users manages organization membership: who exists, their role and
// who they report to.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldcheck/servicereport-backend/internal/audit"
	"github.com/fieldcheck/servicereport-backend/internal/hierarchy"
	"github.com/fieldcheck/servicereport-backend/internal/notifications"
	"github.com/fieldcheck/servicereport-backend/pkg/db"
	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
	"github.com/fieldcheck/servicereport-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type authority interface {
	IsAncestorOf(ctx context.Context, actorID, subjectID uuid.UUID) (bool, error)
	SubordinatesOf(ctx context.Context, actorID uuid.UUID) (hierarchy.Set, error)
}

type notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, msg notifications.Message) notifications.Result
}

// Service defines organization membership operations.
type Service interface {
	Create(ctx context.Context, actorID uuid.UUID, input CreateUserDTO) (*UserDTO, error)
	AssignOwner(ctx context.Context, actorID, userID uuid.UUID, ownerID *uuid.UUID) (*UserDTO, error)
	SetActive(ctx context.Context, actorID, userID uuid.UUID, active bool) (*UserDTO, error)
	Get(ctx context.Context, actorID, userID uuid.UUID) (*UserDTO, error)
	ListSubordinates(ctx context.Context, actorID uuid.UUID) ([]UserDTO, error)
}

// ServiceParams wires the users service. Cache may be nil.
type ServiceParams struct {
	Repo      *Repository
	Tx        txRunner
	Authority authority
	Cache     *hierarchy.Cache
	Audit     audit.Recorder
	Notifier  notifier
	Logger    *logger.Logger
}

type service struct {
	repo      *Repository
	tx        txRunner
	authority authority
	cache     *hierarchy.Cache
	audit     audit.Recorder
	notifier  notifier
	logg      *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if params.Authority == nil {
		return nil, fmt.Errorf("hierarchy authority is required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		authority: params.Authority,
		cache:     params.Cache,
		audit:     params.Audit,
		notifier:  params.Notifier,
		logg:      params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, actorID uuid.UUID, input CreateUserDTO) (*UserDTO, error) {
	actor, err := s.activeActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != enums.RoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may create users")
	}
	input, err = normalizeCreate(input)
	if err != nil {
		return nil, err
	}
	if _, err := validateOwner(ctx, s.repo, input.Role, uuid.Nil, input.OwnerID); err != nil {
		return nil, err
	}

	var created *models.User
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		user, err := s.repo.WithTx(tx).Create(ctx, input)
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "email already registered").
					WithDetails(map[string]any{"field": "email"})
			}
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "create user")
		}
		created = user
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			ActorID:     actorID,
			Action:      enums.AuditActionCreate,
			TargetTable: audit.TargetUsers,
			TargetID:    user.ID,
			After:       FromModel(user),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateAll()
	s.logg.Info(s.logg.WithField(ctx, "created_user_id", created.ID.String()), "user.created")
	return FromModel(created), nil
}

// AssignOwner changes who a user reports to. Admins may assign anyone; a
// manager may only move users inside their own subtree.
func (s *service) AssignOwner(ctx context.Context, actorID, userID uuid.UUID, ownerID *uuid.UUID) (*UserDTO, error) {
	actor, err := s.activeActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	target, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := target.Role.OwnerRole(); !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "role %s has no owner reference", target.Role)
	}
	if _, err := validateOwner(ctx, s.repo, target.Role, target.ID, ownerID); err != nil {
		return nil, err
	}

	switch actor.Role {
	case enums.RoleAdmin:
	case enums.RoleManager:
		if err := s.requireManagerScope(ctx, actor.ID, target, ownerID); err != nil {
			return nil, err
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins and managers may change reporting lines")
	}

	before := *target
	updated := *target
	setOwner(&updated, ownerID)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateOwner(ctx, &updated); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "update owner")
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			ActorID:     actorID,
			Action:      enums.AuditActionUpdate,
			TargetTable: audit.TargetUsers,
			TargetID:    target.ID,
			Before:      FromModel(&before),
			After:       FromModel(&updated),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateAll()
	s.notifyUser(ctx, updated.ID, notifications.Message{
		Type:    enums.NotificationTypeInfo,
		Title:   "Reporting line changed",
		Message: "Your team assignment was updated.",
		Data:    map[string]any{"owner_id": ownerString(ownerID)},
	})
	return FromModel(&updated), nil
}

func (s *service) SetActive(ctx context.Context, actorID, userID uuid.UUID, active bool) (*UserDTO, error) {
	actor, err := s.activeActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != enums.RoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may activate or deactivate users")
	}
	if actorID == userID && !active {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admins cannot deactivate themselves")
	}
	target, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if target.IsActive == active {
		return FromModel(target), nil
	}

	before := *target
	updated := *target
	updated.IsActive = active
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).SetActive(ctx, target.ID, active); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "update activation")
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			ActorID:     actorID,
			Action:      enums.AuditActionUpdate,
			TargetTable: audit.TargetUsers,
			TargetID:    target.ID,
			Before:      FromModel(&before),
			After:       FromModel(&updated),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateAll()
	if active {
		s.notifyUser(ctx, updated.ID, notifications.Message{
			Type:    enums.NotificationTypeSuccess,
			Title:   "Account activated",
			Message: "Your account is active again.",
		})
	}
	return FromModel(&updated), nil
}

func (s *service) Get(ctx context.Context, actorID, userID uuid.UUID) (*UserDTO, error) {
	ok, err := s.authority.IsAncestorOf(ctx, actorID, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "resolve hierarchy")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	user, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	return FromModel(user), nil
}

func (s *service) ListSubordinates(ctx context.Context, actorID uuid.UUID) ([]UserDTO, error) {
	subs, err := s.authority.SubordinatesOf(ctx, actorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "resolve subordinates")
	}
	ids := make([]uuid.UUID, 0, subs.Len())
	for _, id := range subs.IDs() {
		if id != actorID {
			ids = append(ids, id)
		}
	}
	rows, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list subordinates")
	}
	return FromModels(rows), nil
}

// requireManagerScope allows a manager to reassign a user only when both the
// user and the new owner fall under the manager.
func (s *service) requireManagerScope(ctx context.Context, managerID uuid.UUID, target *models.User, ownerID *uuid.UUID) error {
	inScope, err := s.authority.IsAncestorOf(ctx, managerID, target.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "resolve hierarchy")
	}
	if !inScope || target.ID == managerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "managers may only reassign users in their own team")
	}
	if ownerID == nil {
		return nil
	}
	ownerInScope, err := s.authority.IsAncestorOf(ctx, managerID, *ownerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "resolve hierarchy")
	}
	if !ownerInScope {
		return pkgerrors.New(pkgerrors.CodeForbidden, "managers may only assign owners from their own team")
	}
	return nil
}

func (s *service) activeActor(ctx context.Context, actorID uuid.UUID) (*models.User, error) {
	actor, err := s.repo.FindUser(ctx, actorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "unknown user")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load actor")
	}
	if !actor.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "user is inactive")
	}
	return actor, nil
}

func (s *service) find(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.repo.FindUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load user")
	}
	return user, nil
}

func (s *service) notifyUser(ctx context.Context, userID uuid.UUID, msg notifications.Message) {
	res := s.notifier.Notify(context.WithoutCancel(ctx), userID, msg)
	if res.Err != nil && !res.Queued {
		s.logg.Warn(s.logg.WithField(ctx, "error", res.Err.Error()), "user.notify_failed")
	}
}

func ownerString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
