package users

import (
	"context"

	"gorm.io/gorm"

	"github.com/fieldcheck/servicereport-backend/internal/audit"
	"github.com/fieldcheck/servicereport-backend/pkg/db"
	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
)

// BootstrapAdmin creates the first admin of an empty organization. The audit
// entry names the new admin as its own actor. It fails with a conflict once
// any admin exists.
func BootstrapAdmin(ctx context.Context, repo *Repository, runner txRunner, recorder audit.Recorder, email, fullName string) (*UserDTO, error) {
	input, err := normalizeCreate(CreateUserDTO{Email: email, FullName: fullName, Role: enums.RoleAdmin})
	if err != nil {
		return nil, err
	}

	var created *models.User
	err = runner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := repo.WithTx(tx)
		admins, err := txRepo.ListByRole(ctx, enums.RoleAdmin)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list admins")
		}
		if len(admins) > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "organization already has an admin")
		}

		user, err := txRepo.Create(ctx, input)
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "create admin")
		}
		created = user
		_, err = recorder.Record(ctx, tx, audit.Entry{
			ActorID:     user.ID,
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
	return FromModel(created), nil
}
