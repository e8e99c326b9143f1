package users

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
)

type userFinder interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

var validate = validator.New()

func normalizeCreate(dto CreateUserDTO) (CreateUserDTO, error) {
	dto.Email = strings.ToLower(strings.TrimSpace(dto.Email))
	dto.FullName = strings.TrimSpace(dto.FullName)
	if err := validate.Var(dto.Email, "required,email,max=254"); err != nil {
		return dto, pkgerrors.New(pkgerrors.CodeValidation, "valid email required").
			WithDetails(map[string]any{"field": "email"})
	}
	if dto.FullName == "" {
		return dto, pkgerrors.New(pkgerrors.CodeValidation, "full_name required").
			WithDetails(map[string]any{"field": "full_name"})
	}
	if !dto.Role.IsValid() {
		return dto, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid role %q", dto.Role).
			WithDetails(map[string]any{"field": "role"})
	}
	if _, ok := dto.Role.OwnerRole(); !ok {
		dto.OwnerID = nil
	}
	return dto, nil
}

// validateOwner enforces the owner reference rules for a user of role with id
// selfID: the owner must exist and sit exactly one level above the role. A nil
// owner leaves the user unassigned, which is allowed.
func validateOwner(ctx context.Context, finder userFinder, role enums.Role, selfID uuid.UUID, ownerID *uuid.UUID) (*models.User, error) {
	if ownerID == nil {
		return nil, nil
	}
	want, ok := role.OwnerRole()
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "role %s has no owner reference", role)
	}
	if *ownerID == selfID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a user cannot own themselves")
	}
	owner, err := finder.FindUser(ctx, *ownerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner not found").
			WithDetails(map[string]any{"field": "owner_id"})
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load owner")
	}
	if owner.Role != want {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "a %s must be owned by a %s, not a %s", role, want, owner.Role).
			WithDetails(map[string]any{"field": "owner_id"})
	}
	if !owner.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner is inactive").
			WithDetails(map[string]any{"field": "owner_id"})
	}
	return owner, nil
}
