package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
)

// UserDTO is the transport shape of a user.
type UserDTO struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	Role         enums.Role `json:"role"`
	TeamLeaderID *uuid.UUID `json:"team_leader_id,omitempty"`
	ManagerID    *uuid.UUID `json:"manager_id,omitempty"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CreateUserDTO holds the data required to add a member to the organization.
// OwnerID is the team leader for field roles and the manager for team
// leaders; it is ignored for other roles.
type CreateUserDTO struct {
	Email    string
	FullName string
	Role     enums.Role
	OwnerID  *uuid.UUID
	IsActive *bool
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:           u.ID,
		Email:        u.Email,
		FullName:     u.FullName,
		Role:         u.Role,
		TeamLeaderID: u.TeamLeaderID,
		ManagerID:    u.ManagerID,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func FromModels(rows []models.User) []UserDTO {
	out := make([]UserDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out
}

func (c CreateUserDTO) ToModel() *models.User {
	isActive := true
	if c.IsActive != nil {
		isActive = *c.IsActive
	}
	user := &models.User{
		Email:    c.Email,
		FullName: c.FullName,
		Role:     c.Role,
		IsActive: isActive,
	}
	setOwner(user, c.OwnerID)
	return user
}

// setOwner writes ownerID into the reference column that applies to the
// user's role and clears the other one.
func setOwner(user *models.User, ownerID *uuid.UUID) {
	user.TeamLeaderID = nil
	user.ManagerID = nil
	if ownerID == nil {
		return
	}
	id := *ownerID
	switch {
	case user.Role.IsFieldRole():
		user.TeamLeaderID = &id
	case user.Role == enums.RoleTeamLeader:
		user.ManagerID = &id
	}
}
