package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldcheck/servicereport-backend/pkg/enums"
)

// User is a member of the organization tree.
type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Email        string     `gorm:"type:text;not null;uniqueIndex"`
	FullName     string     `gorm:"column:full_name;type:text;not null"`
	Role         enums.Role `gorm:"type:text;not null;index"`
	TeamLeaderID *uuid.UUID `gorm:"column:team_leader_id;type:uuid;index"`
	ManagerID    *uuid.UUID `gorm:"column:manager_id;type:uuid;index"`
	IsActive     bool       `gorm:"column:is_active;not null"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// OwnerID returns the owner reference that applies to the user's role.
func (u User) OwnerID() *uuid.UUID {
	switch {
	case u.Role.IsFieldRole():
		return u.TeamLeaderID
	case u.Role == enums.RoleTeamLeader:
		return u.ManagerID
	default:
		return nil
	}
}
