package enums

import "fmt"

// Role maps to the user_role enum in Postgres.
type Role string

const (
	RoleAdmin              Role = "admin"
	RoleManager            Role = "manager"
	RoleTeamLeader         Role = "team_leader"
	RoleTechnicalExecutive Role = "technical_executive"
	RoleTechnician         Role = "technician"
)

var validRoles = []Role{
	RoleAdmin,
	RoleManager,
	RoleTeamLeader,
	RoleTechnicalExecutive,
	RoleTechnician,
}

// IsValid checks whether the role is one of the known roles.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// Level orders roles in the reporting chain; higher outranks lower.
func (r Role) Level() int {
	switch r {
	case RoleAdmin:
		return 4
	case RoleManager:
		return 3
	case RoleTeamLeader:
		return 2
	case RoleTechnician, RoleTechnicalExecutive:
		return 1
	default:
		return 0
	}
}

// IsFieldRole reports whether the role authors service reports.
func (r Role) IsFieldRole() bool {
	return r == RoleTechnician || r == RoleTechnicalExecutive
}

// OwnerRole returns the role an owner reference must carry for r, if any.
func (r Role) OwnerRole() (Role, bool) {
	switch {
	case r.IsFieldRole():
		return RoleTeamLeader, true
	case r == RoleTeamLeader:
		return RoleManager, true
	default:
		return "", false
	}
}

// ParseRole converts raw strings into Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
