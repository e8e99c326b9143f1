package hierarchy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
)

// Directory is the read side of the organization tree. FindUser returns
// gorm.ErrRecordNotFound for unknown ids.
type Directory interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListActiveByTeamLeader(ctx context.Context, teamLeaderIDs ...uuid.UUID) ([]models.User, error)
	ListActiveByManager(ctx context.Context, managerID uuid.UUID) ([]models.User, error)
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Resolver answers authority questions over the organization tree.
//
// Only active users appear in subordinate sets, and an owner reference counts
// only when the owner's role sits exactly one level above the owned role.
// Anything else resolves to "no relation".
type Resolver struct {
	dir   Directory
	cache *Cache
}

// NewResolver builds a resolver. cache may be nil to disable caching.
func NewResolver(dir Directory, cache *Cache) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("directory is required")
	}
	return &Resolver{dir: dir, cache: cache}, nil
}

// SubordinatesOf returns every active user actorID has authority over.
func (r *Resolver) SubordinatesOf(ctx context.Context, actorID uuid.UUID) (Set, error) {
	set, gen, ok := r.cache.Lookup(actorID)
	if ok {
		return set, nil
	}
	set, err := r.compute(ctx, actorID)
	if err != nil {
		return nil, err
	}
	r.cache.Store(actorID, set, gen)
	return set, nil
}

// IsAncestorOf reports whether actorID may act on records owned by subjectID.
// Every user is their own ancestor.
func (r *Resolver) IsAncestorOf(ctx context.Context, actorID, subjectID uuid.UUID) (bool, error) {
	if actorID == subjectID {
		return true, nil
	}
	subs, err := r.SubordinatesOf(ctx, actorID)
	if err != nil {
		return false, err
	}
	return subs.Has(subjectID), nil
}

func (r *Resolver) compute(ctx context.Context, actorID uuid.UUID) (Set, error) {
	actor, err := r.dir.FindUser(ctx, actorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load actor: %w", err)
	}
	if !actor.IsActive {
		return NewSet(), nil
	}

	switch actor.Role {
	case enums.RoleAdmin:
		ids, err := r.dir.ListActiveIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list active users: %w", err)
		}
		return NewSet(ids...), nil
	case enums.RoleManager:
		return r.managerSubordinates(ctx, actor.ID)
	case enums.RoleTeamLeader:
		return r.teamMembers(ctx, NewSet(), actor.ID)
	default:
		return NewSet(), nil
	}
}

func (r *Resolver) managerSubordinates(ctx context.Context, managerID uuid.UUID) (Set, error) {
	owned, err := r.dir.ListActiveByManager(ctx, managerID)
	if err != nil {
		return nil, fmt.Errorf("list team leaders: %w", err)
	}
	out := NewSet()
	leaders := make([]uuid.UUID, 0, len(owned))
	for _, u := range owned {
		if u.Role != enums.RoleTeamLeader || u.ID == managerID {
			continue
		}
		out[u.ID] = struct{}{}
		leaders = append(leaders, u.ID)
	}
	if len(leaders) == 0 {
		return out, nil
	}
	return r.teamMembers(ctx, out, leaders...)
}

func (r *Resolver) teamMembers(ctx context.Context, into Set, leaderIDs ...uuid.UUID) (Set, error) {
	members, err := r.dir.ListActiveByTeamLeader(ctx, leaderIDs...)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	for _, u := range members {
		if !u.Role.IsFieldRole() {
			continue
		}
		into[u.ID] = struct{}{}
	}
	return into, nil
}
