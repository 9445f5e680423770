package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Roles is the role repository surface. RoleStore is the subset the token
// engine consumes; EnsureRole exists for seeding.
type Roles interface {
	RoleStore

	EnsureRole(ctx context.Context, name string, permissions ...string) (*Role, error)
}

type roles struct {
	db *bun.DB
}

var (
	_ Roles      = (*roles)(nil)
	_ RoleStore  = (*roles)(nil)
	_ RoleSource = (*roles)(nil)
)

func NewRolesRepository(db *bun.DB) Roles {
	return &roles{db: db}
}

// RolesAndPermissions loads a user's grants in assignment order. Role order
// is what claim building preserves, so the sort keys matter: created_at
// first, role id to break ties.
func (a *roles) RolesAndPermissions(ctx context.Context, userID uuid.UUID) ([]RoleGrant, error) {
	links := []*UserRole{}

	err := a.db.NewSelect().
		Model(&links).
		Relation("Role").
		Relation("Role.Permissions").
		Where("?TableAlias.user_id = ?", userID).
		Order("url.created_at ASC", "url.role_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	grants := make([]RoleGrant, 0, len(links))
	for _, link := range links {
		if link.Role == nil {
			continue
		}

		grant := RoleGrant{Role: link.Role.Name}
		for _, perm := range link.Role.Permissions {
			grant.Permissions = append(grant.Permissions, perm.Name)
		}
		grants = append(grants, grant)
	}

	return grants, nil
}

// AssignByName attaches a named role to a user. Assigning an already held
// role is a no-op; an unknown role name is ErrRoleNotFound.
func (a *roles) AssignByName(ctx context.Context, userID uuid.UUID, name string) error {
	role := &Role{}

	err := a.db.NewSelect().
		Model(role).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrRoleNotFound
		}
		return err
	}

	_, err = a.db.NewInsert().
		Model(&UserRole{
			UserID: userID,
			RoleID: role.ID,
		}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)

	return err
}

// EnsureRole creates the role and its permissions if absent. Used by
// migrations and setup code to seed the default grant set.
func (a *roles) EnsureRole(ctx context.Context, name string, permissions ...string) (*Role, error) {
	role := &Role{}

	err := a.db.NewSelect().
		Model(role).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if !repository.IsRecordNotFound(err) {
			return nil, err
		}

		role = &Role{ID: uuid.New(), Name: name}
		if _, err := a.db.NewInsert().Model(role).Exec(ctx); err != nil {
			return nil, err
		}
	}

	for _, name := range permissions {
		perm := &Permission{}

		err := a.db.NewSelect().
			Model(perm).
			Where("?TableAlias.name = ?", name).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if !repository.IsRecordNotFound(err) {
				return nil, err
			}

			perm = &Permission{ID: uuid.New(), Name: name}
			if _, err := a.db.NewInsert().Model(perm).Exec(ctx); err != nil {
				return nil, err
			}
		}

		_, err = a.db.NewInsert().
			Model(&RolePermission{
				RoleID:       role.ID,
				PermissionID: perm.ID,
			}).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		if err != nil {
			return nil, err
		}
	}

	return role, nil
}
