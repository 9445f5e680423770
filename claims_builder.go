package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// RoleGrant is one role plus its permission names, as delivered by the
// external roles/permissions source.
type RoleGrant struct {
	Role        string
	Permissions []string
}

// RoleSource resolves the role grants for a user. The token engine consumes
// the result read-only; assignment is someone else's job.
type RoleSource interface {
	RolesAndPermissions(ctx context.Context, userID uuid.UUID) ([]RoleGrant, error)
}

// ClaimsBuilder assembles the authorization payload for a user. It owns the
// active-account gate shared by login and refresh.
type ClaimsBuilder struct {
	roles RoleSource
}

// NewClaimsBuilder will create a new ClaimsBuilder.
func NewClaimsBuilder(roles RoleSource) *ClaimsBuilder {
	return &ClaimsBuilder{roles: roles}
}

// Build recomputes the claims payload for the user. Permissions are
// flattened across roles in role iteration order; duplicates across roles
// are tolerated and preserved.
func (b *ClaimsBuilder) Build(ctx context.Context, user *User) (ClaimsPayload, error) {
	if user == nil {
		return ClaimsPayload{}, ErrUserNotFound
	}

	if !user.Active {
		return ClaimsPayload{}, ErrUserInactive
	}

	grants, err := b.roles.RolesAndPermissions(ctx, user.ID)
	if err != nil {
		return ClaimsPayload{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load roles for claims")
	}

	payload := ClaimsPayload{
		Subject:     user.ID.String(),
		Email:       user.Email,
		Roles:       make([]string, 0, len(grants)),
		Permissions: []string{},
	}

	for _, grant := range grants {
		payload.Roles = append(payload.Roles, grant.Role)
		payload.Permissions = append(payload.Permissions, grant.Permissions...)
	}

	return payload, nil
}
