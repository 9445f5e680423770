package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore is the user persistence surface the token engine depends on.
// The full bun repository (Users) implements it; tests substitute fakes.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	Register(ctx context.Context, user *User) (*User, error)
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// SessionStore persists refresh sessions. Consume is the rotation
// primitive: it marks a session revoked only if it is not already revoked
// and reports whether this call won the transition.
type SessionStore interface {
	Create(ctx context.Context, session *RefreshSession) (*RefreshSession, error)
	GetByJTI(ctx context.Context, jti string) (*RefreshSession, error)
	Consume(ctx context.Context, jti string, at time.Time) (bool, error)
	Revoke(ctx context.Context, jti string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
	RevokeMatching(ctx context.Context, userID uuid.UUID, deviceKey string, createdAfter, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ProofTokenStore persists proof tokens. Consume mirrors the session
// primitive for single-use enforcement.
type ProofTokenStore interface {
	Create(ctx context.Context, token *ProofToken) (*ProofToken, error)
	GetByID(ctx context.Context, id uuid.UUID) (*ProofToken, error)
	Consume(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ProfileStore persists the display profile created alongside a user.
type ProfileStore interface {
	Create(ctx context.Context, profile *Profile) (*Profile, error)
}

// RoleStore extends the read-only RoleSource with the single mutation the
// engine needs: attaching a named role during provisioning.
type RoleStore interface {
	RoleSource
	AssignByName(ctx context.Context, userID uuid.UUID, name string) error
}
