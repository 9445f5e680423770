package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProofKind types a single-use token to the out-of-band flow it proves.
type ProofKind string

const (
	// ProofEmailVerification confirms ownership of a registered address.
	ProofEmailVerification ProofKind = "EMAIL_VERIFICATION"
	// ProofPasswordReset authorizes exactly one password change.
	ProofPasswordReset ProofKind = "PASSWORD_RESET"
)

// IsValid reports whether the kind is one of the supported proof flows.
func (k ProofKind) IsValid() bool {
	switch k {
	case ProofEmailVerification, ProofPasswordReset:
		return true
	default:
		return false
	}
}

// User is the identity record. Email uniqueness is case-insensitive:
// addresses are lowercased before storage and lookup. PasswordHash is empty
// for accounts provisioned purely through a federated provider; those
// accounts cannot log in by password.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Username      string     `bun:"username,notnull,unique" json:"username,omitempty"`
	PasswordHash  string     `bun:"password_hash" json:"-"`
	Active        bool       `bun:"is_active,notnull,default:true" json:"is_active"`
	EmailVerified bool       `bun:"is_email_verified,notnull,default:false" json:"is_email_verified"`
	Provider      string     `bun:"provider" json:"provider,omitempty"`
	LastLoginAt   *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Profile holds the display attributes attached to a user.
type Profile struct {
	bun.BaseModel `bun:"table:user_profiles,alias:prf"`

	ID        uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID    uuid.UUID  `bun:"user_id,notnull,unique,type:uuid" json:"user_id,omitempty"`
	FullName  string     `bun:"full_name" json:"full_name,omitempty"`
	AvatarURL string     `bun:"avatar_url" json:"avatar_url,omitempty"`
	Phone     string     `bun:"phone_number" json:"phone_number,omitempty"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Role is a named bundle of permissions. The core consumes roles read-only;
// assignment and administration live outside the token engine.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`

	ID          uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name        string        `bun:"name,notnull,unique" json:"name,omitempty"`
	Permissions []*Permission `bun:"m2m:role_permissions,join:Role=Permission" json:"permissions,omitempty"`
}

// Permission is a named capability attached to roles.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:prm"`

	ID   uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name string    `bun:"name,notnull,unique" json:"name,omitempty"`
}

// RolePermission joins roles to permissions.
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rpm"`

	RoleID       uuid.UUID   `bun:"role_id,pk,type:uuid"`
	Role         *Role       `bun:"rel:belongs-to,join:role_id=id"`
	PermissionID uuid.UUID   `bun:"permission_id,pk,type:uuid"`
	Permission   *Permission `bun:"rel:belongs-to,join:permission_id=id"`
}

// UserRole joins users to roles. Ordering of a user's roles follows
// assignment order (created_at, then role id) and is preserved into claims.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:url"`

	UserID    uuid.UUID  `bun:"user_id,pk,type:uuid"`
	RoleID    uuid.UUID  `bun:"role_id,pk,type:uuid"`
	Role      *Role      `bun:"rel:belongs-to,join:role_id=id"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

// RefreshSession is one renewable login session. Only a SHA-256 digest of
// the bearer secret is persisted; the plaintext handle leaves the process
// exactly once, at issuance.
type RefreshSession struct {
	bun.BaseModel `bun:"table:refresh_sessions,alias:rfs"`

	ID         uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID     uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	JTI        string     `bun:"jti,notnull,unique" json:"jti,omitempty"`
	SecretHash string     `bun:"secret_hash,notnull" json:"-"`
	DeviceName string     `bun:"device_name" json:"device_name,omitempty"`
	IPAddress  string     `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent  string     `bun:"user_agent" json:"user_agent,omitempty"`
	ExpiresAt  time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	Revoked    bool       `bun:"revoked,notnull,default:false" json:"revoked"`
	RevokedAt  *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	CreatedAt  *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Usable reports whether the session can still be exchanged at the given
// instant. Expiry is a validity predicate, not a stored transition.
func (s *RefreshSession) Usable(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.ExpiresAt)
}

// ProofToken is a single-use, typed, time-boxed token. As with sessions,
// only the secret's digest is stored.
type ProofToken struct {
	bun.BaseModel `bun:"table:proof_tokens,alias:prt"`

	ID         uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID     uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Kind       ProofKind  `bun:"kind,notnull" json:"kind,omitempty"`
	SecretHash string     `bun:"secret_hash,notnull" json:"-"`
	ExpiresAt  time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	Consumed   bool       `bun:"consumed,notnull,default:false" json:"consumed"`
	ConsumedAt *time.Time `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
	CreatedAt  *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Usable reports whether the token can still be consumed at the given
// instant.
func (t *ProofToken) Usable(now time.Time) bool {
	return t != nil && !t.Consumed && now.Before(t.ExpiresAt)
}

// DeviceMeta carries advisory request metadata for a session. It never
// gates validity; it exists for audit trails and the optional session
// de-duplication policy.
type DeviceMeta struct {
	DeviceName string `json:"device_name,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}
