package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// ExternalProfile is the normalized record a provider handshake yields.
// The engine never talks to a provider's API; it consumes this shape only.
type ExternalProfile struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	ProviderID  string `json:"provider_id"`
}

// FederatedResult is a successful federated login: the resolved (possibly
// just provisioned) user plus a regular token pair.
type FederatedResult struct {
	User    *User      `json:"user"`
	Tokens  *TokenPair `json:"tokens"`
	Created bool       `json:"created"`
}

// DefaultRoleName is assigned to newly provisioned federated users when a
// role by that name exists; its absence is not an error.
var DefaultRoleName = "user"

// FederatedAdapter funnels external-provider logins into the same session
// pipeline as password logins, provisioning a user on first sight.
type FederatedAdapter struct {
	users    UserStore
	profiles ProfileStore
	roles    RoleStore
	sessions *SessionManager
	activity ActivitySink
	logger   Logger
}

// NewFederatedAdapter will create a new FederatedAdapter.
func NewFederatedAdapter(users UserStore, profiles ProfileStore, roles RoleStore, sessions *SessionManager) *FederatedAdapter {
	return &FederatedAdapter{
		users:    users,
		profiles: profiles,
		roles:    roles,
		sessions: sessions,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (f *FederatedAdapter) WithLogger(logger Logger) *FederatedAdapter {
	f.logger = normalizeLogger(logger)
	return f
}

// WithActivitySink configures the sink used for federated login events.
func (f *FederatedAdapter) WithActivitySink(sink ActivitySink) *FederatedAdapter {
	f.activity = normalizeActivitySink(sink)
	return f
}

// Resolve logs a normalized external profile in, provisioning the user if
// the email is unseen. Concurrent first logins for the same email race on
// the store's uniqueness constraint; the loser re-reads the winner's row
// instead of failing, so exactly one user exists afterwards and both calls
// return a valid session for it.
func (f *FederatedAdapter) Resolve(ctx context.Context, profile ExternalProfile, meta *DeviceMeta) (*FederatedResult, error) {
	email := NormalizeEmail(profile.Email)
	if email == "" {
		return nil, goerrors.New("federated profile is missing an email", goerrors.CategoryBadInput)
	}

	created := false
	user, err := f.users.GetByEmail(ctx, email)
	if err != nil {
		if !goerrors.IsNotFound(err) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up federated user")
		}

		user, created, err = f.provision(ctx, email, profile)
		if err != nil {
			return nil, err
		}
	}

	pair, err := f.sessions.Issue(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	f.emit(ctx, user, profile, created)

	return &FederatedResult{User: user, Tokens: pair, Created: created}, nil
}

func (f *FederatedAdapter) provision(ctx context.Context, email string, profile ExternalProfile) (*User, bool, error) {
	user := &User{
		ID:       deterministicUserID(email),
		Email:    email,
		Username: usernameFromEmail(email),
		// Password login stays closed for provider-only accounts.
		PasswordHash:  RandomPasswordHash(),
		Active:        true,
		EmailVerified: true,
		Provider:      profile.ProviderID,
	}

	createdUser, err := f.users.Register(ctx, user)
	if err != nil {
		if IsUniqueViolation(err) || errors.Is(err, ErrDuplicateIdentity) {
			// Lost the provisioning race; the row now exists.
			existing, readErr := f.users.GetByEmail(ctx, email)
			if readErr != nil {
				return nil, false, goerrors.Wrap(readErr, goerrors.CategoryInternal, "failed to re-read user after provisioning conflict")
			}
			return existing, false, nil
		}
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to provision federated user")
	}

	if err := f.roles.AssignByName(ctx, createdUser.ID, DefaultRoleName); err != nil {
		if !errors.Is(err, ErrRoleNotFound) && !goerrors.IsNotFound(err) {
			return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to assign default role")
		}
	}

	if _, err := f.profiles.Create(ctx, &Profile{
		ID:        uuid.New(),
		UserID:    createdUser.ID,
		FullName:  profile.DisplayName,
		AvatarURL: profile.AvatarURL,
	}); err != nil {
		// The account is usable without a profile row; report and move on.
		f.logger.Warn("failed to create profile for federated user", "user_id", createdUser.ID.String(), "error", err)
	}

	return createdUser, true, nil
}

func (f *FederatedAdapter) emit(ctx context.Context, user *User, profile ExternalProfile, created bool) {
	event := ActivityEvent{
		EventType: ActivityEventFederatedLogin,
		Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"provider":    profile.ProviderID,
			"provisioned": created,
		},
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(f.activity).Record(ctx, event); err != nil {
		f.logger.Warn("activity sink record error: %v", err)
	}
}

// deterministicUserID derives the user id from the email so two racing
// provisioning attempts collide on the primary key as well as the email
// index.
func deterministicUserID(email string) uuid.UUID {
	if id, err := hashid.NewUUID(email); err == nil {
		return id
	}
	return uuid.New()
}

func usernameFromEmail(email string) string {
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	return email
}
