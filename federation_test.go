package identity_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/castellan/go-identity"
)

type federationFixture struct {
	users    *memUsers
	profiles *memProfiles
	roles    *memRoles
	sessions *memSessions
	sink     *captureSink
	adapter  *identity.FederatedAdapter
}

func newFederationFixture(t *testing.T) *federationFixture {
	t.Helper()

	f := &federationFixture{
		users:    newMemUsers(),
		profiles: newMemProfiles(),
		roles:    newMemRoles(),
		sessions: newMemSessions(),
		sink:     &captureSink{},
	}

	manager := identity.NewSessionManager(
		f.sessions,
		f.users,
		identity.NewClaimsBuilder(f.roles),
		newTestTokenService(15*time.Minute),
	)

	f.adapter = identity.NewFederatedAdapter(f.users, f.profiles, f.roles, manager).
		WithActivitySink(f.sink)

	return f
}

func externalProfile(email string) identity.ExternalProfile {
	return identity.ExternalProfile{
		Email:       email,
		DisplayName: "Sam Tester",
		AvatarURL:   "https://cdn.example.com/avatar.png",
		ProviderID:  "google",
	}
}

func TestFederatedFirstLoginProvisions(t *testing.T) {
	ctx := context.Background()
	f := newFederationFixture(t)

	result, err := f.adapter.Resolve(ctx, externalProfile("Sam.Tester@Example.com"), nil)
	require.NoError(t, err)

	assert.True(t, result.Created)
	require.NotNil(t, result.User)
	require.NotNil(t, result.Tokens)
	assert.NotEmpty(t, result.Tokens.RefreshHandle)

	assert.Equal(t, "sam.tester@example.com", result.User.Email)
	assert.Equal(t, "sam.tester", result.User.Username)
	assert.Equal(t, "google", result.User.Provider)
	assert.True(t, result.User.EmailVerified, "the provider vouched for the address")
	assert.True(t, result.User.Active)
	assert.Equal(t, 1, f.profiles.count())
	assert.True(t, f.sink.has(identity.ActivityEventFederatedLogin))
}

func TestFederatedSecondLoginReuses(t *testing.T) {
	ctx := context.Background()
	f := newFederationFixture(t)

	first, err := f.adapter.Resolve(ctx, externalProfile("sam.tester@example.com"), nil)
	require.NoError(t, err)
	second, err := f.adapter.Resolve(ctx, externalProfile("SAM.TESTER@example.com"), nil)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, 1, f.profiles.count(), "provisioning happens once")
	assert.NotEqual(t, first.Tokens.RefreshHandle, second.Tokens.RefreshHandle)
}

func TestFederatedPasswordLoginStaysClosed(t *testing.T) {
	ctx := context.Background()
	f := newFederationFixture(t)

	result, err := f.adapter.Resolve(ctx, externalProfile("sam.tester@example.com"), nil)
	require.NoError(t, err)

	verifier := identity.NewCredentialVerifier(f.users)
	_, err = verifier.Verify(ctx, result.User.Email, "any-password")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
}

func TestFederatedMissingEmail(t *testing.T) {
	ctx := context.Background()
	f := newFederationFixture(t)

	_, err := f.adapter.Resolve(ctx, identity.ExternalProfile{ProviderID: "google"}, nil)
	assert.Error(t, err)
}

func TestFederatedProvisioningRace(t *testing.T) {
	ctx := context.Background()
	f := newFederationFixture(t)

	winner, err := f.adapter.Resolve(ctx, externalProfile("sam.tester@example.com"), nil)
	require.NoError(t, err)

	// Simulate the loser of a concurrent first login: its insert hits the
	// uniqueness constraint after its lookup missed. It must settle on the
	// winner's row instead of failing.
	f.users.mu.Lock()
	loserUsers := f.users
	loserUsers.registerErr = fmt.Errorf("insert users: UNIQUE constraint failed: users.email")
	f.users.mu.Unlock()

	manager := identity.NewSessionManager(
		f.sessions,
		loserUsers,
		identity.NewClaimsBuilder(f.roles),
		newTestTokenService(15*time.Minute),
	)
	loser := identity.NewFederatedAdapter(&missFirstLookup{memUsers: loserUsers}, f.profiles, f.roles, manager)

	result, err := loser.Resolve(ctx, externalProfile("sam.tester@example.com"), nil)
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, winner.User.ID, result.User.ID)
}

func TestFederatedDefaultRole(t *testing.T) {
	ctx := context.Background()
	f := newFederationFixture(t)
	f.roles.define(identity.DefaultRoleName, "profile:read")

	result, err := f.adapter.Resolve(ctx, externalProfile("sam.tester@example.com"), nil)
	require.NoError(t, err)

	grants, err := f.roles.RolesAndPermissions(ctx, result.User.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, identity.DefaultRoleName, grants[0].Role)

	svc := newTestTokenService(15 * time.Minute)
	claims, err := svc.Validate(result.Tokens.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.HasRole(identity.DefaultRoleName))
}

func TestFederatedAbsentDefaultRoleTolerated(t *testing.T) {
	ctx := context.Background()
	f := newFederationFixture(t)
	// No roles defined at all; provisioning still succeeds.

	result, err := f.adapter.Resolve(ctx, externalProfile("sam.tester@example.com"), nil)
	require.NoError(t, err)
	assert.True(t, result.Created)
}

// missFirstLookup hides the user from the initial GetByEmail so the
// provisioning path runs, then delegates normally for the post-conflict
// re-read.
type missFirstLookup struct {
	*memUsers
	looked bool
}

func (m *missFirstLookup) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	if !m.looked {
		m.looked = true
		return nil, notFound("user")
	}
	return m.memUsers.GetByEmail(ctx, email)
}
