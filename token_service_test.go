package identity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/castellan/go-identity"
)

func newTestTokenService(ttl time.Duration) identity.TokenService {
	return identity.NewTokenService(
		[]byte("test-signing-key"),
		ttl,
		"test-issuer",
		[]string{"test:audience"},
		nil,
	)
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	svc := newTestTokenService(15 * time.Minute)

	payload := identity.ClaimsPayload{
		Subject:     "user-123",
		Email:       "tester@example.com",
		Roles:       []string{"admin", "editor"},
		Permissions: []string{"users:read", "users:write", "posts:read"},
	}

	token, expiresAt, err := svc.IssueAccessToken(payload)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := svc.Validate(token)
	require.NoError(t, err)

	assert.Equal(t, payload, claims.Payload())
	assert.Equal(t, "test-issuer", claims.Issuer)
	assert.NotEmpty(t, claims.ID, "every token carries a unique jti")
	assert.True(t, claims.HasRole("admin"))
	assert.False(t, claims.HasRole("owner"))
	assert.True(t, claims.HasPermission("users:write"))
	assert.False(t, claims.HasPermission("users:delete"))
	assert.WithinDuration(t, expiresAt, claims.Expires(), time.Second)
}

func TestValidateExpiredToken(t *testing.T) {
	svc := newTestTokenService(-time.Minute)

	token, _, err := svc.IssueAccessToken(identity.ClaimsPayload{Subject: "user-123"})
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, identity.ErrInvalidOrExpiredToken)
}

func TestValidateWrongKey(t *testing.T) {
	issuing := newTestTokenService(15 * time.Minute)
	validating := identity.NewTokenService(
		[]byte("a-different-key"),
		15*time.Minute,
		"test-issuer",
		[]string{"test:audience"},
		nil,
	)

	token, _, err := issuing.IssueAccessToken(identity.ClaimsPayload{Subject: "user-123"})
	require.NoError(t, err)

	_, err = validating.Validate(token)
	assert.ErrorIs(t, err, identity.ErrInvalidOrExpiredToken)
}

func TestValidateWrongIssuer(t *testing.T) {
	issuing := identity.NewTokenService(
		[]byte("test-signing-key"),
		15*time.Minute,
		"someone-else",
		[]string{"test:audience"},
		nil,
	)

	token, _, err := issuing.IssueAccessToken(identity.ClaimsPayload{Subject: "user-123"})
	require.NoError(t, err)

	svc := newTestTokenService(15 * time.Minute)
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, identity.ErrInvalidOrExpiredToken)
}

func TestValidateMalformed(t *testing.T) {
	svc := newTestTokenService(15 * time.Minute)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := svc.Validate(token)
		assert.ErrorIs(t, err, identity.ErrInvalidOrExpiredToken, "token %q", token)
	}
}

func TestUniqueJTIPerIssuance(t *testing.T) {
	svc := newTestTokenService(15 * time.Minute)
	payload := identity.ClaimsPayload{Subject: "user-123"}

	a, _, err := svc.IssueAccessToken(payload)
	require.NoError(t, err)
	b, _, err := svc.IssueAccessToken(payload)
	require.NoError(t, err)

	ca, err := svc.Validate(a)
	require.NoError(t, err)
	cb, err := svc.Validate(b)
	require.NoError(t, err)

	assert.NotEqual(t, ca.ID, cb.ID)
}
