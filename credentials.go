package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// CredentialVerifier checks an identifier/password pair against the stored
// hash. Every failure surfaces as ErrInvalidCredentials: callers, logs
// aside, cannot tell "no such user" from "wrong password".
type CredentialVerifier struct {
	users  UserStore
	logger Logger
}

// NewCredentialVerifier will create a new CredentialVerifier.
func NewCredentialVerifier(users UserStore) *CredentialVerifier {
	return &CredentialVerifier{
		users:  users,
		logger: defLogger{},
	}
}

func (v *CredentialVerifier) WithLogger(logger Logger) *CredentialVerifier {
	v.logger = normalizeLogger(logger)
	return v
}

// Verify looks the user up by email and compares the password. On success
// it updates the last-login timestamp as a best-effort side effect.
func (v *CredentialVerifier) Verify(ctx context.Context, identifier, password string) (*User, error) {
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := v.users.GetByEmail(ctx, NormalizeEmail(identifier))
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during verification")
	}

	// Accounts provisioned only through a federated provider carry an
	// unrecoverable hash, so the compare below fails as intended.
	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := v.users.TrackSuccessfulLogin(ctx, user); err != nil {
		v.logger.Warn("failed to track successful login", "user_id", user.ID.String(), "error", err)
	}

	return user, nil
}
