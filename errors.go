package identity

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// TextCodeInvalidCredentials is the single surface for "no such user"
	// and "wrong password"; the two must stay indistinguishable.
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	// TextCodeUserInactive marks a deactivated account at login or refresh.
	TextCodeUserInactive = "USER_INACTIVE"
	// TextCodeInvalidOrExpiredToken is shared by refresh handles and proof
	// tokens regardless of the specific failure (absent, expired, consumed,
	// revoked) to prevent token-state enumeration.
	TextCodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	// TextCodeDuplicateIdentity marks unique email/username conflicts.
	TextCodeDuplicateIdentity = "DUPLICATE_IDENTITY"
	// TextCodeMailDelivery marks a failed outbound mail request. It is an
	// operational error, not a security one: the triggering token exists.
	TextCodeMailDelivery = "MAIL_DELIVERY_FAILED"
)

// ErrInvalidCredentials is returned by credential verification for any
// identifier/password failure, with one message for every cause.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserInactive gates both login and refresh for deactivated accounts.
var ErrUserInactive = goerrors.New("user account is inactive", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserInactive).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidOrExpiredToken covers refresh handles and proof tokens that are
// absent, expired, revoked, or already consumed.
var ErrInvalidOrExpiredToken = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidOrExpiredToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrDuplicateIdentity is returned when registration or provisioning hits a
// unique email/username constraint.
var ErrDuplicateIdentity = goerrors.New("email or username already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(goerrors.CodeConflict)

// ErrUserNotFound is surfaced by administrative lookups, never by the
// credential path.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode("USER_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// ErrRoleNotFound is surfaced when a referenced role does not exist.
var ErrRoleNotFound = goerrors.New("role not found", goerrors.CategoryNotFound).
	WithTextCode("ROLE_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// ErrMailDelivery reports a failed send request; the caller decides whether
// to leak it to the client or only to logs.
var ErrMailDelivery = goerrors.New("failed to deliver message", goerrors.CategoryOperation).
	WithTextCode(TextCodeMailDelivery)

// ErrNoEmptyString rejects empty secrets before hashing.
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryValidation).
	WithTextCode("EMPTY_VALUE").
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the internal bcrypt mismatch result; the
// credential verifier maps it to ErrInvalidCredentials before it surfaces.
var ErrMismatchedHashAndPassword = goerrors.New("hash and password mismatch", goerrors.CategoryAuth).
	WithTextCode("HASH_MISMATCH")

// IsUniqueViolation reports whether err is a unique-constraint failure from
// the underlying driver. Checked textually since bun surfaces the raw driver
// error for both sqlite and postgres.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// UniqueViolationOn reports whether the unique-constraint failure names the
// given column. sqlite spells it "users.email", postgres "users_email_key";
// both carry the column name in the message.
func UniqueViolationOn(err error, column string) bool {
	if !IsUniqueViolation(err) {
		return false
	}
	return strings.Contains(err.Error(), column)
}
