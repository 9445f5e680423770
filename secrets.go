package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const secretByteLen = 32

// NewSecret returns a high-entropy opaque secret. The value carries no
// decodable structure; mapping it back to a record requires the store.
func NewSecret() (string, error) {
	buf := make([]byte, secretByteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read entropy for secret")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DigestSecret returns the hex SHA-256 digest stored in place of a secret.
func DigestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SecretMatchesDigest compares in constant time.
func SecretMatchesDigest(secret, digest string) bool {
	computed := DigestSecret(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

// EncodeHandle joins an indexed lookup id and a secret into the composite
// bearer value handed to clients. Lookup happens by id so validation never
// scans the table or leaks timing on the secret.
func EncodeHandle(lookupID, secret string) string {
	return lookupID + "." + secret
}

// SplitHandle splits a composite bearer value. Malformed input maps to the
// uniform token error.
func SplitHandle(handle string) (lookupID, secret string, err error) {
	lookupID, secret, ok := strings.Cut(handle, ".")
	if !ok || lookupID == "" || secret == "" {
		return "", "", ErrInvalidOrExpiredToken
	}
	return lookupID, secret, nil
}
