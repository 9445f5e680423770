package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Default proof-token lifetimes.
var (
	DefaultEmailVerificationTTL = 24 * time.Hour
	DefaultPasswordResetTTL     = time.Hour
)

// ProofTokenManager issues and consumes single-use, typed, time-boxed
// tokens. The plaintext secret is returned exactly once at issuance for
// out-of-band delivery; only its digest is stored, and it is never logged.
type ProofTokenManager struct {
	store  ProofTokenStore
	ttls   map[ProofKind]time.Duration
	logger Logger
	now    func() time.Time
}

// NewProofTokenManager will create a new ProofTokenManager.
func NewProofTokenManager(store ProofTokenStore) *ProofTokenManager {
	return &ProofTokenManager{
		store:  store,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (m *ProofTokenManager) WithLogger(logger Logger) *ProofTokenManager {
	m.logger = normalizeLogger(logger)
	return m
}

// WithClock injects a custom clock (useful for tests).
func (m *ProofTokenManager) WithClock(clock func() time.Time) *ProofTokenManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// WithTTL overrides the default lifetime for a proof kind. Callers can
// still pass an explicit ttl at issuance, which wins over both.
func (m *ProofTokenManager) WithTTL(kind ProofKind, ttl time.Duration) *ProofTokenManager {
	if ttl > 0 {
		if m.ttls == nil {
			m.ttls = map[ProofKind]time.Duration{}
		}
		m.ttls[kind] = ttl
	}
	return m
}

// TTLFor returns the default lifetime for a proof kind.
func TTLFor(kind ProofKind) time.Duration {
	switch kind {
	case ProofPasswordReset:
		return DefaultPasswordResetTTL
	default:
		return DefaultEmailVerificationTTL
	}
}

// Issue mints a typed proof token for the user and returns the composite
// plaintext secret for out-of-band delivery.
func (m *ProofTokenManager) Issue(ctx context.Context, userID uuid.UUID, kind ProofKind, ttl time.Duration) (string, error) {
	if !kind.IsValid() {
		return "", goerrors.New("unknown proof token kind", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": string(kind)})
	}

	if ttl <= 0 {
		if override, ok := m.ttls[kind]; ok {
			ttl = override
		} else {
			ttl = TTLFor(kind)
		}
	}

	secret, err := NewSecret()
	if err != nil {
		return "", err
	}

	token := &ProofToken{
		ID:         uuid.New(),
		UserID:     userID,
		Kind:       kind,
		SecretHash: DigestSecret(secret),
		ExpiresAt:  m.now().Add(ttl),
	}

	if _, err := m.store.Create(ctx, token); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist proof token")
	}

	return EncodeHandle(token.ID.String(), secret), nil
}

// ValidateAndConsume resolves a presented secret of the expected kind and
// atomically flips it to consumed before returning the owning user id. The
// caller gets the id for exactly one state transition; a second call with
// the same secret, concurrent or not, fails with the uniform token error.
func (m *ProofTokenManager) ValidateAndConsume(ctx context.Context, presentedSecret string, expectedKind ProofKind) (uuid.UUID, error) {
	lookupID, secret, err := SplitHandle(presentedSecret)
	if err != nil {
		return uuid.Nil, err
	}

	tokenID, err := uuid.Parse(lookupID)
	if err != nil {
		return uuid.Nil, ErrInvalidOrExpiredToken
	}

	token, err := m.store.GetByID(ctx, tokenID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return uuid.Nil, ErrInvalidOrExpiredToken
		}
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up proof token")
	}

	if token.Kind != expectedKind {
		return uuid.Nil, ErrInvalidOrExpiredToken
	}

	if !SecretMatchesDigest(secret, token.SecretHash) {
		return uuid.Nil, ErrInvalidOrExpiredToken
	}

	now := m.now()
	if !token.Usable(now) {
		return uuid.Nil, ErrInvalidOrExpiredToken
	}

	won, err := m.store.Consume(ctx, tokenID, now)
	if err != nil {
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume proof token")
	}
	if !won {
		return uuid.Nil, ErrInvalidOrExpiredToken
	}

	return token.UserID, nil
}
