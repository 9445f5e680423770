package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultRefreshTTL is the refresh session lifetime when none is configured.
var DefaultRefreshTTL = 7 * 24 * time.Hour

// TokenPair is the result of a successful issuance or rotation. The refresh
// handle is plaintext exactly here; it is never retrievable again.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshHandle    string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        uuid.UUID `json:"session_id"`
}

// SessionReusePolicy is the optional per-device de-duplication described as
// "session reuse window": issuing a session for a matching user+device pair
// supersedes (revokes) prior sessions for the same pair. Because bearer
// secrets are stored hash-only, an existing handle cannot be handed out
// again; supersession is the reuse semantics that remains expressible.
// It is a UX/hygiene optimization, never a validity gate.
type SessionReusePolicy struct {
	// Matcher derives the device key from request metadata. Returning ""
	// skips de-duplication for that request.
	Matcher func(meta *DeviceMeta) string
	// Freshness bounds which prior sessions are superseded; zero means any
	// non-revoked session for the pair.
	Freshness time.Duration
}

// DeviceNameMatcher matches sessions on the advisory device name.
func DeviceNameMatcher(meta *DeviceMeta) string {
	if meta == nil {
		return ""
	}
	return meta.DeviceName
}

// SessionManager issues, rotates, and revokes refresh sessions, and mints
// the paired access tokens. It is the only component that mutates
// refresh-session rows (the sweeper's expiry deletes aside).
type SessionManager struct {
	sessions SessionStore
	users    UserStore
	claims   *ClaimsBuilder
	tokens   TokenService
	ttl      time.Duration
	reuse    *SessionReusePolicy
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewSessionManager will create a new SessionManager.
func NewSessionManager(sessions SessionStore, users UserStore, claims *ClaimsBuilder, tokens TokenService) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		users:    users,
		claims:   claims,
		tokens:   tokens,
		ttl:      DefaultRefreshTTL,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

func (m *SessionManager) WithLogger(logger Logger) *SessionManager {
	m.logger = normalizeLogger(logger)
	return m
}

// WithActivitySink configures the sink used for session audit events.
func (m *SessionManager) WithActivitySink(sink ActivitySink) *SessionManager {
	m.activity = normalizeActivitySink(sink)
	return m
}

// WithRefreshTTL overrides the refresh session lifetime.
func (m *SessionManager) WithRefreshTTL(ttl time.Duration) *SessionManager {
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

// WithReusePolicy enables per-device session supersession.
func (m *SessionManager) WithReusePolicy(policy *SessionReusePolicy) *SessionManager {
	m.reuse = policy
	return m
}

// WithClock injects a custom clock (useful for tests).
func (m *SessionManager) WithClock(clock func() time.Time) *SessionManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// Issue mints an access token bound to freshly computed claims plus a new
// refresh session. The inactive-account gate runs inside the claims build.
func (m *SessionManager) Issue(ctx context.Context, user *User, meta *DeviceMeta) (*TokenPair, error) {
	payload, err := m.claims.Build(ctx, user)
	if err != nil {
		return nil, err
	}

	access, accessExp, err := m.tokens.IssueAccessToken(payload)
	if err != nil {
		return nil, err
	}

	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}

	now := m.now()
	m.applyReusePolicy(ctx, user.ID, meta, now)

	session := &RefreshSession{
		ID:         uuid.New(),
		UserID:     user.ID,
		JTI:        uuid.New().String(),
		SecretHash: DigestSecret(secret),
		ExpiresAt:  now.Add(m.ttl),
	}
	if meta != nil {
		session.DeviceName = meta.DeviceName
		session.IPAddress = meta.IPAddress
		session.UserAgent = meta.UserAgent
	}

	if session, err = m.sessions.Create(ctx, session); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist refresh session")
	}

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshHandle:    EncodeHandle(session.JTI, secret),
		RefreshExpiresAt: session.ExpiresAt,
		SessionID:        session.ID,
	}, nil
}

// Refresh exchanges a presented handle for a new token pair. The matched
// session is consumed first, so a handle is valid for exactly one
// successful use; a concurrent duplicate loses the conditional update and
// gets the uniform token error.
func (m *SessionManager) Refresh(ctx context.Context, presentedHandle string) (*TokenPair, error) {
	jti, secret, err := SplitHandle(presentedHandle)
	if err != nil {
		return nil, err
	}

	session, err := m.sessions.GetByJTI(ctx, jti)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up refresh session")
	}

	if !SecretMatchesDigest(secret, session.SecretHash) {
		return nil, ErrInvalidOrExpiredToken
	}

	now := m.now()
	if !session.Usable(now) {
		return nil, ErrInvalidOrExpiredToken
	}

	won, err := m.sessions.Consume(ctx, jti, now)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rotate refresh session")
	}
	if !won {
		return nil, ErrInvalidOrExpiredToken
	}

	user, err := m.users.GetByID(ctx, session.UserID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user during refresh")
	}

	meta := &DeviceMeta{
		DeviceName: session.DeviceName,
		IPAddress:  session.IPAddress,
		UserAgent:  session.UserAgent,
	}

	pair, err := m.Issue(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	m.emit(ctx, ActivityEventTokenRefreshed, user.ID.String(), map[string]any{
		"rotated_jti": jti,
		"session_id":  pair.SessionID.String(),
	})

	return pair, nil
}

// Revoke marks a single session revoked. Revoking an unknown or already
// revoked session succeeds: duplicate client retries must stay harmless.
func (m *SessionManager) Revoke(ctx context.Context, jti string) error {
	if jti == "" {
		return nil
	}

	if err := m.sessions.Revoke(ctx, jti, m.now()); err != nil {
		if goerrors.IsNotFound(err) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session")
	}

	m.emit(ctx, ActivityEventSessionRevoked, "", map[string]any{"jti": jti})
	return nil
}

// RevokeByHandle revokes the session a presented handle points at. Used by
// logout, where the caller holds the bearer value rather than the jti.
func (m *SessionManager) RevokeByHandle(ctx context.Context, presentedHandle string) error {
	jti, _, err := SplitHandle(presentedHandle)
	if err != nil {
		// Idempotent surface: garbage handles have nothing to revoke.
		return nil
	}
	return m.Revoke(ctx, jti)
}

// RevokeAll marks every non-revoked session for the user revoked. Each row
// is an independent idempotent update; the bulk operation carries no
// all-or-nothing requirement.
func (m *SessionManager) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := m.sessions.RevokeAllForUser(ctx, userID, m.now())
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke user sessions")
	}

	m.emit(ctx, ActivityEventSessionsRevokedAll, userID.String(), map[string]any{
		"revoked": count,
	})

	return count, nil
}

func (m *SessionManager) applyReusePolicy(ctx context.Context, userID uuid.UUID, meta *DeviceMeta, now time.Time) {
	if m.reuse == nil || m.reuse.Matcher == nil {
		return
	}

	key := m.reuse.Matcher(meta)
	if key == "" {
		return
	}

	createdAfter := time.Time{}
	if m.reuse.Freshness > 0 {
		createdAfter = now.Add(-m.reuse.Freshness)
	}

	if _, err := m.sessions.RevokeMatching(ctx, userID, key, createdAfter, now); err != nil {
		// Advisory only; a failed supersession never blocks issuance.
		m.logger.Warn("session reuse policy failed for user %s: %v", userID.String(), err)
	}
}

func (m *SessionManager) emit(ctx context.Context, eventType ActivityEventType, userID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      ActorRef{ID: userID, Type: "user"},
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: m.now(),
	}

	if err := normalizeActivitySink(m.activity).Record(ctx, event); err != nil {
		m.logger.Warn("activity sink record error: %v", err)
	}
}
