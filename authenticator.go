package identity

import (
	"context"
	"time"
)

// Authenticator is the front door for credential-based flows: it wires the
// credential verifier to the session manager and emits audit events.
type Authenticator struct {
	verifier *CredentialVerifier
	sessions *SessionManager
	activity ActivitySink
	logger   Logger
}

// NewAuthenticator returns a new Authenticator.
func NewAuthenticator(verifier *CredentialVerifier, sessions *SessionManager) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		sessions: sessions,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (a *Authenticator) WithLogger(logger Logger) *Authenticator {
	a.logger = normalizeLogger(logger)
	return a
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (a *Authenticator) WithActivitySink(sink ActivitySink) *Authenticator {
	a.activity = normalizeActivitySink(sink)
	return a
}

// Sessions exposes the SessionManager used by this Authenticator.
func (a *Authenticator) Sessions() *SessionManager {
	return a.sessions
}

// Login verifies the credential and issues a token pair. The inactive gate
// lives in the claims build inside Issue, so deactivated accounts fail here
// with ErrUserInactive even when the password is right.
func (a *Authenticator) Login(ctx context.Context, identifier, password string, meta *DeviceMeta) (*TokenPair, error) {
	user, err := a.verifier.Verify(ctx, identifier, password)
	if err != nil {
		a.emit(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return nil, err
	}

	pair, err := a.sessions.Issue(ctx, user, meta)
	if err != nil {
		a.emit(ctx, ActivityEventLoginFailure, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return nil, err
	}

	a.emit(ctx, ActivityEventLoginSuccess, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
		"identifier": identifier,
		"session_id": pair.SessionID.String(),
	})

	return pair, nil
}

// Refresh rotates a presented refresh handle for a new pair.
func (a *Authenticator) Refresh(ctx context.Context, presentedHandle string) (*TokenPair, error) {
	return a.sessions.Refresh(ctx, presentedHandle)
}

// Logout revokes the session the presented handle points at. Idempotent:
// unknown or already revoked handles succeed.
func (a *Authenticator) Logout(ctx context.Context, presentedHandle string) error {
	return a.sessions.RevokeByHandle(ctx, presentedHandle)
}

func (a *Authenticator) emit(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := normalizeActivitySink(a.activity).Record(ctx, event); err != nil {
		a.logger.Warn("activity sink record error: %v", err)
	}
}
