package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Engine is the fully wired token lifecycle: credential login, session
// rotation and revocation, proof-token flows, federated resolution, and
// the maintenance sweeper, all sharing one repository manager and one
// configuration.
type Engine struct {
	repo     RepositoryManager
	logger   Logger
	activity ActivitySink
	mailer   Mailer

	Auth       *Authenticator
	Sessions   *SessionManager
	Proofs     *ProofTokenManager
	Federation *FederatedAdapter
	Sweeper    *Sweeper

	RegisterUser        *RegisterUserHandler
	VerifyEmail         *VerifyEmailHandler
	InitPasswordReset   *InitializePasswordResetHandler
	FinishPasswordReset *FinalizePasswordResetHandler
	ChangePassword      *ChangePasswordHandler
}

// EngineOption mutates the engine before its components are wired.
type EngineOption func(*Engine)

func WithEngineLogger(logger Logger) EngineOption {
	return func(e *Engine) {
		e.logger = normalizeLogger(logger)
	}
}

func WithEngineActivitySink(sink ActivitySink) EngineOption {
	return func(e *Engine) {
		e.activity = normalizeActivitySink(sink)
	}
}

func WithEngineMailer(mailer Mailer) EngineOption {
	return func(e *Engine) {
		e.mailer = normalizeMailer(mailer)
	}
}

// NewEngine assembles every component from the configuration and the
// repository manager. The zero option set yields a working engine with a
// default logger, a no-op activity sink, and a no-op mailer.
func NewEngine(cfg *Config, repo RepositoryManager, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:     repo,
		logger:   defLogger{},
		activity: noopActivitySink{},
		mailer:   noopMailer{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	tokens := NewTokenService(
		[]byte(cfg.SigningKey),
		cfg.AccessTokenTTL,
		cfg.Issuer,
		[]string{cfg.Audience},
		e.logger,
	)

	claims := NewClaimsBuilder(repo.Roles())

	e.Sessions = NewSessionManager(repo.Sessions(), repo.Users(), claims, tokens).
		WithRefreshTTL(cfg.RefreshTokenTTL).
		WithActivitySink(e.activity).
		WithLogger(e.logger)

	e.Proofs = NewProofTokenManager(repo.ProofTokens()).
		WithTTL(ProofEmailVerification, cfg.EmailVerificationTTL).
		WithTTL(ProofPasswordReset, cfg.PasswordResetTTL).
		WithLogger(e.logger)

	verifier := NewCredentialVerifier(repo.Users()).WithLogger(e.logger)

	e.Auth = NewAuthenticator(verifier, e.Sessions).
		WithActivitySink(e.activity).
		WithLogger(e.logger)

	e.Federation = NewFederatedAdapter(repo.Users(), repo.Profiles(), repo.Roles(), e.Sessions).
		WithActivitySink(e.activity).
		WithLogger(e.logger)

	e.Sweeper = NewSweeper(repo.Sessions(), repo.ProofTokens()).
		WithInterval(cfg.SweepInterval).
		WithActivitySink(e.activity).
		WithLogger(e.logger)

	e.RegisterUser = NewRegisterUserHandler(repo, e.Proofs, e.mailer).
		WithBcryptCost(cfg.BcryptCost).
		WithActivitySink(e.activity).
		WithLogger(e.logger)

	e.VerifyEmail = NewVerifyEmailHandler(repo.Users(), e.Proofs).
		WithActivitySink(e.activity).
		WithLogger(e.logger)

	e.InitPasswordReset = NewInitializePasswordResetHandler(repo.Users(), e.Proofs, e.mailer).
		WithActivitySink(e.activity).
		WithLogger(e.logger)

	e.FinishPasswordReset = NewFinalizePasswordResetHandler(repo.Users(), e.Proofs, e.Sessions).
		WithBcryptCost(cfg.BcryptCost).
		WithActivitySink(e.activity).
		WithLogger(e.logger)

	e.ChangePassword = NewChangePasswordHandler(repo.Users(), e.Sessions).
		WithBcryptCost(cfg.BcryptCost).
		WithLogger(e.logger)

	return e
}

// Repo exposes the underlying repository manager for callers composing
// their own queries.
func (e *Engine) Repo() RepositoryManager {
	return e.repo
}

// SetUserActive suspends or reinstates an account. Deactivating also
// revokes every refresh session the user holds, so the suspension takes
// effect at the next refresh rather than waiting out the access token.
func (e *Engine) SetUserActive(ctx context.Context, userID uuid.UUID, active bool) error {
	if err := e.repo.Users().SetActive(ctx, userID, active); err != nil {
		if goerrors.IsNotFound(err) {
			return ErrUserNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user status")
	}

	revoked := int64(0)
	if !active {
		n, err := e.Sessions.RevokeAll(ctx, userID)
		if err != nil {
			return err
		}
		revoked = n
	}

	event := ActivityEvent{
		EventType: ActivityEventUserStatusChanged,
		Actor:     ActorRef{Type: "system"},
		UserID:    userID.String(),
		Metadata: map[string]any{
			"active":           active,
			"sessions_revoked": revoked,
		},
		OccurredAt: time.Now(),
	}

	if err := e.activity.Record(ctx, event); err != nil {
		e.logger.Warn("activity sink record error: %v", err)
	}

	return nil
}
