package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// FinalizePasswordResetMessage carries the proof token from the reset link
// and the replacement password.
type FinalizePasswordResetMessage struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset_finalize" }

// FinalizePasswordResetHandler consumes the reset token, updates the hash,
// and revokes every outstanding session for the user. A reset is a security
// event: nothing issued before it survives.
type FinalizePasswordResetHandler struct {
	users    UserStore
	proofs   *ProofTokenManager
	sessions *SessionManager
	activity ActivitySink
	logger   Logger
	cost     int
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(users UserStore, proofs *ProofTokenManager, sessions *SessionManager) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		users:    users,
		proofs:   proofs,
		sessions: sessions,
		activity: noopActivitySink{},
		logger:   defLogger{},
		cost:     DefaultBcryptCost,
	}
}

// WithBcryptCost overrides the hashing work factor for this handler.
func (h *FinalizePasswordResetHandler) WithBcryptCost(cost int) *FinalizePasswordResetHandler {
	if cost > 0 {
		h.cost = cost
	}
	return h
}

func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	h.logger = normalizeLogger(logger)
	return h
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	userID, err := h.proofs.ValidateAndConsume(ctx, event.Token, ProofPasswordReset)
	if err != nil {
		return err
	}

	hash, err := HashPasswordCost(event.Password, h.cost)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	if err := h.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password")
	}

	// The cascade: every outstanding session dies with the old password.
	if _, err := h.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}

	h.recordActivity(ctx, userID)

	return nil
}

func (h *FinalizePasswordResetHandler) recordActivity(ctx context.Context, userID uuid.UUID) {
	event := ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor: ActorRef{
			ID:   userID.String(),
			Type: "user",
		},
		UserID:     userID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during password reset: %v", err)
	}
}
