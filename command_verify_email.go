package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// VerifyEmailMessage carries the proof token from a verification link.
type VerifyEmailMessage struct {
	Token      string `json:"token"`
	OnResponse func(resp *VerifyEmailResponse)
}

func (v VerifyEmailMessage) Type() string { return "user.verify_email" }

// VerifyEmailResponse reports the verified account.
type VerifyEmailResponse struct {
	UserID   uuid.UUID `json:"user_id"`
	Verified bool      `json:"verified"`
}

// VerifyEmailHandler consumes the verification token and flips the user's
// verified flag. Sessions are untouched; verification is not a security
// event.
type VerifyEmailHandler struct {
	users    UserStore
	proofs   *ProofTokenManager
	activity ActivitySink
	logger   Logger
}

// NewVerifyEmailHandler creates a handler with sane defaults.
func NewVerifyEmailHandler(users UserStore, proofs *ProofTokenManager) *VerifyEmailHandler {
	return &VerifyEmailHandler{
		users:    users,
		proofs:   proofs,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *VerifyEmailHandler) WithLogger(logger Logger) *VerifyEmailHandler {
	h.logger = normalizeLogger(logger)
	return h
}

// WithActivitySink sets the sink used to emit verification events.
func (h *VerifyEmailHandler) WithActivitySink(sink ActivitySink) *VerifyEmailHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during email verification")
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	userID, err := h.proofs.ValidateAndConsume(ctx, event.Token, ProofEmailVerification)
	if err != nil {
		return err
	}

	if err := h.users.MarkEmailVerified(ctx, userID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark email verified")
	}

	h.recordActivity(ctx, userID)

	if event.OnResponse != nil {
		event.OnResponse(&VerifyEmailResponse{UserID: userID, Verified: true})
	}

	return nil
}

func (h *VerifyEmailHandler) recordActivity(ctx context.Context, userID uuid.UUID) {
	event := ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor: ActorRef{
			ID:   userID.String(),
			Type: "user",
		},
		UserID:     userID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during email verification: %v", err)
	}
}
