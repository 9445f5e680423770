package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// InitializePasswordResetMessage asks for a reset token to be delivered to
// the given address.
type InitializePasswordResetMessage struct {
	Email      string `json:"email"`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

// InitializePasswordResetResponse is identical for known and unknown
// addresses; the flow must not reveal whether the email is registered.
type InitializePasswordResetResponse struct {
	Accepted bool `json:"accepted"`
}

// InitializePasswordResetHandler issues the reset proof token and requests
// its delivery. Unknown addresses short-circuit before any token or mail
// work.
type InitializePasswordResetHandler struct {
	users    UserStore
	proofs   *ProofTokenManager
	mailer   Mailer
	activity ActivitySink
	logger   Logger
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(users UserStore, proofs *ProofTokenManager, mailer Mailer) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		users:    users,
		proofs:   proofs,
		mailer:   normalizeMailer(mailer),
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	h.logger = normalizeLogger(logger)
	return h
}

// WithActivitySink sets the sink used to emit reset-request events.
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &InitializePasswordResetResponse{Accepted: true}

	user, err := h.users.GetByEmail(ctx, NormalizeEmail(event.Email))
	if err != nil {
		if goerrors.IsNotFound(err) {
			// Same success shape as the known-address path.
			h.respond(event, resp)
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}

	token, err := h.proofs.Issue(ctx, user.ID, ProofPasswordReset, 0)
	if err != nil {
		return err
	}

	h.recordActivity(ctx, user)
	h.respond(event, resp)

	if err := h.mailer.SendMessage(ctx, MessagePasswordReset, user.Email, token); err != nil {
		h.logger.Error("reset mail request failed", "user_id", user.ID.String(), "error", err)
		return ErrMailDelivery
	}

	return nil
}

func (h *InitializePasswordResetHandler) respond(event InitializePasswordResetMessage, resp *InitializePasswordResetResponse) {
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
}

func (h *InitializePasswordResetHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during password reset request: %v", err)
	}
}
