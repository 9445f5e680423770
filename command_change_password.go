package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ChangePasswordMessage carries an authenticated password change: the
// caller proves knowledge of the current password rather than a proof
// token.
type ChangePasswordMessage struct {
	UserID          uuid.UUID `json:"user_id"`
	CurrentPassword string    `json:"current_password"`
	NewPassword     string    `json:"new_password"`
}

func (c ChangePasswordMessage) Type() string { return "user.change_password" }

// ChangePasswordHandler re-hashes the password and, like a reset, ends
// every outstanding session.
type ChangePasswordHandler struct {
	users    UserStore
	sessions *SessionManager
	logger   Logger
	cost     int
}

// NewChangePasswordHandler creates a handler with sane defaults.
func NewChangePasswordHandler(users UserStore, sessions *SessionManager) *ChangePasswordHandler {
	return &ChangePasswordHandler{
		users:    users,
		sessions: sessions,
		logger:   defLogger{},
		cost:     DefaultBcryptCost,
	}
}

func (h *ChangePasswordHandler) WithLogger(logger Logger) *ChangePasswordHandler {
	h.logger = normalizeLogger(logger)
	return h
}

// WithBcryptCost overrides the hashing work factor for this handler.
func (h *ChangePasswordHandler) WithBcryptCost(cost int) *ChangePasswordHandler {
	if cost > 0 {
		h.cost = cost
	}
	return h
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password change")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.users.GetByID(ctx, event.UserID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return ErrUserNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user for password change")
	}

	if err := ComparePasswordAndHash(event.CurrentPassword, user.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := HashPasswordCost(event.NewPassword, h.cost)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	if err := h.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password")
	}

	if _, err := h.sessions.RevokeAll(ctx, user.ID); err != nil {
		return err
	}

	return nil
}
