package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// RegisterUserMessage carries a registration request. Phone and the display
// fields are optional profile data.
type RegisterUserMessage struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	Phone       string `json:"phone"`
	PhoneRegion string `json:"phone_region,omitempty"`
	OnResponse  func(resp *RegisterUserResponse)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// Validate checks the message before any store work.
func (e RegisterUserMessage) Validate() error {
	err := validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&e.Username, validation.Length(0, 64)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload")
	}

	if e.Phone != "" {
		region := e.PhoneRegion
		if region == "" {
			region = "US"
		}
		num, perr := phonenumbers.Parse(e.Phone, region)
		if perr != nil || !phonenumbers.IsValidNumber(num) {
			return goerrors.New("invalid phone number", goerrors.CategoryValidation).
				WithMetadata(map[string]any{"phone": e.Phone})
		}
	}

	return nil
}

// RegisterUserResponse is success-shaped whether or not the email was
// already taken, so registration cannot be used to enumerate accounts.
// PendingVerification is always true; no session is issued until the email
// is verified and the user logs in.
type RegisterUserResponse struct {
	UserID              uuid.UUID `json:"user_id,omitempty"`
	Email               string    `json:"email"`
	Username            string    `json:"username"`
	PendingVerification bool      `json:"pending_verification"`
}

// RegisterUserHandler creates the user and profile in one transaction,
// issues an email-verification proof token, and requests its out-of-band
// delivery.
type RegisterUserHandler struct {
	repo     RepositoryManager
	proofs   *ProofTokenManager
	mailer   Mailer
	activity ActivitySink
	logger   Logger
	cost     int
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(repo RepositoryManager, proofs *ProofTokenManager, mailer Mailer) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:     repo,
		proofs:   proofs,
		mailer:   normalizeMailer(mailer),
		activity: noopActivitySink{},
		logger:   defLogger{},
		cost:     DefaultBcryptCost,
	}
}

func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	h.logger = normalizeLogger(logger)
	return h
}

// WithBcryptCost overrides the hashing work factor for this handler.
func (h *RegisterUserHandler) WithBcryptCost(cost int) *RegisterUserHandler {
	if cost > 0 {
		h.cost = cost
	}
	return h
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return err
	}

	email := NormalizeEmail(event.Email)
	username := getUsername(event.Username, email)

	resp := &RegisterUserResponse{
		Email:               email,
		Username:            username,
		PendingVerification: true,
	}

	user := &User{}
	taken := false

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Enumeration resistance: a taken email short-circuits before
		// any token or mail work but answers with the same success shape.
		if _, err := h.repo.Users().GetByEmailTx(ctx, tx, email); err == nil {
			taken = true
			return nil
		} else if !goerrors.IsNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for existing user")
		}

		hash, err := HashPasswordCost(event.Password, h.cost)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user.ID = uuid.New()
		user.Email = email
		user.Username = username
		user.PasswordHash = hash
		user.Active = true

		if user, err = h.repo.Users().RegisterTx(ctx, tx, user); err != nil {
			// A taken username is an honest conflict; only the email
			// column gets the opaque treatment.
			if UniqueViolationOn(err, "username") {
				return ErrDuplicateIdentity
			}
			if IsUniqueViolation(err) {
				// Lost an email race; same opaque success shape as
				// the pre-check above.
				taken = true
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		if _, err := h.repo.Profiles().CreateTx(ctx, tx, &Profile{
			ID:       uuid.New(),
			UserID:   user.ID,
			FullName: event.FullName,
			Phone:    event.Phone,
		}); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user profile")
		}

		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	if taken {
		h.respond(event, resp)
		return nil
	}
	resp.UserID = user.ID

	token, err := h.proofs.Issue(ctx, user.ID, ProofEmailVerification, 0)
	if err != nil {
		return err
	}

	h.recordActivity(ctx, user)
	h.respond(event, resp)

	if err := h.mailer.SendMessage(ctx, MessageEmailVerification, user.Email, token); err != nil {
		// The verification token exists; delivery failure is operational,
		// not a rollback condition.
		h.logger.Error("verification mail request failed", "user_id", user.ID.String(), "error", err)
		return ErrMailDelivery
	}

	return nil
}

func (h *RegisterUserHandler) respond(event RegisterUserMessage, resp *RegisterUserResponse) {
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
}

func (h *RegisterUserHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		Metadata:   map[string]any{"username": user.Username},
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during registration: %v", err)
	}
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	return usernameFromEmail(email)
}
