package trust

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// MinPasswordLength is the shortest password accepted at registration and reset.
const MinPasswordLength = 8

type RegisterUserMessage struct {
	Token      string               `json:"invitation"`
	Password   string               `json:"password"`
	OnResponse func(user *UserView) `json:"-"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Token, validation.Required),
		validation.Field(&e.Password, validation.Required, validation.Length(MinPasswordLength, 72)),
	)
}

// RegisterUserHandler turns a valid invitation into a user account with the
// invited email and the baseline role.
type RegisterUserHandler struct {
	issuer    *InvitationIssuer
	registrar UserRegistrar
	hasher    *Hasher
	activity  ActivitySink
	logger    Logger
}

func NewRegisterUserHandler(issuer *InvitationIssuer, registrar UserRegistrar, hasher *Hasher) *RegisterUserHandler {
	if hasher == nil {
		hasher = NewHasher(0)
	}
	return &RegisterUserHandler{
		issuer:    issuer,
		registrar: registrar,
		hasher:    hasher,
		activity:  noopActivitySink{},
		logger:    NewLogger("trust.register"),
	}
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
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
	if err := event.Validate(); err != nil {
		return goerrors.FromOzzoValidation(err, "invalid registration").
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	// the invitation is only consumed once the password is hashed
	if _, err := h.issuer.ValidateInvitation(ctx, event.Token); err != nil {
		return err
	}

	hash, err := h.hasher.Hash(ctx, event.Password)
	if err != nil {
		return err
	}

	inv, err := h.issuer.RedeemInvitationRecord(ctx, event.Token)
	if err != nil {
		return err
	}

	user, err := h.registrar.RegisterUser(ctx, inv.Email, hash, RoleMember)
	if err != nil {
		h.logger.Error("user registration failed after invitation redeemed",
			"invitation", shortID(inv.ID),
			"error", err,
		)
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
	}

	h.logger.Info("user registered", "user", user.ID, "invitation", shortID(inv.ID))
	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		ActorID:   user.ID,
		UserID:    user.ID,
		Metadata: map[string]any{
			"invitation": inv.ID,
			"creator":    inv.CreatorID,
		},
	})

	if event.OnResponse != nil {
		view := user.View()
		event.OnResponse(&view)
	}

	return nil
}
