package trust

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

type FinalizePasswordResetMessage struct {
	Email    string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	Code     string `json:"code" example:"042193" doc:"Reset code received by mail"`
	Password string `json:"password" example:"some_secret_word" doc:"New password"`
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

func (p FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.EmailFormat),
		validation.Field(&p.Code, validation.Required, is.Digit),
		validation.Field(&p.Password, validation.Required, validation.Length(MinPasswordLength, 72)),
	)
}

// FinalizePasswordResetHandler consumes a reset code and stores the new
// password hash.
type FinalizePasswordResetHandler struct {
	users    UserLookup
	updater  PasswordUpdater
	codes    CodeStore
	hasher   *Hasher
	activity ActivitySink
	logger   Logger
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(users UserLookup, updater PasswordUpdater, codes CodeStore, hasher *Hasher) *FinalizePasswordResetHandler {
	if hasher == nil {
		hasher = NewHasher(0)
	}
	return &FinalizePasswordResetHandler{
		users:    users,
		updater:  updater,
		codes:    codes,
		hasher:   hasher,
		activity: noopActivitySink{},
		logger:   NewLogger("trust.password_reset"),
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
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
	event.Email = normalizeEmail(event.Email)
	event.Code = strings.TrimSpace(event.Code)
	if err := event.Validate(); err != nil {
		return goerrors.FromOzzoValidation(err, "invalid password reset").
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	ok, err := h.codes.Consume(ctx, CodePurposePasswordReset, event.Email, event.Code)
	if err != nil {
		h.logger.Error("password reset code lookup failed", "error", err)
		return ErrResetCodeInvalid
	}
	if !ok {
		return ErrResetCodeInvalid
	}

	user, err := h.users.FindByEmailWithRole(ctx, event.Email)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}
	if user == nil {
		return ErrResetCodeInvalid
	}

	hash, err := h.hasher.Hash(ctx, event.Password)
	if err != nil {
		return err
	}

	if err := h.updater.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}

	h.logger.Info("password reset", "user", user.ID)
	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		ActorID:   user.ID,
		UserID:    user.ID,
	})

	return nil
}
