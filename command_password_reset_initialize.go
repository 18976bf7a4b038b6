package trust

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultResetCodeTTL bounds how long a password reset code stays valid.
const DefaultResetCodeTTL = 15 * time.Minute

type InitializePasswordResetMessage struct {
	Email string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.EmailFormat),
	)
}

// InitializePasswordResetHandler mails a one-time reset code. The outcome is
// the same whether or not the email belongs to an account.
type InitializePasswordResetHandler struct {
	users      UserLookup
	codes      CodeStore
	mailer     Mailer
	codeTTL    time.Duration
	codeLength int
	activity   ActivitySink
	logger     Logger
}

func NewInitializePasswordResetHandler(users UserLookup, codes CodeStore, mailer Mailer) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		users:      users,
		codes:      codes,
		mailer:     mailer,
		codeTTL:    DefaultResetCodeTTL,
		codeLength: DefaultCodeLength,
		activity:   noopActivitySink{},
		logger:     NewLogger("trust.password_reset"),
	}
}

// WithCode overrides the code lifetime and length.
func (h *InitializePasswordResetHandler) WithCode(ttl time.Duration, length int) *InitializePasswordResetHandler {
	if ttl > 0 {
		h.codeTTL = ttl
	}
	if length > 0 {
		h.codeLength = length
	}
	return h
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
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
	event.Email = normalizeEmail(event.Email)
	if err := event.Validate(); err != nil {
		return goerrors.FromOzzoValidation(err, "invalid password reset request").
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.users.FindByEmailWithRole(ctx, event.Email)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}

	if user == nil {
		h.logger.Debug("password reset requested for unknown email")
		return nil
	}

	code, err := GenerateCode(h.codeLength)
	if err != nil {
		return err
	}

	if err := h.codes.Put(ctx, CodePurposePasswordReset, event.Email, code, h.codeTTL); err != nil {
		// unknown emails succeed, so a store outage must too
		h.logger.Error("password reset code store failed", "user", user.ID, "error", err)
		return nil
	}

	err = h.mailer.Send(ctx, user.Email, MailPasswordReset, map[string]any{
		"code":       code,
		"expires_in": h.codeTTL.String(),
	})
	if err != nil {
		// reporting this would reveal that the account exists
		h.logger.Error("password reset delivery failed", "user", user.ID, "error", err)
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		ActorID:   user.ID,
		UserID:    user.ID,
		Metadata:  map[string]any{"delivered": err == nil},
	})

	return nil
}
