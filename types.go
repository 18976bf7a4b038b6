package trust

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Logger is the structured logger used across the package. Arguments after
// the message are key/value pairs. hclog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Principal is the authenticated caller resolved by the SessionGate.
type Principal struct {
	ID        string
	Role      UserRole
	SessionID string
}

// UserRecord is the view of a user the trust core needs from the user store.
type UserRecord struct {
	ID               string
	Email            string
	PasswordHash     string
	Role             UserRole
	TwoFactorEnabled bool
}

// UserView is a UserRecord stripped of credentials, safe to return to clients.
type UserView struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Role  UserRole `json:"role"`
}

// View returns the sanitized view of the user.
func (u *UserRecord) View() UserView {
	return UserView{
		ID:    u.ID,
		Email: u.Email,
		Role:  roleOrDefault(u.Role),
	}
}

// UserLookup resolves users for credential checks. Both methods return
// (nil, nil) when the user does not exist.
type UserLookup interface {
	FindByEmailWithRole(ctx context.Context, email string) (*UserRecord, error)
	FindByID(ctx context.Context, id string) (*UserRecord, error)
}

// UserRegistrar creates users once an invitation has been redeemed.
type UserRegistrar interface {
	RegisterUser(ctx context.Context, email, passwordHash string, role UserRole) (*UserRecord, error)
}

// PasswordUpdater replaces a user's password hash.
type PasswordUpdater interface {
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// InvitationStore persists invitation records. Find methods return (nil, nil)
// when nothing matches.
type InvitationStore interface {
	// Create stores invitation unless an active one exists for the same
	// email at its CreatedAt, in which case it returns ErrDuplicateInvitation.
	Create(ctx context.Context, invitation *Invitation) error
	FindBySubjectID(ctx context.Context, subjectID string) (*Invitation, error)
	FindActiveByEmail(ctx context.Context, email string, now time.Time) (*Invitation, error)
	// MarkUsed flags an unused invitation as used and reports whether this
	// call performed the transition.
	MarkUsed(ctx context.Context, subjectID string, usedAt time.Time) (bool, error)
	Delete(ctx context.Context, subjectID string) error
	List(ctx context.Context) ([]*Invitation, error)
}

// MailKind names the template a Mailer should render.
type MailKind string

const (
	MailInvitation    MailKind = "invitation"
	MailTwoFactorCode MailKind = "two_factor_code"
	MailPasswordReset MailKind = "password_reset"
)

// Mailer dispatches templated mail. A nil error means the message was handed
// off; any failure must be reported.
type Mailer interface {
	Send(ctx context.Context, to string, kind MailKind, data map[string]any) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, to string, kind MailKind, data map[string]any) error

// Send implements Mailer.
func (f MailerFunc) Send(ctx context.Context, to string, kind MailKind, data map[string]any) error {
	return f(ctx, to, kind, data)
}

// NewLogger returns the default named logger.
func NewLogger(name string) Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  name,
		Level: hclog.Info,
	})
}

func loggerOrDefault(logger Logger, name string) Logger {
	if logger == nil {
		return NewLogger(name)
	}
	return logger
}

// shortID trims opaque identifiers before they reach the logs.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
