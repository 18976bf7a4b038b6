package trust

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// DefaultSessionTTL is used when the authenticator is built with a non
// positive TTL.
const DefaultSessionTTL = 24 * time.Hour

// DefaultCodeLength is the number of digits in one-time codes.
const DefaultCodeLength = 6

// DefaultTwoFactorTTL bounds how long a second factor code stays valid.
const DefaultTwoFactorTTL = 10 * time.Minute

// SignInResult is returned by a successful first factor check.
type SignInResult struct {
	SessionID        string   `json:"-"`
	Principal        UserView `json:"user"`
	TwoFactorPending bool     `json:"two_factor_pending"`
}

// sessionTTLReader is implemented by stores able to report remaining TTL.
type sessionTTLReader interface {
	TTL(ctx context.Context, sessionID string) (time.Duration, error)
}

// CredentialAuthenticator verifies email and password pairs and manages the
// resulting sessions.
type CredentialAuthenticator struct {
	users        UserLookup
	store        SessionStore
	ttl          time.Duration
	hasher       *Hasher
	codes        CodeStore
	mailer       Mailer
	codeLength   int
	twoFactorTTL time.Duration
	logger       Logger
	activitySink ActivitySink
	metrics      *Metrics
	now          func() time.Time
}

// NewCredentialAuthenticator returns a new CredentialAuthenticator
func NewCredentialAuthenticator(users UserLookup, store SessionStore, ttl time.Duration) *CredentialAuthenticator {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &CredentialAuthenticator{
		users:        users,
		store:        store,
		ttl:          ttl,
		hasher:       NewHasher(0),
		codeLength:   DefaultCodeLength,
		twoFactorTTL: DefaultTwoFactorTTL,
		logger:       NewLogger("trust.auth"),
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

func (a *CredentialAuthenticator) WithLogger(logger Logger) *CredentialAuthenticator {
	a.logger = loggerOrDefault(logger, "trust.auth")
	return a
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (a *CredentialAuthenticator) WithActivitySink(sink ActivitySink) *CredentialAuthenticator {
	a.activitySink = normalizeActivitySink(sink)
	return a
}

func (a *CredentialAuthenticator) WithMetrics(m *Metrics) *CredentialAuthenticator {
	a.metrics = m
	return a
}

// WithHasher replaces the default hasher, sized to runtime.NumCPU().
func (a *CredentialAuthenticator) WithHasher(h *Hasher) *CredentialAuthenticator {
	if h != nil {
		a.hasher = h
	}
	return a
}

// WithTwoFactor enables second factor codes for users that opted in. Without
// it those users are signed in with a single factor.
func (a *CredentialAuthenticator) WithTwoFactor(codes CodeStore, mailer Mailer, codeTTL time.Duration, codeLength int) *CredentialAuthenticator {
	a.codes = codes
	a.mailer = mailer
	if codeTTL > 0 {
		a.twoFactorTTL = codeTTL
	}
	if codeLength > 0 {
		a.codeLength = codeLength
	}
	return a
}

// WithClock overrides the time source.
func (a *CredentialAuthenticator) WithClock(now func() time.Time) *CredentialAuthenticator {
	if now != nil {
		a.now = now
	}
	return a
}

// SessionTTL returns the lifetime given to new sessions.
func (a *CredentialAuthenticator) SessionTTL() time.Duration {
	return a.ttl
}

// SignIn checks the credentials and opens a session. Unknown emails and wrong
// passwords both return ErrInvalidCredentials after one bcrypt comparison.
func (a *CredentialAuthenticator) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	email = normalizeEmail(email)

	user, err := a.users.FindByEmailWithRole(ctx, email)
	if err != nil {
		a.logger.Error("sign in user lookup failed", "error", err)
		a.metrics.login("error")
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up user")
	}

	if user == nil {
		if err := a.hasher.CompareDummy(ctx, password); !isHashError(err) {
			return nil, err
		}
		a.failSignIn(ctx, "", "unknown_email")
		return nil, ErrInvalidCredentials
	}

	if err := a.hasher.Compare(ctx, password, user.PasswordHash); err != nil {
		if isHashError(err) {
			a.failSignIn(ctx, user.ID, "password_mismatch")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	twoFactor := user.TwoFactorEnabled && a.codes != nil && a.mailer != nil

	sessionID, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}

	session := NewSession(sessionID, user.ID, user.Role, a.now())
	session.TwoFactorPending = twoFactor

	if err := a.store.Create(ctx, sessionID, a.ttl, session); err != nil {
		a.logger.Error("sign in session create failed", "user", user.ID, "error", err)
		a.metrics.storeError("sign_in")
		return nil, err
	}

	if twoFactor {
		if err := a.sendTwoFactorCode(ctx, user, sessionID); err != nil {
			if derr := a.store.Delete(ctx, sessionID); derr != nil {
				a.logger.Warn("failed to discard pending session", "session", shortID(sessionID), "error", derr)
			}
			return nil, err
		}
	}

	a.metrics.sessionCreated()
	a.metrics.login("success")
	a.logger.Info("user signed in", "user", user.ID, "session", shortID(sessionID), "two_factor_pending", twoFactor)

	recordActivity(ctx, a.activitySink, a.logger, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		ActorID:   user.ID,
		UserID:    user.ID,
		Metadata: map[string]any{
			"role":               string(session.Role),
			"two_factor_pending": twoFactor,
		},
	})

	return &SignInResult{
		SessionID:        sessionID,
		Principal:        user.View(),
		TwoFactorPending: twoFactor,
	}, nil
}

// SignOut deletes the session. Unknown sessions are not an error.
func (a *CredentialAuthenticator) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := a.store.Delete(ctx, sessionID); err != nil {
		a.logger.Error("sign out failed", "session", shortID(sessionID), "error", err)
		a.metrics.storeError("sign_out")
		return err
	}

	a.metrics.sessionDeleted()
	recordActivity(ctx, a.activitySink, a.logger, ActivityEvent{
		EventType: ActivityEventLogout,
		Metadata:  map[string]any{"session": shortID(sessionID)},
	})

	return nil
}

// VerifyTwoFactor consumes the second factor code of a pending session and
// rewrites the session as fully authenticated, keeping its remaining TTL.
func (a *CredentialAuthenticator) VerifyTwoFactor(ctx context.Context, sessionID, code string) (Principal, error) {
	session, err := a.store.Get(ctx, sessionID)
	if err != nil {
		a.logger.Error("two factor session lookup failed", "session", shortID(sessionID), "error", err)
		return Principal{}, ErrAuthenticationRequired
	}
	if session == nil {
		return Principal{}, ErrAuthenticationRequired
	}

	if !session.TwoFactorPending {
		return session.Principal(), nil
	}

	if a.codes == nil {
		return Principal{}, ErrTwoFactorInvalid
	}

	ok, err := a.codes.Consume(ctx, CodePurposeTwoFactor, sessionID, strings.TrimSpace(code))
	if err != nil {
		a.logger.Error("two factor code lookup failed", "session", shortID(sessionID), "error", err)
		return Principal{}, ErrTwoFactorInvalid
	}

	if !ok {
		a.logger.Info("two factor code rejected", "user", session.UserID)
		recordActivity(ctx, a.activitySink, a.logger, ActivityEvent{
			EventType: ActivityEventTwoFactorFailure,
			ActorID:   session.UserID,
			UserID:    session.UserID,
		})
		return Principal{}, ErrTwoFactorInvalid
	}

	remaining, err := a.remainingTTL(ctx, session)
	if err != nil {
		return Principal{}, err
	}
	if remaining <= 0 {
		return Principal{}, ErrAuthenticationRequired
	}

	session.TwoFactorPending = false
	if err := a.store.Create(ctx, sessionID, remaining, session); err != nil {
		a.logger.Error("two factor session update failed", "session", shortID(sessionID), "error", err)
		return Principal{}, err
	}

	recordActivity(ctx, a.activitySink, a.logger, ActivityEvent{
		EventType: ActivityEventTwoFactorSuccess,
		ActorID:   session.UserID,
		UserID:    session.UserID,
	})

	return session.Principal(), nil
}

func (a *CredentialAuthenticator) remainingTTL(ctx context.Context, session *Session) (time.Duration, error) {
	if reader, ok := a.store.(sessionTTLReader); ok {
		return reader.TTL(ctx, session.ID)
	}
	return a.ttl - a.now().Sub(session.CreatedAt), nil
}

func (a *CredentialAuthenticator) sendTwoFactorCode(ctx context.Context, user *UserRecord, sessionID string) error {
	code, err := GenerateCode(a.codeLength)
	if err != nil {
		return err
	}

	if err := a.codes.Put(ctx, CodePurposeTwoFactor, sessionID, code, a.twoFactorTTL); err != nil {
		a.logger.Error("two factor code store failed", "user", user.ID, "error", err)
		return err
	}

	err = a.mailer.Send(ctx, user.Email, MailTwoFactorCode, map[string]any{
		"code":       code,
		"expires_in": a.twoFactorTTL.String(),
	})
	if err != nil {
		a.logger.Error("two factor code delivery failed", "user", user.ID, "error", err)
		return deliveryFailure(err, MailTwoFactorCode)
	}

	return nil
}

func (a *CredentialAuthenticator) failSignIn(ctx context.Context, userID, reason string) {
	a.metrics.login("invalid_credentials")
	a.logger.Info("sign in rejected", "reason", reason)

	recordActivity(ctx, a.activitySink, a.logger, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		UserID:    userID,
		Metadata:  map[string]any{"reason": reason},
	})
}

// isHashError reports a password mismatch or a malformed stored hash. Both
// count as invalid credentials.
func isHashError(err error) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.Category == errors.CategoryAuth
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
