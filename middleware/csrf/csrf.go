// Package csrf protects cookie authenticated routes with stateless tokens
// bound to the caller's session and signed by a trust.TokenSigner.
package csrf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	trust "github.com/goliatone/go-trust"
)

const (
	TextCodeTokenMissing  = "CSRF_TOKEN_MISSING"
	TextCodeTokenMismatch = "CSRF_TOKEN_MISMATCH"
	TextCodeTokenExpired  = "CSRF_TOKEN_EXPIRED"
)

var (
	ErrTokenMissing = errors.New("CSRF token missing", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest).
			WithTextCode(TextCodeTokenMissing)

	ErrTokenMismatch = errors.New("CSRF token mismatch", errors.CategoryAuthz).
				WithCode(errors.CodeForbidden).
				WithTextCode(TextCodeTokenMismatch)

	ErrTokenExpired = errors.New("CSRF token expired", errors.CategoryAuthz).
			WithCode(errors.CodeForbidden).
			WithTextCode(TextCodeTokenExpired)
)

// DefaultNonceLength is the number of random bytes mixed into each token.
const DefaultNonceLength = 16

// DefaultContextKey is the locals key holding the token for the request.
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// DefaultExpiration bounds how long an issued token is accepted.
const DefaultExpiration = 12 * time.Hour

const payloadSeparator = ":"

// PayloadPrefix marks signed payloads as CSRF tokens so other tokens from the
// same signer are never accepted here.
const PayloadPrefix = "csrf" + payloadSeparator

// Config defines the configuration for CSRF middleware
type Config struct {
	// Signer signs and verifies tokens. Required.
	Signer *trust.TokenSigner

	// Skip defines a function to skip middleware
	Skip func(*fiber.Ctx) bool

	// CookieName is the session cookie tokens are bound to.
	CookieName string

	// ContextKey defines the key for storing the token in locals
	ContextKey string

	// FormFieldName defines the name of the form field containing the token
	FormFieldName string

	// HeaderName defines the header name for the token
	HeaderName string

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Expiration defines how long tokens are valid
	Expiration time.Duration

	// NonceLength is the number of random bytes in each token
	NonceLength int

	// ErrorHandler defines the error handler
	ErrorHandler fiber.ErrorHandler

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Protector issues and checks session bound CSRF tokens.
type Protector struct {
	cfg Config
}

// New creates a Protector. It panics when config has no signer.
func New(config Config) *Protector {
	cfg := configDefault(config)
	if cfg.Signer == nil {
		panic("csrf: signer is required")
	}
	return &Protector{cfg: cfg}
}

// Handler returns the middleware. Requests without a session cookie pass
// through: there is no ambient credential to forge. Every other unsafe
// request must carry a valid token for its session.
func (p *Protector) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if p.cfg.Skip != nil && p.cfg.Skip(c) {
			return c.Next()
		}

		sessionID := c.Cookies(p.cfg.CookieName)
		if sessionID == "" {
			return c.Next()
		}

		if slices.Contains(p.cfg.SafeMethods, strings.ToUpper(c.Method())) {
			token, err := p.Issue(sessionID)
			if err != nil {
				return p.cfg.ErrorHandler(c, err)
			}
			c.Locals(p.cfg.ContextKey, token)
			return c.Next()
		}

		if err := p.Validate(sessionID, extractToken(c, p.cfg)); err != nil {
			return p.cfg.ErrorHandler(c, err)
		}

		return c.Next()
	}
}

// Issue mints a token for sessionID. The session id itself never appears in
// the token, only a digest of it.
func (p *Protector) Issue(sessionID string) (string, error) {
	nonce := make([]byte, p.cfg.NonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to read csrf nonce")
	}

	payload := strings.Join([]string{
		strconv.FormatInt(p.cfg.Now().UTC().Unix(), 10),
		hex.EncodeToString(nonce),
		sessionDigest(sessionID),
	}, payloadSeparator)

	return p.cfg.Signer.CreateToken(PayloadPrefix + payload), nil
}

// Validate checks token against sessionID.
func (p *Protector) Validate(sessionID, token string) error {
	if token == "" {
		return ErrTokenMissing
	}

	signed, ok := p.cfg.Signer.VerifyToken(token)
	if !ok {
		return ErrTokenMismatch
	}

	payload, ok := strings.CutPrefix(signed, PayloadPrefix)
	if !ok {
		return ErrTokenMismatch
	}

	parts := strings.Split(payload, payloadSeparator)
	if len(parts) != 3 {
		return ErrTokenMismatch
	}

	issuedAt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(sessionDigest(sessionID))) != 1 {
		return ErrTokenMismatch
	}

	if !p.cfg.Now().UTC().Before(time.Unix(issuedAt, 0).Add(p.cfg.Expiration)) {
		return ErrTokenExpired
	}

	return nil
}

func sessionDigest(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:16])
}

func extractToken(c *fiber.Ctx, cfg Config) string {
	if token := strings.TrimSpace(c.Get(cfg.HeaderName)); token != "" {
		return token
	}
	return strings.TrimSpace(c.FormValue(cfg.FormFieldName))
}

func configDefault(cfg Config) Config {
	if cfg.CookieName == "" {
		cfg.CookieName = trust.DefaultSessionCookieName
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace}
	}

	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}

	if cfg.NonceLength <= 0 {
		cfg.NonceLength = DefaultNonceLength
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = trust.ErrorHandler
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return cfg
}
