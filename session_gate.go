package trust

import (
	"slices"

	"github.com/gofiber/fiber/v2"
)

// DefaultSessionCookieName is the cookie carrying the session id.
const DefaultSessionCookieName = "sessionId"

// SessionGateConfig defines the configuration for the session gate.
type SessionGateConfig struct {
	// Store resolves session ids. Required.
	Store SessionStore

	// CookieName is the cookie holding the session id.
	CookieName string

	// LocalsKey is the fiber locals key the principal is stored under.
	LocalsKey string

	// Skip defines a function to skip the gate, usually built with SkipPaths.
	Skip func(*fiber.Ctx) bool

	// AllowTwoFactorPending lets partially authenticated sessions through.
	// Only the second factor route should enable it.
	AllowTwoFactorPending bool

	// ErrorHandler renders rejections. Defaults to ErrorHandler.
	ErrorHandler fiber.ErrorHandler

	Logger       Logger
	ActivitySink ActivitySink
	Metrics      *Metrics
}

// SessionGate resolves the session cookie of every inbound request into a
// Principal or rejects the request.
type SessionGate struct {
	cfg SessionGateConfig
}

// NewSessionGate creates a gate, filling defaults for unset fields.
func NewSessionGate(cfg SessionGateConfig) *SessionGate {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultSessionCookieName
	}
	if cfg.LocalsKey == "" {
		cfg.LocalsKey = DefaultPrincipalLocalsKey
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = ErrorHandler
	}
	cfg.Logger = loggerOrDefault(cfg.Logger, "trust.gate")
	cfg.ActivitySink = normalizeActivitySink(cfg.ActivitySink)

	return &SessionGate{cfg: cfg}
}

// Handler returns the fiber middleware.
func (g *SessionGate) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if g.cfg.Skip != nil && g.cfg.Skip(c) {
			return c.Next()
		}

		principal, err := g.Resolve(c)
		if err != nil {
			return g.cfg.ErrorHandler(c, err)
		}

		c.Locals(g.cfg.LocalsKey, principal)
		c.SetUserContext(WithPrincipal(c.UserContext(), principal))

		return c.Next()
	}
}

// Resolve runs the gate decision for c without touching the response. Every
// rejection is ErrAuthenticationRequired.
func (g *SessionGate) Resolve(c *fiber.Ctx) (Principal, error) {
	sessionID := c.Cookies(g.cfg.CookieName)
	if sessionID == "" {
		return g.reject(c, "missing_cookie", "")
	}

	session, err := g.cfg.Store.Get(c.UserContext(), sessionID)
	if err != nil {
		g.cfg.Logger.Error("session store lookup failed",
			"session", shortID(sessionID),
			"path", c.Path(),
			"error", err,
		)
		g.cfg.Metrics.storeError("gate")
		return g.reject(c, "store_unavailable", sessionID)
	}

	if session == nil {
		return g.reject(c, "unknown_session", sessionID)
	}

	if session.TwoFactorPending && !g.cfg.AllowTwoFactorPending {
		return g.reject(c, "two_factor_pending", sessionID)
	}

	g.cfg.Metrics.gate("allowed")
	return session.Principal(), nil
}

func (g *SessionGate) reject(c *fiber.Ctx, reason, sessionID string) (Principal, error) {
	g.cfg.Logger.Debug("session gate rejected request",
		"reason", reason,
		"session", shortID(sessionID),
		"path", c.Path(),
	)
	g.cfg.Metrics.gate(reason)

	recordActivity(c.UserContext(), g.cfg.ActivitySink, g.cfg.Logger, ActivityEvent{
		EventType: ActivityEventGateRejected,
		Metadata: map[string]any{
			"reason": reason,
			"path":   c.Path(),
		},
	})

	return Principal{}, ErrAuthenticationRequired
}

// SkipPaths returns a Skip function matching the exact request paths given.
func SkipPaths(paths ...string) func(*fiber.Ctx) bool {
	return func(c *fiber.Ctx) bool {
		return slices.Contains(paths, c.Path())
	}
}
