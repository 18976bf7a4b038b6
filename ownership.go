package trust

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

// OwnerLoader resolves the owning user of a resource. It returns
// ErrResourceNotFound, or an empty owner id, when the resource is missing.
type OwnerLoader interface {
	LoadOwnerID(ctx context.Context, resourceID string) (string, error)
}

// OwnerLoaderFunc adapts a function to the OwnerLoader interface.
type OwnerLoaderFunc func(ctx context.Context, resourceID string) (string, error)

// LoadOwnerID implements OwnerLoader.
func (f OwnerLoaderFunc) LoadOwnerID(ctx context.Context, resourceID string) (string, error) {
	return f(ctx, resourceID)
}

// OwnershipDecision is the outcome of a single authorization check.
type OwnershipDecision struct {
	PrincipalID     string
	PrincipalRole   UserRole
	ResourceID      string
	ResourceOwnerID string
	Allowed         bool
}

// OwnershipGuard permits an action when the principal owns the resource or
// holds an elevated role. One guard serves every resource kind; the loader
// selects the kind.
type OwnershipGuard struct {
	logger       Logger
	activitySink ActivitySink
	metrics      *Metrics
}

// NewOwnershipGuard returns a new OwnershipGuard
func NewOwnershipGuard() *OwnershipGuard {
	return &OwnershipGuard{
		logger:       NewLogger("trust.ownership"),
		activitySink: noopActivitySink{},
	}
}

func (g *OwnershipGuard) WithLogger(logger Logger) *OwnershipGuard {
	g.logger = loggerOrDefault(logger, "trust.ownership")
	return g
}

// WithActivitySink configures an ActivitySink for denied decisions.
func (g *OwnershipGuard) WithActivitySink(sink ActivitySink) *OwnershipGuard {
	g.activitySink = normalizeActivitySink(sink)
	return g
}

func (g *OwnershipGuard) WithMetrics(m *Metrics) *OwnershipGuard {
	g.metrics = m
	return g
}

// Authorize decides whether principal may act on resourceID. Elevated roles
// are allowed whoever owns the resource, but a missing resource is
// ErrResourceNotFound for every role. The returned decision is set for every
// outcome except loader failures.
func (g *OwnershipGuard) Authorize(ctx context.Context, principal Principal, resourceID string, loader OwnerLoader) (*OwnershipDecision, error) {
	decision := &OwnershipDecision{
		PrincipalID:   principal.ID,
		PrincipalRole: roleOrDefault(principal.Role),
		ResourceID:    resourceID,
	}

	if principal.ID == "" {
		g.metrics.ownership("unauthenticated")
		return decision, ErrAuthenticationRequired
	}

	ownerID, err := loader.LoadOwnerID(ctx, resourceID)
	if errors.Is(err, ErrResourceNotFound) || (err == nil && ownerID == "") {
		g.metrics.ownership("not_found")
		return decision, ErrResourceNotFound
	}
	if err != nil {
		g.logger.Error("resource owner lookup failed", "resource", resourceID, "error", err)
		g.metrics.ownership("error")
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load resource owner")
	}

	decision.ResourceOwnerID = ownerID

	if decision.PrincipalRole.IsElevated() {
		decision.Allowed = true
		g.metrics.ownership("elevated")
		return decision, nil
	}

	if ownerID != principal.ID {
		g.metrics.ownership("denied")
		g.logger.Info("ownership check denied", "principal", principal.ID, "resource", resourceID)
		recordActivity(ctx, g.activitySink, g.logger, ActivityEvent{
			EventType: ActivityEventAccessDenied,
			ActorID:   principal.ID,
			Metadata: map[string]any{
				"resource": resourceID,
				"owner":    ownerID,
			},
		})
		return decision, ErrPermissionDenied
	}

	decision.Allowed = true
	g.metrics.ownership("owner")
	return decision, nil
}

// RequireOwnership returns a middleware authorizing the principal set by the
// SessionGate against the resource named by the route param.
func (g *OwnershipGuard) RequireOwnership(loader OwnerLoader, param string, errorHandler ...fiber.ErrorHandler) fiber.Handler {
	onError := ErrorHandler
	if len(errorHandler) > 0 && errorHandler[0] != nil {
		onError = errorHandler[0]
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromFiber(c)
		if !ok {
			return onError(c, ErrAuthenticationRequired)
		}

		if _, err := g.Authorize(c.UserContext(), principal, c.Params(param), loader); err != nil {
			return onError(c, err)
		}

		return c.Next()
	}
}
