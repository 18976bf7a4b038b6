package trust

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// DefaultPrincipalLocalsKey is the fiber locals key the SessionGate uses.
const DefaultPrincipalLocalsKey = "trust.principal"

var principalCtxKey = &contextKey{"principal"}

type contextKey struct {
	name string
}

// WithPrincipal sets the Principal in the given context
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, principal)
}

// PrincipalFromContext finds the principal in the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalCtxKey).(Principal)
	return p, ok
}

// PrincipalFromFiber extracts the principal placed by the SessionGate.
func PrincipalFromFiber(c *fiber.Ctx, key ...string) (Principal, bool) {
	k := DefaultPrincipalLocalsKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}

	if p, ok := c.Locals(k).(Principal); ok {
		return p, true
	}

	return PrincipalFromContext(c.UserContext())
}
