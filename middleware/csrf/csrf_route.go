package csrf

import (
	"github.com/gofiber/fiber/v2"
	trust "github.com/goliatone/go-trust"
)

// RouteConfig controls how the CSRF token bootstrap endpoint behaves.
type RouteConfig struct {
	// Path is the route registered for retrieving the CSRF token.
	Path string
	// RouteName is the name assigned to the registered route.
	RouteName string
}

const (
	defaultRoutePath = "/auth/csrf"
	defaultRouteName = "auth.csrf.get"
)

// RegisterRoutes registers a GET endpoint that returns the CSRF token and
// the form field and header names. The protector middleware must run first
// so the token is in locals; callers without a session get 401.
func (p *Protector) RegisterRoutes(r fiber.Router, cfg ...RouteConfig) {
	conf := routeConfigDefault(cfg...)
	r.Get(conf.Path, p.tokenHandler()).Name(conf.RouteName)
}

func routeConfigDefault(cfg ...RouteConfig) RouteConfig {
	conf := RouteConfig{
		Path:      defaultRoutePath,
		RouteName: defaultRouteName,
	}
	if len(cfg) == 0 {
		return conf
	}

	c := cfg[0]
	if c.Path != "" {
		conf.Path = c.Path
	}

	if c.RouteName != "" {
		conf.RouteName = c.RouteName
	}

	return conf
}

func (p *Protector) tokenHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, _ := c.Locals(p.cfg.ContextKey).(string)
		if token == "" {
			return p.cfg.ErrorHandler(c, trust.ErrAuthenticationRequired)
		}

		c.Set(fiber.HeaderCacheControl, "no-store, max-age=0")
		c.Set("Pragma", "no-cache")
		c.Set("Expires", "0")

		return c.JSON(fiber.Map{
			"token":       token,
			"field_name":  p.cfg.FormFieldName,
			"header_name": p.cfg.HeaderName,
		})
	}
}
