package trust

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

// CookieConfig describes the session cookie attributes.
type CookieConfig struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

func (cc CookieConfig) name() string {
	if cc.Name == "" {
		return DefaultSessionCookieName
	}
	return cc.Name
}

// SetSessionCookie issues the session cookie. MaxAge is the session TTL
// expressed in seconds.
func SetSessionCookie(c *fiber.Ctx, cc CookieConfig, sessionID string) {
	c.Cookie(&fiber.Cookie{
		Name:     cc.name(),
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(cc.TTL / time.Second),
		Expires:  time.Now().Add(cc.TTL),
		HTTPOnly: true,
		Secure:   cc.Secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

// ClearSessionCookie expires the session cookie with the attributes it was
// issued with.
func ClearSessionCookie(c *fiber.Ctx, cc CookieConfig) {
	c.Cookie(&fiber.Cookie{
		Name:     cc.name(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   cc.Secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

// ErrorBody is the JSON error payload sent to clients.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries only the public fields of an error.
type ErrorDetail struct {
	Category string `json:"category"`
	TextCode string `json:"text_code,omitempty"`
	Message  string `json:"message"`

	ValidationErrors errors.ValidationErrors `json:"validation_errors,omitempty"`
}

// ErrorHandler is the default fiber error handler for trust routes.
var ErrorHandler = NewErrorHandler(nil)

// NewErrorHandler returns a fiber error handler mapping the error taxonomy to
// JSON responses. Causes are logged, never sent.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = loggerOrDefault(logger, "trust.http")

	return func(c *fiber.Ctx, err error) error {
		status, body := errorResponse(err)

		if status >= http.StatusInternalServerError || IsStoreUnavailable(err) {
			logger.Error("request failed", "path", c.Path(), "status", status, "error", err)
		} else {
			logger.Debug("request rejected", "path", c.Path(), "status", status, "text_code", body.Error.TextCode)
		}

		return c.Status(status).JSON(body)
	}
}

func errorResponse(err error) (int, ErrorBody) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, ErrorBody{Error: ErrorDetail{
			Category: string(errors.CategoryBadInput),
			Message:  fiberErr.Message,
		}}
	}

	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
			Category: string(errors.CategoryInternal),
			Message:  "an unexpected server error occurred",
		}}
	}

	if richErr.TextCode == TextCodeStoreUnavailable {
		richErr = ErrAuthenticationRequired
	}

	status := StatusCode(richErr)
	message := richErr.Message
	if status >= http.StatusInternalServerError && richErr.TextCode == "" {
		message = "an unexpected server error occurred"
	}

	return status, ErrorBody{Error: ErrorDetail{
		Category:         string(richErr.Category),
		TextCode:         richErr.TextCode,
		Message:          message,
		ValidationErrors: richErr.ValidationErrors,
	}}
}
