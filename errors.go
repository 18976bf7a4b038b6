package trust

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	TextCodeInvalidCredentials     = errors.TextCodeInvalidCredentials
	TextCodePermissionDenied       = "PERMISSION_DENIED"
	TextCodeResourceNotFound       = "RESOURCE_NOT_FOUND"
	TextCodeInvitationInvalid      = "INVITATION_INVALID"
	TextCodeDuplicateInvitation    = "DUPLICATE_INVITATION"
	TextCodeDeliveryFailure        = "DELIVERY_FAILURE"
	TextCodeStoreUnavailable       = "STORE_UNAVAILABLE"
	TextCodeTwoFactorInvalid       = "TWO_FACTOR_INVALID"
	TextCodeResetCodeInvalid       = "RESET_CODE_INVALID"
	TextCodeEmptyPassword          = errors.TextCodeEmptyPassword
	TextCodeInvalidConfig          = "INVALID_CONFIG"
)

// ErrAuthenticationRequired is returned for missing, unknown or expired
// sessions. It carries no detail.
var ErrAuthenticationRequired = errors.New("unauthenticated", errors.CategoryAuth).
	WithTextCode(TextCodeAuthenticationRequired).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidCredentials covers both unknown emails and wrong passwords.
var ErrInvalidCredentials = errors.New("the credentials provided are invalid", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrPermissionDenied is returned when an authenticated principal may not act on a resource.
var ErrPermissionDenied = errors.New("permission denied", errors.CategoryAuthz).
	WithTextCode(TextCodePermissionDenied).
	WithCode(errors.CodeForbidden)

// ErrResourceNotFound is returned when an authorization check targets a missing resource.
var ErrResourceNotFound = errors.New("resource not found", errors.CategoryNotFound).
	WithTextCode(TextCodeResourceNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvitationInvalid collapses bad signature, used and expired invitations.
var ErrInvitationInvalid = errors.New("invitation invalid or expired", errors.CategoryBadInput).
	WithTextCode(TextCodeInvitationInvalid).
	WithCode(errors.CodeBadRequest)

// ErrDuplicateInvitation is returned when an active invitation already exists for the email.
var ErrDuplicateInvitation = errors.New("an active invitation already exists for this email", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateInvitation).
	WithCode(errors.CodeConflict)

// ErrDeliveryFailure is returned when a record was stored but the mail
// carrying it could not be dispatched.
var ErrDeliveryFailure = errors.New("mail delivery failed", errors.CategoryExternal).
	WithTextCode(TextCodeDeliveryFailure).
	WithCode(http.StatusBadGateway)

// ErrStoreUnavailable marks session store connectivity failures. It never
// reaches clients; the gate maps it to ErrAuthenticationRequired.
var ErrStoreUnavailable = errors.New("session store unavailable", errors.CategoryExternal).
	WithTextCode(TextCodeStoreUnavailable).
	WithCode(http.StatusServiceUnavailable)

// ErrTwoFactorInvalid is returned for a wrong, expired or reused second factor code.
var ErrTwoFactorInvalid = errors.New("verification code invalid or expired", errors.CategoryAuth).
	WithTextCode(TextCodeTwoFactorInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrResetCodeInvalid is returned for a wrong, expired or reused password reset code.
var ErrResetCodeInvalid = errors.New("reset code invalid or expired", errors.CategoryBadInput).
	WithTextCode(TextCodeResetCodeInvalid).
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when a password does not match its hash.
var ErrMismatchedHashAndPassword = errors.New("password does not match", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(errors.CodeBadRequest)

// storeUnavailable keeps the underlying cause for logs while exposing the
// StoreUnavailable text code.
func storeUnavailable(cause error, op string) *errors.Error {
	clone := ErrStoreUnavailable.Clone()
	clone.Source = cause
	return clone.WithMetadata(map[string]any{"op": op})
}

// deliveryFailure keeps the mailer error as the cause of a DeliveryFailure.
func deliveryFailure(cause error, kind MailKind) *errors.Error {
	clone := ErrDeliveryFailure.Clone()
	clone.Source = cause
	return clone.WithMetadata(map[string]any{"mail": string(kind)})
}

// IsStoreUnavailable reports whether err originates from a session store outage.
func IsStoreUnavailable(err error) bool {
	return hasTextCode(err, TextCodeStoreUnavailable)
}

// IsDeliveryFailure reports whether err is a mail dispatch failure.
func IsDeliveryFailure(err error) bool {
	return hasTextCode(err, TextCodeDeliveryFailure)
}

func hasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// StatusCode maps an error to the HTTP status the transport layer should use.
// Errors outside the taxonomy map to 500.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	// store outages are reported as plain authentication failures
	if richErr.TextCode == TextCodeStoreUnavailable {
		return http.StatusUnauthorized
	}

	if richErr.Code != 0 {
		return richErr.Code
	}

	switch richErr.Category {
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
