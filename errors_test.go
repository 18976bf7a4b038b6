package trust_test

import (
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	trust "github.com/goliatone/go-trust"
	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil", err: nil, expected: http.StatusOK},
		{name: "authentication required", err: trust.ErrAuthenticationRequired, expected: http.StatusUnauthorized},
		{name: "invalid credentials", err: trust.ErrInvalidCredentials, expected: http.StatusUnauthorized},
		{name: "permission denied", err: trust.ErrPermissionDenied, expected: http.StatusForbidden},
		{name: "not found", err: trust.ErrResourceNotFound, expected: http.StatusNotFound},
		{name: "invitation invalid", err: trust.ErrInvitationInvalid, expected: http.StatusBadRequest},
		{name: "duplicate invitation", err: trust.ErrDuplicateInvitation, expected: http.StatusConflict},
		{name: "delivery failure", err: trust.ErrDeliveryFailure, expected: http.StatusBadGateway},
		{name: "store unavailable reads as unauthenticated", err: trust.ErrStoreUnavailable, expected: http.StatusUnauthorized},
		{name: "two factor invalid", err: trust.ErrTwoFactorInvalid, expected: http.StatusUnauthorized},
		{name: "reset code invalid", err: trust.ErrResetCodeInvalid, expected: http.StatusBadRequest},
		{name: "category fallback", err: goerrors.New("nope", goerrors.CategoryAuthz), expected: http.StatusForbidden},
		{name: "plain error", err: errors.New("boom"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, trust.StatusCode(tt.err))
		})
	}
}

func TestTaxonomyKindsAreDistinct(t *testing.T) {
	sentinels := []*goerrors.Error{
		trust.ErrAuthenticationRequired,
		trust.ErrInvalidCredentials,
		trust.ErrPermissionDenied,
		trust.ErrResourceNotFound,
		trust.ErrInvitationInvalid,
		trust.ErrDuplicateInvitation,
		trust.ErrDeliveryFailure,
		trust.ErrStoreUnavailable,
	}

	seen := map[string]bool{}
	for _, err := range sentinels {
		assert.NotEmpty(t, err.TextCode)
		assert.False(t, seen[err.TextCode], "text code %s reused", err.TextCode)
		seen[err.TextCode] = true
	}
}

func TestIsStoreUnavailable(t *testing.T) {
	assert.True(t, trust.IsStoreUnavailable(trust.ErrStoreUnavailable))
	assert.False(t, trust.IsStoreUnavailable(trust.ErrAuthenticationRequired))
	assert.False(t, trust.IsStoreUnavailable(errors.New("store unavailable")))
	assert.False(t, trust.IsStoreUnavailable(nil))
}

func TestIsDeliveryFailure(t *testing.T) {
	assert.True(t, trust.IsDeliveryFailure(trust.ErrDeliveryFailure))
	assert.False(t, trust.IsDeliveryFailure(trust.ErrInvitationInvalid))
	assert.False(t, trust.IsDeliveryFailure(errors.New("mail delivery failed")))
}
