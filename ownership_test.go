package trust_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	trust "github.com/goliatone/go-trust"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func staticOwners(owners map[string]string) trust.OwnerLoader {
	return trust.OwnerLoaderFunc(func(_ context.Context, id string) (string, error) {
		owner, ok := owners[id]
		if !ok {
			return "", trust.ErrResourceNotFound
		}
		return owner, nil
	})
}

func TestOwnershipGuardAuthorize(t *testing.T) {
	loader := staticOwners(map[string]string{
		"event-1":  "user-1",
		"orphaned": "",
	})

	tests := []struct {
		name      string
		principal trust.Principal
		resource  string
		wantErr   error
		allowed   bool
	}{
		{
			name:      "owner",
			principal: trust.Principal{ID: "user-1", Role: trust.RoleMember},
			resource:  "event-1",
			allowed:   true,
		},
		{
			name:      "other member",
			principal: trust.Principal{ID: "user-2", Role: trust.RoleMember},
			resource:  "event-1",
			wantErr:   trust.ErrPermissionDenied,
		},
		{
			name:      "empty role is member",
			principal: trust.Principal{ID: "user-2"},
			resource:  "event-1",
			wantErr:   trust.ErrPermissionDenied,
		},
		{
			name:      "admin on foreign resource",
			principal: trust.Principal{ID: "admin-1", Role: trust.RoleAdmin},
			resource:  "event-1",
			allowed:   true,
		},
		{
			name:      "member on missing resource",
			principal: trust.Principal{ID: "user-1", Role: trust.RoleMember},
			resource:  "missing",
			wantErr:   trust.ErrResourceNotFound,
		},
		{
			name:      "admin on missing resource",
			principal: trust.Principal{ID: "admin-1", Role: trust.RoleAdmin},
			resource:  "missing",
			wantErr:   trust.ErrResourceNotFound,
		},
		{
			name:      "resource without owner",
			principal: trust.Principal{ID: "user-1", Role: trust.RoleMember},
			resource:  "orphaned",
			wantErr:   trust.ErrResourceNotFound,
		},
		{
			name:      "anonymous",
			principal: trust.Principal{},
			resource:  "event-1",
			wantErr:   trust.ErrAuthenticationRequired,
		},
	}

	guard := trust.NewOwnershipGuard().WithLogger(testLogger)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := guard.Authorize(context.Background(), tt.principal, tt.resource, loader)
			require.NotNil(t, decision)
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.resource, decision.ResourceID)

			if tt.wantErr != nil {
				assert.Same(t, tt.wantErr, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, "user-1", decision.ResourceOwnerID)
		})
	}
}

func TestOwnershipGuardLoaderFailure(t *testing.T) {
	loader := trust.OwnerLoaderFunc(func(context.Context, string) (string, error) {
		return "", errors.New("db timeout")
	})

	decision, err := trust.NewOwnershipGuard().WithLogger(testLogger).
		Authorize(context.Background(), trust.Principal{ID: "admin-1", Role: trust.RoleAdmin}, "event-1", loader)
	require.Error(t, err)
	assert.Nil(t, decision)
	assert.Equal(t, http.StatusInternalServerError, trust.StatusCode(err))
}

func TestOwnershipGuardRecordsDenials(t *testing.T) {
	sink := &MockActivitySink{}
	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt trust.ActivityEvent) bool {
		return evt.EventType == trust.ActivityEventAccessDenied &&
			evt.ActorID == "user-2" &&
			evt.Metadata["resource"] == "event-1"
	})).Return(nil).Once()

	metrics := trust.NewMetrics(prometheus.NewRegistry())
	guard := trust.NewOwnershipGuard().
		WithLogger(testLogger).
		WithActivitySink(sink).
		WithMetrics(metrics)

	loader := staticOwners(map[string]string{"event-1": "user-1"})

	_, err := guard.Authorize(context.Background(), trust.Principal{ID: "user-2"}, "event-1", loader)
	assert.Same(t, trust.ErrPermissionDenied, err)

	_, err = guard.Authorize(context.Background(), trust.Principal{ID: "user-1"}, "event-1", loader)
	assert.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OwnershipDecision.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OwnershipDecision.WithLabelValues("owner")))
	sink.AssertExpectations(t)
}

func TestRequireOwnershipMiddleware(t *testing.T) {
	guard := trust.NewOwnershipGuard().WithLogger(testLogger)
	loader := staticOwners(map[string]string{"issue-1": "user-1"})

	withPrincipal := func(p *trust.Principal) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if p != nil {
				c.Locals(trust.DefaultPrincipalLocalsKey, *p)
			}
			return c.Next()
		}
	}

	tests := []struct {
		name      string
		principal *trust.Principal
		path      string
		want      int
	}{
		{name: "owner", principal: &trust.Principal{ID: "user-1"}, path: "/issues/issue-1", want: http.StatusOK},
		{name: "non owner", principal: &trust.Principal{ID: "user-2"}, path: "/issues/issue-1", want: http.StatusForbidden},
		{name: "admin", principal: &trust.Principal{ID: "a", Role: trust.RoleAdmin}, path: "/issues/issue-1", want: http.StatusOK},
		{name: "missing", principal: &trust.Principal{ID: "a", Role: trust.RoleAdmin}, path: "/issues/nope", want: http.StatusNotFound},
		{name: "no principal", principal: nil, path: "/issues/issue-1", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/issues/:id", withPrincipal(tt.principal), guard.RequireOwnership(loader, "id"), func(c *fiber.Ctx) error {
				return c.SendString("ok")
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
