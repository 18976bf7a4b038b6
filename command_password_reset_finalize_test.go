package trust_test

import (
	"context"
	"errors"
	"testing"
	"time"

	trust "github.com/goliatone/go-trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFinalizePasswordResetHandlerEmitsActivity(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	codes := trust.NewRedisCodeStore(client)
	users := &MockUsers{}
	sink := &MockActivitySink{}

	require.NoError(t, codes.Put(ctx, trust.CodePurposePasswordReset, "ada@example.com", "123456", time.Minute))

	users.On("FindByEmailWithRole", mock.Anything, "ada@example.com").
		Return(&trust.UserRecord{ID: "user-1", Email: "ada@example.com"}, nil).Once()
	users.On("UpdatePasswordHash", mock.Anything, "user-1", mock.MatchedBy(func(hash string) bool {
		return trust.ComparePasswordAndHash("password12345", hash) == nil
	})).Return(nil).Once()

	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt trust.ActivityEvent) bool {
		return evt.EventType == trust.ActivityEventPasswordResetSuccess &&
			evt.UserID == "user-1"
	})).Return(nil).Once()

	handler := trust.NewFinalizePasswordResetHandler(users, users, codes, nil).
		WithActivitySink(sink).
		WithLogger(testLogger)

	err := handler.Execute(ctx, trust.FinalizePasswordResetMessage{
		Email:    "Ada@Example.com",
		Code:     " 123456 ",
		Password: "password12345",
	})
	require.NoError(t, err)

	users.AssertExpectations(t)
	sink.AssertExpectations(t)

	err = handler.Execute(ctx, trust.FinalizePasswordResetMessage{
		Email:    "ada@example.com",
		Code:     "123456",
		Password: "password12345",
	})
	assert.Same(t, trust.ErrResetCodeInvalid, err, "reset codes are single use")
}

func TestFinalizePasswordResetHandlerRejects(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	codes := trust.NewRedisCodeStore(client)
	users := &MockUsers{}

	handler := trust.NewFinalizePasswordResetHandler(users, users, codes, nil).WithLogger(testLogger)

	require.NoError(t, codes.Put(ctx, trust.CodePurposePasswordReset, "ada@example.com", "123456", time.Minute))

	err := handler.Execute(ctx, trust.FinalizePasswordResetMessage{Email: "ada@example.com", Code: "123456", Password: "short"})
	require.Error(t, err)
	assert.NotSame(t, trust.ErrResetCodeInvalid, err)

	err = handler.Execute(ctx, trust.FinalizePasswordResetMessage{Email: "ada@example.com", Code: "654321", Password: "password12345"})
	assert.Same(t, trust.ErrResetCodeInvalid, err)

	err = handler.Execute(ctx, trust.FinalizePasswordResetMessage{Email: "eve@example.com", Code: "123456", Password: "password12345"})
	assert.Same(t, trust.ErrResetCodeInvalid, err, "codes are bound to the email")

	mr.FastForward(2 * time.Minute)
	err = handler.Execute(ctx, trust.FinalizePasswordResetMessage{Email: "ada@example.com", Code: "123456", Password: "password12345"})
	assert.Same(t, trust.ErrResetCodeInvalid, err)

	users.AssertNotCalled(t, "UpdatePasswordHash", mock.Anything, mock.Anything, mock.Anything)
}

func TestFinalizePasswordResetHandlerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := trust.NewFinalizePasswordResetHandler(&MockUsers{}, &MockUsers{}, nil, nil).WithLogger(testLogger)
	err := handler.Execute(ctx, trust.FinalizePasswordResetMessage{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
