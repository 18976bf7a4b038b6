package trust_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	trust "github.com/goliatone/go-trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type invitationFixture struct {
	issuer *trust.InvitationIssuer
	store  *memInvitations
	mailer *captureMailer
	now    time.Time
}

func newInvitationFixture(t *testing.T) *invitationFixture {
	t.Helper()
	f := &invitationFixture{
		store:  newMemInvitations(),
		mailer: &captureMailer{},
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.issuer = trust.NewInvitationIssuer(f.store, newTestSigner(t), f.mailer, "https://trust.example.com/").
		WithLogger(testLogger).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *invitationFixture) tokenFromMail(t *testing.T) string {
	t.Helper()
	msg, ok := f.mailer.last()
	require.True(t, ok)
	link, err := url.Parse(msg.Data["link"].(string))
	require.NoError(t, err)
	return link.Query().Get(trust.InvitationQueryParam)
}

func TestCreateInvitation(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)

	inv, err := f.issuer.CreateInvitation(ctx, " New.Hire@Example.com ", 3, "admin-1")
	require.NoError(t, err)

	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, "new.hire@example.com", inv.Email)
	assert.Equal(t, f.now.Add(72*time.Hour), inv.ExpireAt)
	assert.False(t, inv.Used)
	assert.Equal(t, "admin-1", inv.CreatorID)

	msg, ok := f.mailer.last()
	require.True(t, ok)
	assert.Equal(t, trust.MailInvitation, msg.Kind)
	assert.Equal(t, "new.hire@example.com", msg.To)

	link := msg.Data["link"].(string)
	assert.True(t, strings.HasPrefix(link, "https://trust.example.com/register?invitation="), link)

	subjectID, ok := newTestSigner(t).VerifyToken(f.tokenFromMail(t))
	require.True(t, ok)
	assert.Equal(t, inv.ID, subjectID)
}

func TestCreateInvitationDefaultsExpiry(t *testing.T) {
	f := newInvitationFixture(t)

	inv, err := f.issuer.CreateInvitation(context.Background(), "a@example.com", 0, "")
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(trust.DefaultInvitationExpireDays*24*time.Hour), inv.ExpireAt)
}

func TestCreateInvitationRejectsBadEmail(t *testing.T) {
	f := newInvitationFixture(t)

	inv, err := f.issuer.CreateInvitation(context.Background(), "not-an-email", 7, "admin-1")
	require.Error(t, err)
	assert.Nil(t, inv)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.NotEmpty(t, richErr.ValidationErrors)
	assert.Zero(t, f.mailer.count())
}

func TestCreateInvitationDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)

	_, err := f.issuer.CreateInvitation(ctx, "dup@example.com", 7, "admin-1")
	require.NoError(t, err)

	_, err = f.issuer.CreateInvitation(ctx, "DUP@example.com", 7, "admin-1")
	assert.Same(t, trust.ErrDuplicateInvitation, err)

	f.now = f.now.Add(8 * 24 * time.Hour)
	_, err = f.issuer.CreateInvitation(ctx, "dup@example.com", 7, "admin-1")
	assert.NoError(t, err, "an expired invitation does not block a new one")
}

func TestCreateInvitationConcurrentSameEmail(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dupes   int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.issuer.CreateInvitation(ctx, "race@example.com", 7, "admin-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case err == trust.ErrDuplicateInvitation:
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 7, dupes)

	list, err := f.issuer.ListInvitations(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateInvitationDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)
	f.mailer.err = errors.New("smtp: 554")

	inv, err := f.issuer.CreateInvitation(ctx, "x@example.com", 7, "admin-1")
	require.Error(t, err)
	assert.True(t, trust.IsDeliveryFailure(err))
	require.NotNil(t, inv, "the stored invitation is returned")

	stored, err := f.store.FindBySubjectID(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	f.mailer.err = nil
	_, err = f.issuer.ResendInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.mailer.count())
}

func TestRedeemInvitation(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)

	inv, err := f.issuer.CreateInvitation(ctx, "r@example.com", 7, "admin-1")
	require.NoError(t, err)
	token := f.tokenFromMail(t)

	validated, err := f.issuer.ValidateInvitation(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, validated.ID)

	subjectID, err := f.issuer.RedeemInvitation(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, subjectID)

	stored, err := f.store.FindBySubjectID(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, stored.Used)
	require.NotNil(t, stored.UsedAt)

	_, err = f.issuer.RedeemInvitation(ctx, token)
	assert.Same(t, trust.ErrInvitationInvalid, err, "an invitation is redeemed once")
}

func TestRedeemInvitationRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		token func(t *testing.T, f *invitationFixture) string
	}{
		{
			name: "tampered signature",
			token: func(t *testing.T, f *invitationFixture) string {
				token := f.tokenFromMail(t)
				return token[:len(token)-2] + "xx"
			},
		},
		{
			name: "unknown subject with valid signature",
			token: func(t *testing.T, f *invitationFixture) string {
				return newTestSigner(t).CreateToken("00000000-0000-0000-0000-000000000000")
			},
		},
		{
			name: "expired",
			token: func(t *testing.T, f *invitationFixture) string {
				f.now = f.now.Add(8 * 24 * time.Hour)
				return f.tokenFromMail(t)
			},
		},
		{
			name: "expires exactly now",
			token: func(t *testing.T, f *invitationFixture) string {
				f.now = f.now.Add(7 * 24 * time.Hour)
				return f.tokenFromMail(t)
			},
		},
		{
			name: "deleted",
			token: func(t *testing.T, f *invitationFixture) string {
				token := f.tokenFromMail(t)
				id, _ := newTestSigner(t).VerifyToken(token)
				require.NoError(t, f.issuer.DeleteInvitation(context.Background(), id, "admin-1"))
				return token
			},
		},
		{
			name: "garbage",
			token: func(*testing.T, *invitationFixture) string {
				return "garbage"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInvitationFixture(t)
			_, err := f.issuer.CreateInvitation(ctx, "r@example.com", 7, "admin-1")
			require.NoError(t, err)

			token := tt.token(t, f)

			_, err = f.issuer.ValidateInvitation(ctx, token)
			assert.Same(t, trust.ErrInvitationInvalid, err)

			_, err = f.issuer.RedeemInvitation(ctx, token)
			assert.Same(t, trust.ErrInvitationInvalid, err)
		})
	}
}

func TestRedeemInvitationConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)

	_, err := f.issuer.CreateInvitation(ctx, "race@example.com", 7, "admin-1")
	require.NoError(t, err)
	token := f.tokenFromMail(t)

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.issuer.RedeemInvitation(ctx, token); err == nil {
				wins.Add(1)
			} else if err == trust.ErrInvitationInvalid {
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), losses.Load())
}

func TestRedeemInvitationEmitsActivity(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)
	sink := &MockActivitySink{}
	f.issuer.WithActivitySink(sink)

	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt trust.ActivityEvent) bool {
		return evt.EventType == trust.ActivityEventInvitationCreated
	})).Return(nil).Once()
	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt trust.ActivityEvent) bool {
		return evt.EventType == trust.ActivityEventInvitationRedeemed
	})).Return(nil).Once()
	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt trust.ActivityEvent) bool {
		return evt.EventType == trust.ActivityEventInvitationRejected && evt.Metadata["reason"] == "used"
	})).Return(errors.New("sink offline")).Once()

	_, err := f.issuer.CreateInvitation(ctx, "a@example.com", 7, "admin-1")
	require.NoError(t, err)
	token := f.tokenFromMail(t)

	_, err = f.issuer.RedeemInvitation(ctx, token)
	require.NoError(t, err)

	_, err = f.issuer.RedeemInvitation(ctx, token)
	assert.Same(t, trust.ErrInvitationInvalid, err, "sink failures do not change the outcome")

	sink.AssertExpectations(t)
}

func TestInvitationStatus(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		inv  trust.Invitation
		want trust.InvitationState
	}{
		{name: "active", inv: trust.Invitation{ExpireAt: now.Add(time.Hour)}, want: trust.InvitationActive},
		{name: "expired", inv: trust.Invitation{ExpireAt: now.Add(-time.Hour)}, want: trust.InvitationExpired},
		{name: "expires now", inv: trust.Invitation{ExpireAt: now}, want: trust.InvitationExpired},
		{name: "used", inv: trust.Invitation{ExpireAt: now.Add(time.Hour), Used: true}, want: trust.InvitationUsed},
		{name: "used and expired", inv: trust.Invitation{ExpireAt: now.Add(-time.Hour), Used: true}, want: trust.InvitationUsed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trust.InvitationStatus(&tt.inv, now))
		})
	}
}

func TestListAndDeleteInvitations(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)

	first, err := f.issuer.CreateInvitation(ctx, "one@example.com", 1, "admin-1")
	require.NoError(t, err)
	_, err = f.issuer.CreateInvitation(ctx, "two@example.com", 7, "admin-1")
	require.NoError(t, err)

	f.now = f.now.Add(2 * 24 * time.Hour)

	listing, err := f.issuer.ListInvitations(ctx)
	require.NoError(t, err)
	require.Len(t, listing, 2)
	assert.Equal(t, "two@example.com", listing[0].Email)
	assert.Equal(t, trust.InvitationActive, listing[0].Status)
	assert.Equal(t, trust.InvitationExpired, listing[1].Status)

	_, err = f.issuer.ResendInvitation(ctx, first.ID)
	assert.Same(t, trust.ErrInvitationInvalid, err)

	require.NoError(t, f.issuer.DeleteInvitation(ctx, first.ID, "admin-1"))
	assert.Same(t, trust.ErrResourceNotFound, f.issuer.DeleteInvitation(ctx, first.ID, "admin-1"))

	_, err = f.issuer.ResendInvitation(ctx, first.ID)
	assert.Same(t, trust.ErrResourceNotFound, err)
}
