package trust

import (
	"context"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultInvitationExpireDays is used when CreateInvitation gets a non
// positive expiry.
const DefaultInvitationExpireDays = 7

// InvitationQueryParam carries the token in registration links.
const InvitationQueryParam = "invitation"

// Invitation is the persisted record behind an invitation token.
type Invitation struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	ExpireAt  time.Time  `json:"expire_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatorID string     `json:"creator_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// InvitationState is the operator facing status of an invitation.
type InvitationState string

const (
	InvitationActive  InvitationState = "active"
	InvitationUsed    InvitationState = "used"
	InvitationExpired InvitationState = "expired"
)

// InvitationStatus keeps the used and expired cases apart for admin listings.
// Used wins over expired.
func InvitationStatus(inv *Invitation, now time.Time) InvitationState {
	switch {
	case inv.Used:
		return InvitationUsed
	case !now.Before(inv.ExpireAt):
		return InvitationExpired
	default:
		return InvitationActive
	}
}

// Invitation rejection reasons. They are logged and recorded, never returned.
const (
	invitationBadSignature = "bad_signature"
	invitationNotFound     = "not_found"
	invitationUsed         = "used"
	invitationExpired      = "expired"
	invitationRaceLost     = "already_redeemed"
)

// InvitationIssuer creates invitations, mails signed registration links and
// redeems the returned tokens.
type InvitationIssuer struct {
	store        InvitationStore
	signer       *TokenSigner
	mailer       Mailer
	baseURL      string
	logger       Logger
	activitySink ActivitySink
	metrics      *Metrics
	now          func() time.Time
}

// NewInvitationIssuer returns a new InvitationIssuer. baseURL is the public
// origin registration links point to.
func NewInvitationIssuer(store InvitationStore, signer *TokenSigner, mailer Mailer, baseURL string) *InvitationIssuer {
	return &InvitationIssuer{
		store:        store,
		signer:       signer,
		mailer:       mailer,
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       NewLogger("trust.invitation"),
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

func (s *InvitationIssuer) WithLogger(logger Logger) *InvitationIssuer {
	s.logger = loggerOrDefault(logger, "trust.invitation")
	return s
}

// WithActivitySink configures an ActivitySink for invitation events.
func (s *InvitationIssuer) WithActivitySink(sink ActivitySink) *InvitationIssuer {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

func (s *InvitationIssuer) WithMetrics(m *Metrics) *InvitationIssuer {
	s.metrics = m
	return s
}

// WithClock overrides the time source.
func (s *InvitationIssuer) WithClock(now func() time.Time) *InvitationIssuer {
	if now != nil {
		s.now = now
	}
	return s
}

// RegistrationLink builds <baseURL>/register?invitation=<token>.
func (s *InvitationIssuer) RegistrationLink(subjectID string) string {
	q := url.Values{}
	q.Set(InvitationQueryParam, s.signer.CreateToken(subjectID))
	return s.baseURL + "/register?" + q.Encode()
}

// CreateInvitation stores a new invitation for email and mails the link. When
// mailing fails the stored invitation is returned along with a
// DeliveryFailure error; ResendInvitation retries delivery.
func (s *InvitationIssuer) CreateInvitation(ctx context.Context, email string, expireDays int, creatorID string) (*Invitation, error) {
	email = normalizeEmail(email)

	if err := validateInvitationEmail(email); err != nil {
		return nil, err
	}

	if expireDays <= 0 {
		expireDays = DefaultInvitationExpireDays
	}

	now := s.now().UTC()

	existing, err := s.store.FindActiveByEmail(ctx, email, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up invitations")
	}
	if existing != nil {
		s.logger.Info("duplicate invitation rejected", "invitation", shortID(existing.ID))
		return nil, ErrDuplicateInvitation
	}

	inv := &Invitation{
		ID:        uuid.New().String(),
		Email:     email,
		ExpireAt:  now.Add(time.Duration(expireDays) * 24 * time.Hour),
		CreatorID: creatorID,
		CreatedAt: now,
	}

	if err := s.store.Create(ctx, inv); err != nil {
		if errors.Is(err, ErrDuplicateInvitation) {
			s.logger.Info("duplicate invitation rejected on insert")
			return nil, ErrDuplicateInvitation
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to create invitation")
	}

	s.metrics.invitation("created")
	s.logger.Info("invitation created", "invitation", shortID(inv.ID), "creator", creatorID)
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: ActivityEventInvitationCreated,
		ActorID:   creatorID,
		Metadata: map[string]any{
			"invitation": inv.ID,
			"expire_at":  inv.ExpireAt,
		},
	})

	if err := s.deliver(ctx, inv); err != nil {
		return inv, err
	}

	return inv, nil
}

// ResendInvitation mails the link of an existing, still redeemable invitation.
func (s *InvitationIssuer) ResendInvitation(ctx context.Context, subjectID string) (*Invitation, error) {
	inv, err := s.store.FindBySubjectID(ctx, subjectID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load invitation")
	}
	if inv == nil {
		return nil, ErrResourceNotFound
	}

	if InvitationStatus(inv, s.now()) != InvitationActive {
		return nil, ErrInvitationInvalid
	}

	if err := s.deliver(ctx, inv); err != nil {
		return inv, err
	}

	return inv, nil
}

func (s *InvitationIssuer) deliver(ctx context.Context, inv *Invitation) error {
	err := s.mailer.Send(ctx, inv.Email, MailInvitation, map[string]any{
		"link":      s.RegistrationLink(inv.ID),
		"email":     inv.Email,
		"expire_at": inv.ExpireAt,
	})
	if err == nil {
		s.metrics.invitation("delivered")
		return nil
	}

	s.metrics.invitation("delivery_failed")
	s.logger.Error("invitation delivery failed", "invitation", shortID(inv.ID), "error", err)
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: ActivityEventInvitationDelivery,
		ActorID:   inv.CreatorID,
		Metadata: map[string]any{
			"invitation": inv.ID,
			"error":      err.Error(),
		},
	})

	return deliveryFailure(err, MailInvitation).
		WithMetadata(map[string]any{"invitation": inv.ID})
}

// ValidateInvitation runs every redemption check without consuming the
// invitation.
func (s *InvitationIssuer) ValidateInvitation(ctx context.Context, token string) (*Invitation, error) {
	inv, reason, err := s.check(ctx, token)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		s.reject(ctx, token, reason)
		return nil, ErrInvitationInvalid
	}
	return inv, nil
}

// RedeemInvitation checks the token signature, that the record exists, that it
// is unused and unexpired, then marks it used. Every failing check returns
// ErrInvitationInvalid.
func (s *InvitationIssuer) RedeemInvitation(ctx context.Context, token string) (string, error) {
	inv, err := s.RedeemInvitationRecord(ctx, token)
	if err != nil {
		return "", err
	}
	return inv.ID, nil
}

// RedeemInvitationRecord is RedeemInvitation returning the whole record.
func (s *InvitationIssuer) RedeemInvitationRecord(ctx context.Context, token string) (*Invitation, error) {
	inv, reason, err := s.check(ctx, token)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		s.reject(ctx, token, reason)
		return nil, ErrInvitationInvalid
	}

	usedAt := s.now().UTC()
	marked, err := s.store.MarkUsed(ctx, inv.ID, usedAt)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to mark invitation used")
	}
	if !marked {
		s.reject(ctx, token, invitationRaceLost)
		return nil, ErrInvitationInvalid
	}

	inv.Used = true
	inv.UsedAt = &usedAt

	s.metrics.invitation("redeemed")
	s.logger.Info("invitation redeemed", "invitation", shortID(inv.ID))
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: ActivityEventInvitationRedeemed,
		Metadata:  map[string]any{"invitation": inv.ID},
	})

	return inv, nil
}

// check returns the invitation or the reason it is not redeemable. err is
// only set for store failures.
func (s *InvitationIssuer) check(ctx context.Context, token string) (*Invitation, string, error) {
	subjectID, ok := s.signer.VerifyToken(token)
	if !ok {
		return nil, invitationBadSignature, nil
	}

	inv, err := s.store.FindBySubjectID(ctx, subjectID)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.CategoryInternal, "failed to load invitation")
	}
	if inv == nil {
		return nil, invitationNotFound, nil
	}

	if inv.Used {
		return nil, invitationUsed, nil
	}

	if !s.now().Before(inv.ExpireAt) {
		return nil, invitationExpired, nil
	}

	return inv, "", nil
}

func (s *InvitationIssuer) reject(ctx context.Context, token, reason string) {
	s.metrics.invitation("rejected_" + reason)
	s.logger.Info("invitation rejected", "reason", reason)

	meta := map[string]any{"reason": reason}
	if subjectID, ok := s.signer.VerifyToken(token); ok {
		meta["invitation"] = subjectID
	}

	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: ActivityEventInvitationRejected,
		Metadata:  meta,
	})
}

// InvitationListing is an invitation with its computed status.
type InvitationListing struct {
	*Invitation
	Status InvitationState `json:"status"`
}

// ListInvitations returns every invitation with its status.
func (s *InvitationIssuer) ListInvitations(ctx context.Context) ([]InvitationListing, error) {
	invitations, err := s.store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list invitations")
	}

	now := s.now()
	out := make([]InvitationListing, 0, len(invitations))
	for _, inv := range invitations {
		out = append(out, InvitationListing{
			Invitation: inv,
			Status:     InvitationStatus(inv, now),
		})
	}
	return out, nil
}

// DeleteInvitation removes an invitation, invalidating its token.
func (s *InvitationIssuer) DeleteInvitation(ctx context.Context, subjectID, actorID string) error {
	inv, err := s.store.FindBySubjectID(ctx, subjectID)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to load invitation")
	}
	if inv == nil {
		return ErrResourceNotFound
	}

	if err := s.store.Delete(ctx, subjectID); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to delete invitation")
	}

	s.metrics.invitation("deleted")
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: ActivityEventInvitationDeleted,
		ActorID:   actorID,
		Metadata:  map[string]any{"invitation": subjectID},
	})

	return nil
}

func validateInvitationEmail(email string) error {
	err := validation.Errors{
		"email": validation.Validate(email, validation.Required, is.EmailFormat),
	}.Filter()
	if err != nil {
		return errors.FromOzzoValidation(err, "invalid invitation").
			WithCode(errors.CodeBadRequest)
	}
	return nil
}
