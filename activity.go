package trust

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess         ActivityEventType = "trust.login.success"
	ActivityEventLoginFailure         ActivityEventType = "trust.login.failure"
	ActivityEventLogout               ActivityEventType = "trust.logout"
	ActivityEventTwoFactorSuccess     ActivityEventType = "trust.two_factor.success"
	ActivityEventTwoFactorFailure     ActivityEventType = "trust.two_factor.failure"
	ActivityEventGateRejected         ActivityEventType = "trust.gate.rejected"
	ActivityEventInvitationCreated    ActivityEventType = "trust.invitation.created"
	ActivityEventInvitationDelivery   ActivityEventType = "trust.invitation.delivery_failed"
	ActivityEventInvitationRedeemed   ActivityEventType = "trust.invitation.redeemed"
	ActivityEventInvitationRejected   ActivityEventType = "trust.invitation.rejected"
	ActivityEventInvitationDeleted    ActivityEventType = "trust.invitation.deleted"
	ActivityEventAccessDenied         ActivityEventType = "trust.ownership.denied"
	ActivityEventPasswordResetRequest ActivityEventType = "trust.password.reset_requested"
	ActivityEventPasswordResetSuccess ActivityEventType = "trust.password.reset"
	ActivityEventUserRegistered       ActivityEventType = "trust.user.registered"
)

// ActivityEvent captures audit-friendly information about a trust decision.
type ActivityEvent struct {
	EventType  ActivityEventType
	ActorID    string
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity is best effort: sink errors are logged, never returned.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink record error", "event", event.EventType, "error", err)
	}
}
