// Package activitymap flattens trust activity events into a record shape
// that audit pipelines and log shippers can consume without importing trust.
package activitymap

import (
	"context"
	"strings"
	"time"

	trust "github.com/goliatone/go-trust"
)

const (
	// MetadataKeyOutcome is set to "allowed", "denied" or "failed".
	MetadataKeyOutcome = "outcome"
)

const (
	defaultChannel = "trust"
	defaultActorID = "anonymous"
)

// Object types a trust event can refer to.
const (
	ObjectSession    = "session"
	ObjectInvitation = "invitation"
	ObjectResource   = "resource"
	ObjectUser       = "user"
)

// Normalized is a transport agnostic activity record.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
	clock         func() time.Time
}

// Normalize converts a trust.ActivityEvent into a Normalized record. The
// object is inferred from the event type: invitation events point at the
// invitation id, ownership denials at the resource, everything else at the
// user.
func Normalize(event trust.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.clock()
	}

	objectType, objectID := resolveObject(event)

	return Normalized{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.ActorID),
			strings.TrimSpace(event.UserID),
			options.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt.UTC(),
	}
}

// WithChannel sets the channel for normalized records.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if channel = strings.TrimSpace(channel); channel != "" {
			opts.channel = channel
		}
	}
}

// WithActorFallback sets the actor id used when an event names no actor.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			opts.actorFallback = actorID
		}
	}
}

// WithClock sets the time used for events without a timestamp.
func WithClock(clock func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if clock != nil {
			opts.clock = clock
		}
	}
}

// Sink returns a trust.ActivitySink that normalizes every event and hands it
// to emit.
func Sink(emit func(Normalized) error, opts ...Option) trust.ActivitySink {
	return trust.ActivitySinkFunc(func(_ context.Context, event trust.ActivityEvent) error {
		return emit(Normalize(event, opts...))
	})
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		clock:         time.Now,
	}
}

func resolveObject(event trust.ActivityEvent) (string, string) {
	switch event.EventType {
	case trust.ActivityEventInvitationCreated,
		trust.ActivityEventInvitationDelivery,
		trust.ActivityEventInvitationRedeemed,
		trust.ActivityEventInvitationRejected,
		trust.ActivityEventInvitationDeleted:
		return ObjectInvitation, metadataString(event.Metadata, "invitation")
	case trust.ActivityEventAccessDenied:
		return ObjectResource, metadataString(event.Metadata, "resource")
	case trust.ActivityEventLogout,
		trust.ActivityEventGateRejected,
		trust.ActivityEventTwoFactorSuccess,
		trust.ActivityEventTwoFactorFailure:
		return ObjectSession, strings.TrimSpace(event.UserID)
	default:
		return ObjectUser, strings.TrimSpace(event.UserID)
	}
}

func normalizeMetadata(event trust.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}

	if _, exists := metadata[MetadataKeyOutcome]; !exists {
		metadata[MetadataKeyOutcome] = outcome(event.EventType)
	}

	return metadata
}

func outcome(eventType trust.ActivityEventType) string {
	switch eventType {
	case trust.ActivityEventLoginFailure,
		trust.ActivityEventTwoFactorFailure,
		trust.ActivityEventGateRejected,
		trust.ActivityEventInvitationRejected,
		trust.ActivityEventAccessDenied:
		return "denied"
	case trust.ActivityEventInvitationDelivery:
		return "failed"
	default:
		return "allowed"
	}
}

func metadataString(metadata map[string]any, key string) string {
	value, _ := metadata[key].(string)
	return strings.TrimSpace(value)
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
