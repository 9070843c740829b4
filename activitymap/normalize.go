package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-authguard"
	"github.com/rs/zerolog"
)

const (
	// MetadataKeyRole stores the role of the user the event is about.
	MetadataKeyRole = "role"
	// MetadataKeyEmail stores the email of the user the event is about.
	MetadataKeyEmail = "email"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "session"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(authguard.ActivityEvent) string
}

// Normalize converts an authguard.ActivityEvent into a generic normalized shape.
func Normalize(event authguard.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(authguard.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// LogSink writes every activity event as one structured audit log entry.
type LogSink struct {
	logger zerolog.Logger
	opts   []Option
}

var _ authguard.ActivitySink = (*LogSink)(nil)

// NewLogSink returns a sink logging normalized events at info level.
func NewLogSink(logger zerolog.Logger, opts ...Option) *LogSink {
	return &LogSink{logger: logger, opts: opts}
}

// Record implements authguard.ActivitySink.
func (s *LogSink) Record(_ context.Context, event authguard.ActivityEvent) error {
	n := Normalize(event, s.opts...)

	entry := s.logger.Info().
		Str("actor_id", n.ActorID).
		Str("verb", n.Verb).
		Str("object_type", n.ObjectType).
		Str("channel", n.Channel).
		Time("occurred_at", n.OccurredAt)
	if n.ObjectID != "" {
		entry = entry.Str("object_id", n.ObjectID)
	}
	if len(n.Metadata) > 0 {
		entry = entry.Interface("metadata", n.Metadata)
	}
	entry.Msg("activity")
	return nil
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event authguard.ActivityEvent, resolver func(authguard.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return strings.TrimSpace(event.UserID)
}

func normalizeMetadata(event authguard.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if role := strings.TrimSpace(event.Role.String()); role != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyRole]; !exists {
			metadata[MetadataKeyRole] = role
		}
	}

	if email := strings.TrimSpace(event.Email); email != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyEmail]; !exists {
			metadata[MetadataKeyEmail] = email
		}
	}

	return metadata
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
