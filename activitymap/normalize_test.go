package activitymap_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/goliatone/go-authguard"
	"github.com/goliatone/go-authguard/activitymap"
	"github.com/rs/zerolog"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := authguard.ActivityEvent{
		EventType: authguard.ActivityEventLoginSuccess,
		UserID:    "user-100",
		Email:     "jane@example.com",
		Role:      authguard.RoleUnderwriter,
		Metadata: map[string]any{
			"ticket": "SEC-204",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "user-100" {
		t.Fatalf("expected actor_id user-100, got %q", out.ActorID)
	}
	if out.Verb != string(authguard.ActivityEventLoginSuccess) {
		t.Fatalf("expected verb %q, got %q", authguard.ActivityEventLoginSuccess, out.Verb)
	}
	if out.ObjectType != "session" {
		t.Fatalf("expected object_type session, got %q", out.ObjectType)
	}
	if out.ObjectID != "user-100" {
		t.Fatalf("expected object_id user-100, got %q", out.ObjectID)
	}
	if out.Channel != "auth" {
		t.Fatalf("expected channel auth, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["ticket"] != "SEC-204" {
		t.Fatalf("expected metadata ticket SEC-204, got %#v", out.Metadata["ticket"])
	}
	if out.Metadata[activitymap.MetadataKeyRole] != "underwriter" {
		t.Fatalf("expected metadata role underwriter, got %#v", out.Metadata[activitymap.MetadataKeyRole])
	}
	if out.Metadata[activitymap.MetadataKeyEmail] != "jane@example.com" {
		t.Fatalf("expected metadata email, got %#v", out.Metadata[activitymap.MetadataKeyEmail])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	event := authguard.ActivityEvent{
		EventType: authguard.ActivityEventPasswordResetSent,
		Role:      authguard.RoleUser,
		Metadata: map[string]any{
			"email":                     "reset@example.com",
			activitymap.MetadataKeyRole: "existing",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("account"),
		activitymap.WithObjectIDResolver(func(e authguard.ActivityEvent) string {
			if v, ok := e.Metadata["email"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "account" {
		t.Fatalf("expected object_type account, got %q", out.ObjectType)
	}
	if out.ObjectID != "reset@example.com" {
		t.Fatalf("expected object_id reset@example.com, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyRole] != "existing" {
		t.Fatalf("expected existing role preserved, got %#v", out.Metadata[activitymap.MetadataKeyRole])
	}
	if out.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be set when input is zero")
	}
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  authguard.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses user id when present",
			event:  authguard.ActivityEvent{UserID: "user-2"},
			expect: "user-2",
		},
		{
			name:   "uses default fallback without a user",
			event:  authguard.ActivityEvent{},
			expect: "anonymous",
		},
		{
			name:   "uses configured fallback without a user",
			event:  authguard.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("cli")},
			expect: "cli",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

func TestLogSinkWritesAuditEntry(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := activitymap.NewLogSink(zerolog.New(&buf), activitymap.WithDefaultChannel("web"))

	var _ authguard.ActivitySink = sink
	err := sink.Record(context.Background(), authguard.ActivityEvent{
		EventType: authguard.ActivityEventLogout,
		UserID:    "user-7",
		Role:      authguard.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a json log line, got %q: %v", buf.String(), err)
	}

	if entry["message"] != "activity" {
		t.Fatalf("expected message activity, got %#v", entry["message"])
	}
	if entry["verb"] != string(authguard.ActivityEventLogout) {
		t.Fatalf("expected verb logout, got %#v", entry["verb"])
	}
	if entry["channel"] != "web" {
		t.Fatalf("expected channel web, got %#v", entry["channel"])
	}
	if entry["object_id"] != "user-7" {
		t.Fatalf("expected object_id user-7, got %#v", entry["object_id"])
	}
	metadata, _ := entry["metadata"].(map[string]any)
	if metadata["role"] != "admin" {
		t.Fatalf("expected metadata role admin, got %#v", entry["metadata"])
	}
}
