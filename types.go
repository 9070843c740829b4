package authguard

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// SessionEventKind enumerates session change notifications pushed by the provider.
type SessionEventKind string

const (
	EventSignedIn       SessionEventKind = "SIGNED_IN"
	EventSignedOut      SessionEventKind = "SIGNED_OUT"
	EventTokenRefreshed SessionEventKind = "TOKEN_REFRESHED"
	EventUserUpdated    SessionEventKind = "USER_UPDATED"
)

// SessionEvent is a single provider notification. Session is nil when the
// event carries no session (always the case for EventSignedOut).
type SessionEvent struct {
	Kind    SessionEventKind
	Session *Session
}

// SessionChangeHandler receives provider session events in emission order.
type SessionChangeHandler func(kind SessionEventKind, session *Session)

// UnsubscribeFunc releases a registration. Calling it more than once is safe.
type UnsubscribeFunc func()

// IdentityProvider is the remote identity/session service the store wraps.
type IdentityProvider interface {
	GetCurrentSession(ctx context.Context) (*Session, error)
	OnSessionChange(handler SessionChangeHandler) UnsubscribeFunc
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata ProfileMetadata) (*SignUpResult, error)
	SignOut(ctx context.Context) error
	SendPasswordResetEmail(ctx context.Context, email, redirectTo string) error
	UpdateCurrentUserPassword(ctx context.Context, newPassword string) (*User, error)
}

// Navigator performs location changes. Location includes the query string.
type Navigator interface {
	Location() string
	Navigate(target string)
}

// LocationNotifier is implemented by navigators that push location changes.
type LocationNotifier interface {
	OnLocationChange(fn func(location string)) UnsubscribeFunc
}

// StateSource is the read side of Store consumed by guards and views.
type StateSource interface {
	State() AuthState
	Subscribe(onChange func(AuthState)) UnsubscribeFunc
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTHGUARD "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTHGUARD "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTHGUARD "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTHGUARD "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
