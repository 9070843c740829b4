package authguard

import (
	"context"
)

var stateCtxKey = &contextKey{"auth_state"}
var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// WithAuthState sets the AuthState in the given context
func WithAuthState(ctx context.Context, state AuthState) context.Context {
	ctx = context.WithValue(ctx, stateCtxKey, state.clone())
	if state.User != nil {
		ctx = WithUser(ctx, state.User)
	}
	return ctx
}

// AuthStateFromContext finds the AuthState from the context.
func AuthStateFromContext(ctx context.Context) (AuthState, bool) {
	raw, ok := ctx.Value(stateCtxKey).(AuthState)
	if !ok {
		return AuthState{}, false
	}
	return raw.clone(), true
}

// WithUser sets the User in the given context
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey, user.clone())
}

// UserFromContext finds the user from the context.
func UserFromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	if !ok || raw == nil {
		return nil, false
	}
	return raw, true
}

// RoleFromContext resolves the role of the user in the context. Anonymous
// requests report false.
func RoleFromContext(ctx context.Context) (Role, bool) {
	if state, ok := AuthStateFromContext(ctx); ok {
		return state.Role, state.Authenticated()
	}
	if user, ok := UserFromContext(ctx); ok {
		return ResolveRole(user), true
	}
	return "", false
}

// Can reports whether the user in the context satisfies required.
func Can(ctx context.Context, required Role) bool {
	role, ok := RoleFromContext(ctx)
	if !ok {
		return false
	}
	return HasAccess(role, required)
}
