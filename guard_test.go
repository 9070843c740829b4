package authguard_test

import (
	"testing"

	"github.com/goliatone/go-authguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideTable(t *testing.T) {
	routes := authguard.DefaultRoutes()

	tests := []struct {
		name     string
		state    authguard.AuthState
		location string
		required authguard.Role
		want     authguard.GuardDecision
	}{
		{
			name:     "loading never redirects",
			state:    loading(),
			location: "/admin",
			required: authguard.RoleAdmin,
			want:     authguard.GuardDecision{Kind: authguard.DecisionPending},
		},
		{
			name:     "anonymous on profile goes to login with return location",
			state:    anonymous(),
			location: "/profile",
			required: authguard.RoleUser,
			want: authguard.GuardDecision{
				Kind:   authguard.DecisionRedirect,
				Target: "/login?returnUrl=%2Fprofile",
				Reason: authguard.ReasonUnauthenticated,
			},
		},
		{
			name:     "anonymous on signup is allowed",
			state:    anonymous(),
			location: "/signup",
			required: authguard.RoleUser,
			want:     authguard.GuardDecision{Kind: authguard.DecisionAllow},
		},
		{
			name:     "underwriter on admin view is forbidden without return location",
			state:    signedIn(authguard.RoleUnderwriter),
			location: "/admin",
			required: authguard.RoleAdmin,
			want: authguard.GuardDecision{
				Kind:   authguard.DecisionRedirect,
				Target: "/unauthorized",
				Reason: authguard.ReasonForbidden,
			},
		},
		{
			name:     "admin on admin view is allowed",
			state:    signedIn(authguard.RoleAdmin),
			location: "/admin",
			required: authguard.RoleAdmin,
			want:     authguard.GuardDecision{Kind: authguard.DecisionAllow},
		},
		{
			name:     "signed in user on login goes to dashboard",
			state:    signedIn(authguard.RoleUser),
			location: "/login",
			required: authguard.RoleUser,
			want: authguard.GuardDecision{
				Kind:   authguard.DecisionRedirect,
				Target: "/dashboard",
				Reason: authguard.ReasonAlreadySignedIn,
			},
		},
		{
			name:     "signed in user on login honours safe return location",
			state:    signedIn(authguard.RoleUser),
			location: "/login?returnUrl=%2Fprofile",
			required: authguard.RoleUser,
			want: authguard.GuardDecision{
				Kind:   authguard.DecisionRedirect,
				Target: "/profile",
				Reason: authguard.ReasonAlreadySignedIn,
			},
		},
		{
			name:     "empty required role means user",
			state:    signedIn(authguard.RoleUser),
			location: "/profile",
			required: "",
			want:     authguard.GuardDecision{Kind: authguard.DecisionAllow},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := authguard.Decide(tt.state, tt.location, tt.required, routes)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGuardScenarioAnonymousRedirectsToLogin(t *testing.T) {
	source := newFakeSource(anonymous())
	nav := newFakeNavigator("/profile")

	guard := authguard.NewRouteGuard(source, nav, authguard.WithGuardLogger(authguard.NopLogger{}))
	decision := guard.Mount()
	defer guard.Unmount()

	assert.Equal(t, authguard.DecisionRedirect, decision.Kind)
	assert.Equal(t, []string{"/login?returnUrl=%2Fprofile"}, nav.Calls())
	assert.Equal(t, authguard.GuardRedirecting, guard.State())
	assert.False(t, guard.Authorized())
}

func TestGuardScenarioUnderwriterOnAdminView(t *testing.T) {
	source := newFakeSource(signedIn(authguard.RoleUnderwriter))
	nav := newFakeNavigator("/admin")

	guard := authguard.NewRouteGuard(source, nav,
		authguard.WithRequiredRole(authguard.RoleAdmin),
		authguard.WithGuardLogger(authguard.NopLogger{}),
	)
	guard.Mount()
	defer guard.Unmount()

	assert.Equal(t, []string{"/unauthorized"}, nav.Calls())
	assert.Equal(t, authguard.ReasonForbidden, guard.LastDecision().Reason)
}

func TestGuardScenarioAdminAllowed(t *testing.T) {
	source := newFakeSource(signedIn(authguard.RoleAdmin))
	nav := newFakeNavigator("/admin")

	guard := authguard.NewRouteGuard(source, nav,
		authguard.WithRequiredRole(authguard.RoleAdmin),
		authguard.WithGuardLogger(authguard.NopLogger{}),
	)
	decision := guard.Mount()
	defer guard.Unmount()

	assert.True(t, decision.Allowed())
	assert.True(t, guard.Authorized())
	assert.Empty(t, nav.Calls())
}

func TestGuardScenarioSignedInOnLogin(t *testing.T) {
	source := newFakeSource(signedIn(authguard.RoleUser))
	nav := newFakeNavigator("/login")

	guard := authguard.NewRouteGuard(source, nav, authguard.WithGuardLogger(authguard.NopLogger{}))
	guard.Mount()
	defer guard.Unmount()

	assert.Equal(t, []string{"/dashboard"}, nav.Calls())
	assert.False(t, guard.Authorized())
}

func TestGuardStaysCheckingWhileLoading(t *testing.T) {
	source := newFakeSource(loading())
	nav := newFakeNavigator("/admin")

	guard := authguard.NewRouteGuard(source, nav,
		authguard.WithRequiredRole(authguard.RoleAdmin),
		authguard.WithGuardLogger(authguard.NopLogger{}),
	)
	decision := guard.Mount()
	defer guard.Unmount()

	assert.True(t, decision.Pending())
	assert.Equal(t, authguard.GuardChecking, guard.State())
	assert.Empty(t, nav.Calls())

	source.Set(signedIn(authguard.RoleAdmin))
	assert.Equal(t, authguard.GuardAuthorized, guard.State())
	assert.Empty(t, nav.Calls())
}

func TestGuardEvaluateIsIdempotent(t *testing.T) {
	source := newFakeSource(anonymous())
	nav := newFakeNavigator("/profile")

	guard := authguard.NewRouteGuard(source, nav, authguard.WithGuardLogger(authguard.NopLogger{}))

	first := guard.Evaluate()
	second := guard.Evaluate()

	assert.Equal(t, first, second)
	assert.Len(t, nav.Calls(), 1, "second evaluation must not navigate again")
	assert.Equal(t, "/login?returnUrl=%2Fprofile", guard.PendingRedirect())
}

func TestGuardReevaluatesOnStateChange(t *testing.T) {
	source := newFakeSource(signedIn(authguard.RoleAdmin))
	nav := newFakeNavigator("/admin")

	guard := authguard.NewRouteGuard(source, nav,
		authguard.WithRequiredRole(authguard.RoleAdmin),
		authguard.WithGuardLogger(authguard.NopLogger{}),
	)
	guard.Mount()
	require.True(t, guard.Authorized())

	source.Set(signedIn(authguard.RoleUser))
	assert.Equal(t, []string{"/unauthorized"}, nav.Calls())
	assert.False(t, guard.Authorized())

	guard.Unmount()
	assert.Equal(t, 0, source.SubscriberCount())

	source.Set(anonymous())
	assert.Len(t, nav.Calls(), 1, "unmounted guard must not evaluate")
}

func TestGuardClearsPendingWhenRedirectCompletes(t *testing.T) {
	source := newFakeSource(anonymous())
	history := authguard.NewMemoryHistory("/profile")

	guard := authguard.NewRouteGuard(source, history, authguard.WithGuardLogger(authguard.NopLogger{}))
	guard.Mount()
	defer guard.Unmount()

	assert.Equal(t, "/login?returnUrl=%2Fprofile", history.Location())
	assert.Empty(t, guard.PendingRedirect())
	assert.Equal(t, authguard.GuardAuthorized, guard.State())
	assert.Equal(t, []string{"/profile", "/login?returnUrl=%2Fprofile"}, history.Entries())
}

func TestGuardNotifiesObserver(t *testing.T) {
	var seen []authguard.GuardDecision
	var navigated []bool
	observer := authguard.DecisionObserverFunc(func(required authguard.Role, d authguard.GuardDecision, nav bool) {
		assert.Equal(t, authguard.RoleUnderwriter, required)
		seen = append(seen, d)
		navigated = append(navigated, nav)
	})

	source := newFakeSource(signedIn(authguard.RoleUser))
	nav := newFakeNavigator("/underwriter")

	guard := authguard.NewRouteGuard(source, nav,
		authguard.WithRequiredRole(authguard.RoleUnderwriter),
		authguard.WithDecisionObserver(observer),
		authguard.WithGuardLogger(authguard.NopLogger{}),
	)
	guard.Evaluate()
	guard.Evaluate()

	require.Len(t, seen, 2)
	assert.Equal(t, []bool{true, false}, navigated)
}
