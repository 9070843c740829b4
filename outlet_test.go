package authguard_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-authguard"
	"github.com/goliatone/go-authguard/internal/views"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testViews() []authguard.View {
	return []authguard.View{
		{Name: "home", Path: "/", Public: true},
		{Name: "login", Path: "/login", Prefix: true},
		{Name: "signup", Path: "/signup"},
		{Name: "dashboard", Path: "/dashboard"},
		{Name: "profile", Path: "/profile"},
		{Name: "underwriter", Path: "/underwriter", RequiredRole: authguard.RoleUnderwriter, Prefix: true},
		{Name: "admin", Path: "/admin", RequiredRole: authguard.RoleAdmin, Prefix: true},
		{Name: "admin-audit", Path: "/admin/audit", RequiredRole: authguard.RoleAdmin},
		{Name: "unauthorized", Path: "/unauthorized", Public: true},
	}
}

func TestOutletMatch(t *testing.T) {
	outlet := authguard.NewOutlet(newFakeSource(anonymous()), newFakeNavigator("/"), testViews())

	view, ok := outlet.Match("/admin/users?page=2")
	require.True(t, ok)
	assert.Equal(t, "admin", view.Name)

	view, ok = outlet.Match("/admin/audit")
	require.True(t, ok)
	assert.Equal(t, "admin-audit", view.Name)

	view, ok = outlet.Match("/login?returnUrl=%2Fprofile")
	require.True(t, ok)
	assert.Equal(t, "login", view.Name)

	_, ok = outlet.Match("/nowhere")
	assert.False(t, ok)
}

func TestOutletRedirectsAnonymousVisitorThroughLogin(t *testing.T) {
	source := newFakeSource(anonymous())
	history := authguard.NewMemoryHistory("/profile")

	var frames []authguard.Frame
	outlet := authguard.NewOutlet(source, history, testViews(),
		authguard.WithOutletLogger(authguard.NopLogger{}),
		authguard.WithOutletRender(func(f authguard.Frame) { frames = append(frames, f) }),
	)
	frame := outlet.Start()
	defer outlet.Stop()

	assert.Equal(t, "/login?returnUrl=%2Fprofile", frame.Location)
	require.NotNil(t, frame.View)
	assert.Equal(t, "login", frame.View.Name)
	assert.True(t, frame.Visible)

	for _, f := range frames {
		if f.View != nil && f.View.Name == "profile" {
			assert.False(t, f.Visible, "protected content must not render before redirect")
		}
	}
}

func TestOutletUnmountsGuardOnLeave(t *testing.T) {
	source := newFakeSource(signedIn(authguard.RoleAdmin))
	history := authguard.NewMemoryHistory("/admin")

	outlet := authguard.NewOutlet(source, history, testViews(), authguard.WithOutletLogger(authguard.NopLogger{}))
	outlet.Start()
	defer outlet.Stop()

	adminGuard := outlet.Guard()
	require.NotNil(t, adminGuard)
	assert.True(t, adminGuard.Authorized())

	history.Navigate("/profile")
	assert.False(t, adminGuard.Mounted())

	profileGuard := outlet.Guard()
	require.NotNil(t, profileGuard)
	assert.Equal(t, authguard.RoleUser, profileGuard.RequiredRole())
	assert.True(t, outlet.Current().Visible)

	history.Navigate("/")
	assert.Nil(t, outlet.Guard())
	assert.True(t, outlet.Current().Visible)
}

func TestOutletStopReleasesSubscriptions(t *testing.T) {
	source := newFakeSource(signedIn(authguard.RoleUser))
	history := authguard.NewMemoryHistory("/profile")

	outlet := authguard.NewOutlet(source, history, testViews(), authguard.WithOutletLogger(authguard.NopLogger{}))
	outlet.Start()
	require.Equal(t, 2, source.SubscriberCount())

	outlet.Stop()
	assert.Equal(t, 0, source.SubscriberCount())
}

func TestOutletWithStoreDemotion(t *testing.T) {
	provider := &MockProvider{}
	provider.On("GetCurrentSession", mock.Anything).
		Return(newSession("u-1", "jane@example.com", authguard.RoleUnderwriter), nil).Once()

	history := authguard.NewMemoryHistory("/underwriter/queue")
	store := newTestStore(provider, authguard.WithStoreNavigator(history))
	store.Open(context.Background())
	defer store.Close()

	outlet := authguard.NewOutlet(store, history, testViews(), authguard.WithOutletLogger(authguard.NopLogger{}))
	frame := outlet.Start()
	defer outlet.Stop()
	assert.True(t, frame.Visible)

	provider.Emit(authguard.EventUserUpdated, newSession("u-1", "jane@example.com", authguard.RoleUser))

	frame = outlet.Current()
	assert.Equal(t, "/unauthorized", frame.Location)
	require.NotNil(t, frame.View)
	assert.Equal(t, "unauthorized", frame.View.Name)
}

func TestOutletMovesSignedInUserOffAuthViews(t *testing.T) {
	provider := &MockProvider{}
	provider.On("GetCurrentSession", mock.Anything).
		Return(newSession("u-1", "jane@example.com", authguard.RoleUser), nil).Once()

	history := authguard.NewMemoryHistory("/dashboard")
	store := newTestStore(provider, authguard.WithStoreNavigator(history))
	store.Open(context.Background())
	defer store.Close()

	outlet := authguard.NewOutlet(store, history, views.Views(authguard.DefaultRoutes()),
		authguard.WithOutletLogger(authguard.NopLogger{}),
	)
	outlet.Start()
	defer outlet.Stop()

	for _, location := range []string{"/login", "/signup", "/reset-password"} {
		history.Navigate(location)

		frame := outlet.Current()
		assert.Equal(t, "/dashboard", frame.Location, "left on %s", location)
		require.NotNil(t, frame.View)
		assert.Equal(t, "dashboard", frame.View.Name)
		assert.True(t, frame.Visible)
	}

	history.Navigate("/login?returnUrl=%2Fprofile")
	assert.Equal(t, "/profile", outlet.Current().Location)
}

func TestOutletKeepsAuthViewsOpenForVisitors(t *testing.T) {
	provider := &MockProvider{}
	provider.On("GetCurrentSession", mock.Anything).Return(nil, nil).Once()

	history := authguard.NewMemoryHistory("/signup")
	store := newTestStore(provider, authguard.WithStoreNavigator(history))
	store.Open(context.Background())
	defer store.Close()

	outlet := authguard.NewOutlet(store, history, views.Views(authguard.DefaultRoutes()),
		authguard.WithOutletLogger(authguard.NopLogger{}),
	)
	frame := outlet.Start()
	defer outlet.Stop()

	assert.Equal(t, "/signup", frame.Location)
	assert.True(t, frame.Visible)
	require.NotNil(t, outlet.Guard())

	history.Navigate("/")
	assert.Nil(t, outlet.Guard())
	assert.True(t, outlet.Current().Visible)
}

func TestOutletSignInRedirectsOnceWithDeferredNavigator(t *testing.T) {
	provider := &MockProvider{}
	provider.On("GetCurrentSession", mock.Anything).Return(nil, nil).Once()

	// location only changes once the host applies the navigation
	nav := newFakeNavigator("/login?returnUrl=%2Fprofile")
	store := newTestStore(provider, authguard.WithStoreNavigator(nav))
	store.Open(context.Background())
	defer store.Close()

	outlet := authguard.NewOutlet(store, nav, views.Views(authguard.DefaultRoutes()),
		authguard.WithOutletLogger(authguard.NopLogger{}),
	)
	frame := outlet.Start()
	defer outlet.Stop()
	require.True(t, frame.Visible)

	provider.Emit(authguard.EventSignedIn, newSession("u-1", "jane@example.com", authguard.RoleUser))

	assert.Equal(t, []string{"/profile"}, nav.Calls())
}
