package authguard_test

import (
	"context"
	"sync"

	"github.com/goliatone/go-authguard"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements authguard.IdentityProvider
type MockProvider struct {
	mock.Mock

	mu       sync.Mutex
	handlers map[int]authguard.SessionChangeHandler
	nextID   int
}

func (m *MockProvider) GetCurrentSession(ctx context.Context) (*authguard.Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*authguard.Session)
	return session, args.Error(1)
}

func (m *MockProvider) OnSessionChange(handler authguard.SessionChangeHandler) authguard.UnsubscribeFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[int]authguard.SessionChangeHandler)
	}
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

func (m *MockProvider) SignInWithPassword(ctx context.Context, email, password string) (*authguard.Session, error) {
	args := m.Called(ctx, email, password)
	session, _ := args.Get(0).(*authguard.Session)
	return session, args.Error(1)
}

func (m *MockProvider) SignUp(ctx context.Context, email, password string, metadata authguard.ProfileMetadata) (*authguard.SignUpResult, error) {
	args := m.Called(ctx, email, password, metadata)
	result, _ := args.Get(0).(*authguard.SignUpResult)
	return result, args.Error(1)
}

func (m *MockProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) SendPasswordResetEmail(ctx context.Context, email, redirectTo string) error {
	args := m.Called(ctx, email, redirectTo)
	return args.Error(0)
}

func (m *MockProvider) UpdateCurrentUserPassword(ctx context.Context, newPassword string) (*authguard.User, error) {
	args := m.Called(ctx, newPassword)
	user, _ := args.Get(0).(*authguard.User)
	return user, args.Error(1)
}

// Emit delivers an event to every registered handler.
func (m *MockProvider) Emit(kind authguard.SessionEventKind, session *authguard.Session) {
	m.mu.Lock()
	handlers := make([]authguard.SessionChangeHandler, 0, len(m.handlers))
	for i := 0; i < m.nextID; i++ {
		if h, ok := m.handlers[i]; ok {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(kind, session)
	}
}

func (m *MockProvider) HandlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// fakeNavigator records navigations without changing its location
type fakeNavigator struct {
	mu       sync.Mutex
	location string
	calls    []string
	follow   bool
}

func newFakeNavigator(location string) *fakeNavigator {
	return &fakeNavigator{location: location}
}

func (f *fakeNavigator) Location() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location
}

func (f *fakeNavigator) Navigate(target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, target)
	if f.follow {
		f.location = target
	}
}

func (f *fakeNavigator) Set(location string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.location = location
}

func (f *fakeNavigator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeSource is a StateSource with settable state
type fakeSource struct {
	mu    sync.Mutex
	state authguard.AuthState
	subs  map[int]func(authguard.AuthState)
	next  int
}

func newFakeSource(state authguard.AuthState) *fakeSource {
	return &fakeSource{state: state, subs: map[int]func(authguard.AuthState){}}
}

func (f *fakeSource) State() authguard.AuthState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) Subscribe(fn func(authguard.AuthState)) authguard.UnsubscribeFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeSource) Set(state authguard.AuthState) {
	f.mu.Lock()
	f.state = state
	fns := make([]func(authguard.AuthState), 0, len(f.subs))
	for i := 0; i < f.next; i++ {
		if fn, ok := f.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (f *fakeSource) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func newSession(id, email string, role authguard.Role) *authguard.Session {
	return &authguard.Session{
		AccessToken: "token-" + id,
		TokenType:   "bearer",
		User: authguard.User{
			ID:       id,
			Email:    email,
			Metadata: authguard.ProfileMetadata{Role: string(role)},
		},
	}
}

func signedIn(role authguard.Role) authguard.AuthState {
	return authguard.StateFromSession(newSession("u-1", "jane@example.com", role))
}

func anonymous() authguard.AuthState {
	return authguard.AuthState{}
}

func loading() authguard.AuthState {
	return authguard.AuthState{IsLoading: true}
}
