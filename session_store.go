package authguard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StoreState is the lifecycle of the Store itself.
type StoreState string

const (
	StoreUninitialized StoreState = "uninitialized"
	StoreBootstrapping StoreState = "bootstrapping"
	StoreReady         StoreState = "ready"
)

// StoreOption customizes store construction.
type StoreOption func(*Store)

// WithStoreLogger overrides the logger.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreActivitySink sets the ActivitySink used to publish auth events.
func WithStoreActivitySink(sink ActivitySink) StoreOption {
	return func(s *Store) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// WithStoreNavigator lets the store apply navigation decisions after
// SIGNED_IN and SIGNED_OUT events.
func WithStoreNavigator(nav Navigator) StoreOption {
	return func(s *Store) {
		s.navigator = nav
	}
}

// WithStoreRoutes sets the route layout used for navigation and reset links.
func WithStoreRoutes(routes Routes) StoreOption {
	return func(s *Store) {
		s.routes = routes.withDefaults()
	}
}

// WithStoreClock injects a custom clock (useful for tests).
func WithStoreClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Store owns the AuthState. It is the only component that mutates it: every
// commit (bootstrap or provider event) runs as a job on a single FIFO queue,
// and consumers are notified only after the commit.
type Store struct {
	provider     IdentityProvider
	logger       Logger
	activitySink ActivitySink
	navigator    Navigator
	routes       Routes
	now          func() time.Time

	mu        sync.RWMutex
	state     AuthState
	lifecycle StoreState
	closed    bool
	// events delivered before Bootstrap, replayed after the bootstrap commit
	early []SessionEvent

	redirectMu sync.Mutex
	redirected map[string]struct{}

	subsMu      sync.Mutex
	subscribers map[uint64]func(AuthState)
	nextSubID   uint64

	queueMu  sync.Mutex
	queue    []func()
	draining bool

	providerMu    sync.Mutex
	unsubProvider UnsubscribeFunc
}

// NewStore creates a store in the uninitialized state with IsLoading set.
func NewStore(provider IdentityProvider, opts ...StoreOption) *Store {
	s := &Store{
		provider:     provider,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		routes:       DefaultRoutes(),
		now:          time.Now,
		state:        AuthState{IsLoading: true},
		lifecycle:    StoreUninitialized,
		subscribers:  make(map[uint64]func(AuthState)),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// State returns a copy of the current AuthState.
func (s *Store) State() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Lifecycle returns the store lifecycle state.
func (s *Store) Lifecycle() StoreState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle
}

// Routes returns the route layout the store navigates with.
func (s *Store) Routes() Routes {
	return s.routes
}

// Open registers for provider events and bootstraps the session.
func (s *Store) Open(ctx context.Context) AuthState {
	s.WatchProvider()
	return s.Bootstrap(ctx)
}

// Close releases the provider registration. Events delivered afterwards are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.providerMu.Lock()
	unsub := s.unsubProvider
	s.unsubProvider = nil
	s.providerMu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// WatchProvider registers the store for provider session events. The
// returned handle is the same one Close releases.
func (s *Store) WatchProvider() UnsubscribeFunc {
	s.providerMu.Lock()
	defer s.providerMu.Unlock()

	if s.unsubProvider != nil {
		return s.unsubProvider
	}

	unsub := s.provider.OnSessionChange(func(kind SessionEventKind, session *Session) {
		s.HandleEvent(SessionEvent{Kind: kind, Session: session})
	})

	var once sync.Once
	s.unsubProvider = func() {
		once.Do(func() {
			if unsub != nil {
				unsub()
			}
		})
	}

	return s.unsubProvider
}

// Subscribe registers onChange to run after every committed state change.
func (s *Store) Subscribe(onChange func(AuthState)) UnsubscribeFunc {
	if onChange == nil {
		return func() {}
	}

	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = onChange
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subscribers, id)
			s.subsMu.Unlock()
		})
	}
}

// SubscriberCount returns the number of active consumer registrations.
func (s *Store) SubscriberCount() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subscribers)
}

// Bootstrap fetches the current session exactly once. Failures degrade to an
// anonymous state. Later calls return the current state without fetching.
// It must not be called from inside a Subscribe callback.
func (s *Store) Bootstrap(ctx context.Context) AuthState {
	s.mu.Lock()
	if s.lifecycle != StoreUninitialized {
		state := s.state.clone()
		s.mu.Unlock()
		return state
	}
	s.lifecycle = StoreBootstrapping
	early := s.early
	s.early = nil
	s.mu.Unlock()

	done := make(chan struct{})
	s.enqueue(func() {
		defer close(done)
		s.runBootstrap(ctx)
		for _, evt := range early {
			s.applyEvent(evt)
		}
	})

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("bootstrap wait interrupted: %v", ctx.Err())
	}

	return s.State()
}

func (s *Store) runBootstrap(ctx context.Context) {
	session, err := callProvider(ctx, "get_session", func() (*Session, error) {
		return s.provider.GetCurrentSession(ctx)
	})
	if err != nil {
		s.logger.Info("bootstrap without session: %v", err)
		session = nil
	}

	if session != nil && session.Expired(s.now()) {
		s.logger.Info("bootstrap discarded expired session for user %s", session.User.ID)
		session = nil
	}

	next := StateFromSession(session)
	if !s.commit(next, StoreReady) {
		return
	}

	s.notify(next)
	s.recordActivity(ctx, ActivityEventSessionBootstrapped, next, map[string]any{
		"authenticated": next.Authenticated(),
	})
}

// HandleEvent applies a provider event. Events are processed strictly in the
// order they are handed in; a caller arriving while another event is being
// processed returns immediately and its event runs next. Events delivered
// before Bootstrap are held and applied right after the bootstrap commit.
func (s *Store) HandleEvent(evt SessionEvent) {
	s.mu.Lock()
	if s.lifecycle == StoreUninitialized && !s.closed {
		s.early = append(s.early, evt)
		s.mu.Unlock()
		s.logger.Debug("session event %s held until bootstrap", evt.Kind)
		return
	}
	s.mu.Unlock()

	s.enqueue(func() {
		s.applyEvent(evt)
	})
}

func (s *Store) applyEvent(evt SessionEvent) {
	session := evt.Session
	if evt.Kind == EventSignedOut {
		session = nil
	}

	next := StateFromSession(session)
	if !s.commit(next, StoreReady) {
		return
	}

	s.logger.Debug("session event %s committed (authenticated=%t role=%s)", evt.Kind, next.Authenticated(), next.Role)

	s.resetRedirects()
	s.notify(next)
	s.navigateAfter(evt.Kind, next)
	s.recordActivity(context.Background(), ActivityEventSessionChanged, next, map[string]any{
		"event": string(evt.Kind),
	})
}

// commit replaces the state wholesale. It returns false once the store is closed.
func (s *Store) commit(next AuthState, lifecycle StoreState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	next.IsLoading = false
	s.state = next
	s.lifecycle = lifecycle
	return true
}

func (s *Store) notify(state AuthState) {
	s.subsMu.Lock()
	ids := make([]uint64, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(AuthState), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subscribers[id])
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(state.clone())
	}
}

func (s *Store) navigateAfter(kind SessionEventKind, state AuthState) {
	if s.navigator == nil {
		return
	}

	location := s.navigator.Location()

	switch kind {
	case EventSignedIn:
		if !s.routes.IsPublicAuthView(location) {
			return
		}
	case EventSignedOut:
	default:
		return
	}

	decision := Decide(state, location, RoleUser, s.routes)
	if decision.Kind != DecisionRedirect || decision.Target == location {
		return
	}

	if s.redirectedTo(decision.Target) {
		s.logger.Debug("session event %s: redirect to %s already issued by a guard", kind, decision.Target)
		return
	}

	s.logger.Info("session event %s navigating %s -> %s", kind, location, decision.Target)
	s.navigator.Navigate(decision.Target)
}

// noteRedirect records a navigation a mounted guard issued while
// subscribers were being notified.
func (s *Store) noteRedirect(target string) {
	s.redirectMu.Lock()
	defer s.redirectMu.Unlock()
	if s.redirected == nil {
		s.redirected = make(map[string]struct{})
	}
	s.redirected[target] = struct{}{}
}

func (s *Store) resetRedirects() {
	s.redirectMu.Lock()
	s.redirected = nil
	s.redirectMu.Unlock()
}

func (s *Store) redirectedTo(target string) bool {
	s.redirectMu.Lock()
	defer s.redirectMu.Unlock()
	_, ok := s.redirected[target]
	return ok
}

func (s *Store) enqueue(job func()) {
	s.queueMu.Lock()
	s.queue = append(s.queue, job)
	if s.draining {
		s.queueMu.Unlock()
		return
	}
	s.draining = true

	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.queueMu.Unlock()

		s.runJob(next)

		s.queueMu.Lock()
	}

	s.draining = false
	s.queueMu.Unlock()
}

func (s *Store) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session store job panicked: %v", r)
		}
	}()
	job()
}

// SignIn verifies credentials with the provider. State changes arrive through
// the provider's SIGNED_IN event.
func (s *Store) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if err := validateInput(signInPayload{Email: email, Password: password}); err != nil {
		return nil, err
	}

	session, err := callProvider(ctx, "sign_in", func() (*Session, error) {
		return s.provider.SignInWithPassword(ctx, email, password)
	})
	if err != nil {
		s.logger.Info("sign in failed for %s: %v", email, err)
		s.recordActivity(ctx, ActivityEventLoginFailure, AuthState{}, map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return nil, err
	}

	s.recordActivity(ctx, ActivityEventLoginSuccess, StateFromSession(session), nil)
	return session, nil
}

// SignUp registers a new account. The stored role is always RoleUser.
func (s *Store) SignUp(ctx context.Context, email, password string, metadata ProfileMetadata) (*SignUpResult, error) {
	email = normalizeEmail(email)
	if err := validateInput(credentialsPayload{Email: email, Password: password}); err != nil {
		return nil, err
	}

	metadata = metadata.clone()
	metadata.Role = string(RoleUser)

	result, err := callProvider(ctx, "sign_up", func() (*SignUpResult, error) {
		return s.provider.SignUp(ctx, email, password, metadata)
	})
	if err != nil {
		s.logger.Info("sign up failed for %s: %v", email, err)
		s.recordActivity(ctx, ActivityEventSignUpFailure, AuthState{}, map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return nil, err
	}

	if result == nil {
		result = &SignUpResult{}
	}

	var user *User
	if result.User != nil {
		user = result.User
	} else if result.Session != nil {
		user = &result.Session.User
	}
	s.recordActivity(ctx, ActivityEventSignUpSuccess, AuthState{User: user, Role: ResolveRole(user)}, map[string]any{
		"confirmed": result.Session != nil,
	})

	return result, nil
}

// SignOut clears local state first and then signs out remotely, best effort.
// When another goroutine is draining the event queue SignOut waits for the
// local clear to commit before calling the provider. Like Bootstrap it must
// not be called from inside a Subscribe callback.
func (s *Store) SignOut(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	previous := s.State()

	s.mu.RLock()
	bootstrapped := s.lifecycle != StoreUninitialized
	s.mu.RUnlock()

	if bootstrapped {
		done := make(chan struct{})
		s.enqueue(func() {
			defer close(done)
			s.applyEvent(SessionEvent{Kind: EventSignedOut})
		})

		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("sign out wait interrupted: %v", ctx.Err())
		}
	}

	_, err := callProvider(ctx, "sign_out", func() (struct{}, error) {
		return struct{}{}, s.provider.SignOut(ctx)
	})
	if err != nil {
		s.logger.Warn("remote sign out failed, local session cleared: %v", err)
	}

	s.recordActivity(ctx, ActivityEventLogout, previous, map[string]any{
		"remote_ok": err == nil,
	})
}

// ResetPassword sends a reset email linking back to the reset-password view.
func (s *Store) ResetPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validateInput(emailPayload{Email: email}); err != nil {
		return err
	}

	redirectTo := s.routes.PasswordResetURL()
	_, err := callProvider(ctx, "reset_password", func() (struct{}, error) {
		return struct{}{}, s.provider.SendPasswordResetEmail(ctx, email, redirectTo)
	})
	if err != nil {
		s.logger.Info("password reset request failed for %s: %v", email, err)
		return err
	}

	s.recordActivity(ctx, ActivityEventPasswordResetSent, AuthState{}, map[string]any{
		"email": email,
	})
	return nil
}

// UpdatePassword changes the password of the signed in user.
func (s *Store) UpdatePassword(ctx context.Context, newPassword string) (*User, error) {
	if err := validateInput(passwordPayload{Password: newPassword}); err != nil {
		return nil, err
	}

	current := s.State()
	if !current.Authenticated() {
		return nil, ErrNotAuthenticated.Clone()
	}

	user, err := callProvider(ctx, "update_password", func() (*User, error) {
		return s.provider.UpdateCurrentUserPassword(ctx, newPassword)
	})
	if err != nil {
		s.logger.Info("password update failed for %s: %v", current.User.ID, err)
		return nil, err
	}

	s.recordActivity(ctx, ActivityEventPasswordUpdated, current, nil)
	return user, nil
}

func (s *Store) recordActivity(ctx context.Context, eventType ActivityEventType, state AuthState, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Role:       state.Role,
		Metadata:   metadata,
		OccurredAt: s.now(),
	}

	if state.User != nil {
		event.UserID = state.User.ID
		event.Email = state.User.Email
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	sink := normalizeActivitySink(s.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

// callProvider runs fn and turns panics and raw errors into taxonomy errors.
func callProvider[T any](ctx context.Context, operation string, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out = zero
			err = NewAuthError(ErrUnexpected, "", fmt.Errorf("%s panicked: %v", operation, r)).
				WithMetadata(map[string]any{"operation": operation})
		}
	}()

	if ctx != nil {
		if cerr := ctx.Err(); cerr != nil {
			var zero T
			return zero, normalizeError(operation, cerr)
		}
	}

	out, err = fn()
	if err != nil {
		var zero T
		return zero, normalizeError(operation, err)
	}
	return out, nil
}
