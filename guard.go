package authguard

import (
	"sync"
)

// DecisionKind is the outcome of a guard evaluation.
type DecisionKind string

const (
	DecisionPending  DecisionKind = "pending"
	DecisionAllow    DecisionKind = "allow"
	DecisionRedirect DecisionKind = "redirect"
)

// RedirectReason explains a redirect decision. It is never shown to users.
type RedirectReason string

const (
	ReasonNone            RedirectReason = ""
	ReasonUnauthenticated RedirectReason = "unauthenticated"
	ReasonAlreadySignedIn RedirectReason = "already_signed_in"
	ReasonForbidden       RedirectReason = "forbidden"
)

// GuardDecision is computed per evaluation and never persisted.
type GuardDecision struct {
	Kind   DecisionKind
	Target string
	Reason RedirectReason
}

// Pending reports whether the decision is still waiting on bootstrap.
func (d GuardDecision) Pending() bool { return d.Kind == DecisionPending }

// Allowed reports whether protected content may render.
func (d GuardDecision) Allowed() bool { return d.Kind == DecisionAllow }

// Decide maps the auth state, location and required role to a decision.
// It has no side effects.
func Decide(state AuthState, location string, required Role, routes Routes) GuardDecision {
	routes = routes.withDefaults()

	if state.IsLoading {
		return GuardDecision{Kind: DecisionPending}
	}

	onAuthView := routes.IsPublicAuthView(location)

	if !state.Authenticated() {
		if onAuthView {
			return GuardDecision{Kind: DecisionAllow}
		}
		return GuardDecision{
			Kind:   DecisionRedirect,
			Target: routes.LoginRedirect(location),
			Reason: ReasonUnauthenticated,
		}
	}

	if onAuthView {
		return GuardDecision{
			Kind:   DecisionRedirect,
			Target: routes.ReturnLocationOrDefault(location),
			Reason: ReasonAlreadySignedIn,
		}
	}

	if required == "" {
		required = RoleUser
	}

	if !HasAccess(state.Role, required) {
		return GuardDecision{
			Kind:   DecisionRedirect,
			Target: routes.Unauthorized,
			Reason: ReasonForbidden,
		}
	}

	return GuardDecision{Kind: DecisionAllow}
}

// GuardState is the display state of a mounted guard.
type GuardState string

const (
	GuardChecking    GuardState = "CHECKING"
	GuardAuthorized  GuardState = "AUTHORIZED"
	GuardRedirecting GuardState = "REDIRECTING"
)

// DecisionObserver is notified of every guard evaluation.
type DecisionObserver interface {
	ObserveDecision(required Role, decision GuardDecision, navigated bool)
}

// DecisionObserverFunc adapts a function to DecisionObserver.
type DecisionObserverFunc func(required Role, decision GuardDecision, navigated bool)

// ObserveDecision implements DecisionObserver.
func (f DecisionObserverFunc) ObserveDecision(required Role, decision GuardDecision, navigated bool) {
	if f != nil {
		f(required, decision, navigated)
	}
}

// redirectNoter is implemented by sources that navigate on their own after
// notifying subscribers, so they can skip a redirect a guard already issued.
type redirectNoter interface {
	noteRedirect(target string)
}

// GuardOption customizes a RouteGuard.
type GuardOption func(*RouteGuard)

// WithRequiredRole sets the role the protected view needs. Defaults to RoleUser.
func WithRequiredRole(role Role) GuardOption {
	return func(g *RouteGuard) {
		if role != "" {
			g.required = role
		}
	}
}

// WithGuardRoutes overrides the navigation targets.
func WithGuardRoutes(routes Routes) GuardOption {
	return func(g *RouteGuard) {
		g.routes = routes.withDefaults()
	}
}

// WithGuardLogger overrides the logger.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *RouteGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithDecisionObserver registers an observer for evaluations.
func WithDecisionObserver(observer DecisionObserver) GuardOption {
	return func(g *RouteGuard) {
		g.observer = observer
	}
}

// RouteGuard wraps a protected view. It re-evaluates on every state and
// location change while mounted and never re-issues a redirect that is
// already in flight.
type RouteGuard struct {
	source   StateSource
	nav      Navigator
	required Role
	routes   Routes
	logger   Logger
	observer DecisionObserver

	mu      sync.Mutex
	state   GuardState
	pending string
	last    GuardDecision
	mounted bool
	unsubs  []UnsubscribeFunc
}

// NewRouteGuard creates a guard in the CHECKING state.
func NewRouteGuard(source StateSource, nav Navigator, opts ...GuardOption) *RouteGuard {
	g := &RouteGuard{
		source:   source,
		nav:      nav,
		required: RoleUser,
		routes:   DefaultRoutes(),
		logger:   defLogger{},
		state:    GuardChecking,
		last:     GuardDecision{Kind: DecisionPending},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// RequiredRole returns the role the guarded view needs.
func (g *RouteGuard) RequiredRole() Role {
	return g.required
}

// Mount subscribes to state and location changes and runs the first evaluation.
func (g *RouteGuard) Mount() GuardDecision {
	g.mu.Lock()
	if g.mounted {
		g.mu.Unlock()
		return g.Evaluate()
	}
	g.mounted = true
	g.state = GuardChecking
	g.pending = ""
	g.mu.Unlock()

	unsubs := []UnsubscribeFunc{
		g.source.Subscribe(func(AuthState) {
			g.evaluateIfMounted()
		}),
	}

	if notifier, ok := g.nav.(LocationNotifier); ok {
		unsubs = append(unsubs, notifier.OnLocationChange(func(string) {
			g.evaluateIfMounted()
		}))
	}

	g.mu.Lock()
	g.unsubs = unsubs
	g.mu.Unlock()

	return g.Evaluate()
}

// Unmount releases the subscriptions. Pending callbacks become no-ops.
func (g *RouteGuard) Unmount() {
	g.mu.Lock()
	g.mounted = false
	unsubs := g.unsubs
	g.unsubs = nil
	g.pending = ""
	g.state = GuardChecking
	g.mu.Unlock()

	for _, unsub := range unsubs {
		if unsub != nil {
			unsub()
		}
	}
}

// Mounted reports whether the guard is listening for changes.
func (g *RouteGuard) Mounted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mounted
}

func (g *RouteGuard) evaluateIfMounted() {
	if g.Mounted() {
		g.Evaluate()
	}
}

// Evaluate runs the decision table against the current state and location
// and applies the result.
func (g *RouteGuard) Evaluate() GuardDecision {
	state := g.source.State()
	location := g.nav.Location()

	g.mu.Lock()
	if g.pending != "" && location == g.pending {
		// redirect completed, the destination starts over
		g.pending = ""
		g.state = GuardChecking
	}

	decision := Decide(state, location, g.required, g.routes)
	navigate := false

	switch decision.Kind {
	case DecisionPending:
		g.state = GuardChecking
	case DecisionAllow:
		g.state = GuardAuthorized
		g.pending = ""
	case DecisionRedirect:
		g.state = GuardRedirecting
		if decision.Target != location && decision.Target != g.pending {
			g.pending = decision.Target
			navigate = true
		}
	}

	g.last = decision
	g.mu.Unlock()

	if g.observer != nil {
		g.observer.ObserveDecision(g.required, decision, navigate)
	}

	if navigate {
		g.logger.Debug("guard (%s) redirecting %s -> %s (%s)", g.required, location, decision.Target, decision.Reason)
		if n, ok := g.source.(redirectNoter); ok {
			n.noteRedirect(decision.Target)
		}
		g.nav.Navigate(decision.Target)
	}

	return decision
}

// State returns the display state.
func (g *RouteGuard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Authorized reports whether the protected content may render.
func (g *RouteGuard) Authorized() bool {
	return g.State() == GuardAuthorized
}

// LastDecision returns the result of the most recent evaluation.
func (g *RouteGuard) LastDecision() GuardDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// PendingRedirect returns the redirect target in flight, if any.
func (g *RouteGuard) PendingRedirect() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}
