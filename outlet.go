package authguard

import (
	"sync"
)

// View is an entry of the view table.
type View struct {
	Name string
	Path string
	// RequiredRole is the role the view needs. Empty means RoleUser.
	RequiredRole Role
	// Public views render without a guard, except login, signup and
	// reset-password which keep one to move signed in users along.
	Public bool
	// Prefix matches sub paths of Path as well.
	Prefix bool
}

func (v View) matches(location string) bool {
	p := pathOf(location)
	if v.Prefix {
		return matchesPath(p, v.Path)
	}
	return p == v.Path
}

// Frame is what the outlet currently shows.
type Frame struct {
	Location string
	// View is nil when no view matches the location.
	View     *View
	Guard    GuardState
	Decision GuardDecision
	// Visible is true when the view content may render.
	Visible bool
}

// OutletOption customizes an Outlet.
type OutletOption func(*Outlet)

// WithOutletRoutes sets the routes handed to every guard.
func WithOutletRoutes(routes Routes) OutletOption {
	return func(o *Outlet) {
		o.routes = routes.withDefaults()
	}
}

// WithOutletLogger overrides the logger.
func WithOutletLogger(logger Logger) OutletOption {
	return func(o *Outlet) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOutletObserver passes a DecisionObserver to every guard.
func WithOutletObserver(observer DecisionObserver) OutletOption {
	return func(o *Outlet) {
		o.observer = observer
	}
}

// WithOutletRender registers a callback invoked with every new frame.
func WithOutletRender(fn func(Frame)) OutletOption {
	return func(o *Outlet) {
		o.render = fn
	}
}

// Outlet mounts a RouteGuard for the view matching the current location and
// unmounts it when the location leaves that view.
type Outlet struct {
	source   StateSource
	nav      Navigator
	views    []View
	routes   Routes
	logger   Logger
	observer DecisionObserver
	render   func(Frame)

	mu      sync.Mutex
	active  *View
	guard   *RouteGuard
	started bool
	unsubs  []UnsubscribeFunc
}

// NewOutlet creates an outlet over the given view table.
func NewOutlet(source StateSource, nav Navigator, views []View, opts ...OutletOption) *Outlet {
	o := &Outlet{
		source: source,
		nav:    nav,
		views:  append([]View(nil), views...),
		routes: DefaultRoutes(),
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	return o
}

// Match returns the view for location, preferring exact over prefix matches
// and longer paths over shorter ones.
func (o *Outlet) Match(location string) (View, bool) {
	return matchView(o.views, location)
}

func matchView(views []View, location string) (View, bool) {
	var (
		best      View
		bestExact bool
		found     bool
	)
	p := pathOf(location)
	for _, v := range views {
		if !v.matches(location) {
			continue
		}
		exact := p == v.Path
		if !found || (exact && !bestExact) || (exact == bestExact && len(v.Path) > len(best.Path)) {
			best = v
			bestExact = exact
			found = true
		}
	}
	return best, found
}

// Start listens for location and state changes and mounts the first view.
func (o *Outlet) Start() Frame {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return o.Current()
	}
	o.started = true
	o.mu.Unlock()

	var unsubs []UnsubscribeFunc
	if notifier, ok := o.nav.(LocationNotifier); ok {
		unsubs = append(unsubs, notifier.OnLocationChange(func(location string) {
			o.sync(location)
		}))
	}
	unsubs = append(unsubs, o.source.Subscribe(func(AuthState) {
		o.emit()
	}))

	o.mu.Lock()
	o.unsubs = unsubs
	o.mu.Unlock()

	o.sync(o.nav.Location())
	return o.Current()
}

// Stop unmounts the active guard and releases every subscription.
func (o *Outlet) Stop() {
	o.mu.Lock()
	guard := o.guard
	unsubs := o.unsubs
	o.guard = nil
	o.active = nil
	o.unsubs = nil
	o.started = false
	o.mu.Unlock()

	if guard != nil {
		guard.Unmount()
	}
	for _, unsub := range unsubs {
		unsub()
	}
}

// Current returns the frame for the current location.
func (o *Outlet) Current() Frame {
	location := o.nav.Location()

	o.mu.Lock()
	active := o.active
	guard := o.guard
	o.mu.Unlock()

	frame := Frame{Location: location}
	if active == nil {
		return frame
	}

	view := *active
	frame.View = &view

	if guard == nil {
		frame.Guard = GuardAuthorized
		frame.Decision = GuardDecision{Kind: DecisionAllow}
		frame.Visible = true
		return frame
	}

	frame.Guard = guard.State()
	frame.Decision = guard.LastDecision()
	frame.Visible = guard.Authorized()
	return frame
}

// Guard returns the mounted guard, nil for unmatched views and public views
// other than the auth views.
func (o *Outlet) Guard() *RouteGuard {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.guard
}

func (o *Outlet) sync(location string) {
	view, found := o.Match(location)

	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}

	if found && o.active != nil && o.active.Name == view.Name && o.active.Path == view.Path {
		current := o.guard
		o.mu.Unlock()
		if current != nil {
			current.Evaluate()
		}
		o.emit()
		return
	}

	old := o.guard
	o.guard = nil
	o.active = nil
	if found {
		o.active = &view
	}
	o.mu.Unlock()

	if old != nil {
		old.Unmount()
	}

	if !found {
		o.logger.Debug("no view matches %s", location)
		o.emit()
		return
	}

	// auth views stay public for visitors but still send signed in users on
	if view.Public && !o.routes.IsPublicAuthView(location) {
		o.emit()
		return
	}

	guard := NewRouteGuard(o.source, o.nav,
		WithRequiredRole(view.RequiredRole),
		WithGuardRoutes(o.routes),
		WithGuardLogger(o.logger),
		WithDecisionObserver(o.observer),
	)

	o.mu.Lock()
	if o.active == nil || o.active.Name != view.Name {
		// a nested location change already replaced the view
		o.mu.Unlock()
		return
	}
	o.guard = guard
	o.mu.Unlock()

	guard.Mount()
	o.emit()
}

func (o *Outlet) emit() {
	if o.render == nil {
		return
	}
	o.render(o.Current())
}
