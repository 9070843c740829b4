// Package metrics exposes Prometheus metrics for sessions and guards.
//
// A Collector is wired three ways:
//   - as an authguard.ActivitySink on the Store (auth operations)
//   - as an authguard.DecisionObserver on guards and the HTTP middleware
//   - as a Store subscriber through Watch (authenticated sessions gauge)
//
// Metric naming follows Prometheus conventions:
//   - authguard_ prefix for all metrics
//   - _total suffix for counters
package metrics

import (
	"context"
	"sync"

	"github.com/goliatone/go-authguard"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "authguard"

// Collector owns the metric vectors. Create one per registry.
type Collector struct {
	// ActivityTotal counts activity events by type.
	ActivityTotal *prometheus.CounterVec

	// DecisionsTotal counts guard decisions by required role, kind and reason.
	DecisionsTotal *prometheus.CounterVec

	// RedirectsTotal counts redirects that were actually navigated.
	RedirectsTotal *prometheus.CounterVec

	// Authenticated is 1 while the watched store holds a session.
	Authenticated prometheus.Gauge

	// SessionsByRole is 1 for the role of the current session, 0 otherwise.
	SessionsByRole *prometheus.GaugeVec

	// StateChangesTotal counts state notifications seen by Watch.
	StateChangesTotal prometheus.Counter

	mu sync.Mutex
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// leaves them unregistered, which is handy in tests.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		ActivityTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "activity_total",
				Help:      "Total auth activity events by type.",
			},
			[]string{"event"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "guard_decisions_total",
				Help:      "Total guard decisions by required role, kind and reason.",
			},
			[]string{"required_role", "kind", "reason"},
		),
		RedirectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "guard_redirects_total",
				Help:      "Total redirects issued by guards by reason.",
			},
			[]string{"reason"},
		),
		Authenticated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "session_authenticated",
				Help:      "Whether the watched store currently holds a session.",
			},
		),
		SessionsByRole: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "session_role",
				Help:      "Role of the current session (1 for the active role).",
			},
			[]string{"role"},
		),
		StateChangesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "state_changes_total",
				Help:      "Total auth state notifications.",
			},
		),
	}

	if reg == nil {
		return c, nil
	}

	for _, collector := range c.collectors() {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNewCollector is like NewCollector but panics on registration errors.
func MustNewCollector(reg prometheus.Registerer) *Collector {
	c, err := NewCollector(reg)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ActivityTotal,
		c.DecisionsTotal,
		c.RedirectsTotal,
		c.Authenticated,
		c.SessionsByRole,
		c.StateChangesTotal,
	}
}

// Record implements authguard.ActivitySink.
func (c *Collector) Record(_ context.Context, event authguard.ActivityEvent) error {
	c.ActivityTotal.WithLabelValues(string(event.EventType)).Inc()
	return nil
}

// ObserveDecision implements authguard.DecisionObserver.
func (c *Collector) ObserveDecision(required authguard.Role, decision authguard.GuardDecision, navigated bool) {
	if required == "" {
		required = authguard.RoleUser
	}
	reason := string(decision.Reason)
	if reason == "" {
		reason = "none"
	}
	c.DecisionsTotal.WithLabelValues(required.String(), string(decision.Kind), reason).Inc()
	if navigated {
		c.RedirectsTotal.WithLabelValues(reason).Inc()
	}
}

// Observe records a state snapshot in the session gauges.
func (c *Collector) Observe(state authguard.AuthState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.StateChangesTotal.Inc()

	if state.IsLoading {
		return
	}

	if !state.Authenticated() {
		c.Authenticated.Set(0)
	} else {
		c.Authenticated.Set(1)
	}

	for _, role := range authguard.AllRoles() {
		value := 0.0
		if state.Authenticated() && state.Role == role {
			value = 1
		}
		c.SessionsByRole.WithLabelValues(role.String()).Set(value)
	}
}

// Watch keeps the session gauges in sync with source until the returned
// function is called.
func (c *Collector) Watch(source authguard.StateSource) authguard.UnsubscribeFunc {
	c.Observe(source.State())
	return source.Subscribe(c.Observe)
}
