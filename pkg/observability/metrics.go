package observability

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "guardrail"

// Metrics holds the collectors fed by the interpreter hooks.
type Metrics struct {
	Turns           *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	Events          *prometheus.CounterVec
	HeadTransitions *prometheus.CounterVec
	Actions         *prometheus.CounterVec
	ActionDuration  *prometheus.HistogramVec
	FlowErrors      *prometheus.CounterVec

	mu      sync.Mutex
	started map[string]time.Time
	now     func() time.Time
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "turns_total",
			Help:      "Advance calls by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time spent inside Advance.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_total",
			Help:      "Events processed by the interpreter, by kind.",
		}, []string{"kind"}),
		HeadTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "head_transitions_total",
			Help:      "Flow head status changes.",
		}, []string{"flow", "to"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "actions_total",
			Help:      "Action invocations by name and outcome.",
		}, []string{"action", "outcome"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "action_duration_seconds",
			Help:      "Time between an action request and its resolution.",
		}, []string{"action"}),
		FlowErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "flow_errors_total",
			Help:      "Flow errors by flow and code.",
		}, []string{"flow", "code"}),
		started: map[string]time.Time{},
		now:     time.Now,
	}
	if reg != nil {
		reg.MustRegister(m.Turns, m.TurnDuration, m.Events, m.HeadTransitions, m.Actions, m.ActionDuration, m.FlowErrors)
	}
	return m
}

// Hooks returns lifecycle hooks that update m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnEvent: func(_ context.Context, _ string, ev domain.Event) {
			m.Events.WithLabelValues(string(ev.Kind())).Inc()
		},
		OnHeadTransition: func(_ context.Context, e *domain.HeadEvent) {
			m.HeadTransitions.WithLabelValues(e.Flow, string(e.To)).Inc()
		},
		OnActionRequested: func(_ context.Context, e *domain.ActionEvent) {
			m.Actions.WithLabelValues(e.Name, "requested").Inc()
			m.mu.Lock()
			m.started[e.ActionID] = m.now()
			m.mu.Unlock()
		},
		OnActionResolved: func(_ context.Context, e *domain.ActionEvent) {
			outcome := "finished"
			if e.Failed {
				outcome = "failed"
			}
			m.Actions.WithLabelValues(e.Name, outcome).Inc()
			m.mu.Lock()
			start, ok := m.started[e.ActionID]
			delete(m.started, e.ActionID)
			m.mu.Unlock()
			if ok {
				m.ActionDuration.WithLabelValues(e.Name).Observe(m.now().Sub(start).Seconds())
			}
		},
		OnFlowError: func(_ context.Context, _ string, fe domain.FlowError) {
			m.FlowErrors.WithLabelValues(fe.Flow, fe.Code).Inc()
		},
		OnTurn: func(_ context.Context, e *domain.TurnEvent) {
			outcome := "ok"
			if e.Err != nil {
				outcome = "error"
			}
			m.Turns.WithLabelValues(outcome).Inc()
			m.TurnDuration.Observe(e.Duration.Seconds())
		},
	}
}
