package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/redeploy/internal/domain"
)

const namespace = "redeploy"

// Metrics — Prometheus метрики деплоя.
//
// Все методы безопасны для nil-получателя: компоненты можно создавать
// без метрик.
type Metrics struct {
	registry *prometheus.Registry

	deployments  *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
}

// NewMetrics создаёт метрики в собственном registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		deployments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Deployment attempts by service and outcome.",
		}, []string{"name", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of deployment pipeline steps.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"step"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State machine transitions by target state.",
		}, []string{"state"}),
	}
}

// Registry возвращает registry с метриками.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler возвращает http.Handler для /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOutcome учитывает итог попытки деплоя.
func (m *Metrics) ObserveOutcome(name string, status domain.OutcomeStatus) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(name, string(status)).Inc()
}

// ObserveStep учитывает длительность шага пайплайна.
func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// ObserveTransition учитывает переход машины состояний.
func (m *Metrics) ObserveTransition(to domain.State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}
