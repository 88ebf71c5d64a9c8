// Package telemetry holds the prometheus collectors shared by the gatekeeper,
// the processing pipeline and the health monitor.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collectors struct {
	Registry *prometheus.Registry

	Violations         *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	Outcomes           *prometheus.CounterVec
	Retries            *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	QueueDepth         prometheus.Gauge
	Alerts             *prometheus.CounterVec
	Health             *prometheus.GaugeVec
	BreakerRejections  *prometheus.CounterVec
}

// New builds collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookgate",
			Name:      "security_violations_total",
			Help:      "Inbound deliveries rejected by the gatekeeper.",
		}, []string{"platform", "kind"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookgate",
			Name:      "deliveries_total",
			Help:      "Inbound deliveries accepted, by intake result.",
		}, []string{"platform", "result"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookgate",
			Name:      "event_outcomes_total",
			Help:      "Processing attempts by resulting event status.",
		}, []string{"platform", "status"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookgate",
			Name:      "event_retries_total",
			Help:      "Retries scheduled after a failed attempt.",
		}, []string{"platform"}),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hookgate",
			Name:      "processing_duration_seconds",
			Help:      "Wall-clock duration of processing attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hookgate",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the processing queue.",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookgate",
			Name:      "alerts_total",
			Help:      "Alerts raised, by type and severity.",
		}, []string{"type", "severity"}),
		Health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hookgate",
			Name:      "component_up",
			Help:      "1 when a dependency answered its last health probe.",
		}, []string{"component"}),
		BreakerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookgate",
			Name:      "collaborator_breaker_open_total",
			Help:      "Collaborator calls refused by an open circuit breaker.",
		}, []string{"collaborator"}),
	}

	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.Violations, c.Deliveries, c.Outcomes, c.Retries, c.ProcessingDuration,
		c.QueueDepth, c.Alerts, c.Health, c.BreakerRejections,
	)
	return c
}

func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}
