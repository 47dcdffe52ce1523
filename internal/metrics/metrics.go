// Package metrics exposes pipeline instrumentation via prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and gauges shared by the agents. Pass a nil
// registerer to use the process-wide default registry.
type Metrics struct {
	registry          prometheus.Registerer
	alertsTotal       *prometheus.CounterVec
	decisionsTotal    *prometheus.CounterVec
	actionsTotal      *prometheus.CounterVec
	actionDuration    *prometheus.HistogramVec
	webhooksTotal     *prometheus.CounterVec
	scansTotal        *prometheus.CounterVec
	dedupedTotal      prometheus.Counter
	reconnectsTotal   prometheus.Counter
	containersSampled prometheus.Gauge
}

func Init(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registry: reg,
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_alerts_total",
				Help:      "Health alerts published by the Monitor",
			},
			[]string{"anomaly"},
		),
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Analyzer decisions by verdict and method",
			},
			[]string{"verdict", "method"},
		),
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remediation_actions_total",
				Help:      "Remediation outcomes by action and result",
			},
			[]string{"action", "result"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remediation_duration_seconds",
				Help:      "Duration of executed remediation actions",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"action"},
		),
		webhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Webhook delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vulnerability_scans_total",
				Help:      "Vulnerability scans by result",
			},
			[]string{"result"},
		),
		dedupedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_deduped_total",
				Help:      "Notifications suppressed by deduplication",
			},
		),
		reconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broker_reconnects_total",
				Help:      "Broker reconnect attempts",
			},
		),
		containersSampled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "containers_sampled",
				Help:      "Containers observed in the last Monitor cycle",
			},
		),
	}

	reg.MustRegister(
		m.alertsTotal,
		m.decisionsTotal,
		m.actionsTotal,
		m.actionDuration,
		m.webhooksTotal,
		m.scansTotal,
		m.dedupedTotal,
		m.reconnectsTotal,
		m.containersSampled,
	)

	return m
}

func (m *Metrics) RecordAlert(anomaly string) {
	m.alertsTotal.WithLabelValues(anomaly).Inc()
}

func (m *Metrics) RecordDecision(verdict, method string) {
	m.decisionsTotal.WithLabelValues(verdict, method).Inc()
}

func (m *Metrics) RecordAction(action, result string, duration time.Duration) {
	m.actionsTotal.WithLabelValues(action, result).Inc()
	if duration > 0 {
		m.actionDuration.WithLabelValues(action).Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordWebhook(outcome string) {
	m.webhooksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordScan(result string) {
	m.scansTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDeduped() {
	m.dedupedTotal.Inc()
}

func (m *Metrics) RecordReconnect() {
	m.reconnectsTotal.Inc()
}

func (m *Metrics) SetContainersSampled(n int) {
	m.containersSampled.Set(float64(n))
}
