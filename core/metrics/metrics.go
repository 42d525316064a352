package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is registered as a single collector; every method is safe on a nil receiver
// so tests and tools can run without a registry.
type Metrics struct {
	ReportsCreated      prometheus.Counter
	QuotaRejections     prometheus.Counter
	ReportTransitions   *prometheus.CounterVec
	ZoneResolutions     prometheus.Counter
	ZoneLevelChanges    *prometheus.CounterVec
	ZoneWindowResets    prometheus.Counter
	NotificationResults *prometheus.CounterVec
	PushClients         prometheus.Gauge
}

func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ReportsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporta_reports_created_total",
			Help: "Reports accepted by createReport.",
		}),
		QuotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporta_report_quota_rejections_total",
			Help: "Reports rejected by the daily quota guard.",
		}),
		ReportTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reporta_report_transitions_total",
			Help: "Committed report state transitions partitioned by target state.",
		}, []string{"state"}),
		ZoneResolutions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporta_zone_resolutions_total",
			Help: "Resolved reports counted against a zone window.",
		}),
		ZoneLevelChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reporta_zone_level_changes_total",
			Help: "Zone risk level changes partitioned by source and target level.",
		}, []string{"from", "to"}),
		ZoneWindowResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporta_zone_window_resets_total",
			Help: "Zones reset by the expiry sweep.",
		}),
		NotificationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reporta_notification_deliveries_total",
			Help: "Notification deliveries partitioned by channel and status.",
		}, []string{"channel", "status"}),
		PushClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reporta_push_clients",
			Help: "Currently connected push clients.",
		}),
	}
	if registry != nil {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReportsCreated, m.QuotaRejections, m.ReportTransitions, m.ZoneResolutions,
		m.ZoneLevelChanges, m.ZoneWindowResets, m.NotificationResults, m.PushClients,
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *Metrics) ReportCreated() {
	if m != nil {
		m.ReportsCreated.Inc()
	}
}

func (m *Metrics) QuotaRejected() {
	if m != nil {
		m.QuotaRejections.Inc()
	}
}

func (m *Metrics) ReportTransitioned(state string) {
	if m != nil {
		m.ReportTransitions.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) ZoneResolved(from, to string) {
	if m == nil {
		return
	}
	m.ZoneResolutions.Inc()
	if from != to {
		m.ZoneLevelChanges.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) ZoneReset(from string) {
	if m == nil {
		return
	}
	m.ZoneWindowResets.Inc()
	if from != "ZONA_SEGURA" {
		m.ZoneLevelChanges.WithLabelValues(from, "ZONA_SEGURA").Inc()
	}
}

func (m *Metrics) NotificationDelivered(channel, status string) {
	if m != nil {
		m.NotificationResults.WithLabelValues(channel, status).Inc()
	}
}

func (m *Metrics) PushClientsChanged(delta float64) {
	if m != nil {
		m.PushClients.Add(delta)
	}
}
