package pulse

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors for the check engine and the
// round scheduler. A nil *Metrics is valid and records nothing.
type Metrics struct {
	roundsTotal      prometheus.Counter
	roundDuration    prometheus.Histogram
	probesTotal      *prometheus.CounterVec
	probesInFlight   prometheus.Gauge
	admissionWait    prometheus.Histogram
	alertsFired      prometheus.Counter
	devicesRecovered prometheus.Counter
	devicesFailing   prometheus.Gauge
	unitFailures     *prometheus.CounterVec
	notifications    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		roundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netpulse_rounds_total",
			Help: "Total number of completed polling rounds.",
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netpulse_round_duration_seconds",
			Help:    "Wall-clock duration of the check phase of a round.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netpulse_probes_total",
			Help: "TCP probe attempts by result.",
		}, []string{"result"}),
		probesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netpulse_probes_in_flight",
			Help: "Connection attempts currently holding an admission permit.",
		}),
		admissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netpulse_admission_wait_seconds",
			Help:    "Time spent waiting for an admission permit.",
			Buckets: prometheus.DefBuckets,
		}),
		alertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netpulse_alerts_fired_total",
			Help: "Alerts handed to the notifier.",
		}),
		devicesRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netpulse_devices_recovered_total",
			Help: "Transitions from alerted back to healthy.",
		}),
		devicesFailing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netpulse_devices_failing",
			Help: "Devices with a failing verdict in the last round.",
		}),
		unitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netpulse_unit_failures_total",
			Help: "Evaluation units that terminated abnormally, by fan-out level.",
		}, []string{"level"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netpulse_notifications_total",
			Help: "Notification deliveries by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.roundsTotal,
			m.roundDuration,
			m.probesTotal,
			m.probesInFlight,
			m.admissionWait,
			m.alertsFired,
			m.devicesRecovered,
			m.devicesFailing,
			m.unitFailures,
			m.notifications,
		)
	}
	return m
}

func (m *Metrics) observeProbe(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.probesTotal.WithLabelValues("success").Inc()
	} else {
		m.probesTotal.WithLabelValues("failure").Inc()
	}
}

func (m *Metrics) probeStarted(waitSeconds float64) {
	if m == nil {
		return
	}
	m.admissionWait.Observe(waitSeconds)
	m.probesInFlight.Inc()
}

func (m *Metrics) probeFinished() {
	if m == nil {
		return
	}
	m.probesInFlight.Dec()
}

func (m *Metrics) unitFailed(level string) {
	if m == nil {
		return
	}
	m.unitFailures.WithLabelValues(level).Inc()
}

func (m *Metrics) roundCompleted(seconds float64, failing int) {
	if m == nil {
		return
	}
	m.roundsTotal.Inc()
	m.roundDuration.Observe(seconds)
	m.devicesFailing.Set(float64(failing))
}

func (m *Metrics) alertFired() {
	if m == nil {
		return
	}
	m.alertsFired.Inc()
}

func (m *Metrics) deviceRecovered() {
	if m == nil {
		return
	}
	m.devicesRecovered.Inc()
}

func (m *Metrics) notificationResult(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.notifications.WithLabelValues("failure").Inc()
		return
	}
	m.notifications.WithLabelValues("success").Inc()
}
