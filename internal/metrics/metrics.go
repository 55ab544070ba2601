// Package metrics exposes booking saga counters to Prometheus and pushes
// terminal outcomes to CloudWatch.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// SagaMetrics exposes counters/histograms for booking sagas. All methods are
// safe on a nil receiver.
type SagaMetrics struct {
	sagasTotal        *prometheus.CounterVec
	stepAttemptsTotal *prometheus.CounterVec
	compensationTotal *prometheus.CounterVec
	replaysTotal      prometheus.Counter
	recoveriesTotal   *prometheus.CounterVec
	sagaDuration      *prometheus.HistogramVec
}

func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	m := &SagaMetrics{
		sagasTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "sagas_total",
			Help:      "Booking sagas finished, by result status",
		}, []string{"status"}),
		stepAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "step_attempts_total",
			Help:      "Step attempts recorded in the saga log",
		}, []string{"step", "phase", "outcome"}),
		compensationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "compensations_total",
			Help:      "Compensations run, by step and whether they succeeded",
		}, []string{"step", "result"}),
		replaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "idempotent_replays_total",
			Help:      "Requests answered from a stored result",
		}),
		recoveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "recoveries_total",
			Help:      "Interrupted sagas recovered, by action",
		}, []string{"action"}),
		sagaDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "saga_duration_seconds",
			Help:      "Wall time of a booking saga",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sagasTotal, m.stepAttemptsTotal, m.compensationTotal, m.replaysTotal, m.recoveriesTotal, m.sagaDuration)
	return m
}

func (m *SagaMetrics) ObserveSaga(status string, seconds float64) {
	if m == nil {
		return
	}
	m.sagasTotal.WithLabelValues(status).Inc()
	m.sagaDuration.WithLabelValues(status).Observe(seconds)
}

func (m *SagaMetrics) ObserveStep(step, phase, outcome string) {
	if m == nil {
		return
	}
	m.stepAttemptsTotal.WithLabelValues(step, phase, outcome).Inc()
}

func (m *SagaMetrics) ObserveCompensation(step string, ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.compensationTotal.WithLabelValues(step, result).Inc()
}

func (m *SagaMetrics) ObserveReplay() {
	if m == nil {
		return
	}
	m.replaysTotal.Inc()
}

// ObserveRecovery counts a recovered saga; action is "resumed" or "compensated".
func (m *SagaMetrics) ObserveRecovery(action string) {
	if m == nil {
		return
	}
	m.recoveriesTotal.WithLabelValues(action).Inc()
}
