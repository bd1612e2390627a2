package engine

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

type Metrics struct {
	// Latency: сколько занял запуск целиком (гейты + бэкенд)
	DispatchDuration *prometheus.HistogramVec

	// Traffic: запуски по исходу (ok, rejected, failed)
	StartsTotal *prometheus.CounterVec

	// Errors: классификация отказов по причине без id триггера
	RejectionsTotal *prometheus.CounterVec

	// Signer: попытки подписи по подписанту и результату
	SignerAttempts *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge

	// Reconciler: найденные задачи по severity и действию
	RepairTasks *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		DispatchDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cplane_dispatch_duration_seconds",
			Help:    "Histogram of trigger start latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"backend", "outcome"}),

		StartsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cplane_trigger_starts_total",
			Help: "Total number of trigger start attempts by outcome.",
		}, []string{"outcome"}),

		RejectionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cplane_rejections_total",
			Help: "Total number of rejected starts by reason class.",
		}, []string{"reason"}),

		SignerAttempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cplane_signer_attempts_total",
			Help: "Execution token signing attempts.",
		}, []string{"signer", "result"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "cplane_circuit_breaker_state",
			Help: "Current state of the backend circuit breaker (0=closed, 1=open).",
		}, []string{"backend"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cplane_audit_buffer_utilization",
			Help: "Current number of entries in the audit buffer.",
		}),

		RepairTasks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cplane_reconciler_tasks_total",
			Help: "Repair tasks detected by the reconciler.",
		}, []string{"severity", "action"}),
	}
}

// ObserveSigner: адаптер для token.Options.OnAttempt.
func (m *Metrics) ObserveSigner(signer, result string) {
	m.SignerAttempts.WithLabelValues(signer, result).Inc()
}

// ObserveBreaker: адаптер для колбэка смены состояния предохранителя.
func (m *Metrics) ObserveBreaker(backend string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitBreakerState.WithLabelValues(backend).Set(v)
}

// reasonClass убирает из причины id триггера и детали, чтобы не плодить серии.
func reasonClass(reason string) string {
	for _, prefix := range []string{
		domain.ReasonTriggerKillPrefix,
		domain.ReasonTriggerDisabled,
		domain.ReasonPolicyDeniedPrefix,
		domain.ReasonBackendUnavailable,
		domain.ReasonBackendErrorPrefix,
	} {
		if strings.HasPrefix(reason, prefix) {
			return strings.TrimSuffix(prefix, ":")
		}
	}
	return reason
}
