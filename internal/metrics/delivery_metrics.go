package metrics

import "github.com/prometheus/client_golang/prometheus"

// Исходы прохода очистки журнала доставок.
const (
	SweepResultOK    = "ok"
	SweepResultError = "error"
)

// DeliveryMetrics описывает очистку журнала доставок вебхуков.
type DeliveryMetrics struct {
	sweeps      *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewDeliveryMetricsWithRegisterer регистрирует метрики журнала доставок.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewDeliveryMetricsWithRegisterer(registerer prometheus.Registerer) *DeliveryMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &DeliveryMetrics{
		sweeps: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "credits_webhook_delivery_sweeps_total",
			Help: "Total number of webhook delivery log sweeps by result",
		}, []string{"result"}),
		deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "credits_webhook_delivery_deleted_total",
			Help: "Total number of expired webhook deliveries removed from the log",
		}),
		lastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "credits_webhook_delivery_last_sweep_deleted",
			Help: "Number of webhook deliveries removed by the last sweep",
		}),
	}
}

// RecordSweep учитывает завершённый проход очистки.
func (m *DeliveryMetrics) RecordSweep(deleted int, err error) {
	if err != nil {
		m.sweeps.WithLabelValues(SweepResultError).Inc()
		return
	}
	m.sweeps.WithLabelValues(SweepResultOK).Inc()
	m.lastDeleted.Set(float64(deleted))
}

// AddDeleted добавляет удалённые одной порцией доставки.
func (m *DeliveryMetrics) AddDeleted(n int) {
	if n > 0 {
		m.deleted.Add(float64(n))
	}
}

// LastDeleted отдаёт gauge последнего прохода для проверок.
func (m *DeliveryMetrics) LastDeleted() prometheus.Gauge {
	return m.lastDeleted
}
