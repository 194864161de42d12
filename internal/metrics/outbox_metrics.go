package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы публикации события outbox.
const (
	PublishSent             = "sent"
	PublishRetry            = "retry"
	PublishDeadLettered     = "dead_lettered"
	PublishDeadLetterFailed = "dead_letter_failed"
)

// OutboxMetrics описывает ретрансляцию событий начислений из outbox в брокер.
type OutboxMetrics struct {
	publishes *prometheus.CounterVec
	pending   prometheus.Gauge
	oldestAge prometheus.Gauge
}

// NewOutboxMetricsWithRegisterer регистрирует метрики outbox.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		publishes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "credits_outbox_publishes_total",
			Help: "Total number of outbox publish attempts by event type and result",
		}, []string{"event_type", "result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "credits_outbox_pending",
			Help: "Number of credit events waiting in the outbox",
		}),
		oldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "credits_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending credit event in seconds",
		}),
	}
}

// RecordPublish учитывает попытку публикации события.
func (m *OutboxMetrics) RecordPublish(eventType, result string) {
	m.publishes.WithLabelValues(eventType, result).Inc()
}

// SetBacklog выставляет размер очереди и возраст самого старого события.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	m.pending.Set(float64(pending))
	if pending == 0 || oldestAge < 0 {
		oldestAge = 0
	}
	m.oldestAge.Set(oldestAge.Seconds())
}

// Publishes отдаёт счётчик публикаций для проверок.
func (m *OutboxMetrics) Publishes(eventType, result string) prometheus.Counter {
	return m.publishes.WithLabelValues(eventType, result)
}
