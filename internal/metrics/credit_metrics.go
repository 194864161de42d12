package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Результаты попытки начисления.
const (
	AwardResultAwarded       = "awarded"
	AwardResultSkipped       = "skipped"
	AwardResultZero          = "zero"
	AwardResultWalletMissing = "wallet_missing"
	AwardResultWalletError   = "wallet_error"
	AwardResultPersistError  = "persist_error"
)

// Получатели и исходы уведомлений.
const (
	TargetBuyer = "buyer"
	TargetAdmin = "admin"

	NotificationSent          = "sent"
	NotificationNoPhone       = "no_phone"
	NotificationSendFailed    = "send_failed"
	NotificationNotConfigured = "not_configured"
)

// CreditMetrics содержит метрики начислений и уведомлений.
type CreditMetrics struct {
	autoCompletions prometheus.Counter
	awards          *prometheus.CounterVec
	credited        prometheus.Counter
	notifications   *prometheus.CounterVec
	awardDuration   prometheus.Histogram
	outboxEvents    prometheus.Counter
}

// NewCreditMetrics регистрирует метрики в DefaultRegisterer.
func NewCreditMetrics() *CreditMetrics {
	return NewCreditMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCreditMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCreditMetricsWithRegisterer(registerer prometheus.Registerer) *CreditMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CreditMetrics{
		autoCompletions: registerCounter(registerer, prometheus.CounterOpts{
			Name: "credits_orders_auto_completed_total",
			Help: "Total number of orders auto-completed as fully virtual credit orders",
		}),
		awards: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "credits_awards_total",
			Help: "Total number of award attempts by result",
		}, []string{"result"}),
		credited: registerCounter(registerer, prometheus.CounterOpts{
			Name: "credits_credited_amount_total",
			Help: "Total amount of credits added to customer wallets",
		}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "credits_notifications_total",
			Help: "Total number of notification attempts by target and result",
		}, []string{"target", "result"}),
		awardDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "credits_award_duration_seconds",
			Help:    "Duration of the order completed handler in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "credits_outbox_events_total",
			Help: "Total number of events enqueued into the outbox",
		}),
	}
}

// RecordAutoCompletion увеличивает счётчик авто-завершённых заказов.
func (m *CreditMetrics) RecordAutoCompletion() {
	m.autoCompletions.Inc()
}

// RecordAward учитывает исход попытки начисления.
func (m *CreditMetrics) RecordAward(result string) {
	m.awards.WithLabelValues(result).Inc()
}

// AddCredited добавляет начисленную сумму.
func (m *CreditMetrics) AddCredited(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	m.credited.Add(amount.InexactFloat64())
}

// RecordNotification учитывает исход уведомления.
func (m *CreditMetrics) RecordNotification(target, result string) {
	m.notifications.WithLabelValues(target, result).Inc()
}

// RecordAwardDuration записывает длительность обработки завершения заказа.
func (m *CreditMetrics) RecordAwardDuration(duration time.Duration) {
	m.awardDuration.Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CreditMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
