package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
)

func TestNewCreditMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCreditMetricsWithRegisterer(reg)

	if m.autoCompletions == nil || m.awards == nil || m.credited == nil {
		t.Fatal("counters must be initialized")
	}
	if m.notifications == nil || m.awardDuration == nil || m.outboxEvents == nil {
		t.Fatal("vectors and histogram must be initialized")
	}
}

func TestNewCreditMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewCreditMetricsWithRegisterer(reg)
	second := NewCreditMetricsWithRegisterer(reg)

	first.RecordAutoCompletion()
	second.RecordAutoCompletion()

	if got := testutil.ToFloat64(first.autoCompletions); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}
}

func TestRecordAward(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCreditMetricsWithRegisterer(reg)

	m.RecordAward(AwardResultAwarded)
	m.RecordAward(AwardResultAwarded)
	m.RecordAward(AwardResultWalletMissing)

	if got := testutil.ToFloat64(m.awards.WithLabelValues(AwardResultAwarded)); got != 2 {
		t.Errorf("expected 2 awarded, got %f", got)
	}
	if got := testutil.ToFloat64(m.awards.WithLabelValues(AwardResultWalletMissing)); got != 1 {
		t.Errorf("expected 1 wallet_missing, got %f", got)
	}
}

func TestAddCredited(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCreditMetricsWithRegisterer(reg)

	m.AddCredited(decimal.RequireFromString("25"))
	m.AddCredited(decimal.RequireFromString("10.5"))
	m.AddCredited(decimal.Zero)
	m.AddCredited(decimal.RequireFromString("-3"))

	if got := testutil.ToFloat64(m.credited); got != 35.5 {
		t.Fatalf("expected 35.5 credited, got %f", got)
	}
}

func TestRecordNotification(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCreditMetricsWithRegisterer(reg)

	m.RecordNotification(TargetBuyer, NotificationSent)
	m.RecordNotification(TargetAdmin, NotificationNoPhone)

	if got := testutil.ToFloat64(m.notifications.WithLabelValues(TargetBuyer, NotificationSent)); got != 1 {
		t.Errorf("expected 1 buyer sent, got %f", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues(TargetAdmin, NotificationNoPhone)); got != 1 {
		t.Errorf("expected 1 admin no_phone, got %f", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues(TargetAdmin, NotificationSent)); got != 0 {
		t.Errorf("expected 0 admin sent, got %f", got)
	}
}

func TestRecordAwardDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCreditMetricsWithRegisterer(reg)

	m.RecordAwardDuration(100 * time.Millisecond)
	m.RecordAwardDuration(400 * time.Millisecond)

	metric := &dto.Metric{}
	if err := m.awardDuration.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 samples, got %d", metric.Histogram.GetSampleCount())
	}
	if sum := metric.Histogram.GetSampleSum(); sum < 0.45 || sum > 0.55 {
		t.Errorf("expected sum around 0.5, got %f", sum)
	}
}

func TestRecordOutboxEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCreditMetricsWithRegisterer(reg)

	m.RecordOutboxEvent()
	m.RecordOutboxEvent()

	if got := testutil.ToFloat64(m.outboxEvents); got != 2 {
		t.Fatalf("expected 2 outbox events, got %f", got)
	}
}
