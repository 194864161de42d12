package notify

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/credits/internal/domain"
	"github.com/vladislavdragonenkov/credits/internal/metrics"
	"github.com/vladislavdragonenkov/credits/internal/phone"
	"github.com/vladislavdragonenkov/credits/internal/service/sender"
	"github.com/vladislavdragonenkov/credits/internal/service/wallet"
	"github.com/vladislavdragonenkov/credits/internal/storage/memory"
)

const (
	buyerID = int64(7)
	adminID = int64(1)
)

func newFixture(t *testing.T) (domain.ProfileRepository, *sender.MockSender, *wallet.MockService) {
	t.Helper()

	profiles := memory.NewProfileRepository()
	require.NoError(t, profiles.Upsert(domain.CustomerProfile{
		UserProfile: domain.UserProfile{ID: buyerID, FirstName: "Ana"},
		Meta:        map[string]string{"billing_phone": "11 91234-5678"},
	}))
	require.NoError(t, profiles.Upsert(domain.CustomerProfile{
		UserProfile: domain.UserProfile{ID: adminID, FirstName: "Admin"},
		Fields:      map[string]string{DefaultPhoneField: "21 99999-0000"},
	}))

	ledger := wallet.NewMockService()
	ledger.SetBalance(buyerID, decimal.RequireFromString("125"))
	return profiles, sender.NewMockSender(), ledger
}

func newDispatcher(profiles domain.ProfileDirectory, s domain.MessageSender, w domain.Wallet, adminUserID int64, m *metrics.CreditMetrics) *Dispatcher {
	formatter, _ := NewFormatter(StylePlain)
	return NewDispatcher(s, w, NewPhoneLookup(profiles, "", nil, phone.Normalizer{}), formatter, Config{AdminUserID: adminUserID}, nil, m)
}

func TestDispatcher_NotifyBuyerAndAdmin(t *testing.T) {
	profiles, mockSender, ledger := newFixture(t)
	d := newDispatcher(profiles, mockSender, ledger, adminID, nil)

	d.NotifyBuyer(buyerID, decimal.RequireFromString("25"), "501")
	d.NotifyAdmin(buyerID, decimal.RequireFromString("25"), "501")

	sent := mockSender.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "5511912345678", sent[0].Phone)
	assert.Equal(t, "Olá Ana! Você recebeu 25 créditos pela compra do pedido #501. Seu saldo atual é de 125,00.", sent[0].Text)
	assert.Equal(t, "5521999990000", sent[1].Phone)
	assert.Equal(t, "O cliente #7 (Ana) recebeu 25 créditos pelo pedido #501.", sent[1].Text)
}

func TestDispatcher_BalanceUnavailableOmitsSentence(t *testing.T) {
	profiles, mockSender, ledger := newFixture(t)
	ledger.BalanceErr = errors.New("ledger timeout")
	d := newDispatcher(profiles, mockSender, ledger, adminID, nil)

	d.NotifyBuyer(buyerID, decimal.RequireFromString("25"), "501")

	sent := mockSender.Sent()
	require.Len(t, sent, 1)
	assert.NotContains(t, sent[0].Text, "saldo")
}

func TestDispatcher_FailuresAreContained(t *testing.T) {
	profiles, mockSender, ledger := newFixture(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewCreditMetricsWithRegisterer(reg)

	mockSender.SendErr = errors.New("gateway down")
	d := newDispatcher(profiles, mockSender, ledger, adminID, m)

	assert.NotPanics(t, func() {
		d.NotifyBuyer(buyerID, decimal.NewFromInt(5), "9")
		d.NotifyBuyer(404, decimal.NewFromInt(5), "9")
		d.NotifyAdmin(buyerID, decimal.NewFromInt(5), "9")
	})
	assert.Equal(t, 2, mockSender.SendCalls)

	families, err := reg.Gather()
	require.NoError(t, err)
	results := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "credits_notifications_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, label := range metric.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}
			results[labels["target"]+"/"+labels["result"]] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, results["buyer/send_failed"])
	assert.Equal(t, 1.0, results["buyer/no_phone"])
	assert.Equal(t, 1.0, results["admin/send_failed"])
}

func TestDispatcher_AdminDisabled(t *testing.T) {
	profiles, mockSender, ledger := newFixture(t)
	d := newDispatcher(profiles, mockSender, ledger, 0, nil)

	d.NotifyAdmin(buyerID, decimal.NewFromInt(5), "9")
	assert.Equal(t, 0, mockSender.SendCalls)
}

func TestDispatcher_SenderNotConfigured(t *testing.T) {
	profiles, _, ledger := newFixture(t)
	d := newDispatcher(profiles, sender.NotConfigured{}, ledger, adminID, nil)

	assert.NotPanics(t, func() {
		d.NotifyBuyer(buyerID, decimal.NewFromInt(5), "9")
		d.NotifyAdmin(buyerID, decimal.NewFromInt(5), "9")
	})
	assert.Equal(t, 0, ledger.BalanceCalls)

	nilSender := NewDispatcher(nil, nil, nil, nil, Config{AdminUserID: adminID}, nil, nil)
	assert.NotPanics(t, func() {
		nilSender.NotifyBuyer(buyerID, decimal.NewFromInt(5), "9")
		nilSender.NotifyAdmin(buyerID, decimal.NewFromInt(5), "9")
	})
}
