package credits

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/credits/internal/domain"
	"github.com/vladislavdragonenkov/credits/internal/metrics"
	"github.com/vladislavdragonenkov/credits/internal/service/wallet"
	"github.com/vladislavdragonenkov/credits/internal/storage/memory"
)

type notification struct {
	target      string
	customerID  int64
	credits     string
	orderNumber string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) NotifyBuyer(customerID int64, creditsAdded decimal.Decimal, orderNumber string) {
	n.record("buyer", customerID, creditsAdded, orderNumber)
}

func (n *recordingNotifier) NotifyAdmin(customerID int64, creditsAdded decimal.Decimal, orderNumber string) {
	n.record("admin", customerID, creditsAdded, orderNumber)
}

func (n *recordingNotifier) record(target string, customerID int64, creditsAdded decimal.Decimal, orderNumber string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{target: target, customerID: customerID, credits: creditsAdded.String(), orderNumber: orderNumber})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.calls...)
}

// stubWallet считает обращения к неподключённому кошельку.
type stubWallet struct {
	configured  bool
	creditCalls int
}

func (w *stubWallet) Configured() bool { return w.configured }

func (w *stubWallet) Credit(domain.CreditRequest) error {
	w.creditCalls++
	return nil
}

func (w *stubWallet) Balance(int64) (decimal.Decimal, error) { return decimal.Zero, nil }

type fixture struct {
	orders   domain.OrderRepository
	products domain.ProductRepository
	outbox   *memory.OutboxRepository
	ledger   *wallet.MockService
	notifier *recordingNotifier
	metrics  *metrics.CreditMetrics
	registry *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	f := &fixture{
		orders:   memory.NewOrderRepository(),
		products: seedCatalog(t, virtualProduct(1, "10"), virtualProduct(2, "5"), physicalProduct(3, ""), virtualProduct(4, "2")),
		outbox:   memory.NewOutboxRepository(),
		ledger:   wallet.NewMockService(),
		notifier: &recordingNotifier{},
		metrics:  metrics.NewCreditMetricsWithRegisterer(reg),
		registry: reg,
	}
	return f
}

func (f *fixture) coordinator(overrides ...func(*Collaborators)) *Coordinator {
	deps := Collaborators{
		Orders:   f.orders,
		Products: f.products,
		Wallet:   f.ledger,
		Notifier: f.notifier,
		Outbox:   f.outbox,
	}
	for _, override := range overrides {
		override(&deps)
	}
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return NewCoordinator(deps,
		WithLogger(logger.WithField("component", "credits")),
		WithMetrics(f.metrics),
		WithRetryDelay(0),
	)
}

func (f *fixture) seedOrder(t *testing.T, status domain.OrderStatus, customerID int64, items ...domain.LineItem) domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		ID:         501,
		Number:     "501",
		CustomerID: customerID,
		Status:     status,
		Items:      items,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.orders.Create(order))
	return order
}

func (f *fixture) load(t *testing.T, id int64) domain.Order {
	t.Helper()
	order, err := f.orders.Get(id)
	require.NoError(t, err)
	return order
}

func eventTypes(messages []domain.OutboxMessage) []string {
	types := make([]string, 0, len(messages))
	for _, msg := range messages {
		types = append(types, msg.EventType)
	}
	return types
}

func noteTexts(order domain.Order) []string {
	texts := make([]string, 0, len(order.Notes))
	for _, note := range order.Notes {
		texts = append(texts, note.Text)
	}
	return texts
}

var scenarioItems = []domain.LineItem{
	{ID: "a", ProductID: 1, Quantity: 2},
	{ID: "b", ProductID: 2, Quantity: 1},
}

func TestHandleOrderCompleted_AwardsScenario(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusCompleted, 7, scenarioItems...)
	c := f.coordinator()

	c.HandleOrderCompleted(501)

	require.Equal(t, 1, f.ledger.AppliedCount())
	applied := f.ledger.Applied[0]
	assert.Equal(t, int64(7), applied.CustomerID)
	assert.True(t, applied.Amount.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "Créditos recebidos pela compra de produtos no pedido #501", applied.Note)
	assert.Equal(t, "order:501:credits", applied.Reference)

	assert.Equal(t, []notification{
		{target: "buyer", customerID: 7, credits: "25", orderNumber: "501"},
		{target: "admin", customerID: 7, credits: "25", orderNumber: "501"},
	}, f.notifier.all())

	order := f.load(t, 501)
	assert.True(t, order.CreditsAwarded())
	assert.Equal(t, domain.MetaValueYes, order.MetaValue(domain.MetaCreditsAwarded))
	assert.Equal(t, []string{"25 créditos foram adicionados à carteira do cliente."}, noteTexts(order))

	events := f.outbox.AllPending()
	require.Equal(t, []string{domain.EventCreditsAwarded}, eventTypes(events))
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "25", payload["credits"])
	assert.Equal(t, "501", events[0].AggregateID)

	assert.Equal(t, 1.0, f.awardCount(t, metrics.AwardResultAwarded))
}

func (f *fixture) awardCount(t *testing.T, result string) float64 {
	t.Helper()

	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "credits_awards_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestHandleOrderCompleted_RefireIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusCompleted, 7, scenarioItems...)
	c := f.coordinator()

	c.HandleOrderCompleted(501)
	before := f.load(t, 501)

	c.HandleOrderCompleted(501)
	after := f.load(t, 501)

	assert.Equal(t, 1, f.ledger.CreditCalls)
	assert.Len(t, f.notifier.all(), 2)
	assert.Len(t, after.Notes, 1)
	assert.Equal(t, before.Version, after.Version)
	assert.Len(t, f.outbox.AllPending(), 1)
}

func TestHandleOrderCompleted_WalletAbsent(t *testing.T) {
	tests := []struct {
		name   string
		wallet domain.Wallet
	}{
		{name: "not configured", wallet: &stubWallet{}},
		{name: "nil wallet", wallet: nil},
		{name: "not configured adapter", wallet: wallet.NotConfigured{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedOrder(t, domain.OrderStatusCompleted, 7, scenarioItems...)
			c := f.coordinator(func(d *Collaborators) { d.Wallet = tc.wallet })

			c.HandleOrderCompleted(501)

			if stub, ok := tc.wallet.(*stubWallet); ok {
				assert.Equal(t, 0, stub.creditCalls)
			}
			order := f.load(t, 501)
			assert.False(t, order.CreditsAwarded())
			assert.Empty(t, order.Notes)
			assert.Empty(t, f.notifier.all())
			assert.Empty(t, f.outbox.AllPending())
		})
	}
}

func TestHandleOrderCompleted_WalletErrorLeavesOrderEligible(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusCompleted, 7, scenarioItems...)
	f.ledger.CreditErr = errors.New("ledger unavailable")
	c := f.coordinator()

	c.HandleOrderCompleted(501)

	order := f.load(t, 501)
	assert.False(t, order.CreditsAwarded())
	assert.Empty(t, order.Notes)
	assert.Empty(t, f.notifier.all())

	f.ledger.CreditErr = nil
	c.HandleOrderCompleted(501)
	retried := f.load(t, 501)
	assert.True(t, retried.CreditsAwarded())
	assert.Equal(t, 1, f.ledger.AppliedCount())
}

func TestHandleOrderCompleted_Skips(t *testing.T) {
	tests := []struct {
		name       string
		customerID int64
		items      []domain.LineItem
		awarded    bool
	}{
		{name: "guest order", customerID: domain.GuestCustomerID, items: scenarioItems},
		{name: "zero credits", customerID: 7, items: []domain.LineItem{{ProductID: 3, Quantity: 4}}},
		{name: "unknown products", customerID: 7, items: []domain.LineItem{{ProductID: 404, Quantity: 1}}},
		{name: "already awarded", customerID: 7, items: scenarioItems, awarded: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			order := f.seedOrder(t, domain.OrderStatusCompleted, tc.customerID, tc.items...)
			if tc.awarded {
				order.SetMeta(domain.MetaCreditsAwarded, domain.MetaValueYes)
				require.NoError(t, f.orders.Save(order))
			}

			f.coordinator().HandleOrderCompleted(501)

			assert.Equal(t, 0, f.ledger.CreditCalls)
			assert.Empty(t, f.notifier.all())
			assert.Empty(t, f.load(t, 501).Notes)
			assert.Empty(t, f.outbox.AllPending())
		})
	}
}

func TestHandleOrderCompleted_RequiresCompletedStatus(t *testing.T) {
	statuses := []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusProcessing,
		domain.OrderStatusOnHold,
		domain.OrderStatusCancelled,
		domain.OrderStatusRefunded,
		domain.OrderStatusFailed,
	}

	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			f.seedOrder(t, status, 7, scenarioItems...)

			f.coordinator().HandleOrderCompleted(501)

			order := f.load(t, 501)
			assert.Equal(t, status, order.Status)
			assert.False(t, order.CreditsAwarded())
			assert.Empty(t, order.Notes)
			assert.Equal(t, 0, f.ledger.CreditCalls)
			assert.Empty(t, f.notifier.all())
			assert.Empty(t, f.outbox.AllPending())
			assert.Equal(t, 1.0, f.awardCount(t, metrics.AwardResultSkipped))
		})
	}
}

func TestHandleOrderCompleted_StatusChangedBeforeFlagSaved(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusCompleted, 7, scenarioItems...)
	orders := &conflictingOrders{
		OrderRepository: f.orders,
		conflicts:       1,
		before: func(repo domain.OrderRepository) {
			current, _ := repo.Get(501)
			current.Status = domain.OrderStatusRefunded
			_ = repo.Save(current)
		},
	}
	c := f.coordinator(func(d *Collaborators) { d.Orders = orders })

	c.HandleOrderCompleted(501)

	order := f.load(t, 501)
	assert.Equal(t, domain.OrderStatusRefunded, order.Status)
	assert.False(t, order.CreditsAwarded())
	assert.Empty(t, order.Notes)
	assert.Equal(t, 1, orders.saveCalls)
	assert.Empty(t, f.outbox.AllPending())
}

func TestHandleOrderCompleted_MissingOrder(t *testing.T) {
	f := newFixture(t)
	assert.NotPanics(t, func() { f.coordinator().HandleOrderCompleted(999) })
	assert.Equal(t, 0, f.ledger.CreditCalls)
}

func TestHandlePaymentCompleted_AutoCompletesAndAwards(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusProcessing, 7, scenarioItems...)
	c := f.coordinator()

	c.HandlePaymentCompleted(501)

	order := f.load(t, 501)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.True(t, order.CreditsAwarded())
	assert.Equal(t, []string{
		"Pedido com produtos virtuais elegíveis completado automaticamente.",
		"25 créditos foram adicionados à carteira do cliente.",
	}, noteTexts(order))
	assert.Equal(t, []string{domain.EventOrderAutoCompleted, domain.EventCreditsAwarded}, eventTypes(f.outbox.AllPending()))
	assert.Equal(t, 1, f.ledger.AppliedCount())

	c.HandlePaymentCompleted(501)
	assert.Len(t, f.load(t, 501).Notes, 2)
	assert.Equal(t, 1, f.ledger.CreditCalls)
}

func TestHandlePaymentCompleted_MixedOrderNotCompleted(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusProcessing, 7,
		domain.LineItem{ProductID: 3, Quantity: 1},
		domain.LineItem{ProductID: 4, Quantity: 1},
	)

	f.coordinator().HandlePaymentCompleted(501)

	order := f.load(t, 501)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
	assert.Empty(t, order.Notes)
	assert.Empty(t, f.outbox.AllPending())
	assert.Equal(t, 0, f.ledger.CreditCalls)
}

func TestHandlePaymentCompleted_AutoCompletesWithoutWallet(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusProcessing, 7, scenarioItems...)
	c := f.coordinator(func(d *Collaborators) { d.Wallet = wallet.NotConfigured{} })

	c.HandlePaymentCompleted(501)

	order := f.load(t, 501)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.False(t, order.CreditsAwarded())
	assert.Len(t, order.Notes, 1)
	assert.Equal(t, []string{domain.EventOrderAutoCompleted}, eventTypes(f.outbox.AllPending()))
}

func TestHandlePaymentCompleted_GuestOrderCompletesWithoutAward(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusPending, domain.GuestCustomerID, scenarioItems...)

	f.coordinator().HandlePaymentCompleted(501)

	order := f.load(t, 501)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.False(t, order.CreditsAwarded())
	assert.Equal(t, 0, f.ledger.CreditCalls)
}

// conflictingOrders возвращает конфликт версий на первом Save, перед этим
// выполняя concurrent-изменение в хранилище.
type conflictingOrders struct {
	domain.OrderRepository
	mu        sync.Mutex
	conflicts int
	before    func(repo domain.OrderRepository)
	saveCalls int
}

func (r *conflictingOrders) Save(order domain.Order) error {
	r.mu.Lock()
	r.saveCalls++
	conflict := r.conflicts > 0
	if conflict {
		r.conflicts--
	}
	r.mu.Unlock()

	if conflict {
		if r.before != nil {
			r.before(r.OrderRepository)
		}
		return domain.ErrOrderVersionConflict
	}
	return r.OrderRepository.Save(order)
}

func TestHandlePaymentCompleted_RechecksEligibilityAfterConflict(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusProcessing, 7, scenarioItems...)
	orders := &conflictingOrders{
		OrderRepository: f.orders,
		conflicts:       1,
		before: func(repo domain.OrderRepository) {
			current, _ := repo.Get(501)
			current.Items = append(current.Items, domain.LineItem{ID: "c", ProductID: 3, Quantity: 1})
			_ = repo.Save(current)
		},
	}
	c := f.coordinator(func(d *Collaborators) { d.Orders = orders })

	c.HandlePaymentCompleted(501)

	order := f.load(t, 501)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
	assert.Len(t, order.Items, 3)
	assert.Empty(t, order.Notes)
	assert.Equal(t, 1, orders.saveCalls)
	assert.Empty(t, f.outbox.AllPending())
	assert.Equal(t, 0, f.ledger.CreditCalls)
}

func TestHandleOrderCompleted_RetriesOnVersionConflict(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusCompleted, 7, scenarioItems...)
	orders := &conflictingOrders{
		OrderRepository: f.orders,
		conflicts:       1,
		before: func(repo domain.OrderRepository) {
			current, _ := repo.Get(501)
			current.SetMeta("_billing_phone", "11912345678")
			_ = repo.Save(current)
		},
	}
	c := f.coordinator(func(d *Collaborators) { d.Orders = orders })

	c.HandleOrderCompleted(501)

	order := f.load(t, 501)
	assert.True(t, order.CreditsAwarded())
	assert.Equal(t, "11912345678", order.MetaValue("_billing_phone"))
	assert.Len(t, order.Notes, 1)
	assert.Equal(t, 2, orders.saveCalls)
	assert.Equal(t, 1, f.ledger.CreditCalls)
}

func TestHandleOrderCompleted_ConcurrentAwardStopsRetry(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusCompleted, 7, scenarioItems...)
	orders := &conflictingOrders{
		OrderRepository: f.orders,
		conflicts:       1,
		before: func(repo domain.OrderRepository) {
			current, _ := repo.Get(501)
			MarkAwarded(&current, "25 créditos foram adicionados à carteira do cliente.")
			_ = repo.Save(current)
		},
	}
	c := f.coordinator(func(d *Collaborators) { d.Orders = orders })

	c.HandleOrderCompleted(501)

	order := f.load(t, 501)
	assert.True(t, order.CreditsAwarded())
	assert.Len(t, order.Notes, 1)
	assert.Equal(t, 1, orders.saveCalls)
	assert.Empty(t, f.outbox.AllPending())
}

func TestHandleOrderCompleted_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusCompleted, 7, scenarioItems...)
	orders := &conflictingOrders{OrderRepository: f.orders, conflicts: maxSaveAttempts}
	c := f.coordinator(func(d *Collaborators) { d.Orders = orders })

	c.HandleOrderCompleted(501)

	assert.Equal(t, maxSaveAttempts, orders.saveCalls)
	order := f.load(t, 501)
	assert.False(t, order.CreditsAwarded())
	assert.Empty(t, f.outbox.AllPending())
}

func TestHandlers_WithoutOrderStore(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(func(d *Collaborators) { d.Orders = nil })

	assert.NotPanics(t, func() {
		c.HandlePaymentCompleted(501)
		c.HandleOrderCompleted(501)
	})
	assert.Equal(t, 0, f.ledger.CreditCalls)
}

func TestCheckDependencies(t *testing.T) {
	f := newFixture(t)

	assert.Empty(t, f.coordinator().CheckDependencies())

	missing := f.coordinator(func(d *Collaborators) {
		d.Orders = nil
		d.Wallet = wallet.NotConfigured{}
	}).CheckDependencies()
	assert.Equal(t, []string{DependencyOrderStore, DependencyWallet}, missing)
}

func TestSaveCreditsField(t *testing.T) {
	tests := []struct {
		name      string
		submitted string
		want      string
	}{
		{name: "plain number", submitted: "10.50", want: "10.50"},
		{name: "trimmed and stripped", submitted: "  <b>7</b> ", want: "7"},
		{name: "scientific", submitted: "1e2", want: "1e2"},
		{name: "text removes attribute", submitted: "dez", want: ""},
		{name: "empty removes attribute", submitted: "", want: ""},
		{name: "script removes attribute", submitted: "<script>alert(1)</script>", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.coordinator()

			require.NoError(t, c.SaveCreditsField(1, tc.submitted))

			product, err := f.products.Get(1)
			require.NoError(t, err)
			assert.Equal(t, tc.want, product.MetaValue(domain.MetaCreditsAmount))
		})
	}
}

func TestSaveCreditsField_Errors(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator()

	assert.ErrorIs(t, c.SaveCreditsField(404, "10"), domain.ErrProductNotFound)
	assert.ErrorIs(t, c.SaveCreditsField(0, "10"), domain.ErrProductIDRequired)

	withoutCatalog := f.coordinator(func(d *Collaborators) { d.Products = nil })
	assert.Error(t, withoutCatalog.SaveCreditsField(1, "10"))
}
