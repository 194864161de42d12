package credits

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
	"github.com/vladislavdragonenkov/credits/internal/metrics"
)

const (
	autoCompleteNote = "Pedido com produtos virtuais elegíveis completado automaticamente."
	walletNoteFormat = "Créditos recebidos pela compra de produtos no pedido #%s"
	awardNoteFormat  = "%s créditos foram adicionados à carteira do cliente."

	maxSaveAttempts   = 3
	defaultRetryDelay = 10 * time.Millisecond
)

// Имена зависимостей для баннера администратора и health-проверок.
const (
	DependencyOrderStore = "order store"
	DependencyWallet     = "wallet"
)

// Notifier отправляет уведомления о начислении. Ошибки доставки не возвращаются.
type Notifier interface {
	NotifyBuyer(customerID int64, creditsAdded decimal.Decimal, orderNumber string)
	NotifyAdmin(customerID int64, creditsAdded decimal.Decimal, orderNumber string)
}

// Collaborators: внешние зависимости координатора. Nil означает «не подключено».
type Collaborators struct {
	Orders   domain.OrderRepository
	Products domain.ProductRepository
	Wallet   domain.Wallet
	Notifier Notifier
	Outbox   domain.OutboxRepository
}

// Option настраивает координатор.
type Option func(*Coordinator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.CreditMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithRetryDelay задаёт базовую задержку между повторами сохранения.
func WithRetryDelay(delay time.Duration) Option {
	return func(c *Coordinator) {
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// Coordinator обрабатывает события жизненного цикла заказа: авто-завершение
// после оплаты и начисление кредитов после завершения.
type Coordinator struct {
	orders     domain.OrderRepository
	products   domain.ProductRepository
	wallet     domain.Wallet
	notifier   Notifier
	outbox     domain.OutboxRepository
	sanitizer  *bluemonday.Policy
	logger     *log.Entry
	metrics    *metrics.CreditMetrics
	retryDelay time.Duration
}

// NewCoordinator создаёт координатор с переданными зависимостями.
func NewCoordinator(deps Collaborators, opts ...Option) *Coordinator {
	c := &Coordinator{
		orders:     deps.Orders,
		products:   deps.Products,
		wallet:     deps.Wallet,
		notifier:   deps.Notifier,
		outbox:     deps.Outbox,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     log.New().WithField("component", "credits"),
		retryDelay: defaultRetryDelay,
	}
	if c.notifier == nil {
		c.notifier = noopNotifier{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckDependencies возвращает список неподключённых обязательных зависимостей.
func (c *Coordinator) CheckDependencies() []string {
	var missing []string
	if c.orders == nil {
		missing = append(missing, DependencyOrderStore)
	}
	if !c.walletConfigured() {
		missing = append(missing, DependencyWallet)
	}
	return missing
}

// HandlePaymentCompleted переводит оплаченный заказ из одних виртуальных товаров
// с кредитами в completed и запускает начисление.
func (c *Coordinator) HandlePaymentCompleted(orderID int64) {
	logger := c.logger.WithField("order_id", orderID)
	if c.orders == nil {
		logger.Debug("order store not configured, payment completed ignored")
		return
	}

	order, err := c.orders.Get(orderID)
	if err != nil {
		logger.WithError(err).Warn("order not found for auto completion")
		return
	}
	if order.HasStatus(domain.OrderStatusCompleted) {
		logger.Debug("order already completed, skipping auto completion")
		return
	}
	if !IsEligibleForAutoCompletion(order, c.products) {
		logger.Debug("order not eligible for auto completion")
		return
	}

	completed, applied, err := c.saveWithRetry(order, func(o *domain.Order) bool {
		if o.HasStatus(domain.OrderStatusCompleted) || !IsEligibleForAutoCompletion(*o, c.products) {
			return false
		}
		o.Status = domain.OrderStatusCompleted
		o.AddNote(autoCompleteNote)
		return true
	})
	if err != nil {
		logger.WithError(err).Error("failed to persist auto completion")
		return
	}
	if !applied {
		logger.Debug("order changed concurrently, skipping auto completion")
		return
	}

	logger.Info("order auto completed")
	if c.metrics != nil {
		c.metrics.RecordAutoCompletion()
	}
	c.emitEvent(completed, domain.EventOrderAutoCompleted, map[string]interface{}{
		"status": string(completed.Status),
		"note":   autoCompleteNote,
	})

	c.HandleOrderCompleted(orderID)
}

// HandleOrderCompleted начисляет кредиты за заказ в статусе completed не более одного раза.
// Заказы в других статусах пропускаются.
func (c *Coordinator) HandleOrderCompleted(orderID int64) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordAwardDuration(time.Since(start))
		}
	}()

	logger := c.logger.WithField("order_id", orderID)
	if c.orders == nil {
		logger.Debug("order store not configured, order completed ignored")
		return
	}

	order, err := c.orders.Get(orderID)
	if err != nil {
		logger.WithError(err).Warn("order not found for award")
		c.recordAward(metrics.AwardResultSkipped)
		return
	}
	if !order.HasStatus(domain.OrderStatusCompleted) {
		logger.WithField("status", order.Status).Warn("order is not completed, award skipped")
		c.recordAward(metrics.AwardResultSkipped)
		return
	}
	if !ShouldAward(&order) {
		logger.WithField("customer_id", order.CustomerID).Debug("award not required")
		c.recordAward(metrics.AwardResultSkipped)
		return
	}

	total := TotalCredits(order, c.products)
	if !total.IsPositive() {
		logger.Debug("order grants no credits")
		c.recordAward(metrics.AwardResultZero)
		return
	}

	grant := domain.CreditGrant{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Total:       total,
		OrderNumber: order.DisplayNumber(),
	}
	logger = logger.WithFields(log.Fields{
		"customer_id": grant.CustomerID,
		"credits":     grant.Total.String(),
	})

	if !c.walletConfigured() {
		logger.Warn("wallet not configured, award skipped")
		c.recordAward(metrics.AwardResultWalletMissing)
		return
	}

	req := domain.CreditRequest{
		CustomerID: grant.CustomerID,
		Amount:     grant.Total,
		Note:       fmt.Sprintf(walletNoteFormat, grant.OrderNumber),
		Reference:  grant.Reference(),
	}
	if err := c.wallet.Credit(req); err != nil {
		logger.WithError(err).Error("wallet credit failed")
		c.recordAward(metrics.AwardResultWalletError)
		return
	}

	c.notifier.NotifyBuyer(grant.CustomerID, grant.Total, grant.OrderNumber)
	c.notifier.NotifyAdmin(grant.CustomerID, grant.Total, grant.OrderNumber)

	note := fmt.Sprintf(awardNoteFormat, grant.Total.String())
	awarded, applied, err := c.saveWithRetry(order, func(o *domain.Order) bool {
		if !o.HasStatus(domain.OrderStatusCompleted) || !ShouldAward(o) {
			return false
		}
		MarkAwarded(o, note)
		return true
	})
	if err != nil {
		logger.WithError(err).Error("failed to persist award flag")
		c.recordAward(metrics.AwardResultPersistError)
		return
	}
	if !applied {
		logger.Info("order awarded concurrently")
		c.recordAward(metrics.AwardResultSkipped)
		return
	}

	logger.Info("credits awarded")
	c.recordAward(metrics.AwardResultAwarded)
	if c.metrics != nil {
		c.metrics.AddCredited(grant.Total)
	}
	c.emitEvent(awarded, domain.EventCreditsAwarded, map[string]interface{}{
		"customer_id":  grant.CustomerID,
		"credits":      grant.Total.String(),
		"order_number": grant.OrderNumber,
		"reference":    grant.Reference(),
	})
}

// SaveCreditsField применяет значение поля кредитов из формы товара: числовое
// значение сохраняется очищенной строкой, любое другое удаляет атрибут.
func (c *Coordinator) SaveCreditsField(productID int64, submitted string) error {
	if c.products == nil {
		return fmt.Errorf("save credits field: %w", domain.ErrProductNotFound)
	}
	if productID <= 0 {
		return domain.ErrProductIDRequired
	}

	cleaned := CleanCreditsInput(c.sanitizer, submitted)
	if domain.IsNumeric(cleaned) {
		if err := c.products.SetMeta(productID, domain.MetaCreditsAmount, cleaned); err != nil {
			return fmt.Errorf("save credits field: %w", err)
		}
		c.logger.WithFields(log.Fields{
			"product_id": productID,
			"credits":    cleaned,
		}).Info("product credits updated")
		return nil
	}

	if err := c.products.DeleteMeta(productID, domain.MetaCreditsAmount); err != nil {
		return fmt.Errorf("delete credits field: %w", err)
	}
	c.logger.WithField("product_id", productID).Info("product credits removed")
	return nil
}

// CleanCreditsInput удаляет разметку и пробелы по краям.
func CleanCreditsInput(policy *bluemonday.Policy, raw string) string {
	if policy == nil {
		policy = bluemonday.StrictPolicy()
	}
	return strings.TrimSpace(policy.Sanitize(raw))
}

// saveWithRetry применяет mutate и сохраняет заказ. На конфликте версий заказ
// перечитывается и mutate применяется заново; mutate возвращает false, если
// изменение больше не нужно.
func (c *Coordinator) saveWithRetry(order domain.Order, mutate func(*domain.Order) bool) (domain.Order, bool, error) {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		if !mutate(&order) {
			return order, false, nil
		}
		order.UpdatedAt = time.Now().UTC()

		err := c.orders.Save(order)
		if err == nil {
			order.Version++
			return order, true, nil
		}
		if !domain.IsVersionConflict(err) || attempt == maxSaveAttempts-1 {
			return order, false, err
		}

		c.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		fresh, loadErr := c.orders.Get(order.ID)
		if loadErr != nil {
			return order, false, fmt.Errorf("reload order after conflict: %w", loadErr)
		}
		order = fresh

		time.Sleep(c.retryDelay * time.Duration(1<<uint(attempt)))
	}
	return order, false, domain.ErrOrderVersionConflict
}

func (c *Coordinator) emitEvent(order domain.Order, eventType string, payload map[string]interface{}) {
	if c.outbox == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   strconv.FormatInt(order.ID, 10),
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := c.outbox.Enqueue(msg); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	if c.metrics != nil {
		c.metrics.RecordOutboxEvent()
	}
}

func (c *Coordinator) walletConfigured() bool {
	return c.wallet != nil && c.wallet.Configured()
}

func (c *Coordinator) recordAward(result string) {
	if c.metrics != nil {
		c.metrics.RecordAward(result)
	}
}

type noopNotifier struct{}

func (noopNotifier) NotifyBuyer(int64, decimal.Decimal, string) {}
func (noopNotifier) NotifyAdmin(int64, decimal.Decimal, string) {}

var _ Notifier = noopNotifier{}
