package notify

import (
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
	"github.com/vladislavdragonenkov/credits/internal/metrics"
	"github.com/vladislavdragonenkov/credits/internal/phone"
	"github.com/vladislavdragonenkov/credits/internal/service/credits"
)

// Config задаёт получателя уведомлений администратора.
type Config struct {
	// AdminUserID: пользователь, получающий уведомления администратора; 0 отключает их.
	AdminUserID int64
}

// Dispatcher отправляет уведомления о начислении покупателю и администратору.
// Ошибки поиска телефона и доставки логируются и не возвращаются.
type Dispatcher struct {
	sender      domain.MessageSender
	wallet      domain.Wallet
	lookup      *PhoneLookup
	formatter   Formatter
	adminUserID int64
	logger      *log.Entry
	metrics     *metrics.CreditMetrics
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(
	sender domain.MessageSender,
	wallet domain.Wallet,
	lookup *PhoneLookup,
	formatter Formatter,
	cfg Config,
	logger *log.Entry,
	m *metrics.CreditMetrics,
) *Dispatcher {
	if logger == nil {
		logger = log.New().WithField("component", "notify")
	}
	if formatter == nil {
		formatter, _ = NewFormatter(StylePlain)
	}
	if lookup == nil {
		lookup = NewPhoneLookup(nil, "", nil, phone.Normalizer{})
	}
	return &Dispatcher{
		sender:      sender,
		wallet:      wallet,
		lookup:      lookup,
		formatter:   formatter,
		adminUserID: cfg.AdminUserID,
		logger:      logger,
		metrics:     m,
	}
}

// NotifyBuyer сообщает покупателю о начислении и новом балансе.
func (d *Dispatcher) NotifyBuyer(customerID int64, creditsAdded decimal.Decimal, orderNumber string) {
	logger := d.logger.WithFields(log.Fields{
		"target":       metrics.TargetBuyer,
		"customer_id":  customerID,
		"order_number": orderNumber,
	})
	if !d.senderConfigured() {
		d.record(metrics.TargetBuyer, metrics.NotificationNotConfigured)
		return
	}

	phone, err := d.lookup.Phone(customerID)
	if err != nil {
		logger.WithError(err).Warn("buyer phone not found, notification skipped")
		d.record(metrics.TargetBuyer, metrics.NotificationNoPhone)
		return
	}

	msg := BuyerMessage{
		Name:         d.lookup.DisplayName(customerID),
		CreditsAdded: creditsAdded,
		OrderNumber:  orderNumber,
	}
	if d.wallet != nil && d.wallet.Configured() {
		balance, err := d.wallet.Balance(customerID)
		if err != nil {
			logger.WithError(err).Warn("wallet balance unavailable")
		} else {
			msg.Balance = balance
			msg.HasBalance = true
		}
	}

	d.send(logger, metrics.TargetBuyer, phone, d.formatter.Buyer(msg))
}

// NotifyAdmin сообщает администратору о начислении клиенту.
func (d *Dispatcher) NotifyAdmin(customerID int64, creditsAdded decimal.Decimal, orderNumber string) {
	logger := d.logger.WithFields(log.Fields{
		"target":       metrics.TargetAdmin,
		"customer_id":  customerID,
		"order_number": orderNumber,
	})
	if !d.senderConfigured() {
		d.record(metrics.TargetAdmin, metrics.NotificationNotConfigured)
		return
	}
	if d.adminUserID == 0 {
		logger.Debug("admin notifications disabled")
		return
	}

	phone, err := d.lookup.Phone(d.adminUserID)
	if err != nil {
		logger.WithError(err).WithField("admin_user_id", d.adminUserID).Warn("admin phone not found, notification skipped")
		d.record(metrics.TargetAdmin, metrics.NotificationNoPhone)
		return
	}

	text := d.formatter.Admin(AdminMessage{
		CustomerID:   customerID,
		CustomerName: d.lookup.DisplayName(customerID),
		CreditsAdded: creditsAdded,
		OrderNumber:  orderNumber,
	})
	d.send(logger, metrics.TargetAdmin, phone, text)
}

func (d *Dispatcher) send(logger *log.Entry, target, phone, text string) {
	if err := d.sender.SendMessage(phone, text); err != nil {
		logger.WithError(err).WithField("phone", phone).Error("failed to send notification")
		d.record(target, metrics.NotificationSendFailed)
		return
	}
	logger.WithField("phone", phone).Info("notification sent")
	d.record(target, metrics.NotificationSent)
}

func (d *Dispatcher) senderConfigured() bool {
	return d.sender != nil && d.sender.Configured()
}

func (d *Dispatcher) record(target, result string) {
	if d.metrics != nil {
		d.metrics.RecordNotification(target, result)
	}
}

var _ credits.Notifier = (*Dispatcher)(nil)
