package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// LifecycleHandler: обработчики триггеров жизненного цикла заказа.
type LifecycleHandler interface {
	HandlePaymentCompleted(orderID int64)
	HandleOrderCompleted(orderID int64)
}

// StorefrontHandler применяет события витрины к локальным репликам и
// передаёт триггеры оплаты и завершения координатору.
type StorefrontHandler struct {
	orders    domain.OrderRepository
	products  domain.ProductRepository
	profiles  domain.ProfileRepository
	lifecycle LifecycleHandler
	logger    *log.Entry
}

// StorefrontReplicas: реплики, которые обновляются событиями витрины. Nil допустим.
type StorefrontReplicas struct {
	Orders   domain.OrderRepository
	Products domain.ProductRepository
	Profiles domain.ProfileRepository
}

// NewStorefrontHandler создаёт обработчик событий витрины.
func NewStorefrontHandler(replicas StorefrontReplicas, lifecycle LifecycleHandler, logger *log.Entry) *StorefrontHandler {
	if logger == nil {
		logger = log.WithField("component", "storefront-events")
	}
	return &StorefrontHandler{
		orders:    replicas.Orders,
		products:  replicas.Products,
		profiles:  replicas.Profiles,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// Handle реализует MessageHandler. Ошибки хранилища возвращаются для повтора,
// ошибки формата помечаются как неповторяемые.
func (h *StorefrontHandler) Handle(_ context.Context, message *sarama.ConsumerMessage) error {
	event, err := ParseStorefrontEvent(message.Value)
	if err != nil {
		return err
	}
	return h.Apply(event)
}

// Apply обрабатывает уже разобранное событие.
func (h *StorefrontHandler) Apply(event *StorefrontEvent) error {
	logger := h.logger.WithField("event_type", event.EventType)

	switch event.EventType {
	case EventTypeOrderUpserted:
		if event.Order == nil {
			return Permanent(fmt.Errorf("%s without order snapshot", event.EventType))
		}
		return h.applyOrder(event.Order)

	case EventTypeProductUpserted:
		if event.Product == nil {
			return Permanent(fmt.Errorf("%s without product snapshot", event.EventType))
		}
		if h.products == nil {
			logger.Debug("product replica not configured, event skipped")
			return nil
		}
		product := event.Product.ToDomain()
		if product.ID <= 0 {
			return Permanent(domain.ErrProductIDRequired)
		}
		if err := h.products.Upsert(product); err != nil {
			return fmt.Errorf("upsert product %d: %w", product.ID, err)
		}
		return nil

	case EventTypeCustomerUpserted:
		if event.Customer == nil {
			return Permanent(fmt.Errorf("%s without customer profile", event.EventType))
		}
		if h.profiles == nil {
			logger.Debug("profile replica not configured, event skipped")
			return nil
		}
		if event.Customer.ID <= 0 {
			return Permanent(fmt.Errorf("customer profile without id"))
		}
		if err := h.profiles.Upsert(event.Customer.ToDomain()); err != nil {
			return fmt.Errorf("upsert customer %d: %w", event.Customer.ID, err)
		}
		return nil

	case EventTypePaymentCompleted, EventTypeOrderCompleted:
		if event.Order != nil {
			if err := h.applyOrder(event.Order); err != nil {
				return err
			}
		}
		orderID := event.TargetOrderID()
		if orderID <= 0 {
			return Permanent(domain.ErrOrderIDRequired)
		}
		if h.lifecycle == nil {
			logger.WithField("order_id", orderID).Warn("lifecycle handler not configured, trigger skipped")
			return nil
		}
		if event.EventType == EventTypePaymentCompleted {
			h.lifecycle.HandlePaymentCompleted(orderID)
		} else {
			h.lifecycle.HandleOrderCompleted(orderID)
		}
		return nil

	default:
		logger.Warn("unknown storefront event type, acknowledged")
		return nil
	}
}

func (h *StorefrontHandler) applyOrder(snapshot *OrderSnapshot) error {
	order := snapshot.ToDomain()
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return Permanent(errors.Join(errs...))
	}
	if h.orders == nil {
		h.logger.WithField("order_id", order.ID).Debug("order replica not configured, snapshot skipped")
		return nil
	}
	if _, err := h.orders.Upsert(order); err != nil {
		return fmt.Errorf("upsert order %d: %w", order.ID, err)
	}
	return nil
}
