package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// EventType определяет тип события витрины.
type EventType string

const (
	// Снимки сущностей витрины
	EventTypeOrderUpserted    EventType = "order.upserted"
	EventTypeProductUpserted  EventType = "product.upserted"
	EventTypeCustomerUpserted EventType = "customer.upserted"

	// События жизненного цикла заказа
	EventTypePaymentCompleted EventType = "order.payment_completed"
	EventTypeOrderCompleted   EventType = "order.status_completed"
)

// Topics для Kafka
const (
	TopicStorefrontEvents = "storefront.events"
	TopicCreditsEvents    = "credits.events"
	TopicNotifications    = "credits.notifications"
	TopicDeadLetterQueue  = "credits.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderContentType   = "content-type"
)

// StorefrontEvent: конверт события витрины. Заполнено поле, соответствующее типу.
// События оплаты и завершения могут нести снимок заказа, который применяется до обработки.
type StorefrontEvent struct {
	EventType  EventType        `json:"event_type"`
	OrderID    int64            `json:"order_id,omitempty"`
	Order      *OrderSnapshot   `json:"order,omitempty"`
	Product    *ProductSnapshot `json:"product,omitempty"`
	Customer   *CustomerProfile `json:"customer,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// OrderSnapshot: снимок заказа витрины.
type OrderSnapshot struct {
	ID         int64             `json:"id"`
	Number     string            `json:"number"`
	CustomerID int64             `json:"customer_id"`
	Status     string            `json:"status"`
	Items      []LineItem        `json:"items"`
	Meta       map[string]string `json:"meta,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// LineItem: позиция снимка заказа.
type LineItem struct {
	ID        string `json:"id"`
	ProductID int64  `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

// ProductSnapshot: снимок товара каталога.
type ProductSnapshot struct {
	ID      int64             `json:"id"`
	Name    string            `json:"name"`
	Virtual bool              `json:"virtual"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// CustomerProfile: снимок профиля клиента.
type CustomerProfile struct {
	ID          int64             `json:"id"`
	FirstName   string            `json:"first_name"`
	DisplayName string            `json:"display_name"`
	Fields      map[string]string `json:"fields,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// NotificationMessage: сообщение для чат-шлюза в топике уведомлений.
type NotificationMessage struct {
	Phone  string    `json:"phone"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// ParseStorefrontEvent разбирает событие витрины. Ошибки разбора неповторяемы.
func ParseStorefrontEvent(data []byte) (*StorefrontEvent, error) {
	var event StorefrontEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, Permanent(fmt.Errorf("failed to unmarshal storefront event: %w", err))
	}
	if event.EventType == "" {
		return nil, Permanent(fmt.Errorf("storefront event without event_type"))
	}
	return &event, nil
}

// TargetOrderID возвращает ID заказа события: явный или из снимка.
func (e *StorefrontEvent) TargetOrderID() int64 {
	if e.OrderID > 0 {
		return e.OrderID
	}
	if e.Order != nil {
		return e.Order.ID
	}
	return 0
}

// ToDomain переводит снимок в доменный заказ.
func (s *OrderSnapshot) ToDomain() domain.Order {
	items := make([]domain.LineItem, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, domain.LineItem{ID: item.ID, ProductID: item.ProductID, Quantity: item.Quantity})
	}

	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	return domain.Order{
		ID:         s.ID,
		Number:     s.Number,
		CustomerID: s.CustomerID,
		Status:     domain.OrderStatus(s.Status),
		Items:      items,
		Meta:       copyAttributes(s.Meta),
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
}

// ToDomain переводит снимок в доменный товар.
func (s *ProductSnapshot) ToDomain() domain.Product {
	return domain.Product{
		ID:      s.ID,
		Name:    s.Name,
		Virtual: s.Virtual,
		Meta:    copyAttributes(s.Meta),
	}
}

// ToDomain переводит снимок в доменный профиль.
func (p *CustomerProfile) ToDomain() domain.CustomerProfile {
	return domain.CustomerProfile{
		UserProfile: domain.UserProfile{ID: p.ID, FirstName: p.FirstName, DisplayName: p.DisplayName},
		Fields:      copyAttributes(p.Fields),
		Meta:        copyAttributes(p.Meta),
	}
}

func copyAttributes(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
