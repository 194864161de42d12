package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus описывает статус заказа на стороне витрины.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusOnHold     OrderStatus = "on-hold"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
	OrderStatusFailed     OrderStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusOnHold, OrderStatusCompleted,
		OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed:
		return true
	default:
		return false
	}
}

const (
	// MetaCreditsAwarded — флаг заказа, по которому кредиты уже начислены.
	MetaCreditsAwarded = "_dsi_credits_awarded"
	// MetaValueYes — единственное значение, которым выставляется флаг.
	MetaValueYes = "yes"

	// GuestCustomerID — заказ оформлен без учётной записи.
	GuestCustomerID int64 = 0
)

// LineItem представляет одну позицию заказа.
type LineItem struct {
	ID        string
	ProductID int64
	Quantity  int32
}

// OrderNote — запись в журнале заметок заказа.
type OrderNote struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

// Order агрегирует состояние заказа, его позиции, метаданные и журнал заметок.
type Order struct {
	ID         int64
	Number     string
	CustomerID int64
	Status     OrderStatus
	Items      []LineItem
	Meta       map[string]string
	Notes      []OrderNote
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasStatus сообщает, находится ли заказ в указанном статусе.
func (o *Order) HasStatus(status OrderStatus) bool {
	return o.Status == status
}

// MetaValue возвращает значение метаданных или пустую строку.
func (o *Order) MetaValue(key string) string {
	if o.Meta == nil {
		return ""
	}
	return o.Meta[key]
}

// SetMeta записывает значение метаданных.
func (o *Order) SetMeta(key, value string) {
	if o.Meta == nil {
		o.Meta = make(map[string]string)
	}
	o.Meta[key] = value
}

// AddNote добавляет заметку в журнал заказа. Сохраняется вместе с заказом.
func (o *Order) AddNote(text string) OrderNote {
	note := OrderNote{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	o.Notes = append(o.Notes, note)
	return note
}

// CreditsAwarded сообщает, выставлен ли флаг начисления.
func (o *Order) CreditsAwarded() bool {
	return o.MetaValue(MetaCreditsAwarded) != ""
}

// IsGuest — заказ без клиента.
func (o *Order) IsGuest() bool {
	return o.CustomerID == GuestCustomerID
}

// DisplayNumber возвращает номер заказа для сообщений, по умолчанию ID.
func (o *Order) DisplayNumber() string {
	if o.Number != "" {
		return o.Number
	}
	return formatID(o.ID)
}

// ValidateInvariants проверяет базовые инварианты снимка заказа.
func (o *Order) ValidateInvariants() []error {
	var errs []error
	if o.ID <= 0 {
		errs = append(errs, ErrOrderIDRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
	}
	return errs
}

// MergeSnapshot применяет снимок витрины к локальной копии заказа.
// Позиции, номер и клиент берутся из снимка, метаданные сливаются, локальные
// заметки сохраняются. Флаг начисления не сбрасывается, а устаревший снимок
// не откатывает completed обратно в статус до оплаты.
func MergeSnapshot(local, snapshot Order) Order {
	merged := local.Clone()
	merged.Number = snapshot.Number
	merged.CustomerID = snapshot.CustomerID
	merged.Items = append([]LineItem(nil), snapshot.Items...)
	merged.UpdatedAt = snapshot.UpdatedAt

	if !(local.Status == OrderStatusCompleted && isPreCompletion(snapshot.Status)) {
		merged.Status = snapshot.Status
	}

	awarded := local.MetaValue(MetaCreditsAwarded)
	for k, v := range snapshot.Meta {
		merged.SetMeta(k, v)
	}
	if awarded != "" {
		merged.SetMeta(MetaCreditsAwarded, awarded)
	}
	return merged
}

func isPreCompletion(status OrderStatus) bool {
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusOnHold:
		return true
	default:
		return false
	}
}

// Clone возвращает глубокую копию заказа, чтобы хранилища не делили map/slice с вызывающим.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]LineItem(nil), o.Items...)
	dst.Notes = append([]OrderNote(nil), o.Notes...)
	if o.Meta != nil {
		dst.Meta = make(map[string]string, len(o.Meta))
		for k, v := range o.Meta {
			dst.Meta[k] = v
		}
	}
	return dst
}
