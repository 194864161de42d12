package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet описывает кошелёк клиента. Ledger живёт во внешней системе.
type Wallet interface {
	// Configured сообщает, подключён ли кошелёк. Неподключённый кошелёк блокирует начисления.
	Configured() bool
	// Credit зачисляет сумму на баланс клиента.
	Credit(req CreditRequest) error
	// Balance возвращает текущий баланс клиента.
	Balance(customerID int64) (decimal.Decimal, error)
}

// MessageSender описывает внешний транспорт чат-сообщений.
type MessageSender interface {
	// Configured сообщает, подключён ли транспорт.
	Configured() bool
	// SendMessage отправляет текст на номер в каноническом формате.
	SendMessage(phone, text string) error
}

// ProfileDirectory: поиск данных пользователя.
type ProfileDirectory interface {
	// UserData возвращает имя и отображаемое имя пользователя.
	UserData(userID int64) (UserProfile, error)
	// Field возвращает структурированное поле профиля владельца (формат "user_<id>").
	Field(fieldName, owner string) (string, error)
	// UserMeta возвращает произвольное метаполе пользователя.
	UserMeta(userID int64, key string) (string, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// DeliveryRepository учитывает доставки вебхуков и их сохранённые ответы.
// Reserve возвращает существующую запись вместе с ErrDeliveryExists или ErrDeliveryMismatch.
type DeliveryRepository interface {
	Reserve(key, fingerprint string, expiresAt time.Time) (DeliveryRecord, error)
	Get(key string) (DeliveryRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Типы событий, которые сервис кладёт в outbox.
const (
	EventOrderAutoCompleted = "OrderAutoCompleted"
	EventCreditsAwarded     = "CreditsAwarded"
)
