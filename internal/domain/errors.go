package domain

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderIDRequired — у заказа нет идентификатора.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrItemQtyInvalid — количество в позиции заказа <= 0.
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// ErrOrderStatusInvalid — статус не входит в поддерживаемый набор.
	ErrOrderStatusInvalid = errors.New("order status is invalid")

	// ErrProductNotFound — товар позиции не удалось разрешить.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductIDRequired — у товара нет идентификатора.
	ErrProductIDRequired = errors.New("product_id is required")

	// ErrProfileNotFound — профиль пользователя отсутствует.
	ErrProfileNotFound = errors.New("user profile not found")
	// ErrPhoneNotFound — ни одно из полей профиля не дало пригодный номер.
	ErrPhoneNotFound = errors.New("phone number not found")

	// ErrWalletNotConfigured — кошелёк не подключён, начисления невозможны.
	ErrWalletNotConfigured = errors.New("wallet is not configured")
	// ErrWalletRejected — кошелёк отклонил операцию начисления.
	ErrWalletRejected = errors.New("wallet rejected credit")
	// ErrWalletUnavailable — предохранитель разомкнут после серии сбоев кошелька.
	ErrWalletUnavailable = errors.New("wallet is temporarily unavailable")
	// ErrSenderNotConfigured — канал отправки сообщений не подключён.
	ErrSenderNotConfigured = errors.New("message sender is not configured")
	// ErrMessageDelivery — транспорт не смог доставить сообщение.
	ErrMessageDelivery = errors.New("message delivery failed")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrDeliveryIDRequired: вебхук пришёл с пустым X-Delivery-ID.
	ErrDeliveryIDRequired = errors.New("delivery id is required")
	// ErrDeliveryFingerprintRequired: нечем сверить повтор доставки.
	ErrDeliveryFingerprintRequired = errors.New("delivery fingerprint is required")
	// ErrDeliveryExists: доставка уже зарегистрирована.
	ErrDeliveryExists = errors.New("delivery already registered")
	// ErrDeliveryMismatch: тот же X-Delivery-ID пришёл с другим телом.
	ErrDeliveryMismatch = errors.New("delivery id reused with different payload")
	// ErrDeliveryNotFound: доставка не зарегистрирована.
	ErrDeliveryNotFound = errors.New("delivery not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsDeliveryConflict сообщает, что X-Delivery-ID уже занят.
func IsDeliveryConflict(err error) bool {
	return errors.Is(err, ErrDeliveryExists) || errors.Is(err, ErrDeliveryMismatch)
}
