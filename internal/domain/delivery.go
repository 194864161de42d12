package domain

import "time"

// DeliveryStatus описывает жизненный цикл доставки вебхука.
type DeliveryStatus string

const (
	// DeliveryStatusProcessing: доставка принята и ещё обрабатывается.
	DeliveryStatusProcessing DeliveryStatus = "processing"
	// DeliveryStatusDone: доставка обработана, ответ сохранён для повторов.
	DeliveryStatusDone DeliveryStatus = "done"
	// DeliveryStatusFailed: обработка завершилась ошибкой, повтор разрешён.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// DeliveryRecord: учёт одной доставки вебхука по X-Delivery-ID.
type DeliveryRecord struct {
	DeliveryID   string
	Fingerprint  string
	Status       DeliveryStatus
	HTTPStatus   int
	ResponseBody []byte
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusProcessing, DeliveryStatusDone, DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

// ParseDeliveryStatus переводит сохранённое значение в статус.
func ParseDeliveryStatus(raw string) (DeliveryStatus, bool) {
	status := DeliveryStatus(raw)
	return status, status.Valid()
}

// Replayable: ответ сохранён и его можно вернуть на повторную доставку.
func (r DeliveryRecord) Replayable() bool {
	return r.Status == DeliveryStatusDone && r.HTTPStatus != 0
}

// InFlight: первая доставка ещё не закончила обработку.
func (r DeliveryRecord) InFlight() bool {
	return r.Status == DeliveryStatusProcessing
}

// Expired сообщает, что запись можно вычистить.
func (r DeliveryRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// SamePayload сверяет отпечаток повторной доставки с зарегистрированным.
func (r DeliveryRecord) SamePayload(fingerprint string) bool {
	return r.Fingerprint == fingerprint
}

// Clone отвязывает сохранённое тело ответа от исходного буфера.
func (r DeliveryRecord) Clone() DeliveryRecord {
	dst := r
	dst.ResponseBody = append([]byte(nil), r.ResponseBody...)
	return dst
}
