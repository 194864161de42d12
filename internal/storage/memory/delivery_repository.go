package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// defaultDeliveryTTL: срок учёта доставки, если вызывающий его не передал.
const defaultDeliveryTTL = 24 * time.Hour

// DeliveryRepository: in-memory журнал доставок вебхуков.
// Истёкшая запись считается свободной ещё до того, как её вычистит cleanup.
type DeliveryRepository struct {
	mu         sync.Mutex
	now        func() time.Time
	deliveries map[string]domain.DeliveryRecord
}

// NewDeliveryRepository создаёт пустой журнал доставок на системных часах.
func NewDeliveryRepository() *DeliveryRepository {
	return NewDeliveryRepositoryWithClock(time.Now)
}

// NewDeliveryRepositoryWithClock позволяет тестам управлять временем истечения.
func NewDeliveryRepositoryWithClock(now func() time.Time) *DeliveryRepository {
	if now == nil {
		now = time.Now
	}
	return &DeliveryRepository{now: now, deliveries: make(map[string]domain.DeliveryRecord)}
}

func (r *DeliveryRepository) Reserve(deliveryID, fingerprint string, expiresAt time.Time) (domain.DeliveryRecord, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	fingerprint = strings.TrimSpace(fingerprint)
	switch {
	case deliveryID == "":
		return domain.DeliveryRecord{}, domain.ErrDeliveryIDRequired
	case fingerprint == "":
		return domain.DeliveryRecord{}, domain.ErrDeliveryFingerprintRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if existing, ok := r.deliveries[deliveryID]; ok && !existing.Expired(now) {
		if !existing.SamePayload(fingerprint) {
			return existing.Clone(), domain.ErrDeliveryMismatch
		}
		return existing.Clone(), domain.ErrDeliveryExists
	}

	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultDeliveryTTL)
	}
	record := domain.DeliveryRecord{
		DeliveryID:  deliveryID,
		Fingerprint: fingerprint,
		Status:      domain.DeliveryStatusProcessing,
		ExpiresAt:   expiresAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.deliveries[deliveryID] = record
	return record.Clone(), nil
}

func (r *DeliveryRepository) Get(deliveryID string) (domain.DeliveryRecord, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return domain.DeliveryRecord{}, domain.ErrDeliveryIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.deliveries[deliveryID]
	if !ok {
		return domain.DeliveryRecord{}, domain.ErrDeliveryNotFound
	}
	return record.Clone(), nil
}

// MarkDone сохраняет ответ, который вернётся на повторную доставку.
func (r *DeliveryRepository) MarkDone(deliveryID string, responseBody []byte, httpStatus int) error {
	return r.finish(deliveryID, domain.DeliveryStatusDone, responseBody, httpStatus)
}

func (r *DeliveryRepository) MarkFailed(deliveryID string, responseBody []byte, httpStatus int) error {
	return r.finish(deliveryID, domain.DeliveryStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет до limit доставок, истёкших к before, начиная с самых старых.
func (r *DeliveryRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before.IsZero() {
		before = r.now().UTC()
	}

	expired := make([]domain.DeliveryRecord, 0)
	for _, record := range r.deliveries {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].ExpiresAt.Equal(expired[j].ExpiresAt) {
			return expired[i].DeliveryID < expired[j].DeliveryID
		}
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(r.deliveries, record.DeliveryID)
	}
	return len(expired), nil
}

// Len возвращает число учтённых доставок, включая истёкшие.
func (r *DeliveryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

func (r *DeliveryRepository) finish(deliveryID string, status domain.DeliveryStatus, responseBody []byte, httpStatus int) error {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return domain.ErrDeliveryIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.deliveries[deliveryID]
	if !ok {
		return domain.ErrDeliveryNotFound
	}
	record.Status = status
	record.HTTPStatus = httpStatus
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.UpdatedAt = r.now().UTC()
	r.deliveries[deliveryID] = record
	return nil
}

var _ domain.DeliveryRepository = (*DeliveryRepository)(nil)
