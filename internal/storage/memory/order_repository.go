package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// orderRepositoryInMemory: реплика заказов в памяти.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[int64]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[int64]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	if order.ID <= 0 {
		return domain.ErrOrderIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	// Храним копию, чтобы вызывающий не мутировал состояние репозитория.
	r.items[order.ID] = order.Clone()
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id int64) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	stored := order.Clone()
	stored.Version++
	r.items[order.ID] = stored
	return nil
}

// Upsert применяет снимок витрины; для существующего заказа сливает его с локальной копией.
func (r *orderRepositoryInMemory) Upsert(snapshot domain.Order) (domain.Order, error) {
	if snapshot.ID <= 0 {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[snapshot.ID]
	if !ok {
		stored := snapshot.Clone()
		stored.Version = 0
		r.items[stored.ID] = stored
		return stored.Clone(), nil
	}

	merged := domain.MergeSnapshot(current, snapshot)
	merged.Version = current.Version + 1
	r.items[merged.ID] = merged
	return merged.Clone(), nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
