package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[int64]domain.Product
}

// NewProductRepository создаёт in-memory реплику каталога.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{
		items: make(map[int64]domain.Product),
	}
}

func (r *productRepositoryInMemory) Get(id int64) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product.Clone(), nil
}

// Upsert сохраняет товар. Ключи снимка перекрывают локальные, остальные локальные атрибуты остаются.
func (r *productRepositoryInMemory) Upsert(product domain.Product) error {
	if product.ID <= 0 {
		return domain.ErrProductIDRequired
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := product.Clone()
	if current, ok := r.items[product.ID]; ok {
		meta := make(map[string]string, len(current.Meta)+len(product.Meta))
		for k, v := range current.Meta {
			meta[k] = v
		}
		for k, v := range product.Meta {
			meta[k] = v
		}
		stored.Meta = meta
	}
	r.items[product.ID] = stored
	return nil
}

func (r *productRepositoryInMemory) SetMeta(id int64, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	product = product.Clone()
	if product.Meta == nil {
		product.Meta = make(map[string]string)
	}
	product.Meta[key] = value
	product.UpdatedAt = time.Now().UTC()
	r.items[id] = product
	return nil
}

func (r *productRepositoryInMemory) DeleteMeta(id int64, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	product = product.Clone()
	delete(product.Meta, key)
	product.UpdatedAt = time.Now().UTC()
	r.items[id] = product
	return nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
