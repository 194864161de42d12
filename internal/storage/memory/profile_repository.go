package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

type profileRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[int64]domain.CustomerProfile
}

// NewProfileRepository создаёт in-memory реплику профилей клиентов.
func NewProfileRepository() domain.ProfileRepository {
	return &profileRepositoryInMemory{
		items: make(map[int64]domain.CustomerProfile),
	}
}

func (r *profileRepositoryInMemory) Upsert(profile domain.CustomerProfile) error {
	if profile.ID <= 0 {
		return domain.ErrProfileNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[profile.ID] = cloneProfile(profile)
	return nil
}

func (r *profileRepositoryInMemory) UserData(userID int64) (domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.items[userID]
	if !ok {
		return domain.UserProfile{}, domain.ErrProfileNotFound
	}
	return profile.UserProfile, nil
}

// Field возвращает структурированное поле владельца "user_<id>"; отсутствие поля не ошибка.
func (r *profileRepositoryInMemory) Field(fieldName, owner string) (string, error) {
	userID, ok := domain.ParseProfileOwner(owner)
	if !ok {
		return "", nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.items[userID].Fields[fieldName], nil
}

func (r *profileRepositoryInMemory) UserMeta(userID int64, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.items[userID].Meta[key], nil
}

func cloneProfile(src domain.CustomerProfile) domain.CustomerProfile {
	dst := src
	dst.Fields = cloneStrings(src.Fields)
	dst.Meta = cloneStrings(src.Meta)
	return dst
}

func cloneStrings(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

var _ domain.ProfileRepository = (*profileRepositoryInMemory)(nil)
