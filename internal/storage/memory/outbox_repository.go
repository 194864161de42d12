package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"

	defaultOutboxBatch = 100
)

type outboxRecord struct {
	msg       domain.OutboxMessage
	status    string
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// OutboxRepository: outbox событий начислений в памяти. Записи лежат в порядке постановки,
// поэтому relay видит OrderAutoCompleted и CreditsAwarded одного заказа в том же порядке.
type OutboxRepository struct {
	mu      sync.RWMutex
	ordered []*outboxRecord
	byID    map[string]*outboxRecord
	now     func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		byID: make(map[string]*outboxRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	r.mu.Lock()
	defer r.mu.Unlock()

	at := r.now()
	rec := &outboxRecord{msg: msg, status: outboxStatusPending, createdAt: at, updatedAt: at}
	r.ordered = append(r.ordered, rec)
	r.byID[msg.ID] = rec
	return msg, nil
}

func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []domain.OutboxMessage
	for _, rec := range r.ordered {
		if len(pending) == limit {
			break
		}
		if rec.status == outboxStatusPending {
			pending = append(pending, rec.msg)
		}
	}
	return pending, nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range r.ordered {
		if rec.status != outboxStatusPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = rec.createdAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.settle(id, outboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.settle(id, outboxStatusFailed)
}

func (r *OutboxRepository) FailedCount() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, rec := range r.ordered {
		if rec.status == outboxStatusFailed {
			count++
		}
	}
	return count, nil
}

// RequeueFailed возвращает до limit failed-событий в pending, старые первыми.
func (r *OutboxRepository) RequeueFailed(limit int) (int, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	requeued := 0
	for _, rec := range r.ordered {
		if requeued == limit {
			break
		}
		if rec.status == outboxStatusFailed {
			rec.status = outboxStatusPending
			rec.updatedAt = r.now()
			requeued++
		}
	}
	return requeued, nil
}

// AllPending: весь backlog в порядке постановки, для тестов.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	pending, _ := r.PullPending(int(^uint(0) >> 1))
	return pending
}

func (r *OutboxRepository) settle(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.status = status
	rec.attempts++
	rec.updatedAt = r.now()
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
