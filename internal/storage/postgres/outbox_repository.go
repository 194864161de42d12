package postgres

import (
	"context"
	"database/sql"
	"fmt"
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

const (
	enqueueOutboxSQL = `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)`

	// seq задаёт порядок постановки: CreditsAwarded по заказу не обгоняет OrderAutoCompleted.
	pendingOutboxSQL = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY seq
		LIMIT $2`

	outboxBacklogSQL = `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = $1`

	countOutboxStatusSQL = `SELECT COUNT(*) FROM outbox_messages WHERE status = $1`

	settleOutboxSQL = `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1`

	requeueOutboxSQL = `
		UPDATE outbox_messages
		SET status = $1, updated_at = $3
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = $2
			ORDER BY seq
			LIMIT $4
		)`
)

// OutboxRepository хранит события начислений в outbox_messages до публикации relay.
type OutboxRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{db: store.DB(), now: func() time.Time { return time.Now().UTC() }}
}

func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	err := r.exec(func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, enqueueOutboxSQL,
			msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxStatusPending, r.now())
		return err
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s %s: %w", msg.EventType, msg.AggregateType, msg.AggregateID, err)
	}
	return msg, nil
}

func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	limit = outboxBatch(limit)

	var pending []domain.OutboxMessage
	err := r.exec(func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, pendingOutboxSQL, outboxStatusPending, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		pending = make([]domain.OutboxMessage, 0, limit)
		for rows.Next() {
			var msg domain.OutboxMessage
			if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			pending = append(pending, msg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	return pending, nil
}

// Stats: размер backlog и возраст самого старого pending-события для readyz.
func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.exec(func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx, outboxBacklogSQL, outboxStatusPending).Scan(&stats.PendingCount, &oldest)
	})
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.settle(id, outboxStatusSent)
}

// MarkFailed выводит событие из ротации relay; вернуть его может только RequeueFailed.
func (r *OutboxRepository) MarkFailed(id string) error {
	return r.settle(id, outboxStatusFailed)
}

func (r *OutboxRepository) FailedCount() (int, error) {
	var count int
	err := r.exec(func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx, countOutboxStatusSQL, outboxStatusFailed).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count failed outbox messages: %w", err)
	}
	return count, nil
}

// RequeueFailed возвращает до limit failed-событий в pending, старые первыми.
func (r *OutboxRepository) RequeueFailed(limit int) (int, error) {
	var affected int64
	err := r.exec(func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, requeueOutboxSQL, outboxStatusPending, outboxStatusFailed, r.now(), outboxBatch(limit))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("requeue failed outbox messages: %w", err)
	}
	return int(affected), nil
}

func (r *OutboxRepository) settle(id, status string) error {
	var affected int64
	err := r.exec(func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, settleOutboxSQL, id, status, r.now())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("mark outbox message %s as %s: %w", id, status, err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}

func (r *OutboxRepository) exec(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return fn(ctx)
}

func outboxBatch(limit int) int {
	if limit <= 0 {
		return defaultOutboxBatch
	}
	return limit
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
