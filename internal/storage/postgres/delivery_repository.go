package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// defaultDeliveryTTL: срок учёта доставки, если вызывающий его не передал.
const defaultDeliveryTTL = 24 * time.Hour

const deliveryColumns = `delivery_id, fingerprint, status, http_status, response_body, expires_at, created_at, updated_at`

// DeliveryRepository: журнал доставок вебхуков в таблице webhook_deliveries.
// Истёкшая запись перезанимается новой доставкой ещё до cleanup.
type DeliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository создаёт PostgreSQL-реализацию DeliveryRepository.
func NewDeliveryRepository(store *Store) *DeliveryRepository {
	return &DeliveryRepository{db: store.DB()}
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

	now := time.Now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultDeliveryTTL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	reserved, err := scanDelivery(r.db.QueryRowContext(ctx, `
		INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		VALUES ($1, $2, $3, NULL, NULL, $4, $5, $5)
		ON CONFLICT (delivery_id) DO UPDATE
		SET fingerprint = EXCLUDED.fingerprint,
		    status = EXCLUDED.status,
		    http_status = NULL,
		    response_body = NULL,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE webhook_deliveries.expires_at <= EXCLUDED.created_at
		RETURNING `+deliveryColumns,
		deliveryID, fingerprint, string(domain.DeliveryStatusProcessing), expiresAt.UTC(), now,
	))
	if err == nil {
		return reserved, nil
	}
	if !errors.Is(err, domain.ErrDeliveryNotFound) {
		return domain.DeliveryRecord{}, fmt.Errorf("reserve delivery %s: %w", deliveryID, err)
	}

	// Живая запись уже есть: конфликт ON CONFLICT не вернул строк.
	existing, err := r.Get(deliveryID)
	if err != nil {
		return domain.DeliveryRecord{}, fmt.Errorf("load reserved delivery %s: %w", deliveryID, err)
	}
	if !existing.SamePayload(fingerprint) {
		return existing, domain.ErrDeliveryMismatch
	}
	return existing, domain.ErrDeliveryExists
}

func (r *DeliveryRepository) Get(deliveryID string) (domain.DeliveryRecord, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return domain.DeliveryRecord{}, domain.ErrDeliveryIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	record, err := scanDelivery(r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE delivery_id = $1`, deliveryID))
	if err != nil && !errors.Is(err, domain.ErrDeliveryNotFound) {
		return domain.DeliveryRecord{}, fmt.Errorf("get delivery %s: %w", deliveryID, err)
	}
	return record, err
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
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `DELETE FROM webhook_deliveries WHERE expires_at <= $1`
	args := []any{before}
	if limit > 0 {
		query = `
			DELETE FROM webhook_deliveries
			WHERE delivery_id IN (
				SELECT delivery_id FROM webhook_deliveries
				WHERE expires_at <= $1
				ORDER BY expires_at, delivery_id
				LIMIT $2
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired deliveries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted deliveries: %w", err)
	}
	return int(affected), nil
}

func (r *DeliveryRepository) finish(deliveryID string, status domain.DeliveryStatus, responseBody []byte, httpStatus int) error {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return domain.ErrDeliveryIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, http_status = $3, response_body = $4, updated_at = $5
		WHERE delivery_id = $1
	`, deliveryID, string(status), httpStatus, responseBody, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish delivery %s: %w", deliveryID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("count finished deliveries: %w", err)
	}
	if affected == 0 {
		return domain.ErrDeliveryNotFound
	}
	return nil
}

// scanDelivery переводит sql.ErrNoRows в ErrDeliveryNotFound.
func scanDelivery(row *sql.Row) (domain.DeliveryRecord, error) {
	var (
		record     domain.DeliveryRecord
		status     string
		httpStatus sql.NullInt64
		body       []byte
	)
	err := row.Scan(
		&record.DeliveryID,
		&record.Fingerprint,
		&status,
		&httpStatus,
		&body,
		&record.ExpiresAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryRecord{}, domain.ErrDeliveryNotFound
	}
	if err != nil {
		return domain.DeliveryRecord{}, err
	}

	parsed, ok := domain.ParseDeliveryStatus(status)
	if !ok {
		return domain.DeliveryRecord{}, fmt.Errorf("unknown delivery status %q for %s", status, record.DeliveryID)
	}
	record.Status = parsed
	record.HTTPStatus = int(httpStatus.Int64)
	record.ResponseBody = append([]byte(nil), body...)
	return record, nil
}

var _ domain.DeliveryRepository = (*DeliveryRepository)(nil)
