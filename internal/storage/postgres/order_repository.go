package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// querier: общий интерфейс *sql.DB и *sql.Tx для чтения.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	if order.ID <= 0 {
		return domain.ErrOrderIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertOrderRow(ctx, tx, order); err != nil {
			return err
		}
		return writeOrderChildren(ctx, tx, order)
	})
}

func (r *orderRepository) Get(id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return loadOrder(ctx, r.db, id, false)
}

// Save в одной транзакции обновляет строку заказа с проверкой версии,
// перезаписывает позиции и метаданные и дописывает новые заметки.
func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET number = $1,
			    customer_id = $2,
			    status = $3,
			    version = version + 1,
			    updated_at = $4
			WHERE id = $5
			  AND version = $6
		`,
			order.Number,
			order.CustomerID,
			string(order.Status),
			order.UpdatedAt,
			order.ID,
			order.Version,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			exists, err := orderExists(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		return writeOrderChildren(ctx, tx, order)
	})
}

// Upsert применяет снимок витрины под блокировкой строки заказа.
func (r *orderRepository) Upsert(snapshot domain.Order) (domain.Order, error) {
	if snapshot.ID <= 0 {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var result domain.Order
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := loadOrder(ctx, tx, snapshot.ID, true)
		if errors.Is(err, domain.ErrOrderNotFound) {
			fresh := snapshot.Clone()
			fresh.Version = 0
			if err := insertOrderRow(ctx, tx, fresh); err != nil {
				return err
			}
			if err := writeOrderChildren(ctx, tx, fresh); err != nil {
				return err
			}
			result = fresh
			return nil
		}
		if err != nil {
			return err
		}

		merged := domain.MergeSnapshot(current, snapshot)
		merged.Version = current.Version + 1
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET number = $1, customer_id = $2, status = $3, version = $4, updated_at = $5
			WHERE id = $6
		`, merged.Number, merged.CustomerID, string(merged.Status), merged.Version, merged.UpdatedAt, merged.ID); err != nil {
			return fmt.Errorf("update order from snapshot: %w", err)
		}
		if err := writeOrderChildren(ctx, tx, merged); err != nil {
			return err
		}
		result = merged
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

func insertOrderRow(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, number, customer_id, status, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		order.ID, order.Number, order.CustomerID, string(order.Status),
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// writeOrderChildren перезаписывает позиции и метаданные; заметки только дописываются.
func writeOrderChildren(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return fmt.Errorf("clear order items: %w", err)
	}
	for pos, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, item_id, product_id, quantity)
			VALUES ($1,$2,$3,$4,$5)
		`, order.ID, pos, item.ID, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_meta WHERE order_id = $1`, order.ID); err != nil {
		return fmt.Errorf("clear order meta: %w", err)
	}
	for key, value := range order.Meta {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_meta (order_id, key, value) VALUES ($1,$2,$3)
		`, order.ID, key, value); err != nil {
			return fmt.Errorf("insert order meta %s: %w", key, err)
		}
	}

	for _, note := range order.Notes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_notes (id, order_id, text, created_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (id) DO NOTHING
		`, note.ID, order.ID, note.Text, note.CreatedAt); err != nil {
			return fmt.Errorf("insert order note: %w", err)
		}
	}
	return nil
}

func loadOrder(ctx context.Context, q querier, id int64, forUpdate bool) (domain.Order, error) {
	query := `
		SELECT id, number, customer_id, status, version, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		order  domain.Order
		status string
	)
	err := q.QueryRowContext(ctx, query, id).Scan(
		&order.ID, &order.Number, &order.CustomerID, &status,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)

	if order.Items, err = loadItems(ctx, q, id); err != nil {
		return domain.Order{}, err
	}
	if order.Meta, err = loadMeta(ctx, q, `SELECT key, value FROM order_meta WHERE order_id = $1`, id); err != nil {
		return domain.Order{}, fmt.Errorf("load order meta: %w", err)
	}
	if order.Notes, err = loadNotes(ctx, q, id); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func loadItems(ctx context.Context, q querier, orderID int64) ([]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT item_id, product_id, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func loadNotes(ctx context.Context, q querier, orderID int64) ([]domain.OrderNote, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, text, created_at
		FROM order_notes
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order notes: %w", err)
	}
	defer rows.Close()

	var notes []domain.OrderNote
	for rows.Next() {
		var note domain.OrderNote
		if err := rows.Scan(&note.ID, &note.Text, &note.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order notes: %w", err)
	}
	return notes, nil
}

// loadMeta читает пары key/value; пустой результат даёт nil map.
func loadMeta(ctx context.Context, q querier, query string, id int64) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meta map[string]string
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[key] = value
	}
	return meta, rows.Err()
}

func orderExists(ctx context.Context, q querier, orderID int64) (bool, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
