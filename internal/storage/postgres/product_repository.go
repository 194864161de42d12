package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реплику каталога.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Get(id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var product domain.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, virtual, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Virtual, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}

	product.Meta, err = loadMeta(ctx, r.db, `SELECT key, value FROM product_meta WHERE product_id = $1`, id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("load product meta: %w", err)
	}
	return product, nil
}

// Upsert обновляет строку товара; ключи снимка перекрывают локальные атрибуты.
func (r *productRepository) Upsert(product domain.Product) error {
	if product.ID <= 0 {
		return domain.ErrProductIDRequired
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, virtual, updated_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name,
			    virtual = EXCLUDED.virtual,
			    updated_at = EXCLUDED.updated_at
		`, product.ID, product.Name, product.Virtual, product.UpdatedAt); err != nil {
			return fmt.Errorf("upsert product: %w", err)
		}
		for key, value := range product.Meta {
			if err := upsertProductMeta(ctx, tx, product.ID, key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *productRepository) SetMeta(id int64, key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := touchProduct(ctx, tx, id); err != nil {
			return err
		}
		return upsertProductMeta(ctx, tx, id, key, value)
	})
}

func (r *productRepository) DeleteMeta(id int64, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := touchProduct(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM product_meta WHERE product_id = $1 AND key = $2
		`, id, key); err != nil {
			return fmt.Errorf("delete product meta %s: %w", key, err)
		}
		return nil
	})
}

// touchProduct обновляет updated_at и проверяет существование товара.
func touchProduct(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE products SET updated_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touch product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func upsertProductMeta(ctx context.Context, tx *sql.Tx, id int64, key, value string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO product_meta (product_id, key, value)
		VALUES ($1,$2,$3)
		ON CONFLICT (product_id, key) DO UPDATE SET value = EXCLUDED.value
	`, id, key, value); err != nil {
		return fmt.Errorf("upsert product meta %s: %w", key, err)
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
