package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

type profileRepository struct {
	db *sql.DB
}

// NewProfileRepository создаёт PostgreSQL-реплику профилей клиентов.
// Поля и метаданные профиля хранятся в JSONB-колонках.
func NewProfileRepository(store *Store) domain.ProfileRepository {
	return &profileRepository{db: store.DB()}
}

func (r *profileRepository) Upsert(profile domain.CustomerProfile) error {
	if profile.ID <= 0 {
		return domain.ErrProfileNotFound
	}

	fields, err := marshalAttributes(profile.Fields)
	if err != nil {
		return fmt.Errorf("marshal profile fields: %w", err)
	}
	meta, err := marshalAttributes(profile.Meta)
	if err != nil {
		return fmt.Errorf("marshal profile meta: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO customer_profiles (id, first_name, display_name, fields, meta, updated_at)
		VALUES ($1,$2,$3,$4::jsonb,$5::jsonb,$6)
		ON CONFLICT (id) DO UPDATE
		SET first_name = EXCLUDED.first_name,
		    display_name = EXCLUDED.display_name,
		    fields = EXCLUDED.fields,
		    meta = EXCLUDED.meta,
		    updated_at = EXCLUDED.updated_at
	`, profile.ID, profile.FirstName, profile.DisplayName, fields, meta, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert customer profile: %w", err)
	}
	return nil
}

func (r *profileRepository) UserData(userID int64) (domain.UserProfile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	profile := domain.UserProfile{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, first_name, display_name FROM customer_profiles WHERE id = $1
	`, userID).Scan(&profile.ID, &profile.FirstName, &profile.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserProfile{}, domain.ErrProfileNotFound
		}
		return domain.UserProfile{}, fmt.Errorf("select customer profile: %w", err)
	}
	return profile, nil
}

// Field возвращает структурированное поле владельца "user_<id>"; отсутствие поля не ошибка.
func (r *profileRepository) Field(fieldName, owner string) (string, error) {
	userID, ok := domain.ParseProfileOwner(owner)
	if !ok {
		return "", nil
	}
	return r.attribute("fields", userID, fieldName)
}

func (r *profileRepository) UserMeta(userID int64, key string) (string, error) {
	return r.attribute("meta", userID, key)
}

// attribute читает ключ из JSONB-колонки column; column задаётся только кодом.
func (r *profileRepository) attribute(column string, userID int64, key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var value sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT `+column+` ->> $2 FROM customer_profiles WHERE id = $1`,
		userID, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("select profile %s %s: %w", column, key, err)
	}
	return value.String, nil
}

func marshalAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return json.Marshal(attrs)
}

var _ domain.ProfileRepository = (*profileRepository)(nil)
