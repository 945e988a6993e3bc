package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM app_setting WHERE key = $1`
	var v string
	if err := s.pool.QueryRow(ctx, q, key).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", core.ErrNotFound
		}
		return "", err
	}
	return v, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO app_setting (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	_, err := s.pool.Exec(ctx, q, key, value)
	return err
}
