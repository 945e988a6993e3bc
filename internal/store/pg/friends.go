package pg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

const friendCols = `id, name, token, password_hash, totp_secret, password_mode,
	password_threshold, usage_count, expires_at, last_visit, created_at`

func scanFriend(row pgx.Row) (*core.Friend, error) {
	var f core.Friend
	err := row.Scan(
		&f.ID, &f.Name, &f.Token, &f.PasswordHash, &f.TOTPSecret, &f.PasswordMode,
		&f.PasswordThreshold, &f.UsageCount, &f.ExpiresAt, &f.LastVisit, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *Store) CreateFriend(ctx context.Context, f *core.Friend) error {
	f.ID = uuid.NewString()
	const q = `
		INSERT INTO friend (id, name, token, password_hash, totp_secret, password_mode, password_threshold, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING usage_count, created_at`
	err := s.pool.QueryRow(ctx, q,
		f.ID, f.Name, f.Token, f.PasswordHash, f.TOTPSecret, f.PasswordMode, f.PasswordThreshold, f.ExpiresAt,
	).Scan(&f.UsageCount, &f.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

func (s *Store) GetFriendByID(ctx context.Context, id string) (*core.Friend, error) {
	const q = `SELECT ` + friendCols + ` FROM friend WHERE id = $1`
	return scanFriend(s.pool.QueryRow(ctx, q, id))
}

func (s *Store) GetFriendByToken(ctx context.Context, token string) (*core.Friend, error) {
	const q = `SELECT ` + friendCols + ` FROM friend WHERE token = $1`
	return scanFriend(s.pool.QueryRow(ctx, q, token))
}

func (s *Store) ListFriends(ctx context.Context) ([]core.Friend, error) {
	const q = `SELECT ` + friendCols + ` FROM friend ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Friend
	for rows.Next() {
		var f core.Friend
		if err := rows.Scan(
			&f.ID, &f.Name, &f.Token, &f.PasswordHash, &f.TOTPSecret, &f.PasswordMode,
			&f.PasswordThreshold, &f.UsageCount, &f.ExpiresAt, &f.LastVisit, &f.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) UpdateFriend(ctx context.Context, f *core.Friend) error {
	const q = `
		UPDATE friend
		SET name = $2, token = $3, password_hash = $4, totp_secret = $5,
		    password_mode = $6, password_threshold = $7, usage_count = $8,
		    expires_at = $9, last_visit = $10
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q,
		f.ID, f.Name, f.Token, f.PasswordHash, f.TOTPSecret,
		f.PasswordMode, f.PasswordThreshold, f.UsageCount,
		f.ExpiresAt, f.LastVisit,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteFriend(ctx context.Context, id string) error {
	const q = `DELETE FROM friend WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// TouchFriendVisit incrementa usage_count de forma atómica y deja last_visit.
func (s *Store) TouchFriendVisit(ctx context.Context, id string, at time.Time) (int, error) {
	const q = `
		UPDATE friend
		SET usage_count = usage_count + 1, last_visit = $2
		WHERE id = $1
		RETURNING usage_count`
	var count int
	if err := s.pool.QueryRow(ctx, q, id, at).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, core.ErrNotFound
		}
		return 0, err
	}
	return count, nil
}
