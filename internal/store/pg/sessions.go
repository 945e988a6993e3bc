package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

// Las sesiones se guardan por hash del token; el hashing ocurre en la capa
// de sesiones, aquí sólo persistimos lo que llega.

func (s *Store) CreateSession(ctx context.Context, sess *core.Session) error {
	const q = `
		INSERT INTO session (token_hash, kind, friend_id, user_agent, expires_at)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5)
		RETURNING created_at`
	return s.pool.QueryRow(ctx, q,
		sess.Token, sess.Kind, sess.FriendID, sess.UserAgent, sess.ExpiresAt,
	).Scan(&sess.CreatedAt)
}

func (s *Store) GetSession(ctx context.Context, token string) (*core.Session, error) {
	const q = `
		SELECT token_hash, kind, COALESCE(friend_id::text, ''), user_agent, created_at, expires_at
		FROM session WHERE token_hash = $1`
	var sess core.Session
	err := s.pool.QueryRow(ctx, q, token).Scan(
		&sess.Token, &sess.Kind, &sess.FriendID, &sess.UserAgent, &sess.CreatedAt, &sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	const q = `DELETE FROM session WHERE token_hash = $1`
	tag, err := s.pool.Exec(ctx, q, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// DeleteExpiredSessions borra las sesiones vencidas; lo llama el janitor.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	const q = `DELETE FROM session WHERE expires_at <= $1`
	tag, err := s.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
