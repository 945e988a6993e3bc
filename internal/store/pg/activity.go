package pg

import (
	"context"

	"github.com/google/uuid"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

func (s *Store) InsertActivity(ctx context.Context, e *core.ActivityEntry) error {
	e.ID = uuid.NewString()
	const q = `
		INSERT INTO activity_log (id, friend_id, service_id, action, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`
	return s.pool.QueryRow(ctx, q, e.ID, e.FriendID, e.ServiceID, e.Action, e.Detail).
		Scan(&e.CreatedAt)
}

func (s *Store) ListActivity(ctx context.Context, limit int) ([]core.ActivityEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
		SELECT a.id, a.friend_id, a.service_id, a.action, a.detail, a.created_at,
		       COALESCE(f.name, ''), COALESCE(s.name, '')
		FROM activity_log a
		LEFT JOIN friend f ON f.id = a.friend_id
		LEFT JOIN service s ON s.id = a.service_id
		ORDER BY a.created_at DESC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ActivityEntry
	for rows.Next() {
		var e core.ActivityEntry
		if err := rows.Scan(
			&e.ID, &e.FriendID, &e.ServiceID, &e.Action, &e.Detail, &e.CreatedAt,
			&e.FriendName, &e.ServiceName,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
