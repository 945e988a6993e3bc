package pg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

func (s *Store) CreateAccessRequest(ctx context.Context, r *core.AccessRequest) error {
	// Una sola petición pendiente por pareja: si ya existe, conflicto.
	const qDup = `
		SELECT EXISTS (
			SELECT 1 FROM access_request
			WHERE friend_id = $1 AND service_id = $2 AND status = 'pending'
		)`
	var dup bool
	if err := s.pool.QueryRow(ctx, qDup, r.FriendID, r.ServiceID).Scan(&dup); err != nil {
		return err
	}
	if dup {
		return core.ErrConflict
	}

	r.ID = uuid.NewString()
	const q = `
		INSERT INTO access_request (id, friend_id, service_id, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING status, requested_at`
	return s.pool.QueryRow(ctx, q, r.ID, r.FriendID, r.ServiceID).
		Scan(&r.Status, &r.RequestedAt)
}

func (s *Store) GetAccessRequest(ctx context.Context, id string) (*core.AccessRequest, error) {
	const q = `
		SELECT r.id, r.friend_id, r.service_id, r.status, r.requested_at, r.decided_at,
		       f.name, s.name
		FROM access_request r
		JOIN friend f ON f.id = r.friend_id
		JOIN service s ON s.id = r.service_id
		WHERE r.id = $1`
	var r core.AccessRequest
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&r.ID, &r.FriendID, &r.ServiceID, &r.Status, &r.RequestedAt, &r.DecidedAt,
		&r.FriendName, &r.ServiceName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// ListAccessRequests filtra por estado; status vacío devuelve todo.
func (s *Store) ListAccessRequests(ctx context.Context, status string) ([]core.AccessRequest, error) {
	const q = `
		SELECT r.id, r.friend_id, r.service_id, r.status, r.requested_at, r.decided_at,
		       f.name, s.name
		FROM access_request r
		JOIN friend f ON f.id = r.friend_id
		JOIN service s ON s.id = r.service_id
		WHERE ($1 = '' OR r.status = $1)
		ORDER BY r.requested_at DESC`
	rows, err := s.pool.Query(ctx, q, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.AccessRequest
	for rows.Next() {
		var r core.AccessRequest
		if err := rows.Scan(
			&r.ID, &r.FriendID, &r.ServiceID, &r.Status, &r.RequestedAt, &r.DecidedAt,
			&r.FriendName, &r.ServiceName,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAccessRequestStatus(ctx context.Context, id, status string, decidedAt time.Time) error {
	const q = `UPDATE access_request SET status = $2, decided_at = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, status, decidedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
