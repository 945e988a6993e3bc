package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

const grantCols = `friend_id, service_id, strategy, external_id, username,
	password, status, detail, created_at, updated_at`

func scanGrant(row pgx.Row) (*core.Grant, error) {
	var g core.Grant
	err := row.Scan(
		&g.FriendID, &g.ServiceID, &g.Strategy, &g.ExternalID, &g.Username,
		&g.Password, &g.Status, &g.Detail, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// UpsertGrant crea o actualiza el grant de la pareja amigo/servicio.
// El reconciler lo usa tanto para altas nuevas como para re-aprovisionados.
func (s *Store) UpsertGrant(ctx context.Context, g *core.Grant) error {
	const q = `
		INSERT INTO friend_service (friend_id, service_id, strategy, external_id, username, password, status, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (friend_id, service_id) DO UPDATE
		SET strategy = EXCLUDED.strategy, external_id = EXCLUDED.external_id,
		    username = EXCLUDED.username, password = EXCLUDED.password,
		    status = EXCLUDED.status, detail = EXCLUDED.detail, updated_at = now()
		RETURNING created_at, updated_at`
	return s.pool.QueryRow(ctx, q,
		g.FriendID, g.ServiceID, g.Strategy, g.ExternalID, g.Username,
		g.Password, g.Status, g.Detail,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
}

func (s *Store) GetGrant(ctx context.Context, friendID, serviceID string) (*core.Grant, error) {
	const q = `SELECT ` + grantCols + ` FROM friend_service WHERE friend_id = $1 AND service_id = $2`
	return scanGrant(s.pool.QueryRow(ctx, q, friendID, serviceID))
}

func (s *Store) ListGrantsByFriend(ctx context.Context, friendID string) ([]core.Grant, error) {
	const q = `SELECT ` + grantCols + ` FROM friend_service WHERE friend_id = $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q, friendID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Grant
	for rows.Next() {
		var g core.Grant
		if err := rows.Scan(
			&g.FriendID, &g.ServiceID, &g.Strategy, &g.ExternalID, &g.Username,
			&g.Password, &g.Status, &g.Detail, &g.CreatedAt, &g.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListGrantedServices devuelve los servicios visibles concedidos a un amigo,
// en el orden del panel.
func (s *Store) ListGrantedServices(ctx context.Context, friendID string) ([]core.Service, error) {
	const q = `
		SELECT s.id, s.name, s.url, s.icon, s.description, s.subdomain, s.stack, s.integration,
		       s.is_default, s.visible, s.display_order, s.created_at
		FROM service s
		JOIN friend_service fs ON fs.service_id = s.id
		WHERE fs.friend_id = $1 AND s.visible
		ORDER BY s.display_order, s.name`
	rows, err := s.pool.Query(ctx, q, friendID)
	if err != nil {
		return nil, err
	}
	return collectServices(rows)
}

func (s *Store) HasGrant(ctx context.Context, friendID, serviceID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM friend_service WHERE friend_id = $1 AND service_id = $2)`
	var ok bool
	if err := s.pool.QueryRow(ctx, q, friendID, serviceID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Store) DeleteGrant(ctx context.Context, friendID, serviceID string) error {
	const q = `DELETE FROM friend_service WHERE friend_id = $1 AND service_id = $2`
	tag, err := s.pool.Exec(ctx, q, friendID, serviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) CountGrantsByService(ctx context.Context, serviceID string) (int, error) {
	const q = `SELECT COUNT(*) FROM friend_service WHERE service_id = $1`
	var n int
	if err := s.pool.QueryRow(ctx, q, serviceID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
