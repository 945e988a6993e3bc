package pg

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

const serviceCols = `id, name, url, icon, description, subdomain, stack, integration,
	is_default, visible, display_order, created_at`

func scanService(row pgx.Row) (*core.Service, error) {
	var v core.Service
	err := row.Scan(
		&v.ID, &v.Name, &v.URL, &v.Icon, &v.Description, &v.Subdomain, &v.Stack, &v.Integration,
		&v.IsDefault, &v.VisibleToFriends, &v.DisplayOrder, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func collectServices(rows pgx.Rows) ([]core.Service, error) {
	defer rows.Close()
	var out []core.Service
	for rows.Next() {
		var v core.Service
		if err := rows.Scan(
			&v.ID, &v.Name, &v.URL, &v.Icon, &v.Description, &v.Subdomain, &v.Stack, &v.Integration,
			&v.IsDefault, &v.VisibleToFriends, &v.DisplayOrder, &v.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) CreateService(ctx context.Context, v *core.Service) error {
	v.ID = uuid.NewString()
	const q = `
		INSERT INTO service (id, name, url, icon, description, subdomain, stack, integration, is_default, visible, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`
	err := s.pool.QueryRow(ctx, q,
		v.ID, v.Name, v.URL, v.Icon, v.Description, v.Subdomain, v.Stack, v.Integration,
		v.IsDefault, v.VisibleToFriends, v.DisplayOrder,
	).Scan(&v.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

func (s *Store) GetServiceByID(ctx context.Context, id string) (*core.Service, error) {
	const q = `SELECT ` + serviceCols + ` FROM service WHERE id = $1`
	return scanService(s.pool.QueryRow(ctx, q, id))
}

func (s *Store) GetServiceBySubdomain(ctx context.Context, subdomain string) (*core.Service, error) {
	const q = `SELECT ` + serviceCols + ` FROM service WHERE subdomain = $1 AND subdomain <> ''`
	return scanService(s.pool.QueryRow(ctx, q, subdomain))
}

func (s *Store) ListServices(ctx context.Context) ([]core.Service, error) {
	const q = `SELECT ` + serviceCols + ` FROM service ORDER BY display_order, name`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return collectServices(rows)
}

func (s *Store) ListDefaultServices(ctx context.Context) ([]core.Service, error) {
	const q = `SELECT ` + serviceCols + ` FROM service WHERE is_default ORDER BY display_order, name`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return collectServices(rows)
}

func (s *Store) UpdateService(ctx context.Context, v *core.Service) error {
	const q = `
		UPDATE service
		SET name = $2, url = $3, icon = $4, description = $5, subdomain = $6,
		    stack = $7, integration = $8, is_default = $9, visible = $10, display_order = $11
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q,
		v.ID, v.Name, v.URL, v.Icon, v.Description, v.Subdomain,
		v.Stack, v.Integration, v.IsDefault, v.VisibleToFriends, v.DisplayOrder,
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

func (s *Store) DeleteService(ctx context.Context, id string) error {
	const q = `DELETE FROM service WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
