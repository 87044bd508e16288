package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"finboard-backend/internal/models"
)

type DashboardRepo struct {
	pool *pgxpool.Pool
}

func NewDashboardRepo(pool *pgxpool.Pool) *DashboardRepo {
	return &DashboardRepo{pool: pool}
}

func (r *DashboardRepo) Create(ctx context.Context, d *models.Dashboard) error {
	query := `
		INSERT INTO dashboards (id, owner_id, title, layout, is_shared)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	d.ID = uuid.New()
	if d.Layout == nil {
		d.Layout = json.RawMessage(`{}`)
	}

	return r.pool.QueryRow(ctx, query,
		d.ID, d.OwnerID, d.Title, d.Layout, d.IsShared,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *DashboardRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dashboard, error) {
	d := &models.Dashboard{}
	query := `SELECT id, owner_id, title, layout, is_shared, created_at, updated_at
		FROM dashboards WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.OwnerID, &d.Title, &d.Layout, &d.IsShared, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListForUser returns dashboards the user owns plus shared ones,
// most recently updated first.
func (r *DashboardRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Dashboard, error) {
	query := `SELECT id, owner_id, title, layout, is_shared, created_at, updated_at
		FROM dashboards
		WHERE owner_id = $1 OR is_shared = TRUE
		ORDER BY updated_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dashboards := []*models.Dashboard{}
	for rows.Next() {
		d := &models.Dashboard{}
		if err := rows.Scan(
			&d.ID, &d.OwnerID, &d.Title, &d.Layout, &d.IsShared, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		dashboards = append(dashboards, d)
	}
	return dashboards, rows.Err()
}

// Update replaces the document wholesale and bumps updated_at.
func (r *DashboardRepo) Update(ctx context.Context, d *models.Dashboard) error {
	query := `
		UPDATE dashboards
		SET title = $2, layout = $3, is_shared = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	return r.pool.QueryRow(ctx, query, d.ID, d.Title, d.Layout, d.IsShared).Scan(&d.UpdatedAt)
}

func (r *DashboardRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM dashboards WHERE id = $1`, id)
	return err
}
