package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sharp-job-service/internal/entity"
)

type UploadRepository struct {
	pool *pgxpool.Pool
}

func NewUploadRepository(pool *pgxpool.Pool) *UploadRepository {
	return &UploadRepository{pool: pool}
}

func (r *UploadRepository) Create(ctx context.Context, u *entity.Upload) error {
	const q = `
INSERT INTO uploads (id, path, filename, width, height, size_bytes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	if _, err := r.pool.Exec(ctx, q, u.ID, u.Path, u.Filename, u.Width, u.Height, u.SizeBytes, u.CreatedAt); err != nil {
		return unavailable("create upload", err)
	}
	return nil
}

func (r *UploadRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Upload, error) {
	const q = `SELECT id, path, filename, width, height, size_bytes, created_at FROM uploads WHERE id = $1;`

	var u entity.Upload
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Path, &u.Filename, &u.Width, &u.Height, &u.SizeBytes, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("upload %s: %w", id, entity.ErrNotFound)
		}
		return nil, unavailable("get upload", err)
	}
	return &u, nil
}

// Ping checks database connectivity for the health endpoint.
func (r *UploadRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
