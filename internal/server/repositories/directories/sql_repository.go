// Package directories stores the per-user directory tree.
package directories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

const dirColumns = `id, user_id, parent_dir_id, name, path, created_at`

func scanDirectory(row interface{ Scan(...any) error }) (*models.Directory, error) {
	d := &models.Directory{}
	if err := row.Scan(&d.ID, &d.UserID, &d.ParentID, &d.Name, &d.Path, &d.CreatedAt); err != nil {
		return nil, err
	}
	return d, nil
}

// Create inserts dir; a sibling with the same name yields common.ErrConflict.
func (r *SQLRepository) Create(ctx context.Context, dir *models.Directory) (*models.Directory, error) {
	query :=
		`INSERT INTO directories (user_id, parent_dir_id, name, path, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		dir.UserID, dir.ParentID, dir.Name, dir.Path, dir.CreatedAt).Scan(&dir.ID)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, fmt.Errorf("directory %q: %w", dir.Name, common.ErrConflict)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return dir, nil
}

func (r *SQLRepository) GetByID(ctx context.Context, userID, id int64) (*models.Directory, error) {
	query := `SELECT ` + dirColumns + ` FROM directories WHERE id = $1 AND user_id = $2`
	return r.getOne(ctx, query, id, userID)
}

func (r *SQLRepository) GetByName(ctx context.Context, userID int64, parentID *int64, name string) (*models.Directory, error) {
	if parentID == nil {
		query := `SELECT ` + dirColumns + ` FROM directories
			WHERE user_id = $1 AND parent_dir_id IS NULL AND name = $2`
		return r.getOne(ctx, query, userID, name)
	}
	query := `SELECT ` + dirColumns + ` FROM directories
		WHERE user_id = $1 AND parent_dir_id = $2 AND name = $3`
	return r.getOne(ctx, query, userID, *parentID, name)
}

// ListChildren returns the direct subdirectories of parentID (nil = root).
func (r *SQLRepository) ListChildren(ctx context.Context, userID int64, parentID *int64) ([]*models.Directory, error) {
	if parentID == nil {
		query := `SELECT ` + dirColumns + ` FROM directories
			WHERE user_id = $1 AND parent_dir_id IS NULL ORDER BY name`
		return r.list(ctx, query, userID)
	}
	query := `SELECT ` + dirColumns + ` FROM directories
		WHERE user_id = $1 AND parent_dir_id = $2 ORDER BY name`
	return r.list(ctx, query, userID, *parentID)
}

// ListByIDs returns the subset of ids owned by userID. Callers compare the
// result length with the request to detect foreign or unknown IDs.
func (r *SQLRepository) ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.Directory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + dirColumns + ` FROM directories
		WHERE user_id = $1 AND id IN (` + dbx.Placeholders(2, len(ids)) + `) ORDER BY id`
	args := append([]any{userID}, dbx.Int64Args(ids)...)
	return r.list(ctx, query, args...)
}

func (r *SQLRepository) Delete(ctx context.Context, userID, id int64) error {
	query := `DELETE FROM directories WHERE id = $1 AND user_id = $2`

	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLRepository) getOne(ctx context.Context, query string, args ...any) (*models.Directory, error) {
	dir, err := scanDirectory(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return dir, nil
}

func (r *SQLRepository) list(ctx context.Context, query string, args ...any) ([]*models.Directory, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Directory
	for rows.Next() {
		d, err := scanDirectory(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
