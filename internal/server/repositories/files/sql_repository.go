// Package files stores metadata for the artifacts kept under the upload folder.
package files

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

const fileColumns = `id, user_id, directory_id, filename, filepath, filesize, upload_time`

func scanFile(row interface{ Scan(...any) error }) (*models.File, error) {
	f := &models.File{}
	if err := row.Scan(&f.ID, &f.UserID, &f.DirectoryID, &f.Filename, &f.Filepath, &f.Filesize, &f.UploadTime); err != nil {
		return nil, err
	}
	return f, nil
}

// Create inserts file. A file with the same name in the same directory
// yields common.ErrConflict.
func (r *SQLRepository) Create(ctx context.Context, file *models.File) (*models.File, error) {
	query :=
		`INSERT INTO files (user_id, directory_id, filename, filepath, filesize, upload_time)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		file.UserID, file.DirectoryID, file.Filename, file.Filepath, file.Filesize, file.UploadTime).Scan(&file.ID)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, fmt.Errorf("file %q: %w", file.Filename, common.ErrConflict)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return file, nil
}

func (r *SQLRepository) GetByID(ctx context.Context, userID, id int64) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1 AND user_id = $2`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *SQLRepository) GetByName(ctx context.Context, userID int64, directoryID *int64, name string) (*models.File, error) {
	var row *sql.Row
	if directoryID == nil {
		query := `SELECT ` + fileColumns + ` FROM files
			WHERE user_id = $1 AND directory_id IS NULL AND filename = $2`
		row = r.db.QueryRowContext(ctx, query, userID, name)
	} else {
		query := `SELECT ` + fileColumns + ` FROM files
			WHERE user_id = $1 AND directory_id = $2 AND filename = $3`
		row = r.db.QueryRowContext(ctx, query, userID, *directoryID, name)
	}

	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

// ListByDirectory returns files placed directly in directoryID (nil = root).
func (r *SQLRepository) ListByDirectory(ctx context.Context, userID int64, directoryID *int64) ([]*models.File, error) {
	if directoryID == nil {
		query := `SELECT ` + fileColumns + ` FROM files
			WHERE user_id = $1 AND directory_id IS NULL ORDER BY filename`
		return r.list(ctx, query, userID)
	}
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE user_id = $1 AND directory_id = $2 ORDER BY filename`
	return r.list(ctx, query, userID, *directoryID)
}

// ListByIDs returns the subset of ids owned by userID.
func (r *SQLRepository) ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE user_id = $1 AND id IN (` + dbx.Placeholders(2, len(ids)) + `) ORDER BY id`
	args := append([]any{userID}, dbx.Int64Args(ids)...)
	return r.list(ctx, query, args...)
}

func (r *SQLRepository) ListByUser(ctx context.Context, userID int64) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE user_id = $1 ORDER BY id`
	return r.list(ctx, query, userID)
}

func (r *SQLRepository) Delete(ctx context.Context, userID, id int64) error {
	query := `DELETE FROM files WHERE id = $1 AND user_id = $2`

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

func (r *SQLRepository) list(ctx context.Context, query string, args ...any) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
