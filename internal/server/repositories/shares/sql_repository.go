// Package shares stores public share links for files and directories.
package shares

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

const shareColumns = `id, owner_id, object_type, object_id, share_key, password, expiration_time, created_at`

func scanShare(row interface{ Scan(...any) error }) (*models.Share, error) {
	s := &models.Share{}
	var password sql.NullString
	if err := row.Scan(&s.ID, &s.OwnerID, &s.ObjectType, &s.ObjectID, &s.ShareKey,
		&password, &s.ExpirationTime, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.PasswordHash = password.String
	return s, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *SQLRepository) Create(ctx context.Context, share *models.Share) (*models.Share, error) {
	query :=
		`INSERT INTO shares (owner_id, object_type, object_id, share_key, password, expiration_time, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		share.OwnerID, share.ObjectType, share.ObjectID, share.ShareKey,
		nullable(share.PasswordHash), share.ExpirationTime, share.CreatedAt).Scan(&share.ID)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, fmt.Errorf("share for %s %d: %w", share.ObjectType, share.ObjectID, common.ErrConflict)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return share, nil
}

func (r *SQLRepository) GetByKey(ctx context.Context, key string) (*models.Share, error) {
	query := `SELECT ` + shareColumns + ` FROM shares WHERE share_key = $1`
	return r.getOne(ctx, query, key)
}

func (r *SQLRepository) GetByObject(ctx context.Context, objectType string, objectID int64) (*models.Share, error) {
	query := `SELECT ` + shareColumns + ` FROM shares WHERE object_type = $1 AND object_id = $2`
	return r.getOne(ctx, query, objectType, objectID)
}

// Update rewrites the password and expiration; the key never changes.
func (r *SQLRepository) Update(ctx context.Context, share *models.Share) error {
	query := `UPDATE shares SET password = $1, expiration_time = $2 WHERE id = $3`

	res, err := r.db.ExecContext(ctx, query, nullable(share.PasswordHash), share.ExpirationTime, share.ID)
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

func (r *SQLRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM shares WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
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

// DeleteByObject drops the share of an object if there is one.
func (r *SQLRepository) DeleteByObject(ctx context.Context, objectType string, objectID int64) error {
	query := `DELETE FROM shares WHERE object_type = $1 AND object_id = $2`
	if _, err := r.db.ExecContext(ctx, query, objectType, objectID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListByOwner(ctx context.Context, ownerID int64, objectType string) ([]*models.Share, error) {
	query := `SELECT ` + shareColumns + ` FROM shares WHERE owner_id = $1 AND object_type = $2`

	rows, err := r.db.QueryContext(ctx, query, ownerID, objectType)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Share
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *SQLRepository) getOne(ctx context.Context, query string, args ...any) (*models.Share, error) {
	s, err := scanShare(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}
