// Package users stores accounts and their storage accounting.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

// SQLRepository works on both PostgreSQL and SQLite.
type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

const userColumns = `id, username, quota, used_space, is_admin, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(&u.ID, &u.Username, &u.Quota, &u.UsedSpace, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

// Create inserts a user with zero used space and fills in its ID.
func (r *SQLRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (username, quota, used_space, is_admin, created_at)
		 VALUES ($1, $2, 0, $3, $4)
		 RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		user.Username, user.Quota, user.IsAdmin, user.CreatedAt).Scan(&user.ID)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, fmt.Errorf("username %q: %w", user.Username, common.ErrConflict)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.UsedSpace = 0
	return user, nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *SQLRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *SQLRepository) List(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *SQLRepository) SetQuota(ctx context.Context, id int64, quota int64) error {
	query := `UPDATE users SET quota = $1 WHERE id = $2`
	return r.execOne(ctx, common.ErrorNotFound, query, quota, id)
}

func (r *SQLRepository) AddUsedSpace(ctx context.Context, id int64, delta int64) error {
	query :=
		`UPDATE users
		 SET used_space = CASE WHEN used_space + $1 < 0 THEN 0 ELSE used_space + $1 END
		 WHERE id = $2`
	return r.execOne(ctx, common.ErrorNotFound, query, delta, id)
}

func (r *SQLRepository) AddUsedSpaceWithinQuota(ctx context.Context, id int64, delta int64) error {
	query :=
		`UPDATE users
		 SET used_space = used_space + $1
		 WHERE id = $2 AND used_space + $1 <= quota`
	return r.execOne(ctx, common.ErrQuotaExceeded, query, delta, id)
}

func (r *SQLRepository) RecomputeUsedSpace(ctx context.Context, id int64) (int64, error) {
	query :=
		`UPDATE users
		 SET used_space = (SELECT COALESCE(SUM(filesize), 0) FROM files WHERE user_id = $1)
		 WHERE id = $1
		 RETURNING used_space`

	var used int64
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return used, nil
}

// execOne runs an UPDATE that must touch exactly one row; zero rows yields noRows.
func (r *SQLRepository) execOne(ctx context.Context, noRows error, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}

	switch n {
	case 1:
		return nil
	case 0:
		return noRows
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
