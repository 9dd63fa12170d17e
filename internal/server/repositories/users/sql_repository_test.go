package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSQLRepository(db), mock, db
}

var userCols = []string{"id", "username", "quota", "used_space", "is_admin", "created_at"}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	q := `(?s)^INSERT\s+INTO\s+users\s*\(username,\s*quota,\s*used_space,\s*is_admin,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*0,\s*\$3,\s*\$4\)\s*RETURNING\s+id\s*$`

	mock.ExpectQuery(q).
		WithArgs("alice", int64(1000), false, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	got, err := repo.Create(context.Background(), &models.User{Username: "alice", Quota: 1000, CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, int64(0), got.UsedSpace)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DuplicateUsername(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.Create(context.Background(), &models.User{Username: "alice"})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.User{Username: "alice"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*username,\s*quota,\s*used_space,\s*is_admin,\s*created_at\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1$`
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(q).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(int64(7), "bob", int64(1000), int64(600), true, created))

	got, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, &models.User{ID: 7, Username: "bob", Quota: 1000, UsedSpace: 600, IsAdmin: true, CreatedAt: created}, got)
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 9)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetByUsername_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+username\s*=\s*\$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestList_ScansAllRows(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM\s+users\s+ORDER\s+BY\s+id`).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(1), "a", int64(10), int64(0), false, now).
			AddRow(int64(2), "b", int64(20), int64(5), false, now))

	got, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Username)
}

func TestAddUsedSpaceWithinQuota(t *testing.T) {
	q := `(?s)^UPDATE\s+users\s+SET\s+used_space\s*=\s*used_space\s*\+\s*\$1\s+WHERE\s+id\s*=\s*\$2\s+AND\s+used_space\s*\+\s*\$1\s*<=\s*quota$`

	t.Run("applied", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectExec(q).WithArgs(int64(600), int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, repo.AddUsedSpaceWithinQuota(context.Background(), 1, 600))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("over quota", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectExec(q).WithArgs(int64(500), int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
		err := repo.AddUsedSpaceWithinQuota(context.Background(), 1, 500)
		assert.ErrorIs(t, err, common.ErrQuotaExceeded)
	})

	t.Run("rows affected error", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectExec(q).WithArgs(int64(1), int64(1)).WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))
		err := repo.AddUsedSpaceWithinQuota(context.Background(), 1, 1)
		if err == nil || !regexp.MustCompile(`rows affected error: .*rows-err`).MatchString(err.Error()) {
			t.Fatalf("expected rows affected error, got %v", err)
		}
	})
}

func TestAddUsedSpace_ClampsAndReportsMissingUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+users\s+SET\s+used_space\s*=\s*CASE\s+WHEN\s+used_space\s*\+\s*\$1\s*<\s*0\s+THEN\s+0\s+ELSE\s+used_space\s*\+\s*\$1\s+END\s+WHERE\s+id\s*=\s*\$2$`

	mock.ExpectExec(q).WithArgs(int64(-300), int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.AddUsedSpace(context.Background(), 1, -300))

	mock.ExpectExec(q).WithArgs(int64(-1), int64(99)).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.AddUsedSpace(context.Background(), 99, -1), common.ErrorNotFound)
}

func TestRecomputeUsedSpace(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+users\s+SET\s+used_space\s*=\s*\(SELECT\s+COALESCE\(SUM\(filesize\),\s*0\)\s+FROM\s+files\s+WHERE\s+user_id\s*=\s*\$1\)\s+WHERE\s+id\s*=\s*\$1\s+RETURNING\s+used_space$`
	mock.ExpectQuery(q).WithArgs(int64(3)).WillReturnRows(sqlmock.NewRows([]string{"used_space"}).AddRow(int64(1234)))

	got, err := repo.RecomputeUsedSpace(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), got)
}

func TestSetQuota_UnexpectedRowsAffected(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+users\s+SET\s+quota`).WithArgs(int64(10), int64(1)).WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.SetQuota(context.Background(), 1, 10)
	if err == nil || !regexp.MustCompile(`unexpected rows affected: 2`).MatchString(err.Error()) {
		t.Fatalf("expected unexpected rows error, got %v", err)
	}
}
