package shares

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

var shareCols = []string{"id", "owner_id", "object_type", "object_id", "share_key", "password", "expiration_time", "created_at"}

func TestCreate_StoresNullPasswordWhenEmpty(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	q := `(?s)^INSERT\s+INTO\s+shares\s*\(owner_id,\s*object_type,\s*object_id,\s*share_key,\s*password,\s*expiration_time,\s*created_at\)\s*VALUES\s*\(\$1,.*\$7\)\s*RETURNING\s+id$`
	mock.ExpectQuery(q).
		WithArgs(int64(1), models.ShareObjectFile, int64(9), "key-1", nil, nil, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	got, err := repo.Create(context.Background(), &models.Share{
		OwnerID: 1, ObjectType: models.ShareObjectFile, ObjectID: 9, ShareKey: "key-1", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DuplicateObject(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+shares`).
		WillReturnError(errors.New("UNIQUE constraint failed: shares.object_type, shares.object_id"))

	_, err := repo.Create(context.Background(), &models.Share{ObjectType: models.ShareObjectFile, ObjectID: 9})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestGetByKey(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*owner_id,.*FROM\s+shares\s+WHERE\s+share_key\s*=\s*\$1$`
	now := time.Now().UTC()
	exp := now.Add(time.Hour)

	mock.ExpectQuery(q).WithArgs("k").
		WillReturnRows(sqlmock.NewRows(shareCols).
			AddRow(int64(1), int64(2), "directory", int64(5), "k", "$2a$hash", exp, now))

	got, err := repo.GetByKey(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "$2a$hash", got.PasswordHash)
	require.NotNil(t, got.ExpirationTime)
	assert.True(t, got.ExpirationTime.Equal(exp))

	mock.ExpectQuery(q).WithArgs("k").
		WillReturnRows(sqlmock.NewRows(shareCols).
			AddRow(int64(1), int64(2), "file", int64(5), "k", nil, nil, now))
	got, err = repo.GetByKey(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, got.HasPassword())
	assert.Nil(t, got.ExpirationTime)

	mock.ExpectQuery(q).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByKey(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpdate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+shares\s+SET\s+password\s*=\s*\$1,\s*expiration_time\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$3$`

	mock.ExpectExec(q).WithArgs("h", sqlmock.AnyArg(), int64(4)).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), &models.Share{ID: 4, PasswordHash: "h"}))

	mock.ExpectExec(q).WithArgs(nil, sqlmock.AnyArg(), int64(5)).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Update(context.Background(), &models.Share{ID: 5}), common.ErrorNotFound)
}

func TestDeleteByObject_ToleratesAbsentShare(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^DELETE\s+FROM\s+shares\s+WHERE\s+object_type\s*=\s*\$1\s+AND\s+object_id\s*=\s*\$2$`
	mock.ExpectExec(q).WithArgs("file", int64(8)).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.DeleteByObject(context.Background(), "file", 8))

	mock.ExpectExec(q).WithArgs("file", int64(8)).WillReturnError(errors.New("db down"))
	err := repo.DeleteByObject(context.Background(), "file", 8)
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestListByOwner(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)WHERE\s+owner_id\s*=\s*\$1\s+AND\s+object_type\s*=\s*\$2$`).
		WithArgs(int64(1), "file").
		WillReturnRows(sqlmock.NewRows(shareCols).
			AddRow(int64(1), int64(1), "file", int64(2), "a", nil, nil, now).
			AddRow(int64(2), int64(1), "file", int64(3), "b", nil, nil, now))

	got, err := repo.ListByOwner(context.Background(), 1, "file")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
