package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockKV(t *testing.T) (*KVRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewKVRepository(db), mock
}

func TestKVRepositoryGet(t *testing.T) {
	repo, mock := newMockKV(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv_entries WHERE namespace = ? AND entry_key = ?")).
		WithArgs("chat:1", "theme").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("light"))

	value, err := repo.Get(context.Background(), "chat:1", "theme")
	require.NoError(t, err)
	assert.Equal(t, []byte("light"), value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKVRepositoryGetMissing(t *testing.T) {
	repo, mock := newMockKV(t)
	mock.ExpectQuery("SELECT value FROM kv_entries").WillReturnError(sql.ErrNoRows)

	value, err := repo.Get(context.Background(), "chat:1", "history")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestKVRepositorySetUpserts(t *testing.T) {
	repo, mock := newMockKV(t)
	mock.ExpectExec("INSERT INTO kv_entries .* ON DUPLICATE KEY UPDATE").
		WithArgs("chat:1", "plan", "b64").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Set(context.Background(), "chat:1", "plan", []byte("b64")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKVRepositoryDeleteWrapsError(t *testing.T) {
	repo, mock := newMockKV(t)
	mock.ExpectExec("DELETE FROM kv_entries").
		WithArgs("chat:1", "history").
		WillReturnError(errors.New("connection reset"))

	err := repo.Delete(context.Background(), "chat:1", "history")
	assert.ErrorContains(t, err, "delete kv entry")
}
