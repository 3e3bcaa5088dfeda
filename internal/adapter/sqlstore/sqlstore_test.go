package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *DataStore {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, `
		CREATE TABLE posts (id INTEGER PRIMARY KEY, title TEXT NOT NULL, body TEXT);
		INSERT INTO posts (id, title, body) VALUES (1, 'first', 'hello'), (2, 'second', NULL), (3, 'third', 'bye');
	`)
	require.NoError(t, err)
	return NewDataStore(db)
}

func TestDataStore_SQLite(t *testing.T) {
	ds := openMemory(t)
	ctx := context.Background()

	raw, err := ds.Query(ctx, "SELECT title, id, body FROM posts ORDER BY id", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "id", "body"}, raw.Columns)
	require.Len(t, raw.Rows, 3)
	assert.Equal(t, []any{"first", int64(1), "hello"}, raw.Rows[0])
	assert.Nil(t, raw.Rows[1][2])
}

func TestDataStore_SQLiteRowCap(t *testing.T) {
	ds := openMemory(t)

	raw, err := ds.Query(context.Background(), "SELECT id FROM posts", 2)
	require.NoError(t, err)
	assert.Len(t, raw.Rows, 2)
}

func TestDataStore_SQLiteSyntaxError(t *testing.T) {
	ds := openMemory(t)

	_, err := ds.Query(context.Background(), "SELECT nope FROM posts", 2)
	var dsErr *domain.DataStoreError
	require.ErrorAs(t, err, &dsErr)
	assert.Contains(t, dsErr.Message, "query error")
}

func TestDataStore_DriverFailureIsSanitized(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT id FROM posts").
		WillReturnError(errors.New("connection to 10.0.0.5 lost: bad credentials for admin"))

	_, err = NewDataStore(db).Query(context.Background(), "SELECT id FROM posts", 10)
	var dsErr *domain.DataStoreError
	require.ErrorAs(t, err, &dsErr)
	assert.Equal(t, "query failed", dsErr.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDataStore_RowIterationError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"id", "title"}).
		AddRow(1, []byte("first")).
		AddRow(2, "second").
		RowError(1, errors.New("disk I/O error"))
	mock.ExpectQuery("SELECT id, title FROM posts").WillReturnRows(rows)

	_, err = NewDataStore(db).Query(context.Background(), "SELECT id, title FROM posts", 10)
	var dsErr *domain.DataStoreError
	require.ErrorAs(t, err, &dsErr)
	assert.Equal(t, "query failed", dsErr.Message)
}

func TestDataStore_BytesBecomeStrings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT title FROM posts").
		WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow([]byte("first")))

	raw, err := NewDataStore(db).Query(context.Background(), "SELECT title FROM posts", 10)
	require.NoError(t, err)
	assert.Equal(t, []any{"first"}, raw.Rows[0])
}
