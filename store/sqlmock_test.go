package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/price"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewSQLStore(conn, zaptest.NewLogger(t).Sugar()), mock
}

var upsertPattern = regexp.QuoteMeta("INSERT INTO price_history (product_id, date, price, volume)")

func TestUpsertCommitsOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(upsertPattern)
	prep.ExpectExec().WithArgs("A1", "2025-10-17", "1.5", int64(0)).WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("A2", "2025-10-17", "2.25", int64(4)).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := s.Upsert(context.Background(), []price.Observation{
		obs("A1", "2025-10-17", "1.50", 0),
		obs("A2", "2025-10-17", "2.25", 4),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRollsBackOnExecError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(upsertPattern)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err := s.Upsert(context.Background(), []price.Observation{
		obs("A1", "2025-10-17", "1", 0),
		obs("A2", "2025-10-17", "2", 0),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreWrite))
	assert.Contains(t, err.Error(), "A2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDiskFullIsFatal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(upsertPattern)
	prep.ExpectExec().WillReturnError(sqlite3.Error{Code: sqlite3.ErrFull})
	mock.ExpectRollback()

	err := s.Upsert(context.Background(), []price.Observation{obs("A1", "2025-10-17", "1", 0)})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCommitFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(upsertPattern)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err := s.Upsert(context.Background(), []price.Observation{obs("A1", "2025-10-17", "1", 0)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreWrite))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	s, mock := newMockStore(t)
	require.NoError(t, s.Upsert(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDateQuery(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM price_history WHERE date = ?")).
		WithArgs("2025-10-17").
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := s.DeleteDate(context.Background(), price.MustParseDate("2025-10-17"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasDateQueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("2025-10-17").
		WillReturnError(errors.New("disk I/O error"))

	_, err := s.HasDate(context.Background(), price.MustParseDate("2025-10-17"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreWrite))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClosedDatabaseIsFatal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").WillReturnError(errors.New("sql: database is closed"))

	_, err := s.HasDate(context.Background(), price.MustParseDate("2025-10-17"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
