package db

import (
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/teranos/pricehist/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database.
// This typically occurs during graceful shutdown when the database connection
// is closed before all goroutines have finished their work.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// The string fallback covers errors raised inside database/sql itself.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsOutOfSpace reports whether SQLite refused a write because the disk or the
// database file is full. Such errors end the whole ingestion run.
func IsOutOfSpace(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrFull || sqliteErr.Code == sqlite3.ErrReadonly ||
		sqliteErr.Code == sqlite3.ErrCantOpen
}
