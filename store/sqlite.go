package store

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teranos/pricehist/db"
	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/logger"
	"github.com/teranos/pricehist/price"
)

// Query constants
const (
	sqliteUpsertQuery = `
		INSERT INTO price_history (product_id, date, price, volume)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (product_id, date) DO UPDATE SET
			price = excluded.price,
			volume = excluded.volume`

	sqliteHasDateQuery = `SELECT EXISTS(SELECT 1 FROM price_history WHERE date = ?)`

	sqliteCountDateQuery = `SELECT COUNT(*) FROM price_history WHERE date = ?`

	sqliteDeleteDateQuery = `DELETE FROM price_history WHERE date = ?`

	sqliteGetQuery = `
		SELECT CAST(price AS TEXT), volume FROM price_history
		WHERE product_id = ? AND date = ?`

	sqliteStatsQuery = `
		SELECT COUNT(*), COUNT(DISTINCT date), COUNT(DISTINCT product_id),
			COALESCE(MIN(date), ''), COALESCE(MAX(date), '')
		FROM price_history`
)

// SQLStore is the SQLite backend.
type SQLStore struct {
	db     *sql.DB
	log    *zap.SugaredLogger
	closer func() error
}

// NewSQLStore wraps an open, migrated database. Close on the store does not
// close db.
func NewSQLStore(conn *sql.DB, log *zap.SugaredLogger) *SQLStore {
	if log == nil {
		log = logger.ComponentLogger("store.sqlite")
	}
	return &SQLStore{db: conn, log: log}
}

// OpenSQLite opens (creating if needed) and migrates the database at path.
func OpenSQLite(path string, maxConns int, log *zap.SugaredLogger) (*SQLStore, error) {
	conn, err := db.OpenWithMigrations(path, log)
	if err != nil {
		return nil, errors.Fatal(err, "open price store")
	}
	if maxConns > 0 {
		conn.SetMaxOpenConns(maxConns)
	}
	s := NewSQLStore(conn, log)
	s.closer = conn.Close
	return s, nil
}

func (s *SQLStore) HasDate(ctx context.Context, d price.Date) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, sqliteHasDateQuery, d.String()).Scan(&exists); err != nil {
		return false, s.classify(err, "check date %s", d)
	}
	return exists, nil
}

func (s *SQLStore) CountDate(ctx context.Context, d price.Date) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, sqliteCountDateQuery, d.String()).Scan(&n); err != nil {
		return 0, s.classify(err, "count date %s", d)
	}
	return n, nil
}

func (s *SQLStore) Upsert(ctx context.Context, obs []price.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	obs = dedupe(obs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(err, "begin upsert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertQuery)
	if err != nil {
		return s.classify(err, "prepare upsert")
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.ProductID, o.Date.String(), o.Price.String(), o.Volume); err != nil {
			return s.classify(err, "upsert %s on %s", o.ProductID, o.Date)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.classify(err, "commit upsert of %d observations", len(obs))
	}
	return nil
}

func (s *SQLStore) DeleteDate(ctx context.Context, d price.Date) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqliteDeleteDateQuery, d.String())
	if err != nil {
		return 0, s.classify(err, "delete date %s", d)
	}
	n, _ := res.RowsAffected()
	s.log.Debugw("Purged date", logger.FieldDate, d.String(), logger.FieldCount, n)
	return n, nil
}

func (s *SQLStore) Get(ctx context.Context, productID string, d price.Date) (*price.Observation, error) {
	var text string
	var volume int64
	err := s.db.QueryRowContext(ctx, sqliteGetQuery, productID, d.String()).Scan(&text, &volume)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no price for %s on %s", productID, d)
	}
	if err != nil {
		return nil, s.classify(err, "get %s on %s", productID, d)
	}
	p, err := decimal.NewFromString(text)
	if err != nil {
		return nil, errors.Wrapf(err, "stored price %q for %s", text, productID)
	}
	return &price.Observation{ProductID: productID, Date: d, Price: p, Volume: volume}, nil
}

func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: "sqlite"}
	err := s.db.QueryRowContext(ctx, sqliteStatsQuery).Scan(&st.Rows, &st.Dates, &st.Products, &st.FirstDate, &st.LastDate)
	if err != nil {
		return nil, s.classify(err, "stats")
	}
	if st.Schema, err = db.SchemaVersion(s.db); err != nil {
		return nil, s.classify(err, "stats")
	}
	return st, nil
}

func (s *SQLStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// classify marks out-of-space, read-only and closed-database failures fatal
// and everything else as a store write error.
func (s *SQLStore) classify(err error, format string, args ...interface{}) error {
	wrapped := errors.Wrapf(err, format, args...)
	if db.IsOutOfSpace(err) || db.IsDatabaseClosed(err) {
		return errors.Fatal(wrapped, "price store")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}
	return errors.Mark(wrapped, errors.ErrStoreWrite)
}
