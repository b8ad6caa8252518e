package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/pricehist/am"
	"github.com/teranos/pricehist/errors"
)

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg am.DatabaseConfig, log *zap.SugaredLogger) (Store, error) {
	switch cfg.Driver {
	case am.DriverSQLite, "":
		return OpenSQLite(cfg.Path, cfg.MaxConns, log)
	case am.DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN, cfg.MaxConns, log)
	}
	return nil, errors.NewInvalidRequestError("unknown database.driver %q", cfg.Driver)
}
