package store

import (
	"context"
	"fmt"
)

// Open returns the Store for the configured driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = "data/sitebuilder.db"
		}
		return NewSQLiteStore(dsn)
	case "postgres", "pg":
		return NewPGStore(ctx, PGConfig{URL: dsn})
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", ErrValidation, driver)
	}
}
