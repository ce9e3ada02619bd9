// This adapter wires the SQLite backend into the storage-agnostic factory.
package sqlite

import (
	"context"

	"etlkit/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

var _ storage.Repository = (*wrappedRepo)(nil)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{
			DSN:         cfg.DSN,
			MaxOpen:     cfg.Pool.MaxOpen,
			MaxIdle:     cfg.Pool.MaxIdle,
			MaxLifetime: cfg.Pool.MaxLifetime,
			PingTimeout: cfg.Pool.AcquireTimeout,
		})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}

// wrappedRepo adapts *sqlite.Repository to storage.Repository and provides Close.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

func (w *wrappedRepo) Close() { w.closeFn() }
