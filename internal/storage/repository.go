// Package storage defines the storage-agnostic repository contract used by
// the table synchronizer, plus a kind-keyed factory that backends register
// into from their init functions (import etlkit/internal/storage/all to link
// every backend in).
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"etlkit/internal/batch"
)

// Target names a destination table, optionally schema-qualified.
type Target struct {
	Schema string
	Table  string
}

// String renders the target as schema.table for logs and error messages.
// Quoting is a backend concern, not done here.
func (t Target) String() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// Query describes a read. A non-empty SQL runs verbatim and the remaining
// fields are ignored; otherwise the backend builds
// SELECT <Columns|*> FROM <Schema.Table> [WHERE <Where>].
type Query struct {
	Schema  string
	Table   string
	Columns []string
	Where   string
	SQL     string
}

// MergeResult reports the per-row action counts of one upsert.
type MergeResult struct {
	Inserted int64
	Updated  int64
}

// Repository is the surface every backend implements. All operations take a
// context that bounds pool checkout and statement execution.
type Repository interface {
	// Read executes q and returns the whole result set as a batch. An empty
	// result is an empty batch, not an error.
	Read(ctx context.Context, q Query) (*batch.Batch, error)
	// Insert appends all rows of b into target via the backend's bulk path
	// inside a single transaction and reports the number of rows written.
	Insert(ctx context.Context, target Target, b *batch.Batch) (int64, error)
	// Upsert writes b into a transient staging table and merges it into
	// target in the same transaction. onCondition is a join predicate over
	// the aliases "target" and "source" (the staging side). Matched rows are
	// updated with every batch column, unmatched staging rows are inserted.
	Upsert(ctx context.Context, target Target, b *batch.Batch, onCondition string) (MergeResult, error)
	// Exec runs an arbitrary statement, typically DDL.
	Exec(ctx context.Context, sql string) error
	// Ping verifies the backing pool can reach the database.
	Ping(ctx context.Context) error
	// Close releases the underlying pool.
	Close()
}

// Pool carries the fixed connection-pool settings applied to every engine:
// bounded size with overflow headroom, periodic recycling and a bounded
// checkout wait. Zero fields fall back to the defaults.
type Pool struct {
	MaxOpen        int
	MaxIdle        int
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration
}

// DefaultPool returns the fixed settings: 10 idle + 20 overflow connections,
// hourly recycling and a 30s checkout/ping bound.
func DefaultPool() Pool {
	return Pool{
		MaxOpen:        30,
		MaxIdle:        10,
		MaxLifetime:    time.Hour,
		AcquireTimeout: 30 * time.Second,
	}
}

// OrDefault fills zero fields from DefaultPool.
func (p Pool) OrDefault() Pool {
	def := DefaultPool()
	if p.MaxOpen <= 0 {
		p.MaxOpen = def.MaxOpen
	}
	if p.MaxIdle <= 0 {
		p.MaxIdle = def.MaxIdle
	}
	if p.MaxLifetime <= 0 {
		p.MaxLifetime = def.MaxLifetime
	}
	if p.AcquireTimeout <= 0 {
		p.AcquireTimeout = def.AcquireTimeout
	}
	return p
}

// Config selects and configures a backend.
type Config struct {
	// Kind picks the registered backend ("postgres", "mssql", "sqlite", "mysql").
	Kind string
	// DSN is the backend-specific connection string.
	DSN string
	// Pool settings; zero fields use DefaultPool.
	Pool Pool
}

// Factory builds a Repository for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs the factory for kind. Re-registering a kind overrides the
// previous factory, which tests use to inject fakes.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New builds a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	cfg.Pool = cfg.Pool.OrDefault()
	return f(ctx, cfg)
}

// ListKinds returns a sorted snapshot of the registered backend kinds.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
