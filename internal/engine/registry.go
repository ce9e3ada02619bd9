// Package engine resolves logical database aliases to live storage
// repositories. An alias names a backend kind plus the environment variable
// holding its connection string, so jobs can say "read from src, write to
// dwh" without carrying DSNs around. Connections are created lazily on first
// use, shared across callers, and closed through Dispose/DisposeAll.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"etlkit/internal/storage"
)

// Sentinel errors returned by Registry.Get. Callers match them with errors.Is.
var (
	ErrUnknownAlias     = errors.New("unknown engine alias")
	ErrConnStringNotSet = errors.New("connection string not set")
	ErrConnect          = errors.New("engine connect failed")
)

// Alias describes one configured engine: which backend kind serves it and
// which environment variable carries its connection string. An empty DSNEnv
// falls back to the DefaultDSNEnv convention.
type Alias struct {
	Kind   string
	DSNEnv string
}

// DefaultDSNEnv returns the environment variable consulted for an alias when
// its config does not name one: SQL_<ALIAS>_CONN with the alias uppercased.
func DefaultDSNEnv(alias string) string {
	return "SQL_" + strings.ToUpper(alias) + "_CONN"
}

// Registry hands out shared storage repositories keyed by alias.
type Registry struct {
	aliases map[string]Alias

	mu    sync.RWMutex
	cache map[string]storage.Repository
	group singleflight.Group
}

// NewRegistry builds a Registry over the configured aliases.
func NewRegistry(aliases map[string]Alias) *Registry {
	m := make(map[string]Alias, len(aliases))
	for name, a := range aliases {
		m[name] = a
	}
	return &Registry{
		aliases: m,
		cache:   make(map[string]storage.Repository),
	}
}

// Get returns the repository for alias, connecting on first use. Concurrent
// calls for the same alias share one connection attempt; later calls reuse
// the cached repository until it is disposed.
func (r *Registry) Get(ctx context.Context, alias string) (storage.Repository, error) {
	a, ok := r.aliases[alias]
	if !ok {
		return nil, fmt.Errorf("engine: alias %q not configured (have: %s): %w",
			alias, strings.Join(r.Aliases(), ", "), ErrUnknownAlias)
	}

	r.mu.RLock()
	repo, cached := r.cache[alias]
	r.mu.RUnlock()
	if cached {
		return repo, nil
	}

	env := a.DSNEnv
	if env == "" {
		env = DefaultDSNEnv(alias)
	}
	dsn := os.Getenv(env)
	if dsn == "" {
		return nil, fmt.Errorf("engine: alias %q: environment variable %s is empty: %w",
			alias, env, ErrConnStringNotSet)
	}

	v, err, _ := r.group.Do(alias, func() (any, error) {
		// A previous winner may have filled the cache while we queued.
		r.mu.RLock()
		repo, cached := r.cache[alias]
		r.mu.RUnlock()
		if cached {
			return repo, nil
		}

		created, err := storage.New(ctx, storage.Config{Kind: a.Kind, DSN: dsn})
		if err != nil {
			return nil, fmt.Errorf("engine: alias %q (kind %s): %w: %w", alias, a.Kind, ErrConnect, err)
		}
		log.Printf("engine: connected alias=%s kind=%s", alias, a.Kind)

		r.mu.Lock()
		r.cache[alias] = created
		r.mu.Unlock()
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(storage.Repository), nil
}

// Dispose closes and forgets the repository for alias. Disposing an alias
// that was never connected (or already disposed) is a no-op; a later Get
// reconnects.
func (r *Registry) Dispose(alias string) {
	r.mu.Lock()
	repo, ok := r.cache[alias]
	delete(r.cache, alias)
	r.mu.Unlock()
	if !ok {
		return
	}
	repo.Close()
	log.Printf("engine: disposed alias=%s", alias)
}

// DisposeAll closes every cached repository. The registry stays usable;
// subsequent Gets reconnect.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	repos := r.cache
	r.cache = make(map[string]storage.Repository)
	r.mu.Unlock()
	for alias, repo := range repos {
		repo.Close()
		log.Printf("engine: disposed alias=%s", alias)
	}
}

// Aliases returns the configured alias names, sorted.
func (r *Registry) Aliases() []string {
	out := make([]string, 0, len(r.aliases))
	for a := range r.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
