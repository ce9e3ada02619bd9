// Package job defines the unit-of-work contract and its kind registry. A job
// extracts a batch, transforms it, and loads the result; the runner executes
// the three steps in order with per-step timing, logging, and metrics.
//
// Job kinds self-register the way storage backends do: implementations call
// Register from an init function, and callers blank-import the builtin
// package to make the standard kinds available.
package job

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"etlkit/internal/batch"
	"etlkit/internal/config"
	"etlkit/internal/engine"
	"etlkit/internal/tablesync"
)

// Context identifies one run of a job in logs and metrics labels.
type Context struct {
	// ID is unique per run, assigned by the caller (a UUID in the CLI).
	ID string
	// Name is the configured job name.
	Name string
}

// Runtime bundles the shared dependencies handed to every job.
type Runtime struct {
	Engines *engine.Registry
	Sync    *tablesync.Synchronizer
}

// Job is one unit of work. Steps run in order; a step returning an error
// stops the run. Extract and Transform may return an empty batch; Load
// decides what an empty batch means for its sink.
type Job interface {
	Extract(ctx context.Context, jc Context) (*batch.Batch, error)
	Transform(ctx context.Context, jc Context, b *batch.Batch) (*batch.Batch, error)
	Load(ctx context.Context, jc Context, b *batch.Batch) error
}

// Factory builds a job of one kind from its options bag.
type Factory func(rt Runtime, opts config.Options) (Job, error)

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

// New builds a job using the factory registered for kind.
func New(rt Runtime, kind string, opts config.Options) (Job, error) {
	regMu.RLock()
	f, ok := factories[kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported job.kind=%s", kind)
	}
	return f(rt, opts)
}

// ListKinds returns a sorted snapshot of the registered job kinds.
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
