// Package tablesync moves row batches in and out of alias-addressed tables:
// read a snapshot, drop rows the target already holds unchanged, and write
// the remainder with a bulk insert or a staged merge. Engines are resolved
// lazily through the registry, so a synchronizer can be built before any
// database is reachable.
package tablesync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"etlkit/internal/batch"
	"etlkit/internal/engine"
	"etlkit/internal/storage"
)

// Sentinel errors for synchronizer operations, matched with errors.Is.
var (
	// ErrEmptyBatch is returned by Filter, which needs rows to compare.
	// Insert and Upsert treat an empty batch as a logged no-op instead.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrMergeCondition is returned by Upsert when no merge condition is
	// given, before anything is written.
	ErrMergeCondition = errors.New("merge condition required")

	// ErrWrite wraps database failures surfaced by Insert and Upsert.
	ErrWrite = errors.New("write failed")
)

// Synchronizer runs batch reads and writes against engine-registry aliases.
type Synchronizer struct {
	engines *engine.Registry
}

// New returns a Synchronizer that resolves aliases through engines.
func New(engines *engine.Registry) *Synchronizer {
	return &Synchronizer{engines: engines}
}

// Read runs q on the alias's engine and returns the result as a batch. An
// empty result is an empty batch, not an error.
func (s *Synchronizer) Read(ctx context.Context, alias string, q storage.Query) (*batch.Batch, error) {
	repo, err := s.engines.Get(ctx, alias)
	if err != nil {
		return nil, err
	}
	b, err := repo.Read(ctx, q)
	if err != nil {
		log.Printf("tablesync: read failed target=%s err=%v", queryRef(alias, q), err)
		return nil, fmt.Errorf("tablesync: read target=%s: %w", queryRef(alias, q), err)
	}
	if b.IsEmpty() {
		log.Printf("tablesync: read target=%s rows=0, nothing came back", queryRef(alias, q))
		return b, nil
	}
	log.Printf("tablesync: read target=%s rows=%d", queryRef(alias, q), b.Len())
	return b, nil
}

// Filter returns the rows of b that are new or changed relative to the
// target table. Rows are matched on joinColumns; a matched row survives only
// if some changeColumns value differs. Rows with no match on the existing
// side are always kept. The result preserves b's column set and relative row
// order; when the target holds no rows yet, b itself is returned.
func (s *Synchronizer) Filter(ctx context.Context, b *batch.Batch, alias string, target storage.Target, joinColumns, changeColumns []string) (*batch.Batch, error) {
	if b.IsEmpty() {
		return nil, fmt.Errorf("tablesync: filter target=%s: %w", targetRef(alias, target), ErrEmptyBatch)
	}
	if len(joinColumns) == 0 {
		return nil, fmt.Errorf("tablesync: filter target=%s: join columns must not be empty", targetRef(alias, target))
	}
	for _, c := range joinColumns {
		if b.ColumnIndex(c) < 0 {
			return nil, fmt.Errorf("tablesync: filter target=%s: batch has no join column %q", targetRef(alias, target), c)
		}
	}
	for _, c := range changeColumns {
		if b.ColumnIndex(c) < 0 {
			return nil, fmt.Errorf("tablesync: filter target=%s: batch has no change column %q", targetRef(alias, target), c)
		}
	}

	repo, err := s.engines.Get(ctx, alias)
	if err != nil {
		return nil, err
	}

	// Snapshot only the columns the comparison needs.
	existing, err := repo.Read(ctx, storage.Query{
		Schema:  target.Schema,
		Table:   target.Table,
		Columns: unionColumns(joinColumns, changeColumns),
	})
	if err != nil {
		log.Printf("tablesync: filter snapshot failed target=%s err=%v", targetRef(alias, target), err)
		return nil, fmt.Errorf("tablesync: filter target=%s: %w", targetRef(alias, target), err)
	}
	if existing.IsEmpty() {
		log.Printf("tablesync: filter target=%s existing=0 kept=%d, first load", targetRef(alias, target), b.Len())
		return b, nil
	}

	kept := changedRows(b, existing, joinColumns, changeColumns)
	log.Printf("tablesync: filter target=%s in=%d existing=%d kept=%d", targetRef(alias, target), b.Len(), existing.Len(), kept.Len())
	return kept, nil
}

// Insert appends b to the target table, restricted to columns when given.
// An empty batch is a logged no-op. Database failures are wrapped as
// ErrWrite.
func (s *Synchronizer) Insert(ctx context.Context, b *batch.Batch, alias string, target storage.Target, columns []string) (int64, error) {
	if b.IsEmpty() {
		log.Printf("tablesync: insert target=%s rows=0, nothing to do", targetRef(alias, target))
		return 0, nil
	}
	proj, err := b.Project(columns)
	if err != nil {
		return 0, fmt.Errorf("tablesync: insert target=%s: %w", targetRef(alias, target), err)
	}
	repo, err := s.engines.Get(ctx, alias)
	if err != nil {
		return 0, err
	}
	n, err := repo.Insert(ctx, target, proj)
	if err != nil {
		log.Printf("tablesync: insert failed target=%s rows=%d err=%v", targetRef(alias, target), proj.Len(), err)
		return 0, fmt.Errorf("tablesync: insert target=%s: %w: %w", targetRef(alias, target), ErrWrite, err)
	}
	log.Printf("tablesync: insert target=%s rows=%d", targetRef(alias, target), n)
	return n, nil
}

// Upsert merges b into the target table, restricted to columns when given:
// rows matching onCondition are updated in place, the rest inserted. The
// merge condition is required and checked before anything is written. An
// empty batch is a logged no-op with a zero result. Database failures are
// wrapped as ErrWrite.
func (s *Synchronizer) Upsert(ctx context.Context, b *batch.Batch, alias string, target storage.Target, onCondition string, columns []string) (storage.MergeResult, error) {
	var zero storage.MergeResult
	if strings.TrimSpace(onCondition) == "" {
		return zero, fmt.Errorf("tablesync: upsert target=%s: %w", targetRef(alias, target), ErrMergeCondition)
	}
	if b.IsEmpty() {
		log.Printf("tablesync: upsert target=%s rows=0, nothing to do", targetRef(alias, target))
		return zero, nil
	}
	proj, err := b.Project(columns)
	if err != nil {
		return zero, fmt.Errorf("tablesync: upsert target=%s: %w", targetRef(alias, target), err)
	}
	repo, err := s.engines.Get(ctx, alias)
	if err != nil {
		return zero, err
	}
	res, err := repo.Upsert(ctx, target, proj, onCondition)
	if err != nil {
		log.Printf("tablesync: upsert failed target=%s rows=%d err=%v", targetRef(alias, target), proj.Len(), err)
		return zero, fmt.Errorf("tablesync: upsert target=%s: %w: %w", targetRef(alias, target), ErrWrite, err)
	}
	log.Printf("tablesync: upsert target=%s rows=%d inserted=%d updated=%d", targetRef(alias, target), proj.Len(), res.Inserted, res.Updated)
	return res, nil
}

// targetRef renders an alias-qualified table reference for logs and errors.
func targetRef(alias string, t storage.Target) string {
	return alias + "." + t.String()
}

// queryRef is targetRef for reads, which may carry verbatim SQL instead of a
// table reference.
func queryRef(alias string, q storage.Query) string {
	if strings.TrimSpace(q.SQL) != "" {
		return alias + " (custom query)"
	}
	return targetRef(alias, storage.Target{Schema: q.Schema, Table: q.Table})
}

// unionColumns merges two column lists in order, dropping duplicates.
func unionColumns(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, c := range list {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
