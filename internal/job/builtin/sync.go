package builtin

import (
	"context"
	"fmt"
	"strings"

	"etlkit/internal/batch"
	"etlkit/internal/config"
	"etlkit/internal/job"
	"etlkit/internal/metrics"
	"etlkit/internal/storage"
	"etlkit/internal/tablesync"
)

func init() {
	job.Register("sync", newSyncJob)
}

// tableWrite is the write half shared by the job kinds that end in a table
// write: target coordinates, insert-or-upsert mode, and an optional column
// projection.
type tableWrite struct {
	targetAlias string
	target      storage.Target

	mode        string
	onCondition string
	columns     []string
}

func tableWriteFromOptions(o config.Options) tableWrite {
	return tableWrite{
		targetAlias: o.String("target_alias", ""),
		target: storage.Target{
			Schema: o.String("target_schema", ""),
			Table:  o.String("target_table", ""),
		},
		mode:        o.String("mode", "insert"),
		onCondition: o.String("on_condition", ""),
		columns:     o.StringSlice("columns"),
	}
}

// validate rejects write configurations that could not possibly run; kind
// prefixes the error messages.
func (w *tableWrite) validate(kind string) error {
	if w.targetAlias == "" {
		return fmt.Errorf("%s: target_alias is required", kind)
	}
	if w.target.Table == "" {
		return fmt.Errorf("%s: target_table is required", kind)
	}
	switch w.mode {
	case "insert":
	case "upsert":
		if strings.TrimSpace(w.onCondition) == "" {
			return fmt.Errorf("%s: mode \"upsert\": %w", kind, tablesync.ErrMergeCondition)
		}
	default:
		return fmt.Errorf("%s: unknown mode %q", kind, w.mode)
	}
	return nil
}

// load writes b with the configured mode and records the write metrics.
func (w *tableWrite) load(ctx context.Context, jc job.Context, rt job.Runtime, b *batch.Batch) error {
	switch w.mode {
	case "upsert":
		res, err := rt.Sync.Upsert(ctx, b, w.targetAlias, w.target, w.onCondition, w.columns)
		if err != nil {
			return err
		}
		metrics.RecordMerge(jc.Name, res.Inserted, res.Updated)
	default:
		n, err := rt.Sync.Insert(ctx, b, w.targetAlias, w.target, w.columns)
		if err != nil {
			return err
		}
		metrics.RecordRows(jc.Name, "inserted", n)
	}
	if !b.IsEmpty() {
		metrics.RecordBatches(jc.Name, 1)
	}
	return nil
}

// syncJob copies rows from a source table (or query) into a target table,
// optionally dropping rows that already exist there unchanged. The three
// steps map straight onto the synchronizer: Extract reads the source,
// Transform runs the change filter, Load inserts or merges.
type syncJob struct {
	rt job.Runtime

	sourceAlias string
	source      storage.Query

	joinColumns   []string
	changeColumns []string

	tableWrite
}

// newSyncJob builds a syncJob from its options and rejects configurations
// that could not possibly run, so a bad job fails at startup instead of
// halfway through a batch.
func newSyncJob(rt job.Runtime, o config.Options) (job.Job, error) {
	j := &syncJob{
		rt:          rt,
		sourceAlias: o.String("source_alias", ""),
		source: storage.Query{
			Schema:  o.String("source_schema", ""),
			Table:   o.String("source_table", ""),
			Columns: o.StringSlice("source_columns"),
			Where:   o.String("source_where", ""),
			SQL:     o.String("source_query", ""),
		},
		joinColumns:   o.StringSlice("join_columns"),
		changeColumns: o.StringSlice("change_columns"),
		tableWrite:    tableWriteFromOptions(o),
	}

	if j.sourceAlias == "" {
		return nil, fmt.Errorf("sync: source_alias is required")
	}
	if j.source.Table == "" && j.source.SQL == "" {
		return nil, fmt.Errorf("sync: source_table or source_query is required")
	}
	if err := j.tableWrite.validate("sync"); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *syncJob) Extract(ctx context.Context, _ job.Context) (*batch.Batch, error) {
	return j.rt.Sync.Read(ctx, j.sourceAlias, j.source)
}

// Transform drops rows the target already holds unchanged. Without join
// columns the filter is not configured and every row passes through.
func (j *syncJob) Transform(ctx context.Context, _ job.Context, b *batch.Batch) (*batch.Batch, error) {
	if len(j.joinColumns) == 0 {
		return b, nil
	}
	if b.IsEmpty() {
		// Nothing to compare against the target.
		return b, nil
	}
	return j.rt.Sync.Filter(ctx, b, j.targetAlias, j.target, j.joinColumns, j.changeColumns)
}

func (j *syncJob) Load(ctx context.Context, jc job.Context, b *batch.Batch) error {
	return j.load(ctx, jc, j.rt, b)
}
