package builtin

import (
	"context"
	"fmt"
	"os"

	"etlkit/internal/batch"
	"etlkit/internal/config"
	"etlkit/internal/job"
	"etlkit/internal/metrics"
	"etlkit/internal/storage"
)

func init() {
	job.Register("csv_load", newCSVLoadJob)
	job.Register("csv_export", newCSVExportJob)
}

// csvLoadJob feeds a delimited file into a target table. Extract parses the
// file, Transform optionally runs the change filter against the target, and
// Load inserts or merges exactly like a sync job. Cells arrive as strings, so
// change detection compares textually; it works best against text columns or
// a first load.
type csvLoadJob struct {
	rt job.Runtime

	path    string
	readOpt batch.CSVOptions

	joinColumns   []string
	changeColumns []string

	tableWrite
}

func newCSVLoadJob(rt job.Runtime, o config.Options) (job.Job, error) {
	j := &csvLoadJob{
		rt:   rt,
		path: o.String("path", ""),
		readOpt: batch.CSVOptions{
			Comma:            o.Rune("delimiter", ','),
			HeaderMap:        o.StringMap("header_map"),
			NormalizeHeaders: o.Bool("normalize_headers", true),
		},
		joinColumns:   o.StringSlice("join_columns"),
		changeColumns: o.StringSlice("change_columns"),
		tableWrite:    tableWriteFromOptions(o),
	}

	if j.path == "" {
		return nil, fmt.Errorf("csv_load: path is required")
	}
	if err := j.tableWrite.validate("csv_load"); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *csvLoadJob) Extract(_ context.Context, _ job.Context) (*batch.Batch, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("csv_load: %w", err)
	}
	defer f.Close()
	return batch.ReadCSV(f, j.readOpt)
}

// Transform drops rows the target already holds unchanged. Without join
// columns the filter is not configured and every row passes through.
func (j *csvLoadJob) Transform(ctx context.Context, _ job.Context, b *batch.Batch) (*batch.Batch, error) {
	if len(j.joinColumns) == 0 {
		return b, nil
	}
	if b.IsEmpty() {
		return b, nil
	}
	return j.rt.Sync.Filter(ctx, b, j.targetAlias, j.target, j.joinColumns, j.changeColumns)
}

func (j *csvLoadJob) Load(ctx context.Context, jc job.Context, b *batch.Batch) error {
	return j.load(ctx, jc, j.rt, b)
}

// csvExportJob dumps a source table or query to a delimited file.
type csvExportJob struct {
	rt job.Runtime

	sourceAlias string
	source      storage.Query

	path string
}

func newCSVExportJob(rt job.Runtime, o config.Options) (job.Job, error) {
	j := &csvExportJob{
		rt:          rt,
		sourceAlias: o.String("source_alias", ""),
		source: storage.Query{
			Schema:  o.String("source_schema", ""),
			Table:   o.String("source_table", ""),
			Columns: o.StringSlice("source_columns"),
			Where:   o.String("source_where", ""),
			SQL:     o.String("source_query", ""),
		},
		path: o.String("path", ""),
	}

	if j.sourceAlias == "" {
		return nil, fmt.Errorf("csv_export: source_alias is required")
	}
	if j.source.Table == "" && j.source.SQL == "" {
		return nil, fmt.Errorf("csv_export: source_table or source_query is required")
	}
	if j.path == "" {
		return nil, fmt.Errorf("csv_export: path is required")
	}
	return j, nil
}

func (j *csvExportJob) Extract(ctx context.Context, _ job.Context) (*batch.Batch, error) {
	return j.rt.Sync.Read(ctx, j.sourceAlias, j.source)
}

func (j *csvExportJob) Transform(_ context.Context, _ job.Context, b *batch.Batch) (*batch.Batch, error) {
	return b, nil
}

// Load writes the file even when the batch is empty, so downstream consumers
// always see a header row.
func (j *csvExportJob) Load(_ context.Context, jc job.Context, b *batch.Batch) error {
	if b == nil {
		b = batch.New()
	}
	f, err := os.Create(j.path)
	if err != nil {
		return fmt.Errorf("csv_export: %w", err)
	}
	if err := batch.WriteCSV(f, b); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("csv_export: close %s: %w", j.path, err)
	}
	metrics.RecordRows(jc.Name, "exported", int64(b.Len()))
	if !b.IsEmpty() {
		metrics.RecordBatches(jc.Name, 1)
	}
	return nil
}
