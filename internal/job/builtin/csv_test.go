package builtin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"etlkit/internal/config"
	"etlkit/internal/job"
	"etlkit/internal/storage"
	"etlkit/internal/tablesync"
)

// writeTempCSV drops content into a fresh temp file and returns its path.
func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// ----- factories -----

func TestNewCSVLoadJobValidation(t *testing.T) {
	t.Parallel()

	base := func() config.Options {
		return config.Options{
			"path":         "data/orders.csv",
			"target_alias": "dwh",
			"target_table": "orders",
		}
	}

	tests := []struct {
		name    string
		mutate  func(o config.Options)
		wantMsg string
	}{
		{
			name:    "missing path",
			mutate:  func(o config.Options) { delete(o, "path") },
			wantMsg: "path is required",
		},
		{
			name:    "missing target alias",
			mutate:  func(o config.Options) { delete(o, "target_alias") },
			wantMsg: "target_alias is required",
		},
		{
			name:    "missing target table",
			mutate:  func(o config.Options) { delete(o, "target_table") },
			wantMsg: "target_table is required",
		},
		{
			name:    "unknown mode",
			mutate:  func(o config.Options) { o["mode"] = "replace" },
			wantMsg: `unknown mode "replace"`,
		},
	}
	for _, tt := range tests {
		tt := tt // capture
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			o := base()
			tt.mutate(o)
			_, err := job.New(job.Runtime{}, "csv_load", o)
			if err == nil {
				t.Fatal("expected a factory error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestNewCSVLoadJobUpsertRequiresCondition(t *testing.T) {
	t.Parallel()

	_, err := job.New(job.Runtime{}, "csv_load", config.Options{
		"path":         "data/orders.csv",
		"target_alias": "dwh",
		"target_table": "orders",
		"mode":         "upsert",
	})
	if !errors.Is(err, tablesync.ErrMergeCondition) {
		t.Fatalf("error = %v, want tablesync.ErrMergeCondition", err)
	}
}

func TestNewCSVExportJobValidation(t *testing.T) {
	t.Parallel()

	base := func() config.Options {
		return config.Options{
			"source_alias": "src",
			"source_table": "orders",
			"path":         "out/orders.csv",
		}
	}

	tests := []struct {
		name    string
		mutate  func(o config.Options)
		wantMsg string
	}{
		{
			name:    "missing source alias",
			mutate:  func(o config.Options) { delete(o, "source_alias") },
			wantMsg: "source_alias is required",
		},
		{
			name:    "missing source table and query",
			mutate:  func(o config.Options) { delete(o, "source_table") },
			wantMsg: "source_table or source_query is required",
		},
		{
			name:    "missing path",
			mutate:  func(o config.Options) { delete(o, "path") },
			wantMsg: "path is required",
		},
	}
	for _, tt := range tests {
		tt := tt // capture
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			o := base()
			tt.mutate(o)
			_, err := job.New(job.Runtime{}, "csv_export", o)
			if err == nil {
				t.Fatal("expected a factory error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

// ----- flows -----

func TestCSVLoadFlowWithFilter(t *testing.T) {
	// Semicolon-delimited file with a BOM and headers that need normalizing.
	path := writeTempCSV(t, "\uFEFF"+"Id;Name;Amt\n1;widget;10\n2;gadget;20\n")

	src := &fakeRepo{}
	// The target already holds row 1 unchanged (CSV cells are strings, so the
	// snapshot carries strings too), so the filter drops it.
	dwh := &fakeRepo{readResult: mustBatch(t, []string{"id", "amt"},
		[]any{"1", "10"},
	)}
	rt := newRuntime(t, src, dwh)
	rec := captureMetrics(t)

	built, err := job.New(rt, "csv_load", config.Options{
		"path":           path,
		"delimiter":      ";",
		"target_alias":   "dwh",
		"target_schema":  "sales",
		"target_table":   "orders",
		"join_columns":   []string{"id"},
		"change_columns": []string{"amt"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jc := job.Context{ID: "run-csv-load", Name: "orders_load"}
	if err := job.Run(context.Background(), jc, built); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(dwh.reads) != 1 {
		t.Fatalf("target snapshot read %d times, want 1", len(dwh.reads))
	}
	if len(dwh.inserts) != 1 {
		t.Fatalf("target inserted into %d times, want 1", len(dwh.inserts))
	}
	ins := dwh.inserts[0]
	if !reflect.DeepEqual(ins.b.Columns, []string{"id", "name", "amt"}) {
		t.Fatalf("inserted columns = %v, want normalized headers", ins.b.Columns)
	}
	wantRows := [][]any{{"2", "gadget", "20"}}
	if !reflect.DeepEqual(ins.b.Rows, wantRows) {
		t.Fatalf("inserted rows = %v, want %v", ins.b.Rows, wantRows)
	}

	if got := rowCalls(rec, "inserted"); len(got) != 1 || got[0].delta != 1 {
		t.Fatalf("inserted metric calls = %+v", got)
	}
	if got := batchCalls(rec); len(got) != 1 {
		t.Fatalf("batch metric calls = %+v", got)
	}
}

func TestCSVLoadUpsertFlow(t *testing.T) {
	path := writeTempCSV(t, "id,amt\n1,99\n2,20\n")

	src := &fakeRepo{}
	dwh := &fakeRepo{mergeRes: storage.MergeResult{Inserted: 1, Updated: 1}}
	rt := newRuntime(t, src, dwh)

	built, err := job.New(rt, "csv_load", config.Options{
		"path":         path,
		"target_alias": "dwh",
		"target_table": "orders",
		"mode":         "upsert",
		"on_condition": "target.id = source.id",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jc := job.Context{ID: "run-csv-upsert", Name: "orders_load"}
	if err := job.Run(context.Background(), jc, built); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(dwh.upserts) != 1 {
		t.Fatalf("target upserted into %d times, want 1", len(dwh.upserts))
	}
	up := dwh.upserts[0]
	if up.cond != "target.id = source.id" {
		t.Fatalf("merge condition = %q", up.cond)
	}
	wantRows := [][]any{{"1", "99"}, {"2", "20"}}
	if !reflect.DeepEqual(up.b.Rows, wantRows) {
		t.Fatalf("merged rows = %v, want %v", up.b.Rows, wantRows)
	}
}

func TestCSVLoadMissingFileFailsExtract(t *testing.T) {
	src := &fakeRepo{}
	dwh := &fakeRepo{}
	rt := newRuntime(t, src, dwh)

	built, err := job.New(rt, "csv_load", config.Options{
		"path":         filepath.Join(t.TempDir(), "absent.csv"),
		"target_alias": "dwh",
		"target_table": "orders",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jc := job.Context{ID: "run-csv-missing", Name: "orders_load"}
	err = job.Run(context.Background(), jc, built)
	if err == nil {
		t.Fatal("expected the run to fail on a missing file")
	}
	if !strings.Contains(err.Error(), "extract:") {
		t.Fatalf("error = %q, want the extract wrap", err)
	}
	if len(dwh.inserts) != 0 {
		t.Fatalf("target written despite failed extract: %d inserts", len(dwh.inserts))
	}
}

func TestCSVExportFlow(t *testing.T) {
	src := &fakeRepo{readResult: mustBatch(t, []string{"id", "note"},
		[]any{int64(1), "hello"},
		[]any{int64(2), nil},
	)}
	dwh := &fakeRepo{}
	rt := newRuntime(t, src, dwh)
	rec := captureMetrics(t)

	path := filepath.Join(t.TempDir(), "out.csv")
	built, err := job.New(rt, "csv_export", config.Options{
		"source_alias":  "src",
		"source_schema": "sales",
		"source_table":  "orders",
		"path":          path,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jc := job.Context{ID: "run-csv-export", Name: "orders_export"}
	if err := job.Run(context.Background(), jc, built); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "id,note\n1,hello\n2,\n"
	if string(got) != want {
		t.Fatalf("exported file = %q, want %q", got, want)
	}

	if got := rowCalls(rec, "exported"); len(got) != 1 || got[0].delta != 2 {
		t.Fatalf("exported metric calls = %+v", got)
	}
	if got := batchCalls(rec); len(got) != 1 {
		t.Fatalf("batch metric calls = %+v", got)
	}
}

func TestCSVExportEmptySourceWritesHeaderOnly(t *testing.T) {
	src := &fakeRepo{readResult: mustBatch(t, []string{"id", "note"})}
	dwh := &fakeRepo{}
	rt := newRuntime(t, src, dwh)
	rec := captureMetrics(t)

	path := filepath.Join(t.TempDir(), "empty.csv")
	built, err := job.New(rt, "csv_export", config.Options{
		"source_alias": "src",
		"source_table": "orders",
		"path":         path,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jc := job.Context{ID: "run-csv-empty", Name: "orders_export"}
	if err := job.Run(context.Background(), jc, built); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "id,note\n" {
		t.Fatalf("exported file = %q, want header only", got)
	}
	if got := batchCalls(rec); len(got) != 0 {
		t.Fatalf("empty export recorded batches: %+v", got)
	}
}
