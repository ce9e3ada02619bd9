// Package mssql implements a Microsoft SQL Server storage.Repository using
// the go-mssqldb bulk copy API. Bulk writes stream through mssql.CopyIn;
// upserts bulk-copy into a session-scoped #temp table and run a single MERGE
// with OUTPUT $action to split the result into inserted and updated counts.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"etlkit/internal/batch"
	"etlkit/internal/storage"
)

// Repository is an MSSQL-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if cfg.MaxOpen > 0 {
		db.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	close := func() { _ = db.Close() }
	return &Repository{db: db}, close, nil
}

// Read executes q and returns the result set as a batch. An empty result is
// an empty batch, not an error.
func (r *Repository) Read(ctx context.Context, q storage.Query) (*batch.Batch, error) {
	stmt := strings.TrimSpace(q.SQL)
	if stmt == "" {
		stmt = buildSelect(q)
	}
	rows, err := r.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return storage.ScanRows(rows)
}

// Insert appends all rows of b into target via the bulk copy protocol inside
// one transaction. Returns the number of rows written.
func (r *Repository) Insert(ctx context.Context, target storage.Target, b *batch.Batch) (int64, error) {
	if b.IsEmpty() {
		return 0, nil
	}
	if len(b.Columns) == 0 {
		return 0, fmt.Errorf("insert: batch has no columns")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	n, err := bulkCopy(ctx, tx, copyTarget(target), b)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Upsert bulk-copies b into a per-call #temp table and merges it into target
// on one pinned connection inside one transaction. Matched rows (per
// onCondition, over the aliases "target" and "source") are updated with every
// batch column; unmatched staging rows are inserted.
func (r *Repository) Upsert(ctx context.Context, target storage.Target, b *batch.Batch, onCondition string) (storage.MergeResult, error) {
	var res storage.MergeResult
	if strings.TrimSpace(onCondition) == "" {
		return res, fmt.Errorf("upsert: merge condition must not be empty")
	}
	if b.IsEmpty() {
		return res, nil
	}
	if len(b.Columns) == 0 {
		return res, fmt.Errorf("upsert: batch has no columns")
	}

	fqn := msFQN(target.Schema, target.Table)
	staging := stagingName()

	// #temp tables are session-scoped; pin one connection for the whole
	// staging + merge sequence and the final drop.
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return res, fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	// Stage: clone the column shape from the target, then bulk-copy into it.
	create := fmt.Sprintf("SELECT TOP 0 %s INTO %s FROM %s",
		strings.Join(mapIdent(b.Columns), ", "), msIdent(staging), fqn)
	if _, err := tx.ExecContext(ctx, create); err != nil {
		rollback()
		return res, fmt.Errorf("create staging table: %w", err)
	}
	if _, err := bulkCopy(ctx, tx, staging, b); err != nil {
		rollback()
		return res, err
	}

	rows, err := tx.QueryContext(ctx, buildMerge(fqn, staging, b.Columns, onCondition))
	if err != nil {
		rollback()
		return res, fmt.Errorf("merge: %w", err)
	}
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			rows.Close()
			rollback()
			return res, fmt.Errorf("merge action: %w", err)
		}
		switch action {
		case "INSERT":
			res.Inserted++
		case "UPDATE":
			res.Updated++
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		rollback()
		return storage.MergeResult{}, fmt.Errorf("merge: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return storage.MergeResult{}, fmt.Errorf("commit: %w", err)
	}

	// #temp tables outlive the transaction and would linger for the lifetime
	// of this pooled session.
	_, _ = conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+msIdent(staging))

	return res, nil
}

// Exec executes a SQL statement against the pool.
func (r *Repository) Exec(ctx context.Context, sqlText string) error {
	_, err := r.db.ExecContext(ctx, sqlText)
	return err
}

// Ping verifies the connection is alive.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// bulkCopy streams b into table (raw name, bracket-free) within tx using the
// go-mssqldb CopyIn protocol. Shared by Insert and the staging write in
// Upsert.
func bulkCopy(ctx context.Context, tx *sql.Tx, table string, b *batch.Batch) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, b.Columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i, row := range b.Rows {
		if len(row) != len(b.Columns) {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: length %d != columns length %d", i, len(row), len(b.Columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx) // flush
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// buildMerge renders the MERGE statement for Upsert. The target table is
// aliased "target" and the staging table "source" so onCondition can
// reference both sides. HOLDLOCK serializes concurrent merges on the matched
// key range, closing the classic MERGE upsert race.
func buildMerge(fqn, staging string, cols []string, onCondition string) string {
	setParts := make([]string, len(cols))
	srcCols := make([]string, len(cols))
	for i, c := range cols {
		setParts[i] = fmt.Sprintf("%s = source.%s", msIdent(c), msIdent(c))
		srcCols[i] = "source." + msIdent(c)
	}
	return fmt.Sprintf(
		"MERGE %s WITH (HOLDLOCK) AS target USING %s AS source ON %s "+
			"WHEN MATCHED THEN UPDATE SET %s "+
			"WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s) "+
			"OUTPUT $action;",
		fqn, msIdent(staging), onCondition,
		strings.Join(setParts, ", "),
		strings.Join(mapIdent(cols), ", "), strings.Join(srcCols, ", "))
}

// buildSelect renders SELECT <cols|*> FROM <fqn> [WHERE ...] for Read.
func buildSelect(q storage.Query) string {
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(mapIdent(q.Columns), ", ")
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", cols, msFQN(q.Schema, q.Table))
	if strings.TrimSpace(q.Where) != "" {
		stmt += " WHERE " + q.Where
	}
	return stmt
}

// stagingName returns a unique session-scoped temp-table name for one upsert
// call.
func stagingName() string {
	return "#stg_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
}

// copyTarget renders the raw (bracket-free) table name CopyIn expects.
func copyTarget(t storage.Target) string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN renders an optionally schema-qualified table name with quoting.
func msFQN(schema, table string) string {
	if schema == "" {
		return msIdent(table)
	}
	return msIdent(schema) + "." + msIdent(table)
}

// mapIdent maps a list of column names to their bracket-quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = msIdent(c)
	}
	return out
}
