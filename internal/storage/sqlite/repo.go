// Package sqlite implements a SQLite-backed storage.Repository using
// database/sql. Bulk writes run as prepared INSERTs inside a transaction;
// SQLite has no dedicated bulk-load API like Postgres COPY, but transactions
// keep performance acceptable for moderate volumes. Upserts are emulated with
// a per-call temp staging table plus UPDATE ... FROM and INSERT ... WHERE NOT
// EXISTS, which needs SQLite 3.33+ (the bundled modernc build is far newer).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	// pure-Go SQLite driver, registers as "sqlite"
	_ "modernc.org/sqlite"

	"etlkit/internal/batch"
	"etlkit/internal/storage"
)

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository opens a SQLite connection using the provided DSN and returns
// a Repository plus a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}

	if isMemoryDSN(cfg.DSN) {
		// One private database per connection; expiring or adding
		// connections would silently lose or fork the data.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		if cfg.MaxOpen > 0 {
			db.SetMaxOpenConns(cfg.MaxOpen)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
		if cfg.MaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.MaxLifetime)
		}
	}

	// Apply a basic ping with context to fail fast on invalid DSNs.
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	// Enable foreign keys by default; ignore error if driver doesn't support it.
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")

	closeFn := func() { db.Close() }
	return &Repository{db: db}, closeFn, nil
}

// isMemoryDSN reports whether the DSN names an in-memory database.
func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
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
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()
	b, err := storage.ScanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return b, nil
}

// Insert appends all rows of b into target using a single transaction and a
// prepared INSERT statement. Returns the number of rows inserted.
func (r *Repository) Insert(ctx context.Context, target storage.Target, b *batch.Batch) (int64, error) {
	if b.IsEmpty() {
		return 0, nil
	}
	if len(b.Columns) == 0 {
		return 0, fmt.Errorf("sqlite: insert: batch has no columns")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	inserted, err := insertRows(ctx, tx, sqlFQN(target.Schema, target.Table), b)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return inserted, nil
}

// Upsert stages b into a per-call temp table and merges it into target on one
// pinned connection inside one transaction. Matched rows (per onCondition,
// over the aliases "target" and "source") are updated with every batch
// column; unmatched staging rows are inserted.
func (r *Repository) Upsert(ctx context.Context, target storage.Target, b *batch.Batch, onCondition string) (storage.MergeResult, error) {
	var res storage.MergeResult
	if strings.TrimSpace(onCondition) == "" {
		return res, fmt.Errorf("sqlite: upsert: merge condition must not be empty")
	}
	if b.IsEmpty() {
		return res, nil
	}
	if len(b.Columns) == 0 {
		return res, fmt.Errorf("sqlite: upsert: batch has no columns")
	}

	fqn := sqlFQN(target.Schema, target.Table)
	staging := stagingName()
	colList := strings.Join(mapIdent(b.Columns), ", ")

	// Temp tables are connection-scoped; pin one connection for the whole
	// staging + merge sequence and the final drop.
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return res, fmt.Errorf("sqlite: acquire conn: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("sqlite: begin tx: %w", err)
	}

	// Stage: clone column affinities from the target, then bulk-insert.
	createStmt := fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT %s FROM %s WHERE 0",
		sqlIdent(staging), colList, fqn)
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		_ = tx.Rollback()
		return res, fmt.Errorf("sqlite: create staging table: %w", err)
	}
	if _, err := insertRows(ctx, tx, sqlIdent(staging), b); err != nil {
		_ = tx.Rollback()
		return res, err
	}

	// Merge step 1: update matched target rows from staging.
	setParts := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		setParts[i] = fmt.Sprintf("%s = source.%s", sqlIdent(c), sqlIdent(c))
	}
	updateStmt := fmt.Sprintf("UPDATE %s AS target SET %s FROM %s AS source WHERE %s",
		fqn, strings.Join(setParts, ", "), sqlIdent(staging), onCondition)
	ur, err := tx.ExecContext(ctx, updateStmt)
	if err != nil {
		_ = tx.Rollback()
		return res, fmt.Errorf("sqlite: merge update: %w", err)
	}
	res.Updated, _ = ur.RowsAffected()

	// Merge step 2: insert staging rows with no match in the target.
	srcCols := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		srcCols[i] = "source." + sqlIdent(c)
	}
	insertStmt := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s AS source WHERE NOT EXISTS (SELECT 1 FROM %s AS target WHERE %s)",
		fqn, colList, strings.Join(srcCols, ", "), sqlIdent(staging), fqn, onCondition)
	ir, err := tx.ExecContext(ctx, insertStmt)
	if err != nil {
		_ = tx.Rollback()
		return res, fmt.Errorf("sqlite: merge insert: %w", err)
	}
	res.Inserted, _ = ir.RowsAffected()

	if err := tx.Commit(); err != nil {
		return storage.MergeResult{}, fmt.Errorf("sqlite: commit: %w", err)
	}

	// The temp table would otherwise linger for the lifetime of this pooled
	// connection.
	_, _ = conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(staging))

	return res, nil
}

// Exec executes an arbitrary SQL statement (typically DDL) using the
// underlying database/sql connection.
func (r *Repository) Exec(ctx context.Context, sqlStmt string) error {
	if strings.TrimSpace(sqlStmt) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sqlStmt); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// insertRows bulk-inserts b into table (already quoted) within tx using a
// prepared statement. Shared by Insert and the staging write in Upsert.
func insertRows(ctx context.Context, tx *sql.Tx, table string, b *batch.Batch) (int64, error) {
	placeholders := make([]string, len(b.Columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(mapIdent(b.Columns), ", "), strings.Join(placeholders, ", "))

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range b.Rows {
		if len(row) != len(b.Columns) {
			return inserted, fmt.Errorf("sqlite: insert: row length %d != columns length %d", len(row), len(b.Columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return inserted, fmt.Errorf("sqlite: insert: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

// stagingName returns a unique temp-table name for one upsert call.
func stagingName() string {
	return "stg_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
}

// sqlIdent quotes a single identifier, escaping embedded double quotes.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// sqlFQN renders an optionally schema-qualified table name with quoting.
func sqlFQN(schema, table string) string {
	if schema == "" {
		return sqlIdent(table)
	}
	return sqlIdent(schema) + "." + sqlIdent(table)
}

// mapIdent applies sqlIdent to each column, preserving order.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = sqlIdent(c)
	}
	return out
}

// buildSelect renders SELECT <cols|*> FROM <fqn> [WHERE ...] for Read.
func buildSelect(q storage.Query) string {
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(mapIdent(q.Columns), ", ")
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", cols, sqlFQN(q.Schema, q.Table))
	if strings.TrimSpace(q.Where) != "" {
		stmt += " WHERE " + q.Where
	}
	return stmt
}
