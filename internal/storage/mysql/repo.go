// Package mysql implements a MySQL-backed storage.Repository using
// go-sql-driver/mysql. Bulk writes run as prepared INSERTs inside a
// transaction; upserts stage into a session-scoped TEMPORARY table and merge
// with a multi-table UPDATE plus INSERT ... WHERE NOT EXISTS.
//
// The Updated count reflects rows MySQL reports as changed. A matched row
// whose values are already identical counts as zero; add clientFoundRows=true
// to the DSN to count all matched rows instead.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"etlkit/internal/batch"
	"etlkit/internal/storage"
)

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql: open: %w", err)
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
		return nil, nil, fmt.Errorf("mysql: ping: %w", err)
	}

	closeFn := func() { _ = db.Close() }
	return &Repository{db: db}, closeFn, nil
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
		return nil, fmt.Errorf("mysql: query: %w", err)
	}
	defer rows.Close()
	b, err := storage.ScanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
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
		return 0, fmt.Errorf("mysql: insert: batch has no columns")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mysql: begin tx: %w", err)
	}
	inserted, err := insertRows(ctx, tx, myFQN(target.Schema, target.Table), b)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mysql: commit: %w", err)
	}
	return inserted, nil
}

// Upsert stages b into a per-call TEMPORARY table and merges it into target
// on one pinned connection. Matched rows (per onCondition, over the aliases
// "target" and "source") are updated with every batch column; unmatched
// staging rows are inserted.
func (r *Repository) Upsert(ctx context.Context, target storage.Target, b *batch.Batch, onCondition string) (storage.MergeResult, error) {
	var res storage.MergeResult
	if strings.TrimSpace(onCondition) == "" {
		return res, fmt.Errorf("mysql: upsert: merge condition must not be empty")
	}
	if b.IsEmpty() {
		return res, nil
	}
	if len(b.Columns) == 0 {
		return res, fmt.Errorf("mysql: upsert: batch has no columns")
	}

	fqn := myFQN(target.Schema, target.Table)
	staging := stagingName()
	colList := strings.Join(mapIdent(b.Columns), ", ")

	// TEMPORARY tables are session-scoped; pin one connection for the whole
	// staging + merge sequence and the final drop.
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return res, fmt.Errorf("mysql: acquire conn: %w", err)
	}
	defer conn.Close()

	// Temp-table DDL is not transactional in MySQL; create it outside the
	// transaction and drop it explicitly on the same session.
	createStmt := fmt.Sprintf("CREATE TEMPORARY TABLE %s AS SELECT %s FROM %s WHERE 0",
		myIdent(staging), colList, fqn)
	if _, err := conn.ExecContext(ctx, createStmt); err != nil {
		return res, fmt.Errorf("mysql: create staging table: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "DROP TEMPORARY TABLE IF EXISTS "+myIdent(staging))
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("mysql: begin tx: %w", err)
	}

	if _, err := insertRows(ctx, tx, myIdent(staging), b); err != nil {
		_ = tx.Rollback()
		return res, err
	}

	// Merge step 1: update matched target rows from staging. Both tables are
	// in scope, so the SET targets must be alias-qualified.
	setParts := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		setParts[i] = fmt.Sprintf("target.%s = source.%s", myIdent(c), myIdent(c))
	}
	updateStmt := fmt.Sprintf("UPDATE %s AS target JOIN %s AS source ON %s SET %s",
		fqn, myIdent(staging), onCondition, strings.Join(setParts, ", "))
	ur, err := tx.ExecContext(ctx, updateStmt)
	if err != nil {
		_ = tx.Rollback()
		return res, fmt.Errorf("mysql: merge update: %w", err)
	}
	res.Updated, _ = ur.RowsAffected()

	// Merge step 2: insert staging rows with no match in the target.
	srcCols := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		srcCols[i] = "source." + myIdent(c)
	}
	insertStmt := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s AS source WHERE NOT EXISTS (SELECT 1 FROM %s AS target WHERE %s)",
		fqn, colList, strings.Join(srcCols, ", "), myIdent(staging), fqn, onCondition)
	ir, err := tx.ExecContext(ctx, insertStmt)
	if err != nil {
		_ = tx.Rollback()
		return res, fmt.Errorf("mysql: merge insert: %w", err)
	}
	res.Inserted, _ = ir.RowsAffected()

	if err := tx.Commit(); err != nil {
		return storage.MergeResult{}, fmt.Errorf("mysql: commit: %w", err)
	}
	return res, nil
}

// Exec executes an arbitrary SQL statement (typically DDL) against the pool.
func (r *Repository) Exec(ctx context.Context, sqlStmt string) error {
	if strings.TrimSpace(sqlStmt) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sqlStmt); err != nil {
		return fmt.Errorf("mysql: exec: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql: ping: %w", err)
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
		return 0, fmt.Errorf("mysql: prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range b.Rows {
		if len(row) != len(b.Columns) {
			return inserted, fmt.Errorf("mysql: insert: row length %d != columns length %d", len(row), len(b.Columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return inserted, fmt.Errorf("mysql: insert: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

// stagingName returns a unique temp-table name for one upsert call.
func stagingName() string {
	return "stg_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
}

// myIdent quotes a single identifier with backticks, escaping embedded ones.
func myIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

// myFQN renders an optionally schema-qualified table name with quoting.
func myFQN(schema, table string) string {
	if schema == "" {
		return myIdent(table)
	}
	return myIdent(schema) + "." + myIdent(table)
}

// mapIdent applies myIdent to each column, preserving order.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = myIdent(c)
	}
	return out
}

// buildSelect renders SELECT <cols|*> FROM <fqn> [WHERE ...] for Read.
func buildSelect(q storage.Query) string {
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(mapIdent(q.Columns), ", ")
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", cols, myFQN(q.Schema, q.Table))
	if strings.TrimSpace(q.Where) != "" {
		stmt += " WHERE " + q.Where
	}
	return stmt
}
