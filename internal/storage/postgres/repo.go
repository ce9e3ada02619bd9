// Package postgres implements a Postgres-backed storage.Repository using pgx
// v5. Bulk writes go through the COPY protocol; upserts COPY into a temporary
// table and run a single MERGE with RETURNING merge_action() to split the
// result into inserted and updated counts, which needs PostgreSQL 17+.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"etlkit/internal/batch"
	"etlkit/internal/storage"
)

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("postgres: DSN must not be empty")
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}

	closeFn := func() { pool.Close() }
	return &Repository{pool: pool}, closeFn, nil
}

// Read executes q and returns the result set as a batch. An empty result is
// an empty batch, not an error.
func (r *Repository) Read(ctx context.Context, q storage.Query) (*batch.Batch, error) {
	stmt := strings.TrimSpace(q.SQL)
	if stmt == "" {
		stmt = buildSelect(q)
	}
	rows, err := r.pool.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// scanRows converts a pgx result set into a batch.
func scanRows(rows pgx.Rows) (*batch.Batch, error) {
	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}
	b := batch.New(cols...)
	for rows.Next() {
		// Values allocates a fresh slice per row, so the batch owns its rows.
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: read row: %w", err)
		}
		if err := b.Append(vals...); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return b, nil
}

// Insert appends all rows of b into target via COPY. Returns the number of
// rows written.
func (r *Repository) Insert(ctx context.Context, target storage.Target, b *batch.Batch) (int64, error) {
	if b.IsEmpty() {
		return 0, nil
	}
	if len(b.Columns) == 0 {
		return 0, fmt.Errorf("postgres: insert: batch has no columns")
	}
	n, err := r.pool.CopyFrom(ctx, tableIdent(target), b.Columns, pgx.CopyFromRows(b.Rows))
	if err != nil {
		return 0, copyErr("copy", err)
	}
	return n, nil
}

// Upsert stages b into a temp table via COPY, then merges it into target with
// a single MERGE statement. Matched rows (per onCondition, over the aliases
// "target" and "source") are updated with every batch column; unmatched
// staging rows are inserted. The temp table is dropped at commit.
func (r *Repository) Upsert(ctx context.Context, target storage.Target, b *batch.Batch, onCondition string) (storage.MergeResult, error) {
	var res storage.MergeResult
	if strings.TrimSpace(onCondition) == "" {
		return res, fmt.Errorf("postgres: upsert: merge condition must not be empty")
	}
	if b.IsEmpty() {
		return res, nil
	}
	if len(b.Columns) == 0 {
		return res, fmt.Errorf("postgres: upsert: batch has no columns")
	}

	fqn := pgFQN(target.Schema, target.Table)
	staging := stagingName()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Stage: clone column types from the target, then COPY the batch in.
	if _, err := tx.Exec(ctx, buildCreateStaging(fqn, staging, b.Columns)); err != nil {
		return res, fmt.Errorf("postgres: create staging table: %w", err)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, b.Columns, pgx.CopyFromRows(b.Rows)); err != nil {
		return res, copyErr("copy into staging", err)
	}

	rows, err := tx.Query(ctx, buildMerge(fqn, staging, b.Columns, onCondition))
	if err != nil {
		return res, fmt.Errorf("postgres: merge: %w", err)
	}
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			rows.Close()
			return res, fmt.Errorf("postgres: merge action: %w", err)
		}
		switch action {
		case "INSERT":
			res.Inserted++
		case "UPDATE":
			res.Updated++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storage.MergeResult{}, fmt.Errorf("postgres: merge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.MergeResult{}, fmt.Errorf("postgres: commit: %w", err)
	}
	return res, nil
}

// Exec implements storage.Repository.Exec for Postgres.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("postgres: exec: %w", err)
	}
	return nil
}

// Ping verifies the pool can reach the server.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// buildCreateStaging renders the temp staging DDL. ON COMMIT DROP ties the
// table's lifetime to the surrounding transaction.
func buildCreateStaging(fqn, staging string, cols []string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WHERE false",
		pgIdent(staging), strings.Join(mapIdent(cols), ", "), fqn)
}

// buildMerge renders the MERGE statement for Upsert. The target table is
// aliased "target" and the staging table "source" so onCondition can
// reference both sides.
func buildMerge(fqn, staging string, cols []string, onCondition string) string {
	setParts := make([]string, len(cols))
	srcCols := make([]string, len(cols))
	for i, c := range cols {
		setParts[i] = fmt.Sprintf("%s = source.%s", pgIdent(c), pgIdent(c))
		srcCols[i] = "source." + pgIdent(c)
	}
	return fmt.Sprintf(
		"MERGE INTO %s AS target USING %s AS source ON %s "+
			"WHEN MATCHED THEN UPDATE SET %s "+
			"WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s) "+
			"RETURNING merge_action()",
		fqn, pgIdent(staging), onCondition,
		strings.Join(setParts, ", "),
		strings.Join(mapIdent(cols), ", "), strings.Join(srcCols, ", "))
}

// buildSelect renders SELECT <cols|*> FROM <fqn> [WHERE ...] for Read.
func buildSelect(q storage.Query) string {
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(mapIdent(q.Columns), ", ")
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", cols, pgFQN(q.Schema, q.Table))
	if strings.TrimSpace(q.Where) != "" {
		stmt += " WHERE " + q.Where
	}
	return stmt
}

// copyErr surfaces pgconn.PgError details, which carry the offending row for
// COPY failures.
func copyErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("postgres: %s: %s (%s)", op, pgErr.Detail, pgErr.SQLState())
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// stagingName returns a unique temp-table name for one upsert call.
func stagingName() string {
	return "stg_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
}

// tableIdent converts a Target into a pgx.Identifier for CopyFrom.
func tableIdent(t storage.Target) pgx.Identifier {
	if t.Schema == "" {
		return pgx.Identifier{t.Table}
	}
	return pgx.Identifier{t.Schema, t.Table}
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN renders an optionally schema-qualified table name with quoting.
func pgFQN(schema, table string) string {
	if schema == "" {
		return pgIdent(table)
	}
	return pgIdent(schema) + "." + pgIdent(table)
}

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
