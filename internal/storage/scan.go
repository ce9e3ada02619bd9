package storage

import (
	"database/sql"
	"fmt"

	"etlkit/internal/batch"
)

// ScanRows drains a database/sql result set into a Batch, taking the column
// order from the driver. Used by every database/sql backed backend; pgx has
// its own row type and scans separately.
func ScanRows(rows *sql.Rows) (*batch.Batch, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	b := batch.New(cols...)
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", b.Len()+1, err)
		}
		row := make([]any, len(cols))
		copy(row, vals)
		b.Rows = append(b.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return b, nil
}
