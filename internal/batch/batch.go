// Package batch defines the in-memory tabular structure passed between jobs,
// the change-detection filter and the storage backends: ordered columns over
// row-major values. A Batch is cheap to hand around and is treated as
// immutable by everything downstream of the code that built it.
package batch

import "fmt"

// Batch is rows over named, ordered columns. Values are driver-level Go
// values (string, int64, float64, bool, time.Time, []byte, nil).
type Batch struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty Batch with the given column order.
func New(columns ...string) *Batch {
	return &Batch{Columns: columns}
}

// Append adds one row. The row length must match the column count.
func (b *Batch) Append(row ...any) error {
	if len(row) != len(b.Columns) {
		return fmt.Errorf("batch: row length %d != columns length %d", len(row), len(b.Columns))
	}
	b.Rows = append(b.Rows, row)
	return nil
}

// Len reports the number of rows. Safe on a nil Batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// IsEmpty reports whether the batch holds no rows. Safe on a nil Batch.
func (b *Batch) IsEmpty() bool { return b.Len() == 0 }

// ColumnIndex returns the position of name in Columns, or -1 if absent.
func (b *Batch) ColumnIndex(name string) int {
	if b == nil {
		return -1
	}
	for i, c := range b.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Project returns a new Batch restricted to columns, in the given order.
// Row slices are rebuilt; the source batch is left untouched. An empty
// columns slice returns the batch as-is.
func (b *Batch) Project(columns []string) (*Batch, error) {
	if len(columns) == 0 {
		return b, nil
	}
	idx := make([]int, len(columns))
	for i, c := range columns {
		j := b.ColumnIndex(c)
		if j < 0 {
			return nil, fmt.Errorf("batch: unknown column %q", c)
		}
		idx[i] = j
	}
	out := &Batch{Columns: append([]string(nil), columns...), Rows: make([][]any, 0, b.Len())}
	for _, row := range b.Rows {
		pr := make([]any, len(idx))
		for i, j := range idx {
			pr[i] = row[j]
		}
		out.Rows = append(out.Rows, pr)
	}
	return out, nil
}

// Value returns the cell at (row, column name). The second result is false
// when the column does not exist or the row index is out of range.
func (b *Batch) Value(row int, column string) (any, bool) {
	j := b.ColumnIndex(column)
	if j < 0 || row < 0 || row >= b.Len() {
		return nil, false
	}
	return b.Rows[row][j], true
}
