package tablesync

import (
	"fmt"
	"reflect"
	"time"

	"github.com/zeebo/xxh3"

	"etlkit/internal/batch"
)

// changedRows returns the rows of b that are new or changed relative to the
// existing snapshot. Rows are matched on joinColumns; a matched row survives
// only if some changeColumns value differs on any matching side. Existing
// rows are bucketed by join-key hash for O(rows) lookup, and exact key
// equality is verified before a bucket entry counts as a match, so hash
// collisions cannot drop rows.
//
// The result carries b's column set and preserves b's row order. Row slices
// are shared with b, not copied.
func changedRows(b, existing *batch.Batch, joinColumns, changeColumns []string) *batch.Batch {
	bJoin := columnIndexes(b, joinColumns)
	bChange := columnIndexes(b, changeColumns)
	eJoin := columnIndexes(existing, joinColumns)
	eChange := columnIndexes(existing, changeColumns)

	index := make(map[uint64][]int, existing.Len())
	for i, row := range existing.Rows {
		h := hashKey(row, eJoin)
		index[h] = append(index[h], i)
	}

	out := batch.New(b.Columns...)
	for _, row := range b.Rows {
		matched := false
		differs := false
		for _, ei := range index[hashKey(row, bJoin)] {
			erow := existing.Rows[ei]
			if !tupleEqual(row, bJoin, erow, eJoin) {
				continue // hash collision, not a real match
			}
			matched = true
			if !tupleEqual(row, bChange, erow, eChange) {
				differs = true
				break
			}
		}
		if !matched || differs {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// columnIndexes maps column names to their positions in b. Callers validate
// presence beforehand.
func columnIndexes(b *batch.Batch, cols []string) []int {
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = b.ColumnIndex(c)
	}
	return idx
}

// hashKey buckets a join-key tuple. The encoding does not need to be
// injective; changedRows confirms every bucket hit with tupleEqual.
func hashKey(row []any, idx []int) uint64 {
	h := xxh3.New()
	for _, i := range idx {
		v := canon(row[i])
		fmt.Fprintf(h, "%T=%v\x1f", v, v)
	}
	return h.Sum64()
}

// tupleEqual compares the idx-selected values of two rows pairwise.
func tupleEqual(a []any, ai []int, b []any, bi []int) bool {
	for k := range ai {
		if !valueEqual(a[ai[k]], b[bi[k]]) {
			return false
		}
	}
	return true
}

// valueEqual reports exact equality after folding driver representation
// differences with canon. nil equals only nil; time values compare by
// instant so location and monotonic-clock noise do not register as change.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ca, cb := canon(a), canon(b)
	if ta, ok := ca.(time.Time); ok {
		tb, ok := cb.(time.Time)
		return ok && ta.Equal(tb)
	}
	ta, tb := reflect.TypeOf(ca), reflect.TypeOf(cb)
	if ta != tb {
		return false
	}
	if !ta.Comparable() {
		return reflect.DeepEqual(ca, cb)
	}
	return ca == cb
}

// canon folds the value representations drivers disagree on: byte slices
// become strings, signed integer widths widen to int64, unsigned widths to
// uint64, float32 to float64. Cross-kind pairs (int vs float, string vs
// number) stay unequal; callers normalize those upstream.
func canon(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return uint64(t)
	case uint8:
		return uint64(t)
	case uint16:
		return uint64(t)
	case uint32:
		return uint64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
