package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// CSVOptions controls ReadCSV behavior.
type CSVOptions struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// HeaderMap maps original header text to a canonical column name and is
	// applied before normalization.
	HeaderMap map[string]string
	// NormalizeHeaders lowercases headers and strips accents/punctuation so
	// they are usable as SQL column names.
	NormalizeHeaders bool
}

// ReadCSV decodes CSV into a Batch of string cells. The reader is tolerant:
// lazy quotes, trimmed leading space, variable field counts (short rows are
// padded with nil, long rows truncated to the header width). Typing is the
// caller's concern.
func ReadCSV(r io.Reader, opt CSVOptions) (*Batch, error) {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("batch: csv input has no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("batch: read csv header: %w", err)
	}

	cols := make([]string, len(header))
	for i, h := range header {
		c := strings.TrimSpace(h)
		if i == 0 {
			c = strings.TrimPrefix(c, utf8BOM)
		}
		if opt.HeaderMap != nil {
			if m, ok := opt.HeaderMap[c]; ok && m != "" {
				c = m
			}
		}
		if opt.NormalizeHeaders {
			c = NormalizeColumn(c)
		}
		cols[i] = c
	}

	b := New(cols...)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("batch: read csv row %d: %w", b.Len()+2, err)
		}
		row := make([]any, len(cols))
		for i := range cols {
			if i < len(rec) {
				row[i] = rec[i]
			}
		}
		b.Rows = append(b.Rows, row)
	}
	return b, nil
}

// WriteCSV encodes the batch as CSV with a header row. Nil cells become
// empty fields; everything else is rendered with fmt.
func WriteCSV(w io.Writer, b *Batch) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(b.Columns); err != nil {
		return fmt.Errorf("batch: write csv header: %w", err)
	}
	rec := make([]string, len(b.Columns))
	for i, row := range b.Rows {
		for j := range rec {
			rec[j] = ""
			if j < len(row) && row[j] != nil {
				rec[j] = fmt.Sprint(row[j])
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("batch: write csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("batch: flush csv: %w", err)
	}
	return nil
}
