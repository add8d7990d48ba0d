// Package batch assembles normalized rows into a columnar batch and applies the
// schema translation steps that run before persistence.
package batch

import (
	"fmt"
	"time"

	"github.com/araddon/dateparse"
)

// Field is a single named cell of a normalized row.
type Field struct {
	Name  string
	Value any
}

// Row is an ordered list of fields. Field order determines column order in
// the materialized batch.
type Row []Field

// Batch is an in-memory table: ordered columns and ordered rows. A nil cell
// means null.
type Batch struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// Materialize builds a batch from rows. Columns appear in order of first
// appearance across all rows; a row missing a column gets a nil cell.
func Materialize(rows []Row) *Batch {
	b := &Batch{index: make(map[string]int)}

	for _, r := range rows {
		for _, f := range r {
			if _, ok := b.index[f.Name]; !ok {
				b.index[f.Name] = len(b.columns)
				b.columns = append(b.columns, f.Name)
			}
		}
	}

	b.rows = make([][]any, 0, len(rows))
	for _, r := range rows {
		cells := make([]any, len(b.columns))
		for _, f := range r {
			cells[b.index[f.Name]] = normalizeValue(f.Value)
		}
		b.rows = append(b.rows, cells)
	}
	return b
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	return len(b.rows)
}

// Columns returns a copy of the column names in order.
func (b *Batch) Columns() []string {
	return append([]string(nil), b.columns...)
}

// Values returns a copy of row i's cells, ordered like Columns.
func (b *Batch) Values(i int) []any {
	return append([]any(nil), b.rows[i]...)
}

// Value returns the cell at row i for the named column.
func (b *Batch) Value(i int, column string) (any, bool) {
	idx, ok := b.index[column]
	if !ok {
		return nil, false
	}
	return b.rows[i][idx], true
}

// RenameColumns maps collection-time column names to storage names. Columns
// absent from mapping keep their name. Two columns ending up with the same
// name is an error and leaves the batch unchanged.
func (b *Batch) RenameColumns(mapping map[string]string) error {
	renamed := make([]string, len(b.columns))
	index := make(map[string]int, len(b.columns))
	for i, col := range b.columns {
		name := col
		if to, ok := mapping[col]; ok && to != "" {
			name = to
		}
		if prev, dup := index[name]; dup {
			return fmt.Errorf("rename columns: %q and %q both map to %q", b.columns[prev], col, name)
		}
		index[name] = i
		renamed[i] = name
	}
	b.columns = renamed
	b.index = index
	return nil
}

// CoerceDates parses every cell of the named columns as a timestamp. Cells
// that cannot be parsed become nil. Unknown columns are ignored.
func (b *Batch) CoerceDates(columns ...string) {
	for _, col := range columns {
		idx, ok := b.index[col]
		if !ok {
			continue
		}
		for _, r := range b.rows {
			r[idx] = coerceTime(r[idx])
		}
	}
}

// NullifyEmptyStrings replaces every empty string cell with nil.
func (b *Batch) NullifyEmptyStrings() {
	for _, r := range b.rows {
		for i, v := range r {
			if s, ok := v.(string); ok && s == "" {
				r[i] = nil
			}
		}
	}
}

func coerceTime(v any) any {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return t.UTC()
	case string:
		if t == "" {
			return nil
		}
		parsed, err := dateparse.ParseIn(t, time.UTC)
		if err != nil {
			return nil
		}
		return parsed.UTC()
	default:
		return nil
	}
}

// normalizeValue flattens optional pointer values so a batch only ever holds
// nil or plain values.
func normalizeValue(v any) any {
	switch p := v.(type) {
	case *bool:
		if p == nil {
			return nil
		}
		return *p
	case *string:
		if p == nil {
			return nil
		}
		return *p
	case *int64:
		if p == nil {
			return nil
		}
		return *p
	case int:
		return int64(p)
	default:
		return v
	}
}
