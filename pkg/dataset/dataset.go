// Package dataset provides the tabular representation the convergence
// engine compares. Candidate datasets are materialized by external
// executors as parquet (primary) or csv files; both load into the same
// string-valued table so comparison is exact-match by definition.
package dataset

import (
	"sort"
	"strings"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

// Dataset is an in-memory table. All values are strings; nulls load as "".
type Dataset struct {
	Columns []string
	Rows    [][]string

	colIndex map[string]int
}

// New builds a dataset from a header and rows. Every row must have exactly
// one value per column.
func New(columns []string, rows [][]string) (*Dataset, error) {
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, errors.WithFields(
				errors.New(errors.InvalidInput, "row width does not match header"),
				errors.Fields{"row": i, "want": len(columns), "got": len(row)},
			)
		}
	}
	return &Dataset{Columns: columns, Rows: rows, colIndex: buildIndex(columns)}, nil
}

func buildIndex(columns []string) map[string]int {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return idx
}

// ColumnIndex returns the position of a named column, or -1 if absent.
func (d *Dataset) ColumnIndex(name string) int {
	if d.colIndex == nil {
		d.colIndex = buildIndex(d.Columns)
	}
	if i, ok := d.colIndex[name]; ok {
		return i
	}
	return -1
}

// HasColumn reports whether the dataset contains the named column.
func (d *Dataset) HasColumn(name string) bool {
	return d.ColumnIndex(name) >= 0
}

// NumRows returns the row count.
func (d *Dataset) NumRows() int {
	return len(d.Rows)
}

// Key builds the row identifier from the values of the id columns, joined
// with a separator that cannot occur in clinical identifiers.
func (d *Dataset) Key(row int, idCols []string) string {
	parts := make([]string, 0, len(idCols))
	for _, c := range idCols {
		i := d.ColumnIndex(c)
		if i < 0 {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, d.Rows[row][i])
	}
	return strings.Join(parts, "\x1f")
}

// Index maps every row identifier to its row number. Duplicate identifiers
// are an input error: row alignment is by identifier equality and an
// ambiguous key would make the diff nondeterministic.
func (d *Dataset) Index(idCols []string) (map[string]int, error) {
	for _, c := range idCols {
		if !d.HasColumn(c) {
			return nil, errors.WithFields(
				errors.New(errors.InvalidInput, "identifier column missing from dataset"),
				errors.Fields{"column": c},
			)
		}
	}

	idx := make(map[string]int, len(d.Rows))
	for i := range d.Rows {
		key := d.Key(i, idCols)
		if _, dup := idx[key]; dup {
			return nil, errors.WithFields(
				errors.New(errors.InvalidInput, "duplicate row identifier"),
				errors.Fields{"key": key},
			)
		}
		idx[key] = i
	}
	return idx, nil
}

// SortedKeys returns the row identifiers in lexical order, giving diff
// reports a deterministic ordering independent of file row order.
func SortedKeys(index map[string]int) []string {
	keys := make([]string, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SharedColumns returns the columns present in both datasets, in the
// left dataset's declaration order.
func SharedColumns(left, right *Dataset) []string {
	var shared []string
	for _, c := range left.Columns {
		if right.HasColumn(c) {
			shared = append(shared, c)
		}
	}
	return shared
}
