// Package compare implements the independent-implementation reconciliation:
// an exact, row-aligned diff between two candidate datasets and the bounded
// convergence loop that drives them toward agreement. A MATCH here means the
// two candidates agree, not that either is correct against the
// specification; correctness is the downstream validator's concern.
package compare

import (
	"fmt"
	"strings"

	"github.com/vikasgaddu1/sdtmforge/pkg/dataset"
	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

// Options controls the diff.
type Options struct {
	// IDColumns align rows by identifier equality, not positional order.
	IDColumns []string

	// SampleLimit bounds how many differing values are captured per column.
	SampleLimit int
}

// ValueDiff is one sampled pair of disagreeing values.
type ValueDiff struct {
	RowKey string
	Left   string
	Right  string
}

// ColumnDiff summarizes disagreement within one shared column.
type ColumnDiff struct {
	Column     string
	Mismatches int
	Samples    []ValueDiff
}

// Result is the outcome of comparing two candidates.
type Result struct {
	Match        bool
	RowsCompared int
	ColumnDiffs  []ColumnDiff

	// Row identifiers present on only one side. Either being non-empty
	// makes the pair a MISMATCH regardless of column agreement.
	OnlyInLeft  []string
	OnlyInRight []string
}

// Compare performs a column-by-column, row-aligned diff over the shared
// columns of two datasets. Values compare as exact strings; there is no
// numeric tolerance here. A field declared approximate by the specification
// must be materialized identically by both sides, keeping any tolerance in
// the spec contract rather than in this engine.
func Compare(left, right *dataset.Dataset, opts Options) (*Result, error) {
	if len(opts.IDColumns) == 0 {
		return nil, errors.New(errors.InvalidInput, "at least one identifier column is required")
	}
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = 5
	}

	leftIdx, err := left.Index(opts.IDColumns)
	if err != nil {
		return nil, errors.Wrap(err, errors.ComparisonFailed, "left candidate not alignable")
	}
	rightIdx, err := right.Index(opts.IDColumns)
	if err != nil {
		return nil, errors.Wrap(err, errors.ComparisonFailed, "right candidate not alignable")
	}

	result := &Result{}

	// Keys sorted for deterministic sample ordering.
	leftKeys := dataset.SortedKeys(leftIdx)
	for _, k := range leftKeys {
		if _, ok := rightIdx[k]; !ok {
			result.OnlyInLeft = append(result.OnlyInLeft, k)
		}
	}
	for _, k := range dataset.SortedKeys(rightIdx) {
		if _, ok := leftIdx[k]; !ok {
			result.OnlyInRight = append(result.OnlyInRight, k)
		}
	}

	shared := dataset.SharedColumns(left, right)
	for _, col := range shared {
		li := left.ColumnIndex(col)
		ri := right.ColumnIndex(col)

		diff := ColumnDiff{Column: col}
		for _, key := range leftKeys {
			rrow, ok := rightIdx[key]
			if !ok {
				continue
			}
			lrow := leftIdx[key]

			lv := left.Rows[lrow][li]
			rv := right.Rows[rrow][ri]
			if lv == rv {
				continue
			}
			diff.Mismatches++
			if len(diff.Samples) < opts.SampleLimit {
				diff.Samples = append(diff.Samples, ValueDiff{RowKey: key, Left: lv, Right: rv})
			}
		}
		if diff.Mismatches > 0 {
			result.ColumnDiffs = append(result.ColumnDiffs, diff)
		}
	}

	result.RowsCompared = len(leftKeys) - len(result.OnlyInLeft)
	result.Match = len(result.ColumnDiffs) == 0 &&
		len(result.OnlyInLeft) == 0 &&
		len(result.OnlyInRight) == 0

	return result, nil
}

// displayKey renders a composite row key for humans.
func displayKey(key string) string {
	return strings.ReplaceAll(key, "\x1f", "/")
}

// Report renders the result as the human-readable text fed back to the
// regenerating side and written as a run artifact.
func (r *Result) Report() string {
	var b strings.Builder

	if r.Match {
		fmt.Fprintf(&b, "Comparison: MATCH. %d rows agree on all shared columns.\n", r.RowsCompared)
		return b.String()
	}

	b.WriteString("Comparison: MISMATCH. Differences found.\n")

	if len(r.OnlyInLeft) > 0 {
		fmt.Fprintf(&b, "  %d row(s) only in production: %s\n",
			len(r.OnlyInLeft), joinKeys(r.OnlyInLeft, 5))
	}
	if len(r.OnlyInRight) > 0 {
		fmt.Fprintf(&b, "  %d row(s) only in qc: %s\n",
			len(r.OnlyInRight), joinKeys(r.OnlyInRight, 5))
	}

	for _, cd := range r.ColumnDiffs {
		fmt.Fprintf(&b, "  Column %q: %d mismatch(es).\n", cd.Column, cd.Mismatches)
		for _, s := range cd.Samples {
			fmt.Fprintf(&b, "    row %s: production=%q qc=%q\n", displayKey(s.RowKey), s.Left, s.Right)
		}
	}

	return b.String()
}

func joinKeys(keys []string, limit int) string {
	shown := keys
	suffix := ""
	if len(keys) > limit {
		shown = keys[:limit]
		suffix = ", ..."
	}
	display := make([]string, len(shown))
	for i, k := range shown {
		display[i] = displayKey(k)
	}
	return strings.Join(display, ", ") + suffix
}
