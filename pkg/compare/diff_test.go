package compare

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikasgaddu1/sdtmforge/pkg/dataset"
)

func mustDataset(t *testing.T, columns []string, rows [][]string) *dataset.Dataset {
	t.Helper()
	d, err := dataset.New(columns, rows)
	require.NoError(t, err)
	return d
}

var testOpts = Options{IDColumns: []string{"USUBJID"}, SampleLimit: 5}

func TestCompareMatch(t *testing.T) {
	left := mustDataset(t,
		[]string{"USUBJID", "SEX", "AGE"},
		[][]string{{"001", "M", "34"}, {"002", "F", "29"}},
	)
	// Same content, different row order: alignment is by identifier
	right := mustDataset(t,
		[]string{"USUBJID", "SEX", "AGE"},
		[][]string{{"002", "F", "29"}, {"001", "M", "34"}},
	)

	r, err := Compare(left, right, testOpts)
	require.NoError(t, err)
	assert.True(t, r.Match)
	assert.Equal(t, 2, r.RowsCompared)
	assert.Contains(t, r.Report(), "MATCH")
}

func TestCompareCodelistMismatchScenario(t *testing.T) {
	// 300 rows differing only in SEX for 3 rows due to a codelist mismatch
	columns := []string{"USUBJID", "SEX", "AGE"}
	var prodRows, qcRows [][]string
	for i := 1; i <= 300; i++ {
		id := fmt.Sprintf("%03d", i)
		age := strconv.Itoa(20 + i%50)
		prodRows = append(prodRows, []string{id, "M", age})
		sex := "M"
		if i <= 3 {
			sex = "Male" // qc side kept verbatim values
		}
		qcRows = append(qcRows, []string{id, sex, age})
	}

	prod := mustDataset(t, columns, prodRows)
	qc := mustDataset(t, columns, qcRows)

	r, err := Compare(prod, qc, testOpts)
	require.NoError(t, err)

	assert.False(t, r.Match)
	require.Len(t, r.ColumnDiffs, 1)
	assert.Equal(t, "SEX", r.ColumnDiffs[0].Column)
	assert.Equal(t, 3, r.ColumnDiffs[0].Mismatches)
	assert.Len(t, r.ColumnDiffs[0].Samples, 3)

	report := r.Report()
	assert.Contains(t, report, "MISMATCH")
	assert.Contains(t, report, `Column "SEX": 3 mismatch(es)`)
}

func TestCompareSampleLimitAndDeterminism(t *testing.T) {
	columns := []string{"USUBJID", "VAL"}
	var leftRows, rightRows [][]string
	// Insert rows in reverse order; samples must still come out sorted by key
	for i := 20; i >= 1; i-- {
		id := fmt.Sprintf("%03d", i)
		leftRows = append(leftRows, []string{id, "a"})
		rightRows = append(rightRows, []string{id, "b"})
	}

	r, err := Compare(mustDataset(t, columns, leftRows), mustDataset(t, columns, rightRows),
		Options{IDColumns: []string{"USUBJID"}, SampleLimit: 3})
	require.NoError(t, err)

	require.Len(t, r.ColumnDiffs, 1)
	assert.Equal(t, 20, r.ColumnDiffs[0].Mismatches)
	require.Len(t, r.ColumnDiffs[0].Samples, 3)
	assert.Equal(t, "001", r.ColumnDiffs[0].Samples[0].RowKey)
	assert.Equal(t, "002", r.ColumnDiffs[0].Samples[1].RowKey)
	assert.Equal(t, "003", r.ColumnDiffs[0].Samples[2].RowKey)
}

func TestCompareRowSetDivergence(t *testing.T) {
	left := mustDataset(t, []string{"USUBJID", "SEX"},
		[][]string{{"001", "M"}, {"002", "F"}, {"003", "F"}})
	right := mustDataset(t, []string{"USUBJID", "SEX"},
		[][]string{{"001", "M"}, {"004", "U"}})

	r, err := Compare(left, right, testOpts)
	require.NoError(t, err)

	assert.False(t, r.Match)
	assert.Equal(t, []string{"002", "003"}, r.OnlyInLeft)
	assert.Equal(t, []string{"004"}, r.OnlyInRight)
	assert.Empty(t, r.ColumnDiffs, "the one aligned row agrees")

	report := r.Report()
	assert.Contains(t, report, "only in production")
	assert.Contains(t, report, "only in qc")
}

func TestCompareExactStringsOnly(t *testing.T) {
	// "1.0" vs "1" is a mismatch: no numeric tolerance
	left := mustDataset(t, []string{"USUBJID", "BMI"}, [][]string{{"001", "24.0"}})
	right := mustDataset(t, []string{"USUBJID", "BMI"}, [][]string{{"001", "24"}})

	r, err := Compare(left, right, testOpts)
	require.NoError(t, err)
	assert.False(t, r.Match)
}

func TestCompareSharedColumnsOnly(t *testing.T) {
	left := mustDataset(t, []string{"USUBJID", "SEX", "PROD_ONLY"}, [][]string{{"001", "M", "x"}})
	right := mustDataset(t, []string{"USUBJID", "SEX", "QC_ONLY"}, [][]string{{"001", "M", "y"}})

	r, err := Compare(left, right, testOpts)
	require.NoError(t, err)
	assert.True(t, r.Match, "columns unique to one side do not participate")
}

func TestCompareInputErrors(t *testing.T) {
	d := mustDataset(t, []string{"USUBJID"}, [][]string{{"001"}})

	t.Run("no id columns", func(t *testing.T) {
		_, err := Compare(d, d, Options{})
		assert.Error(t, err)
	})

	t.Run("id column missing", func(t *testing.T) {
		_, err := Compare(d, d, Options{IDColumns: []string{"SUBJID"}})
		assert.Error(t, err)
	})
}
