package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

func TestNewRejectsRaggedRows(t *testing.T) {
	_, err := New([]string{"A", "B"}, [][]string{{"1", "2"}, {"3"}})
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
}

func TestColumnLookup(t *testing.T) {
	d, err := New([]string{"USUBJID", "SEX", "AGE"}, [][]string{{"001", "M", "34"}})
	require.NoError(t, err)

	assert.Equal(t, 1, d.ColumnIndex("SEX"))
	assert.Equal(t, -1, d.ColumnIndex("RACE"))
	assert.True(t, d.HasColumn("AGE"))
	assert.False(t, d.HasColumn("age"))
}

func TestIndex(t *testing.T) {
	d, err := New(
		[]string{"STUDYID", "USUBJID", "SEX"},
		[][]string{
			{"S1", "001", "M"},
			{"S1", "002", "F"},
		},
	)
	require.NoError(t, err)

	t.Run("composite key", func(t *testing.T) {
		idx, err := d.Index([]string{"STUDYID", "USUBJID"})
		require.NoError(t, err)
		assert.Len(t, idx, 2)
		assert.Equal(t, 1, idx["S1\x1f002"])
	})

	t.Run("missing identifier column", func(t *testing.T) {
		_, err := d.Index([]string{"SUBJID"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "identifier column missing")
	})

	t.Run("duplicate identifiers rejected", func(t *testing.T) {
		dup, err := New([]string{"USUBJID"}, [][]string{{"001"}, {"001"}})
		require.NoError(t, err)
		_, err = dup.Index([]string{"USUBJID"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate row identifier")
	})
}

func TestSortedKeysDeterministic(t *testing.T) {
	idx := map[string]int{"b": 1, "a": 0, "c": 2}
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(idx))
}

func TestSharedColumns(t *testing.T) {
	left, _ := New([]string{"USUBJID", "SEX", "AGE"}, nil)
	right, _ := New([]string{"USUBJID", "AGE", "RACE"}, nil)

	assert.Equal(t, []string{"USUBJID", "AGE"}, SharedColumns(left, right))
}

func TestReadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dm.csv")
	content := "USUBJID,SEX,AGE\n001,M,34\n002,F,29\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	d, err := ReadFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"USUBJID", "SEX", "AGE"}, d.Columns)
	require.Equal(t, 2, d.NumRows())
	assert.Equal(t, []string{"002", "F", "29"}, d.Rows[1])
}

func TestReadFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
		assert.Equal(t, errors.ResourceNotFound, errors.CodeOf(err))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dm.rds")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		_, err := ReadFile(context.Background(), path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported dataset format")
	})

	t.Run("empty csv", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.csv")
		require.NoError(t, os.WriteFile(path, nil, 0644))
		_, err := ReadFile(context.Background(), path)
		require.Error(t, err)
	})
}
