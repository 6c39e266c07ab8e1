package dataset

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/parquet/file"
	"github.com/apache/arrow/go/v13/parquet/pqarrow"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

// ReadFile loads a materialized candidate dataset, dispatching on the file
// extension. Parquet is the primary format; csv is supported for studies
// that have not migrated.
func ReadFile(ctx context.Context, path string) (*Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ResourceNotFound, "dataset not found"),
			errors.Fields{"path": path},
		)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return readParquet(ctx, path)
	case ".csv":
		return readCSV(path)
	default:
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unsupported dataset format"),
			errors.Fields{"path": path, "supported": ".parquet, .csv"},
		)
	}
}

func readCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to open csv dataset")
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to parse csv dataset"),
			errors.Fields{"path": path},
		)
	}
	if len(records) == 0 {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "csv dataset has no header row"),
			errors.Fields{"path": path},
		)
	}

	return New(records[0], records[1:])
}

func readParquet(ctx context.Context, path string) (*Dataset, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to open parquet dataset"),
			errors.Fields{"path": path},
		)
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to create arrow reader")
	}

	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to read parquet table"),
			errors.Fields{"path": path},
		)
	}
	defer tbl.Release()

	columns := make([]string, tbl.NumCols())
	for i := range columns {
		columns[i] = tbl.Schema().Field(i).Name
	}

	rows := make([][]string, tbl.NumRows())
	for i := range rows {
		rows[i] = make([]string, tbl.NumCols())
	}

	// Chunked columns flatten into the row-major table. Nulls become "",
	// matching how the csv path and the comparison treat missing values.
	for c := 0; c < int(tbl.NumCols()); c++ {
		row := 0
		for _, chunk := range tbl.Column(c).Data().Chunks() {
			for i := 0; i < chunk.Len(); i++ {
				if !chunk.IsNull(i) {
					rows[row][c] = chunk.ValueStr(i)
				}
				row++
			}
		}
	}

	return New(columns, rows)
}
