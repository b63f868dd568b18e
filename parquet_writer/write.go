package parquet_writer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
)

type WriteOptions struct {
	// RowGroupSize and PageSize are in bytes. Small values force multiple
	// row groups and pages, which is what fixture builders want.
	RowGroupSize int64
	PageSize     int64
}

// WriteRows writes flat JSON rows to w as one parquet file, accumulating the
// schema from the rows themselves.
func WriteRows(w io.Writer, rows []map[string]any, opts *WriteOptions) error {
	sa := NewSchemaAccumulator()
	for _, row := range rows {
		sa.WriteRow(row)
	}
	schemaString, err := sa.SchemaString()
	if err != nil {
		return fmt.Errorf("error in SchemaString: %w", err)
	}

	pw, err := writer.NewJSONWriterFromWriter(schemaString, w, 4)
	if err != nil {
		return fmt.Errorf("error in NewJSONWriterFromWriter: %w", err)
	}
	if opts != nil {
		if opts.RowGroupSize > 0 {
			pw.RowGroupSize = opts.RowGroupSize
		}
		if opts.PageSize > 0 {
			pw.PageSize = opts.PageSize
		}
	}

	for _, row := range rows {
		rowBytes, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("error in json.Marshal of row: %w", err)
		}
		if err := pw.Write(string(rowBytes)); err != nil {
			return fmt.Errorf("error in pw.Write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return nil
}

// WriteFile is WriteRows against a local path.
func WriteFile(path string, rows []map[string]any, opts *WriteOptions) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("error in NewLocalFileWriter: %w", err)
	}
	if err := WriteRows(fw, rows, opts); err != nil {
		fw.Close()
		os.Remove(path)
		return err
	}
	return fw.Close()
}
