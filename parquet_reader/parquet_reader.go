package parquet_reader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/danthegoodman1/icequery/gologger"
	"github.com/danthegoodman1/icequery/reader"
	"github.com/danthegoodman1/icequery/utils"
	"github.com/parquet-go/parquet-go"
)

var logger = gologger.NewLogger()

type (
	// ParquetReader adapts a real parquet file to the reader contract: row
	// group metadata comes from the footer, page indexes from the column
	// chunk index structures, and page values are decoded into the JSON
	// value domain (float64/string, nil for nulls).
	ParquetReader struct {
		id     string
		f      *parquet.File
		closer io.Closer

		meta []reader.RowGroupMeta
		// chunk ordinal by path, per row group
		colIdx []map[string]int
	}
)

// OpenFile opens a parquet file on local disk.
func OpenFile(path string) (*ParquetReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error in os.Open: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error in Stat: %w", err)
	}
	pr, err := Open(f, stat.Size(), filepath.Base(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	pr.closer = f
	return pr, nil
}

// Open adapts any io.ReaderAt holding a parquet file. The name seeds the
// reader ID, which is still made unique per open.
func Open(r io.ReaderAt, size int64, name string) (*ParquetReader, error) {
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("error in parquet.OpenFile: %w", err)
	}

	pr := &ParquetReader{
		id: name + "_" + utils.GenRandomShortID(),
		f:  f,
	}

	schema := f.Schema()
	for no, rg := range f.Metadata().RowGroups {
		gm := reader.RowGroupMeta{No: no, NumRows: rg.NumRows}
		cols := make(map[string]int, len(rg.Columns))
		for _, col := range rg.Columns {
			path := strings.Join(col.MetaData.PathInSchema, ",")
			leaf, ok := schema.Lookup(col.MetaData.PathInSchema...)
			if !ok {
				return nil, fmt.Errorf("column %s missing from schema", path)
			}
			cols[path] = leaf.ColumnIndex

			cm := reader.ColumnMeta{Path: path}
			kind := leaf.Node.Type().Kind()
			cm.MinValue = decodeStatistic(kind, col.MetaData.Statistics.MinValue, col.MetaData.Statistics.Min)
			cm.MaxValue = decodeStatistic(kind, col.MetaData.Statistics.MaxValue, col.MetaData.Statistics.Max)
			gm.Columns = append(gm.Columns, cm)
		}
		pr.meta = append(pr.meta, gm)
		pr.colIdx = append(pr.colIdx, cols)
	}

	logger.Debug().Str("readerID", pr.id).Int("rowGroups", len(pr.meta)).Msg("opened parquet file")
	return pr, nil
}

func (r *ParquetReader) ID() string {
	return r.id
}

func (r *ParquetReader) RowGroups() []reader.RowGroupMeta {
	return r.meta
}

func (r *ParquetReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *ParquetReader) chunk(rowGroupNo int, path string) (parquet.ColumnChunk, error) {
	if rowGroupNo < 0 || rowGroupNo >= len(r.meta) {
		return nil, utils.PermError(fmt.Sprintf("row group %d out of range", rowGroupNo))
	}
	idx, ok := r.colIdx[rowGroupNo][path]
	if !ok {
		return nil, utils.PermError(fmt.Sprintf("column %s not in row group %d", path, rowGroupNo))
	}
	return r.f.RowGroups()[rowGroupNo].ColumnChunks()[idx], nil
}

func (r *ParquetReader) ReadOffsetIndex(_ context.Context, rowGroupNo int, path string) (reader.OffsetIndex, error) {
	cc, err := r.chunk(rowGroupNo, path)
	if err != nil {
		return reader.OffsetIndex{}, err
	}
	oidx, err := cc.OffsetIndex()
	if errors.Is(err, parquet.ErrMissingOffsetIndex) || (err == nil && oidx == nil) {
		// no page index in the file: expose the chunk as one logical page so
		// pruning degrades to row group statistics instead of failing
		return reader.OffsetIndex{PageLocations: []reader.PageLocation{{FirstRowIndex: 0}}}, nil
	}
	if err != nil {
		return reader.OffsetIndex{}, fmt.Errorf("error reading offset index for %s: %w", path, err)
	}
	oi := reader.OffsetIndex{}
	for i := 0; i < oidx.NumPages(); i++ {
		oi.PageLocations = append(oi.PageLocations, reader.PageLocation{FirstRowIndex: oidx.FirstRowIndex(i)})
	}
	return oi, nil
}

func (r *ParquetReader) ReadColumnIndex(_ context.Context, rowGroupNo int, path string) (reader.ColumnIndex, error) {
	cc, err := r.chunk(rowGroupNo, path)
	if err != nil {
		return reader.ColumnIndex{}, err
	}
	cidx, err := cc.ColumnIndex()
	if errors.Is(err, parquet.ErrMissingColumnIndex) || (err == nil && cidx == nil) {
		return reader.ColumnIndex{}, reader.ErrNoIndex
	}
	if err != nil {
		return reader.ColumnIndex{}, fmt.Errorf("error reading column index for %s: %w", path, err)
	}
	ci := reader.ColumnIndex{}
	for i := 0; i < cidx.NumPages(); i++ {
		if cidx.NullPage(i) {
			ci.MinValues = append(ci.MinValues, nil)
			ci.MaxValues = append(ci.MaxValues, nil)
			continue
		}
		ci.MinValues = append(ci.MinValues, decodeValue(cidx.MinValue(i)))
		ci.MaxValues = append(ci.MaxValues, decodeValue(cidx.MaxValue(i)))
	}
	return ci, nil
}

func (r *ParquetReader) ReadPage(_ context.Context, rowGroupNo int, path string, pageNo int) ([]any, error) {
	cc, err := r.chunk(rowGroupNo, path)
	if err != nil {
		return nil, err
	}
	oidx, err := cc.OffsetIndex()
	if errors.Is(err, parquet.ErrMissingOffsetIndex) || (err == nil && oidx == nil) {
		if pageNo != 0 {
			return nil, utils.PermError(fmt.Sprintf("page %d out of range for unindexed column %s", pageNo, path))
		}
		return readWholeChunk(cc)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading offset index for %s: %w", path, err)
	}
	if pageNo < 0 || pageNo >= oidx.NumPages() {
		return nil, utils.PermError(fmt.Sprintf("page %d out of range for %s in row group %d", pageNo, path, rowGroupNo))
	}

	pages := cc.Pages()
	defer pages.Close()
	if err := pages.SeekToRow(oidx.FirstRowIndex(pageNo)); err != nil {
		return nil, fmt.Errorf("error in SeekToRow: %w", err)
	}
	pg, err := pages.ReadPage()
	if err != nil {
		return nil, fmt.Errorf("error in ReadPage: %w", err)
	}
	return decodePage(pg)
}

// readWholeChunk concatenates every physical page of a chunk into one
// logical page, for files written without a page index.
func readWholeChunk(cc parquet.ColumnChunk) ([]any, error) {
	pages := cc.Pages()
	defer pages.Close()
	var out []any
	for {
		pg, err := pages.ReadPage()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error in ReadPage: %w", err)
		}
		decoded, err := decodePage(pg)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded...)
	}
}

func decodePage(pg parquet.Page) ([]any, error) {
	buf := make([]parquet.Value, pg.NumValues())
	n, err := pg.Values().ReadValues(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("error in ReadValues: %w", err)
	}
	out := make([]any, 0, n)
	for _, v := range buf[:n] {
		out = append(out, decodeValue(v))
	}
	return out, nil
}

// decodeValue widens a parquet value into the JSON value domain.
func decodeValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		if v.Boolean() {
			return float64(1)
		}
		return float64(0)
	case parquet.Int32:
		return float64(v.Int32())
	case parquet.Int64:
		return float64(v.Int64())
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return nil
	}
}

// decodeStatistic decodes a plain-encoded footer statistic, falling back to
// the deprecated min/max fields older writers populate.
func decodeStatistic(kind parquet.Kind, value, deprecated []byte) any {
	b := value
	if len(b) == 0 {
		b = deprecated
	}
	if len(b) == 0 {
		return nil
	}
	switch kind {
	case parquet.Int32:
		if len(b) < 4 {
			return nil
		}
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case parquet.Int64:
		if len(b) < 8 {
			return nil
		}
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case parquet.Float:
		if len(b) < 4 {
			return nil
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case parquet.Double:
		if len(b) < 8 {
			return nil
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(b)
	default:
		return nil
	}
}
