package reader

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icequery/utils"
)

type (
	// MemReader serves a page-structured in-memory dataset. Tests build
	// multi-page row groups with it, and embedders can use it to query data
	// that never touched a file.
	MemReader struct {
		id     string
		groups []MemRowGroup
		meta   []RowGroupMeta
	}

	MemRowGroup struct {
		Columns []MemColumn
	}

	MemColumn struct {
		Path  string
		Pages []MemPage
	}

	MemPage struct {
		FirstRowIndex int64
		// Values has one entry per row, nil for null rows.
		Values []any
	}
)

var ErrColumnNotFound = utils.PermError("column not found in row group")

func NewMemReader(groups []MemRowGroup) (*MemReader, error) {
	r := &MemReader{
		id:     "mem_" + utils.GenRandomShortID(),
		groups: groups,
	}
	for no, g := range groups {
		gm := RowGroupMeta{No: no}
		for _, col := range g.Columns {
			if len(col.Pages) == 0 {
				return nil, fmt.Errorf("column %s in row group %d has no pages", col.Path, no)
			}
			last := col.Pages[len(col.Pages)-1]
			numRows := last.FirstRowIndex + int64(len(last.Values))
			if gm.NumRows == 0 {
				gm.NumRows = numRows
			} else if gm.NumRows != numRows {
				return nil, fmt.Errorf("column %s in row group %d has %d rows, expected %d", col.Path, no, numRows, gm.NumRows)
			}

			cm := ColumnMeta{Path: col.Path}
			for _, p := range col.Pages {
				lo, hi, err := pageExtrema(p.Values)
				if err != nil {
					return nil, fmt.Errorf("error in pageExtrema for column %s: %w", col.Path, err)
				}
				if cm.MinValue, err = MinValue(cm.MinValue, lo); err != nil {
					return nil, err
				}
				if cm.MaxValue, err = MaxValue(cm.MaxValue, hi); err != nil {
					return nil, err
				}
			}
			gm.Columns = append(gm.Columns, cm)
		}
		r.meta = append(r.meta, gm)
	}
	return r, nil
}

func (r *MemReader) ID() string {
	return r.id
}

func (r *MemReader) RowGroups() []RowGroupMeta {
	return r.meta
}

func (r *MemReader) column(rowGroupNo int, path string) (MemColumn, error) {
	if rowGroupNo < 0 || rowGroupNo >= len(r.groups) {
		return MemColumn{}, fmt.Errorf("row group %d out of range: %w", rowGroupNo, ErrColumnNotFound)
	}
	for _, col := range r.groups[rowGroupNo].Columns {
		if col.Path == path {
			return col, nil
		}
	}
	return MemColumn{}, fmt.Errorf("column %s in row group %d: %w", path, rowGroupNo, ErrColumnNotFound)
}

func (r *MemReader) ReadOffsetIndex(_ context.Context, rowGroupNo int, path string) (OffsetIndex, error) {
	col, err := r.column(rowGroupNo, path)
	if err != nil {
		return OffsetIndex{}, err
	}
	oi := OffsetIndex{}
	for _, p := range col.Pages {
		oi.PageLocations = append(oi.PageLocations, PageLocation{FirstRowIndex: p.FirstRowIndex})
	}
	return oi, nil
}

func (r *MemReader) ReadColumnIndex(_ context.Context, rowGroupNo int, path string) (ColumnIndex, error) {
	col, err := r.column(rowGroupNo, path)
	if err != nil {
		return ColumnIndex{}, err
	}
	ci := ColumnIndex{}
	for _, p := range col.Pages {
		lo, hi, err := pageExtrema(p.Values)
		if err != nil {
			return ColumnIndex{}, fmt.Errorf("error in pageExtrema: %w", err)
		}
		ci.MinValues = append(ci.MinValues, lo)
		ci.MaxValues = append(ci.MaxValues, hi)
	}
	return ci, nil
}

func (r *MemReader) ReadPage(_ context.Context, rowGroupNo int, path string, pageNo int) ([]any, error) {
	col, err := r.column(rowGroupNo, path)
	if err != nil {
		return nil, err
	}
	if pageNo < 0 || pageNo >= len(col.Pages) {
		return nil, fmt.Errorf("page %d out of range for column %s in row group %d: %w", pageNo, path, rowGroupNo, ErrColumnNotFound)
	}
	return col.Pages[pageNo].Values, nil
}

func pageExtrema(values []any) (any, any, error) {
	var lo, hi any
	var err error
	for _, v := range values {
		if v == nil {
			continue
		}
		if lo, err = MinValue(lo, v); err != nil {
			return nil, nil, err
		}
		if hi, err = MaxValue(hi, v); err != nil {
			return nil, nil, err
		}
	}
	return lo, hi, nil
}
