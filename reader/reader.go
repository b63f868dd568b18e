package reader

import (
	"context"

	"github.com/danthegoodman1/icequery/utils"
)

// ErrNoIndex is returned by readers whose files carry no page index for a
// column. Callers fall back to row group statistics.
var ErrNoIndex = utils.PermError("no page index for column")

type (
	// Reader is the contract the query core consumes. Implementations expose
	// row group metadata up front and fetch the heavier structures on demand.
	// A Reader is immutable after open, and its ID must be unique and stable
	// so cache entries from different readers can never collide.
	Reader interface {
		ID() string

		// RowGroups returns the ordered row group metadata. The slice index is
		// the row group ordinal used by the fetch operations.
		RowGroups() []RowGroupMeta

		ReadOffsetIndex(ctx context.Context, rowGroupNo int, path string) (OffsetIndex, error)
		ReadColumnIndex(ctx context.Context, rowGroupNo int, path string) (ColumnIndex, error)

		// ReadPage returns the decoded values of one page, one entry per row,
		// nil for null rows. Values are float64 or string.
		ReadPage(ctx context.Context, rowGroupNo int, path string, pageNo int) ([]any, error)
	}

	RowGroupMeta struct {
		No      int
		NumRows int64
		Columns []ColumnMeta
	}

	// ColumnMeta carries the row group level statistics for one column.
	// MinValue/MaxValue are nil when the file carries no statistics.
	ColumnMeta struct {
		Path     string
		MinValue any
		MaxValue any
	}

	// OffsetIndex lists page locations for one column of one row group.
	// Page i covers rows [PageLocations[i].FirstRowIndex,
	// PageLocations[i+1].FirstRowIndex - 1], the last page extending to
	// NumRows - 1.
	OffsetIndex struct {
		PageLocations []PageLocation
	}

	PageLocation struct {
		FirstRowIndex int64
	}

	// ColumnIndex carries per-page min/max statistics, parallel to the
	// offset index page locations.
	ColumnIndex struct {
		MinValues []any
		MaxValues []any
	}
)

func (g RowGroupMeta) Column(path string) (ColumnMeta, bool) {
	for _, c := range g.Columns {
		if c.Path == path {
			return c, true
		}
	}
	return ColumnMeta{}, false
}

func (oi OffsetIndex) NumPages() int {
	return len(oi.PageLocations)
}

// PageBounds returns the inclusive row interval covered by a page.
func (oi OffsetIndex) PageBounds(pageNo int, numRows int64) (int64, int64) {
	lo := oi.PageLocations[pageNo].FirstRowIndex
	if pageNo == len(oi.PageLocations)-1 {
		return lo, numRows - 1
	}
	return lo, oi.PageLocations[pageNo+1].FirstRowIndex - 1
}
