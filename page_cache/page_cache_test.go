package page_cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danthegoodman1/icequery/reader"
	"github.com/danthegoodman1/icequery/utils"
)

// slowReader wraps a MemReader and counts underlying calls, sleeping a bit
// so concurrent requesters really do overlap.
type slowReader struct {
	*reader.MemReader
	delay       time.Duration
	offsetReads int64
	columnReads int64
	pageReads   int64
}

func (r *slowReader) ReadOffsetIndex(ctx context.Context, rowGroupNo int, path string) (reader.OffsetIndex, error) {
	atomic.AddInt64(&r.offsetReads, 1)
	time.Sleep(r.delay)
	return r.MemReader.ReadOffsetIndex(ctx, rowGroupNo, path)
}

func (r *slowReader) ReadColumnIndex(ctx context.Context, rowGroupNo int, path string) (reader.ColumnIndex, error) {
	atomic.AddInt64(&r.columnReads, 1)
	time.Sleep(r.delay)
	return r.MemReader.ReadColumnIndex(ctx, rowGroupNo, path)
}

func (r *slowReader) ReadPage(ctx context.Context, rowGroupNo int, path string, pageNo int) ([]any, error) {
	atomic.AddInt64(&r.pageReads, 1)
	time.Sleep(r.delay)
	return r.MemReader.ReadPage(ctx, rowGroupNo, path, pageNo)
}

func newTestReader(t *testing.T, delay time.Duration) *slowReader {
	t.Helper()
	mr, err := reader.NewMemReader([]reader.MemRowGroup{{
		Columns: []reader.MemColumn{{
			Path: "quantity",
			Pages: []reader.MemPage{
				{FirstRowIndex: 0, Values: []any{float64(20), float64(25)}},
				{FirstRowIndex: 2, Values: []any{float64(30)}},
			},
		}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return &slowReader{MemReader: mr, delay: delay}
}

func TestConcurrentRequestersShareOneFetch(t *testing.T) {
	c, err := NewWithSize(100)
	if err != nil {
		t.Fatal(err)
	}
	rdr := newTestReader(t, 50*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			oi, err := c.GetOffsetIndex(context.Background(), rdr, 0, "quantity")
			if err != nil {
				t.Error(err)
				return
			}
			if oi.NumPages() != 2 {
				t.Errorf("got %d pages", oi.NumPages())
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt64(&rdr.offsetReads); n != 1 {
		t.Fatalf("expected 1 underlying offset index read, got %d", n)
	}
}

func TestConcurrentPageRequestersShareOneFetch(t *testing.T) {
	c, err := NewWithSize(100)
	if err != nil {
		t.Fatal(err)
	}
	rdr := newTestReader(t, 50*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetPage(context.Background(), rdr, 0, "quantity", 0); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt64(&rdr.pageReads); n != 1 {
		t.Fatalf("expected 1 underlying page read, got %d", n)
	}
}

func TestPagesAreShortScoped(t *testing.T) {
	c, err := NewWithSize(100)
	if err != nil {
		t.Fatal(err)
	}
	rdr := newTestReader(t, 0)

	for i := 0; i < 2; i++ {
		if _, err := c.GetPage(context.Background(), rdr, 0, "quantity", 0); err != nil {
			t.Fatal(err)
		}
	}
	if n := atomic.LoadInt64(&rdr.pageReads); n != 2 {
		t.Fatalf("page fetches must not be retained, got %d underlying reads", n)
	}
}

func TestIndexesAreDurable(t *testing.T) {
	c, err := NewWithSize(100)
	if err != nil {
		t.Fatal(err)
	}
	rdr := newTestReader(t, 0)

	for i := 0; i < 3; i++ {
		if _, err := c.GetColumnIndex(context.Background(), rdr, 0, "quantity"); err != nil {
			t.Fatal(err)
		}
	}
	if n := atomic.LoadInt64(&rdr.columnReads); n != 1 {
		t.Fatalf("expected 1 underlying column index read, got %d", n)
	}
}

func TestLRUEviction(t *testing.T) {
	c, err := NewWithSize(1)
	if err != nil {
		t.Fatal(err)
	}
	rdr := newTestReader(t, 0)

	ctx := context.Background()
	if _, err := c.GetOffsetIndex(ctx, rdr, 0, "quantity"); err != nil {
		t.Fatal(err)
	}
	// evicts the offset index
	if _, err := c.GetColumnIndex(ctx, rdr, 0, "quantity"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOffsetIndex(ctx, rdr, 0, "quantity"); err != nil {
		t.Fatal(err)
	}

	if n := atomic.LoadInt64(&rdr.offsetReads); n != 2 {
		t.Fatalf("expected 2 underlying offset index reads after eviction, got %d", n)
	}
}

func TestHooksObserveTraffic(t *testing.T) {
	c, err := NewWithSize(100)
	if err != nil {
		t.Fatal(err)
	}
	rdr := newTestReader(t, 0)

	var reads, misses, completes int
	c.SetHooks(Hooks{
		Read:     func(Key) { reads++ },
		Miss:     func(Key) { misses++ },
		Complete: func(Key) { completes++ },
	})

	ctx := context.Background()
	if _, err := c.GetOffsetIndex(ctx, rdr, 0, "quantity"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOffsetIndex(ctx, rdr, 0, "quantity"); err != nil {
		t.Fatal(err)
	}

	if reads != 2 || misses != 1 || completes != 1 {
		t.Fatalf("got reads=%d misses=%d completes=%d", reads, misses, completes)
	}
}

// failingReader fails permanently, the retry layer must not hammer it.
type failingReader struct {
	*reader.MemReader
	calls int64
}

func (r *failingReader) ReadOffsetIndex(context.Context, int, string) (reader.OffsetIndex, error) {
	atomic.AddInt64(&r.calls, 1)
	return reader.OffsetIndex{}, utils.PermError("corrupt index")
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	c, err := NewWithSize(100)
	if err != nil {
		t.Fatal(err)
	}
	rdr := &failingReader{MemReader: newTestReader(t, 0).MemReader}

	_, err = c.GetOffsetIndex(context.Background(), rdr, 0, "quantity")
	if err == nil {
		t.Fatal("expected error")
	}
	var pe utils.PermError
	if !errors.As(err, &pe) {
		t.Fatalf("expected the original cause, got %v", err)
	}
	if n := atomic.LoadInt64(&rdr.calls); n != 1 {
		t.Fatalf("permanent error retried %d times", n)
	}
}

func TestKeyIncludesRowGroupOrdinal(t *testing.T) {
	a := Key{ReaderID: "r", RowGroupNo: 0, Kind: KindOffsetIndex, Path: "quantity"}
	b := Key{ReaderID: "r", RowGroupNo: 1, Kind: KindOffsetIndex, Path: "quantity"}
	if a.String() == b.String() {
		t.Fatal("keys for different row groups must differ")
	}
}
