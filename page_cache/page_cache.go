package page_cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/danthegoodman1/icequery/gologger"
	"github.com/danthegoodman1/icequery/reader"
	"github.com/danthegoodman1/icequery/utils"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

var logger = gologger.NewLogger()

type (
	Kind string

	// Key identifies one fetchable blob. The row group ordinal is part of the
	// key so identical column layouts in different row groups can never
	// collide, and the reader ID isolates readers from each other.
	Key struct {
		ReaderID   string
		RowGroupNo int
		Kind       Kind
		Path       string
		PageNo     int
	}

	// Hooks observe cache traffic. They must not change behavior.
	Hooks struct {
		Read     func(Key)
		Miss     func(Key)
		Complete func(Key)
	}

	// Cache is the process-wide content store. Offset and column indexes are
	// small and reused across queries, so they live in a durable LRU. Page
	// values are short-scoped: concurrent requesters share one in-flight
	// fetch, and nothing is retained once the fetch resolves.
	Cache struct {
		lru     *lru.Cache
		flight  singleflight.Group
		hooks   Hooks
		retries uint64
	}
)

const (
	KindOffsetIndex Kind = "offsetIndex"
	KindColumnIndex Kind = "columnIndex"
	KindPage        Kind = "page"
)

func (k Key) String() string {
	return fmt.Sprintf("%s|%d|%s|%s|%d", k.ReaderID, k.RowGroupNo, k.Kind, k.Path, k.PageNo)
}

func New() *Cache {
	c, err := NewWithSize(int(utils.QUERY_CACHE_ENTRIES))
	if err != nil {
		// only possible with a non-positive size
		logger.Error().Err(err).Msg("error creating page cache, using minimum size")
		c, _ = NewWithSize(1)
	}
	return c
}

func NewWithSize(entries int) (*Cache, error) {
	l, err := lru.New(entries)
	if err != nil {
		return nil, fmt.Errorf("error in lru.New: %w", err)
	}
	return &Cache{
		lru:     l,
		retries: uint64(utils.QUERY_FETCH_RETRIES),
	}, nil
}

// SetHooks installs observability hooks. Not safe to call concurrently with
// cache reads.
func (c *Cache) SetHooks(h Hooks) {
	c.hooks = h
}

func (c *Cache) GetOffsetIndex(ctx context.Context, rdr reader.Reader, rowGroupNo int, path string) (reader.OffsetIndex, error) {
	key := Key{ReaderID: rdr.ID(), RowGroupNo: rowGroupNo, Kind: KindOffsetIndex, Path: path}
	v, err := c.get(ctx, key, true, func() (any, error) {
		return rdr.ReadOffsetIndex(ctx, rowGroupNo, path)
	})
	if err != nil {
		return reader.OffsetIndex{}, err
	}
	return v.(reader.OffsetIndex), nil
}

func (c *Cache) GetColumnIndex(ctx context.Context, rdr reader.Reader, rowGroupNo int, path string) (reader.ColumnIndex, error) {
	key := Key{ReaderID: rdr.ID(), RowGroupNo: rowGroupNo, Kind: KindColumnIndex, Path: path}
	v, err := c.get(ctx, key, true, func() (any, error) {
		return rdr.ReadColumnIndex(ctx, rowGroupNo, path)
	})
	if err != nil {
		return reader.ColumnIndex{}, err
	}
	return v.(reader.ColumnIndex), nil
}

func (c *Cache) GetPage(ctx context.Context, rdr reader.Reader, rowGroupNo int, path string, pageNo int) ([]any, error) {
	key := Key{ReaderID: rdr.ID(), RowGroupNo: rowGroupNo, Kind: KindPage, Path: path, PageNo: pageNo}
	v, err := c.get(ctx, key, false, func() (any, error) {
		return rdr.ReadPage(ctx, rowGroupNo, path, pageNo)
	})
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

func (c *Cache) get(ctx context.Context, key Key, durable bool, fetch func() (any, error)) (any, error) {
	if c.hooks.Read != nil {
		c.hooks.Read(key)
	}
	ks := key.String()
	if durable {
		if v, ok := c.lru.Get(ks); ok {
			return v, nil
		}
	}
	if c.hooks.Miss != nil {
		c.hooks.Miss(key)
	}

	v, err, _ := c.flight.Do(ks, func() (any, error) {
		// a concurrent requester may have populated the entry while we waited
		if durable {
			if v, ok := c.lru.Get(ks); ok {
				return v, nil
			}
		}
		v, err := c.fetchWithRetry(ctx, fetch)
		if err != nil {
			return nil, err
		}
		if durable {
			c.lru.Add(ks, v)
		}
		if c.hooks.Complete != nil {
			c.hooks.Complete(key)
		}
		return v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching %s: %w", ks, err)
	}
	return v, nil
}

func (c *Cache) fetchWithRetry(ctx context.Context, fetch func() (any, error)) (any, error) {
	var v any
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	err := backoff.Retry(func() error {
		var ferr error
		v, ferr = fetch()
		if ferr != nil {
			var pe interface{ IsPermanent() bool }
			if errors.As(ferr, &pe) && pe.IsPermanent() {
				return backoff.Permanent(ferr)
			}
			return ferr
		}
		return nil
	}, b)
	if err != nil {
		return nil, err
	}
	return v, nil
}
