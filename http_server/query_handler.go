package http_server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danthegoodman1/icequery/parquet_reader"
	"github.com/danthegoodman1/icequery/pipeline"
	"github.com/danthegoodman1/icequery/query"
	"github.com/danthegoodman1/icequery/reader"
	"github.com/danthegoodman1/icequery/utils"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type (
	QueryReqBody struct {
		// Files are local paths or s3://bucket/key URLs.
		Files []string `validate:"required,min=1"`

		Filter []any
		Fields []query.FieldSpec `validate:"required,min=1"`
		Sort   *query.SortSpec
		Post   []query.PostSpec

		// MaxRuntimeSec defaults to 60.
		MaxRuntimeSec *int64
	}
)

func (s *HTTPServer) QueryHandler(c *CustomContext) error {
	var reqBody QueryReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*time.Duration(utils.Deref(reqBody.MaxRuntimeSec, 60)))
	defer cancel()

	logger := zerolog.Ctx(ctx)

	var readers []reader.Reader
	defer func() {
		for _, rdr := range readers {
			if pr, ok := rdr.(*parquet_reader.ParquetReader); ok {
				pr.Close()
			}
		}
	}()
	for _, file := range reqBody.Files {
		pr, err := openFile(ctx, file)
		if err != nil {
			return c.InternalError(err, "error opening file "+file)
		}
		readers = append(readers, pr)
	}

	p, err := pipeline.New(readers, s.Cache, query.Spec{
		Filter: reqBody.Filter,
		Fields: reqBody.Fields,
		Sort:   reqBody.Sort,
		Post:   reqBody.Post,
	})
	if err != nil {
		var specErr utils.SpecError
		var schemaErr utils.SchemaError
		if errors.As(err, &specErr) || errors.As(err, &schemaErr) {
			return c.String(http.StatusBadRequest, err.Error())
		}
		return c.InternalError(err, "error building pipeline")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	res.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(res)

	start := time.Now()
	numRecords := 0
	err = p.Run(ctx, func(rec pipeline.Record) error {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("error encoding record: %w", err)
		}
		numRecords++
		res.Flush()
		return nil
	})
	if err != nil {
		// the response already started streaming, all we can do is log
		logger.Error().Err(err).Msg("error running pipeline")
		return nil
	}

	logger.Debug().Int("numRecords", numRecords).Int64("durationNS", time.Since(start).Nanoseconds()).Msg("query finished")
	return nil
}

func openFile(ctx context.Context, file string) (*parquet_reader.ParquetReader, error) {
	if strings.HasPrefix(file, "s3://") {
		trimmed := strings.TrimPrefix(file, "s3://")
		bucket, key, ok := strings.Cut(trimmed, "/")
		if !ok {
			return nil, utils.PermError("s3 url must look like s3://bucket/key")
		}
		return parquet_reader.OpenS3(ctx, bucket, key)
	}
	return parquet_reader.OpenFile(file)
}
