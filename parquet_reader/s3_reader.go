package parquet_reader

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/danthegoodman1/icequery/utils"
)

type (
	// S3ReaderAt serves ranged reads against one S3 object so parquet files
	// can be queried in place: the footer and the touched pages are the only
	// bytes ever transferred.
	S3ReaderAt struct {
		client *s3.S3
		bucket string
		key    string
		size   int64
	}
)

func NewS3ReaderAt(ctx context.Context, bucket, key string) (*S3ReaderAt, error) {
	s3Config := &aws.Config{
		Region:      aws.String(utils.AWS_DEFAULT_REGION),
		Credentials: credentials.NewEnvCredentials(),
	}
	if utils.S3_ENDPOINT != "" {
		s3Config.Endpoint = aws.String(utils.S3_ENDPOINT)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}

	r := &S3ReaderAt{
		client: s3.New(s3Session),
		bucket: bucket,
		key:    key,
	}

	s := time.Now()
	head, err := r.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("error in HeadObject: %w", err)
	}
	r.size = aws.Int64Value(head.ContentLength)

	d := time.Since(s)
	logger.Debug().Str("bucket", bucket).Str("key", key).Int64("bytes", r.size).Int64("durationNS", d.Nanoseconds()).Msg("headed s3 object")
	return r, nil
}

func (r *S3ReaderAt) Size() int64 {
	return r.size
}

func (r *S3ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end > r.size-1 {
		end = r.size - 1
	}

	out, err := r.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, fmt.Errorf("error in GetObject: %w", err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p[:end-off+1])
	if err != nil {
		return n, fmt.Errorf("error reading object body: %w", err)
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// OpenS3 opens a parquet object through ranged reads.
func OpenS3(ctx context.Context, bucket, key string) (*ParquetReader, error) {
	ra, err := NewS3ReaderAt(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return Open(ra, ra.Size(), key)
}
