package objectstore

import (
	"context"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cafworker/cafworker/internal/debug"
	"github.com/cafworker/cafworker/internal/errors"
)

// S3Config configures the S3-compatible object-store adapter.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// S3Store streams source files from an S3-compatible endpoint, in the
// style of internal/backend/s3's client setup.
type S3Store struct {
	client *minio.Client
	bucket string
}

var _ Store = &S3Store{}

// NewS3Store dials the configured endpoint. Connection failures surface
// lazily on first use, matching minio.New's non-blocking constructor.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: debug.RoundTripper(http.DefaultTransport),
	})
	if err != nil {
		return nil, errors.Wrap(err, "objectstore: minio.New")
	}
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// OpenStream opens a streaming GET for the sanitized key and returns its
// declared length from the object's Content-Length.
func (s *S3Store) OpenStream(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	objName := SanitizeKey(key)

	obj, err := s.client.GetObject(ctx, s.bucket, objName, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, errors.Wrap(err, "objectstore: GetObject")
	}

	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, 0, errors.Wrapf(errors.ErrMemberNotFound, "object-store key %q", objName)
		}
		return nil, 0, errors.Wrap(err, "objectstore: Stat")
	}

	debug.Log("objectstore: opened stream for %s (%d bytes)", objName, info.Size)
	return obj, info.Size, nil
}

func isNoSuchKey(err error) bool {
	var e minio.ErrorResponse
	return errors.As(err, &e) && e.Code == "NoSuchKey"
}
