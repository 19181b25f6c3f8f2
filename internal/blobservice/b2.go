package blobservice

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Backblaze/blazer/b2"
	"github.com/cenkalti/backoff/v4"

	"github.com/cafworker/cafworker/internal/debug"
	"github.com/cafworker/cafworker/internal/errors"
)

// ChainMode selects which B2 bucket a worker ships containers to.
type ChainMode string

const (
	Mainnet ChainMode = "mainnet"
	Testnet ChainMode = "testnet"
)

// Config configures the B2-backed blob service.
type Config struct {
	AccountID string
	AppKey    string
	Chain     ChainMode
	// MainnetBucket/TestnetBucket name the bucket used for each chain mode.
	MainnetBucket string
	TestnetBucket string
	// WorkerHome is the key prefix containers are shipped under, scoping one
	// worker's uploads within a shared bucket.
	WorkerHome string
	// MaxElapsedTime bounds the retry loop around PutContainer and
	// GetContainer.
	MaxElapsedTime time.Duration
}

func (c Config) bucketName() string {
	if c.Chain == Mainnet {
		return c.MainnetBucket
	}
	return c.TestnetBucket
}

// B2Service ships containers to a Backblaze B2 bucket.
type B2Service struct {
	bucket *b2.Bucket
	cfg    Config
}

var _ Service = &B2Service{}

// NewB2Service authenticates against B2 and resolves the bucket for the
// configured chain mode.
func NewB2Service(ctx context.Context, cfg Config) (*B2Service, error) {
	if cfg.AccountID == "" || cfg.AppKey == "" {
		return nil, errors.Fatalf("blobservice: account id and application key are required")
	}

	cctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	client, err := b2.NewClient(cctx, cfg.AccountID, cfg.AppKey)
	if err != nil {
		return nil, errors.Wrap(err, "blobservice: b2.NewClient")
	}

	bucket, err := client.Bucket(ctx, cfg.bucketName())
	if err != nil {
		return nil, errors.Wrap(err, "blobservice: Bucket")
	}

	debug.Log("blobservice: opened bucket %s (chain=%s)", cfg.bucketName(), cfg.Chain)
	return &B2Service{bucket: bucket, cfg: cfg}, nil
}

func (s *B2Service) objectName(logicalName string) string {
	if s.cfg.WorkerHome == "" {
		return logicalName
	}
	return s.cfg.WorkerHome + "/" + logicalName
}

func (s *B2Service) backoffPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	if s.cfg.MaxElapsedTime > 0 {
		b.MaxElapsedTime = s.cfg.MaxElapsedTime
	}
	return backoff.WithContext(b, ctx)
}

// PutContainer uploads localPath to <worker_home>/<logicalName>, retrying
// transient failures with exponential backoff.
func (s *B2Service) PutContainer(ctx context.Context, logicalName, localPath string) error {
	op := func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "blobservice: open local file"))
		}
		defer f.Close()

		obj := s.bucket.Object(s.objectName(logicalName))
		w := obj.NewWriter(ctx)
		n, err := io.Copy(w, f)
		if err != nil {
			_ = w.Close()
			return errors.Wrap(err, "blobservice: upload")
		}
		if err := w.Close(); err != nil {
			return errors.Wrap(err, "blobservice: finalize upload")
		}

		debug.Log("blobservice: shipped %s (%d bytes)", logicalName, n)
		return nil
	}

	if err := backoff.Retry(op, s.backoffPolicy(ctx)); err != nil {
		return errors.Wrapf(errors.ErrPutFailed, "%s: %v", logicalName, err)
	}
	return nil
}

// GetContainer downloads logicalName into localPath and verifies the result
// is non-empty.
func (s *B2Service) GetContainer(ctx context.Context, logicalName, localPath string) error {
	op := func() error {
		obj := s.bucket.Object(s.objectName(logicalName))
		r := obj.NewReader(ctx)
		defer r.Close()

		f, err := os.Create(localPath)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "blobservice: create local file"))
		}

		n, err := io.Copy(f, r)
		closeErr := f.Close()
		if err != nil {
			return errors.Wrap(err, "blobservice: download")
		}
		if closeErr != nil {
			return errors.Wrap(closeErr, "blobservice: close local file")
		}
		if n == 0 {
			return errors.Errorf("blobservice: downloaded container %s is empty", logicalName)
		}
		return nil
	}

	if err := backoff.Retry(op, s.backoffPolicy(ctx)); err != nil {
		return errors.Wrap(err, "blobservice: GetContainer")
	}
	return nil
}

// GetProofs returns a single proof token for the container: the whole-file
// SHA1 B2 stored for it, or, when B2 has none, a SHA1 derived from the
// logical name and size. It makes one attempt, without the backoff used by
// PutContainer and GetContainer.
func (s *B2Service) GetProofs(ctx context.Context, logicalName string) ([]string, error) {
	obj := s.bucket.Object(s.objectName(logicalName))
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "blobservice: Attrs")
	}

	if len(attrs.SHA1) > 0 && attrs.SHA1 != "none" {
		return []string{attrs.SHA1}, nil
	}

	// large files store one SHA1 per uploaded part instead of a whole-file
	// digest; fall back to deriving one from the attrs we do have so callers
	// always get at least one proof token.
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%d", logicalName, attrs.Size)))
	return []string{hex.EncodeToString(sum[:])}, nil
}
