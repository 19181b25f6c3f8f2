package main

import (
	"context"

	"github.com/cafworker/cafworker/internal/blobservice"
	"github.com/cafworker/cafworker/internal/catalog"
	"github.com/cafworker/cafworker/internal/config"
	"github.com/cafworker/cafworker/internal/objectstore"
	"github.com/cafworker/cafworker/internal/queue"
)

// openCatalog opens the SQLite catalog and resolves the configured worker's
// identity row, failing fast (exit code 1) if either is unreachable.
func openCatalog(cfg config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.Open(cfg.CatalogDSN)
	if err != nil {
		return nil, err
	}
	if _, err := cat.WorkerIdentity(cfg.WorkerID); err != nil {
		_ = cat.Close()
		return nil, err
	}
	return cat, nil
}

func openObjectStore(cfg config.Config) (objectstore.Store, error) {
	return objectstore.NewS3Store(objectstore.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    true,
	})
}

func openBlobService(ctx context.Context, cfg config.Config) (blobservice.Service, error) {
	chain := blobservice.Testnet
	if cfg.ChainMode == "mainnet" {
		chain = blobservice.Mainnet
	}
	return blobservice.NewB2Service(ctx, blobservice.Config{
		AccountID:     cfg.B2AccountID,
		AppKey:        cfg.B2AppKey,
		Chain:         chain,
		MainnetBucket: cfg.B2MainnetBucket,
		TestnetBucket: cfg.B2TestnetBucket,
		WorkerHome:    workerHome(cfg.WorkerID),
	})
}

func openQueueConsumer(cfg config.Config) (queue.Consumer, error) {
	return queue.NewAMQPConsumer(queue.Config{
		URL:       cfg.QueueURL,
		QueueName: cfg.QueueName,
		Prefetch:  cfg.Prefetch,
	})
}

func workerHome(workerID int64) string {
	return "worker-" + itoa(workerID)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
