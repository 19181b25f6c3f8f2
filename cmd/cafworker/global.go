package main

import (
	"github.com/spf13/pflag"

	"github.com/cafworker/cafworker/internal/config"
)

// GlobalOptions holds cafworker's persistent, command-independent flags,
// bound directly onto a config.Config the way global.Options binds
// repository-wide flags (--repo, --quiet, ...).
type GlobalOptions struct {
	config.Config
}

var globalOptions GlobalOptions

func init() {
	f := cmdRoot.PersistentFlags()
	addGlobalFlags(f, &globalOptions)
}

func addGlobalFlags(f *pflag.FlagSet, o *GlobalOptions) {
	f.Int64Var(&o.WorkerID, "worker-id", 0, "selects the catalog worker row and the deterministic HTTP port 6700+worker-id")
	f.StringVar(&o.ChainMode, "chain-mode", "testnet", "remote blob service endpoint set (mainnet|testnet)")
	f.Float64Var(&o.CAFMaxSizeGB, "caf-max-size-gb", 4, "hard ceiling on one container's size, in GiB (<= 32)")
	f.IntVar(&o.CAFTimeoutMinutes, "caf-timeout-minutes", 5, "finalize an in-flight container after this many minutes of inactivity")
	f.IntVar(&o.Prefetch, "prefetch", 1, "queue prefetch count; 1 for the strict single-message guarantee")
	f.StringVar(&o.TempDir, "temp-dir", "", "directory for containers-in-flight and for the retrieval cache")
	f.IntVar(&o.DownloadTimeoutMS, "download-timeout-ms", 300_000, "façade container-download deadline, in milliseconds")
	f.BoolVar(&o.KeepCAFFiles, "keep-caf-files", false, "keep downloaded containers in the local cache after serving")

	f.StringVar(&o.QueueURL, "queue-url", "", "AMQP URL of the work queue broker")
	f.StringVar(&o.QueueName, "queue-name", "cafworker.ingest", "durable queue name to consume from")
	f.StringVar(&o.CatalogDSN, "catalog-path", "", "path to the SQLite catalog database file")

	f.StringVar(&o.S3Endpoint, "s3-endpoint", "", "S3-compatible object-store endpoint")
	f.StringVar(&o.S3Bucket, "s3-bucket", "", "S3-compatible object-store bucket")
	f.StringVar(&o.S3AccessKey, "s3-access-key", "", "S3-compatible object-store access key")
	f.StringVar(&o.S3SecretKey, "s3-secret-key", "", "S3-compatible object-store secret key")

	f.StringVar(&o.B2AccountID, "b2-account-id", "", "Backblaze B2 account id")
	f.StringVar(&o.B2AppKey, "b2-app-key", "", "Backblaze B2 application key")
	f.StringVar(&o.B2MainnetBucket, "b2-mainnet-bucket", "", "Backblaze B2 bucket used when chain-mode=mainnet")
	f.StringVar(&o.B2TestnetBucket, "b2-testnet-bucket", "", "Backblaze B2 bucket used when chain-mode=testnet")

	f.StringSliceVar(&o.AllowedOrigins, "allowed-origin", nil, "CORS origin to allow on the retrieval façade (repeatable)")
}
