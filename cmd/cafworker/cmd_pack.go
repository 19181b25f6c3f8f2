package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cafworker/cafworker/internal/archiver"
	"github.com/cafworker/cafworker/internal/debug"
)

func newPackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pack",
		Short: "Run the packing pipeline: consume the queue, ship containers, index the catalog",
		Long: `
The "pack" command runs the packing pipeline only: it consumes queue
messages, streams source bytes from the object store into CAF containers,
and on finalization ships each container to the remote blob service and
indexes it in the catalog. Run "serve" separately, or use "run" to do both
under one process.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPack(cmd)
		},
	}
}

func runPack(cmd *cobra.Command) error {
	cfg := globalOptions.Config
	ctx := cmd.Context()

	cat, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	store, err := openObjectStore(cfg)
	if err != nil {
		return err
	}

	blob, err := openBlobService(ctx, cfg)
	if err != nil {
		return err
	}

	consumer, err := openQueueConsumer(cfg)
	if err != nil {
		return err
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		return err
	}

	pipeline := archiver.New(archiver.Config{
		WorkerID:      itoa(cfg.WorkerID),
		TempDir:       cfg.TempDir,
		BudgetBytes:   cfg.CAFMaxSizeBytes(),
		InactivityGap: time.Duration(cfg.CAFTimeoutMinutes) * time.Minute,
	}, store, blob, cat)

	debug.Log("pack: pipeline starting, worker_id=%s temp_dir=%s", itoa(cfg.WorkerID), cfg.TempDir)
	return pipeline.Run(ctx, deliveries)
}
