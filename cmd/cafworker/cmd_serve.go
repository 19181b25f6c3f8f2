package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cafworker/cafworker/internal/cache"
	"github.com/cafworker/cafworker/internal/debug"
	"github.com/cafworker/cafworker/internal/facade"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP retrieval façade",
		Long: `
The "serve" command runs the retrieval façade only: it answers /health,
/file, /file-info, and /file-proof by resolving catalog records to cached,
downloaded containers. Run "pack" separately, or use "run" to do both under
one process.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg := globalOptions.Config
	ctx := cmd.Context()

	cat, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	blob, err := openBlobService(ctx, cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return err
	}

	policy := cache.DeleteAfterServe
	if cfg.KeepCAFFiles {
		policy = cache.KeepForever
	}
	containerCache := cache.NewContainerCache(cfg.TempDir, policy)
	proofCache := cache.NewProofCache(4096)

	srv := facade.New(facade.Config{
		WorkerID:        itoa(cfg.WorkerID),
		AllowedOrigins:  cfg.AllowedOrigins,
		DownloadTimeout: time.Duration(cfg.DownloadTimeoutMS) * time.Millisecond,
		KeepCAFFiles:    cfg.KeepCAFFiles,
	}, cat, blob, containerCache, proofCache)

	httpServer := &http.Server{
		Addr:    portAddr(cfg.HTTPPort()),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		debug.Log("serve: listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func portAddr(port int) string {
	return ":" + itoa(int64(port))
}
