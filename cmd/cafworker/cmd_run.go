package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the packing pipeline and the retrieval façade together",
		Long: `
The "run" command starts both the packing pipeline and the HTTP retrieval
façade in one process, under a shared cancellation context: a SIGINT/SIGTERM
or a fatal error in either one shuts down both.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, ctx := errgroup.WithContext(cmd.Context())
			cmd.SetContext(ctx)

			g.Go(func() error { return runPack(cmd) })
			g.Go(func() error { return runServe(cmd) })

			return g.Wait()
		},
	}
}
