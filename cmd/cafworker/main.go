package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cafworker/cafworker/internal/debug"
	"github.com/cafworker/cafworker/internal/errors"
	"github.com/cafworker/cafworker/internal/version"
)

func init() {
	// don't import `go.uber.org/automaxprocs` to disable the log output
	_, _ = maxprocs.Set()
}

// cmdRoot is the base command when no subcommand has been specified.
var cmdRoot = &cobra.Command{
	Use:   "cafworker",
	Short: "Stateful batch-packing worker for the Chunk Archive Format",
	Long: `
cafworker consumes per-file upload requests from a work queue, packs their
bytes into Chunk Archive Format containers, ships finished containers to a
remote blob service, and indexes them in a catalog. A companion HTTP façade
extracts individual files on demand.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,

	PersistentPreRunE: func(c *cobra.Command, _ []string) error {
		if !needsFullConfig(c.Name()) {
			return nil
		}
		return globalOptions.Config.Validate()
	},
}

// needsFullConfig distinguishes commands that drive the queue/blob/catalog
// stack from maintenance commands that only touch a local CAF file, so
// "verify" doesn't demand queue or blob credentials just to inspect a
// container on disk.
func needsFullConfig(cmd string) bool {
	switch cmd {
	case "verify", "help":
		return false
	default:
		return true
	}
}

func init() {
	cmdRoot.AddCommand(newPackCommand())
	cmdRoot.AddCommand(newServeCommand())
	cmdRoot.AddCommand(newRunCommand())
	cmdRoot.AddCommand(newVerifyCommand())
}

func main() {
	debug.Log("main %#v", os.Args)
	debug.Log("cafworker %s compiled with %v on %v/%v",
		version.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

	ctx := createGlobalContext()
	err := cmdRoot.ExecuteContext(ctx)

	if err == nil {
		err = ctx.Err()
	}

	exitCode := 0
	switch {
	case err == nil:
		exitCode = 0
	case errors.Is(err, context.Canceled):
		// Graceful shutdown via SIGINT/SIGTERM.
		exitCode = 0
	case errors.IsFatal(err):
		fmt.Fprintln(os.Stderr, err.Error())
		exitCode = 1
	case err != nil:
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		exitCode = 1
	}

	Exit(exitCode)
}
