package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cafworker/cafworker/internal/caf"
)

// newVerifyCommand opens a CAF container directly off disk and validates
// its index without going through the queue, blob service, or catalog, for
// operators diagnosing a container that failed façade validation.
func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <container-path>",
		Short: "Validate a CAF container's footer and index without the rest of the stack",
		Long: `
The "verify" command loads a single CAF container file, parses its footer
and index the way the retrieval façade does, and reports the member count
and total payload size. It exits non-zero if the container is corrupt or
uses an unsupported format version.
`,
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, args[0])
		},
	}
}

func runVerify(cmd *cobra.Command, path string) error {
	reader, err := caf.NewReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := reader.LoadIndex(); err != nil {
		return err
	}

	members, err := reader.List()
	if err != nil {
		return err
	}

	var total int64
	for _, m := range members {
		rng, err := reader.Metadata(m)
		if err != nil {
			return err
		}
		total += rng.Len()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d members, %d bytes of payload\n", path, len(members), total)
	return nil
}
