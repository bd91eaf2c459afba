package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/imyousuf/codegraph/internal/indexer"
)

func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load an archive into the graph",
		Long: `Load the class files of an archive into the graph.

A load replaces whatever an earlier load with the same group id, artifact id
and version wrote. --reset wipes the whole graph first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return usageError(cmd, err)
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			idx, err := newIndexer(cfg, store)
			if err != nil {
				return err
			}

			req := requestFor(cfg, cfg.Reset)
			res, err := idx.Index(cmd.Context(), req)
			recordRun(cfg, req, res, err, stderrLogger)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), req, res)
			return nil
		},
	}

	addArchiveFlags(cmd.Flags())

	return cmd
}

func printResult(out io.Writer, req indexer.Request, res *indexer.Result) {
	fmt.Fprintf(out, "Loaded %s as %s in %s\n", res.Archive, req.Coordinates, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  Class files: %d\n", res.Entries)
	fmt.Fprintf(out, "  Classes:     %d\n", res.Counts.Classes)
	fmt.Fprintf(out, "  Methods:     %d\n", res.Counts.Methods)
	fmt.Fprintf(out, "  Call sites:  %d\n", res.Counts.Calls)
	if res.Replaced > 0 {
		fmt.Fprintf(out, "  Replaced %d nodes from the previous load\n", res.Replaced)
	}
}
