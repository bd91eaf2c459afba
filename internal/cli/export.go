package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/imyousuf/codegraph/internal/graph"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Dump the graph as JSON lines (stdout if no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var w io.Writer = cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				defer f.Close()
				w = f
			}
			bw := bufio.NewWriter(w)
			var exp graph.Exporter = store
			if err := exp.Export(cmd.Context(), bw); err != nil {
				return fmt.Errorf("export graph: %w", err)
			}
			return bw.Flush()
		},
	}
	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the graph with the contents of a JSON-lines dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var imp graph.Importer = store
			if err := imp.Import(cmd.Context(), bufio.NewReader(f)); err != nil {
				return fmt.Errorf("import graph: %w", err)
			}
			// The run log describes loads the imported graph may not contain.
			if err := os.Remove(runLogPath(cfg.Database)); err != nil && !os.IsNotExist(err) {
				stderrLogger("Warning: %v", err)
			}

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d nodes and %d edges\n", stats.NodeCount, stats.EdgeCount)
			return nil
		},
	}
	return cmd
}
