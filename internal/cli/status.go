package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/imyousuf/codegraph/internal/graph"
	"github.com/imyousuf/codegraph/internal/indexer"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show graph statistics and recorded loads",
		Args:  cobra.NoArgs,
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

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}
			runs, err := indexer.LoadRunLog(runLogPath(cfg.Database))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("Code Graph Status"))
			fmt.Fprintln(out, headerStyle.Render(strings.Repeat("=", 17)))
			fmt.Fprintln(out)

			printKV(out, "Database", cfg.Database)
			printKV(out, "Total nodes", fmt.Sprint(stats.NodeCount))
			printKV(out, "Total edges", fmt.Sprint(stats.EdgeCount))
			fmt.Fprintln(out)

			if len(stats.NodesByType) > 0 {
				printSection(out, "Nodes by type")
				for _, nt := range sortedNodeTypes(stats.NodesByType) {
					printKV(out, string(nt), fmt.Sprint(stats.NodesByType[nt]))
				}
				fmt.Fprintln(out)
			}

			if len(stats.EdgesByType) > 0 {
				printSection(out, "Edges by type")
				for _, et := range sortedEdgeTypes(stats.EdgesByType) {
					printKV(out, string(et), fmt.Sprint(stats.EdgesByType[et]))
				}
				fmt.Fprintln(out)
			}

			records := runs.Records()
			if len(records) > 0 || !runs.LastReset.IsZero() {
				printSection(out, "Loads")
				if !runs.LastReset.IsZero() {
					printKV(out, "Last reset", runs.LastReset.Format(time.RFC3339))
				}
				for _, rec := range records {
					line := fmt.Sprintf("%s  %d classes, %d methods, %d calls  (%s)",
						rec.State, rec.Classes, rec.Methods, rec.Calls, rec.Timestamp.Format(time.RFC3339))
					if rec.Error != "" {
						line = errorStyle.Render(rec.State + ": " + rec.Error)
					}
					fmt.Fprintf(out, "    %s  %s\n", headerStyle.Render(rec.Coordinates.String()), line)
				}
				fmt.Fprintln(out)
			}

			return nil
		},
	}

	return cmd
}

func sortedNodeTypes(m map[graph.NodeType]int64) []graph.NodeType {
	keys := make([]graph.NodeType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedEdgeTypes(m map[graph.EdgeType]int64) []graph.EdgeType {
	keys := make([]graph.EdgeType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
