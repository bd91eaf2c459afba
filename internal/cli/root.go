// Package cli implements the command-line interface for codegraph.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/imyousuf/codegraph/internal/config"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "codegraph",
		Short: "codegraph - load compiled Java archives into a code graph",
		Long: `codegraph reads the class files of a JAR, extracts classes, methods,
inheritance, nesting and call sites, and stores them as a deduplicated
graph in an embedded database.

Commands:
  load       Load an archive into the graph
  watch      Load an archive and reload it whenever it changes
  status     Show graph statistics and recorded loads
  export     Dump the graph as JSON lines
  import     Replace the graph from a JSON-lines dump
  config     Show the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().String("config", "", "config file (default: "+config.DefaultConfigFile+".yaml)")
	rootCmd.PersistentFlags().String("db", config.DefaultDatabase, "directory of the graph database")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose output")

	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
