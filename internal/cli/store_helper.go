package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/imyousuf/codegraph/internal/config"
	"github.com/imyousuf/codegraph/internal/graph/embedded"
	"github.com/imyousuf/codegraph/internal/indexer"
)

// loadConfig builds the configuration from the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// usageError prints the command's usage when err is an argument error.
func usageError(cmd *cobra.Command, err error) error {
	if errors.Is(err, config.ErrArgument) {
		_ = cmd.Usage()
	}
	return err
}

// openStore opens the graph store at the configured database directory.
func openStore(cfg *config.Config) (*embedded.Store, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("%w: no graph database path; use --db", config.ErrArgument)
	}
	store, err := embedded.NewStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	return store, nil
}

// runLogPath returns the run log file kept next to the database directory.
func runLogPath(db string) string {
	return db + ".runs.json"
}

// recordRun appends a run to the run log, logging rather than failing on
// errors since the graph itself is already written.
func recordRun(cfg *config.Config, req indexer.Request, res *indexer.Result, runErr error, logFn func(string, ...any)) {
	path := runLogPath(cfg.Database)
	runs, err := indexer.LoadRunLog(path)
	if err != nil {
		logFn("Warning: %v", err)
		runs = &indexer.RunLog{}
	}
	runs.Record(req, res, runErr)
	if err := runs.Save(path); err != nil {
		logFn("Warning: %v", err)
	}
}

// addArchiveFlags registers the flags that describe an archive load.
func addArchiveFlags(fs *pflag.FlagSet) {
	fs.BoolP("reset", "r", false, "wipe the whole graph before loading")
	fs.StringP("file", "f", "", "archive (JAR) to load (required)")
	fs.StringP("group-id", "g", "", "group id of the archive")
	fs.StringP("artifact-id", "a", "", "artifact id of the archive")
	fs.StringP("version", "v", "", "version of the archive")
	fs.StringSliceP("packages", "p", config.DefaultPackages, "package prefixes to filter (recorded, not applied)")
	fs.Int("cache-size", config.DefaultCacheSize, "identity cache size; 0 disables the cache")
}

func stderrLogger(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func newIndexer(cfg *config.Config, store *embedded.Store) (*indexer.Indexer, error) {
	return indexer.NewIndexer(indexer.IndexerConfig{
		GraphStore:     store,
		CacheSize:      cfg.CacheSize,
		PackageFilters: cfg.Packages,
		Verbose:        cfg.Verbose,
		Logger:         stderrLogger,
	})
}

func requestFor(cfg *config.Config, reset bool) indexer.Request {
	return indexer.Request{
		ArchivePath: cfg.Archive.File,
		Coordinates: indexer.Coordinates{
			GroupID:    cfg.Archive.GroupID,
			ArtifactID: cfg.Archive.ArtifactID,
			Version:    cfg.Archive.Version,
		},
		Reset: reset,
	}
}
