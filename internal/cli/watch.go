package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/imyousuf/codegraph/internal/indexer"
	"github.com/imyousuf/codegraph/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Load an archive and reload it whenever it changes",
		Args:  cobra.NoArgs,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			load := func(reset bool) {
				req := requestFor(cfg, reset)
				res, err := idx.Index(ctx, req)
				recordRun(cfg, req, res, err, stderrLogger)
				if err != nil {
					// Keep watching; the next write may fix the archive.
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					return
				}
				printResult(out, req, res)
			}

			// The reset flag applies to the first load only.
			load(cfg.Reset)

			w, err := watcher.NewWatcher(watcher.WatcherConfig{
				Archives: []string{cfg.Archive.File},
				Debounce: cfg.Watch.Debounce,
				Logger:   stderrLogger,
			})
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			defer w.Close()

			events, err := w.Start(ctx)
			if err != nil {
				return fmt.Errorf("start watcher: %w", err)
			}
			fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n", cfg.Archive.File)

			return watchLoop(ctx, events, func(evt watcher.Event) {
				if evt.Op == watcher.Remove || evt.Op == watcher.Rename {
					if _, err := os.Stat(cfg.Archive.File); err != nil {
						fmt.Fprintf(out, "%s was removed; waiting for it to reappear\n", cfg.Archive.File)
						return
					}
				}
				runs, err := indexer.LoadRunLog(runLogPath(cfg.Database))
				if err == nil && runs.Unchanged(requestFor(cfg, false).Coordinates, cfg.Archive.File) {
					if cfg.Verbose {
						stderrLogger("%s unchanged since the last load", cfg.Archive.File)
					}
					return
				}
				fmt.Fprintf(out, "%s changed (%s), reloading\n", cfg.Archive.File, evt.Op)
				load(false)
			})
		},
	}

	addArchiveFlags(cmd.Flags())
	cmd.Flags().Duration("debounce", 0, "quiet period after the last change before reloading (default 500ms)")

	return cmd
}

// watchLoop hands every event to handle until ctx is done or events closes.
func watchLoop(ctx context.Context, events <-chan watcher.Event, handle func(watcher.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			handle(evt)
		}
	}
}
