// Package indexer loads a code archive into the graph: it opens the archive,
// optionally wipes the store, replaces any previous load of the same
// coordinates, and feeds every class file through the loader.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/imyousuf/codegraph/internal/classfile"
	"github.com/imyousuf/codegraph/internal/graph"
	"github.com/imyousuf/codegraph/internal/loader"
)

var (
	// ErrArchiveNotFound is returned when the archive path does not exist.
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrArchiveUnreadable is returned when the archive exists but cannot be
	// opened as a zip file.
	ErrArchiveUnreadable = errors.New("archive unreadable")
)

// State is a step of an indexing run.
type State int

const (
	Idle State = iota
	Opening
	Resetting
	Scanning
	Done
	Failed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Opening:
		return "Opening"
	case Resetting:
		return "Resetting"
	case Scanning:
		return "Scanning"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Coordinates identify an archive: every node of one run shares Version, and
// a run replaces the previous run with the same coordinates.
type Coordinates struct {
	GroupID    string `json:"group_id"`
	ArtifactID string `json:"artifact_id"`
	Version    string `json:"version"`
}

func (c Coordinates) String() string {
	return c.GroupID + ":" + c.ArtifactID + ":" + c.Version
}

// Request describes one indexing run.
type Request struct {
	ArchivePath string
	Coordinates Coordinates
	// Reset wipes the entire store, every archive included, before scanning.
	Reset bool
}

// Result summarizes an indexing run.
type Result struct {
	State       State         `json:"state"`
	Transitions []State       `json:"transitions"`
	Archive     string        `json:"archive"`
	Entries     int           `json:"entries"`
	Replaced    int           `json:"replaced"`
	Counts      loader.Counts `json:"counts"`
	Duration    time.Duration `json:"duration"`
}

// IndexerConfig holds configuration for the Indexer.
type IndexerConfig struct {
	GraphStore graph.Store
	// CacheSize bounds the resolver's identity cache; zero disables it.
	CacheSize int
	// PackageFilters is accepted and reported but not applied to entries.
	PackageFilters []string
	Verbose        bool
	Logger         func(format string, args ...any) // optional logger, defaults to fmt.Fprintf(os.Stderr, ...)
}

// Indexer orchestrates archive loading. It is safe for concurrent use: runs
// for the same coordinates are serialized, and a reset excludes all other runs.
type Indexer struct {
	store    graph.Store
	resolver *loader.Resolver
	filters  []string
	verbose  bool
	log      func(format string, args ...any)
	locks    *identityLocks
}

// NewIndexer creates a new Indexer with the given configuration.
func NewIndexer(cfg IndexerConfig) (*Indexer, error) {
	resolver, err := loader.NewResolver(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	logFn := cfg.Logger
	if logFn == nil {
		logFn = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}
	return &Indexer{
		store:    cfg.GraphStore,
		resolver: resolver,
		filters:  cfg.PackageFilters,
		verbose:  cfg.Verbose,
		log:      logFn,
		locks:    newIdentityLocks(),
	}, nil
}

// Store returns the underlying graph store used by this Indexer.
func (idx *Indexer) Store() graph.Store {
	return idx.store
}

// run tracks the state of one Index call.
type run struct {
	idx    *Indexer
	result *Result
	start  time.Time
}

func (r *run) enter(s State) {
	r.result.State = s
	r.result.Transitions = append(r.result.Transitions, s)
	if r.idx.verbose {
		r.idx.log("[%s] %s", r.result.Archive, s)
	}
}

func (r *run) fail(err error) (*Result, error) {
	r.enter(Failed)
	r.result.Duration = time.Since(r.start)
	r.idx.log("Indexing %s failed: %v", r.result.Archive, err)
	return r.result, err
}

// Index runs Opening -> [Resetting] -> Scanning -> Done. The first failure
// moves the run to Failed and stops it; entries after the failing one are
// not visited and nothing is retried.
func (idx *Indexer) Index(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		idx:    idx,
		result: &Result{Archive: filepath.Base(req.ArchivePath), Transitions: []State{Idle}},
		start:  time.Now(),
	}

	r.enter(Opening)
	zr, err := openArchive(req.ArchivePath)
	if err != nil {
		return r.fail(err)
	}
	defer zr.Close()

	if req.Reset {
		unlock := idx.locks.lockAll()
		r.enter(Resetting)
		err := idx.store.DropAll(ctx)
		idx.resolver.Purge()
		unlock()
		if err != nil {
			return r.fail(fmt.Errorf("reset store: %w", err))
		}
	}

	unlock := idx.locks.lock(req.Coordinates.String())
	defer unlock()

	r.enter(Scanning)
	if len(idx.filters) > 0 && idx.verbose {
		idx.log("  package filters %v are recorded but not applied", idx.filters)
	}

	replaced, err := idx.replace(ctx, req.Coordinates)
	if err != nil {
		return r.fail(fmt.Errorf("replace %s: %w", req.Coordinates, err))
	}
	r.result.Replaced = replaced

	mut := loader.NewMutator(idx.store, idx.resolver, req.Coordinates.Version)
	archive, err := idx.createArchive(ctx, mut, req)
	if err != nil {
		return r.fail(err)
	}

	x := loader.NewExtractor(loader.ExtractorConfig{
		Mutator: mut,
		Verbose: idx.verbose,
		Logger:  idx.log,
	})
	for _, f := range zr.File {
		if !isClassEntry(f.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}
		counts, err := idx.indexEntry(ctx, x, archive, f)
		r.result.Counts.Add(counts)
		if err != nil {
			return r.fail(fmt.Errorf("entry %s: %w", f.Name, err))
		}
		r.result.Entries++
		if idx.verbose && r.result.Entries%500 == 0 {
			idx.log("  Progress: %d class files indexed...", r.result.Entries)
		}
	}

	r.enter(Done)
	r.result.Duration = time.Since(r.start)
	if idx.verbose {
		idx.log("Indexed %s (%s): %d class files, %d classes, %d methods, %d calls in %s",
			r.result.Archive, req.Coordinates, r.result.Entries, r.result.Counts.Classes,
			r.result.Counts.Methods, r.result.Counts.Calls, r.result.Duration)
	}
	return r.result, nil
}

func openArchive(path string) (*zip.ReadCloser, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveUnreadable, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrArchiveUnreadable, path)
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveUnreadable, path, err)
	}
	return zr, nil
}

func isClassEntry(name string) bool {
	return strings.HasSuffix(name, ".class") && !strings.HasSuffix(name, "/")
}

// replace deletes the archive node(s) with the given coordinates and every
// Class and Method node sharing its version. It returns the number of nodes
// deleted. The deletion is batched and not atomic as a whole.
func (idx *Indexer) replace(ctx context.Context, c Coordinates) (int, error) {
	var ids []string
	err := idx.store.View(ctx, func(r graph.Reader) error {
		keys := []graph.Attrs{
			graph.ArchiveKey(c.GroupID, c.ArtifactID, c.Version),
			{graph.AttrVersion: c.Version, graph.AttrType: string(graph.NodeClass)},
			{graph.AttrVersion: c.Version, graph.AttrType: string(graph.NodeMethod)},
		}
		for _, key := range keys {
			nodes, err := r.Lookup(key)
			if err != nil {
				return err
			}
			for _, n := range nodes {
				ids = append(ids, n.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if idx.verbose {
		idx.log("  replacing %d nodes from a previous run of %s", len(ids), c)
	}
	err = idx.store.DeleteNodes(ctx, ids)
	idx.resolver.Purge()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (idx *Indexer) createArchive(ctx context.Context, mut *loader.Mutator, req Request) (*graph.Node, error) {
	c := req.Coordinates
	var archive *graph.Node
	err := mut.Unit(ctx, "archive "+c.String(), func(u *loader.Unit) error {
		var err error
		archive, err = u.Archive(filepath.Base(req.ArchivePath), c.GroupID, c.ArtifactID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return archive, nil
}

func (idx *Indexer) indexEntry(ctx context.Context, x *loader.Extractor, archive *graph.Node, f *zip.File) (loader.Counts, error) {
	rc, err := f.Open()
	if err != nil {
		return loader.Counts{}, fmt.Errorf("open: %w", err)
	}
	cf, err := classfile.Decode(rc)
	rc.Close()
	if err != nil {
		return loader.Counts{}, fmt.Errorf("decode: %w", err)
	}
	return x.Extract(ctx, archive, cf.Events())
}
