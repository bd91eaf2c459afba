package indexer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imyousuf/codegraph/internal/classfile/classfiletest"
	"github.com/imyousuf/codegraph/internal/graph"
	"github.com/imyousuf/codegraph/internal/graph/embedded"
)

// writeJar writes a zip archive holding the given entries to dir/name.
func writeJar(t *testing.T, dir, name string, entries map[string][]byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for entry, data := range entries {
		w, err := zw.Create(entry)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func setupTestIndexer(t *testing.T) (*Indexer, *embedded.Store) {
	t.Helper()
	store, err := embedded.NewInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	idx, err := NewIndexer(IndexerConfig{
		GraphStore:     store,
		CacheSize:      64,
		PackageFilters: []string{"sun", "com.sun"},
		Verbose:        true,
		Logger:         t.Logf,
	})
	require.NoError(t, err)
	return idx, store
}

// fooJar holds Foo extends Object with bar() calling Baz.qux().
func fooJar(t *testing.T, dir string) string {
	foo := classfiletest.New("Foo").
		Method("bar", "()V").Call(classfiletest.InvokeStatic, "Baz", "qux", "()V").Done().
		Bytes()
	return writeJar(t, dir, "foo.jar", map[string][]byte{
		"Foo.class":            foo,
		"META-INF/MANIFEST.MF": []byte("Manifest-Version: 1.0\n"),
	})
}

func stats(t *testing.T, store graph.Store) *graph.GraphStats {
	t.Helper()
	s, err := store.Stats(context.Background())
	require.NoError(t, err)
	return s
}

func lookupOne(t *testing.T, store graph.Store, attrs graph.Attrs) *graph.Node {
	t.Helper()
	var n *graph.Node
	require.NoError(t, store.View(context.Background(), func(r graph.Reader) error {
		var err error
		n, err = graph.LookupOne(r, attrs)
		return err
	}))
	return n
}

func outgoing(t *testing.T, store graph.Store, id string, et graph.EdgeType) []*graph.Edge {
	t.Helper()
	var edges []*graph.Edge
	require.NoError(t, store.View(context.Background(), func(r graph.Reader) error {
		var err error
		edges, err = r.Edges(id, et, graph.Outgoing)
		return err
	}))
	return edges
}

func TestIndexArchive(t *testing.T) {
	idx, store := setupTestIndexer(t)
	path := fooJar(t, t.TempDir())

	res, err := idx.Index(context.Background(), Request{
		ArchivePath: path,
		Coordinates: Coordinates{GroupID: "g", ArtifactID: "a", Version: "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, Done, res.State)
	assert.Equal(t, []State{Idle, Opening, Scanning, Done}, res.Transitions)
	assert.Equal(t, 1, res.Entries)
	assert.Equal(t, 1, res.Counts.Classes)
	assert.Equal(t, 1, res.Counts.Methods)
	assert.Equal(t, 1, res.Counts.Calls)

	s := stats(t, store)
	assert.Equal(t, int64(1), s.NodesByType[graph.NodeArchive])
	assert.Equal(t, int64(2), s.NodesByType[graph.NodeClass])
	assert.Equal(t, int64(2), s.NodesByType[graph.NodeMethod])
	assert.Equal(t, int64(4), s.EdgeCount)

	archive := lookupOne(t, store, graph.ArchiveKey("g", "a", "1"))
	require.NotNil(t, archive)
	assert.Equal(t, "foo.jar", archive.Name)

	foo := lookupOne(t, store, graph.ClassKey("Foo", "1"))
	object := lookupOne(t, store, graph.ClassKey("java.lang.Object", "1"))
	bar := lookupOne(t, store, graph.MethodKey("bar", "Foo", "()V", "1"))
	qux := lookupOne(t, store, graph.MethodKey("qux", "Baz", "()V", "1"))
	require.NotNil(t, foo)
	require.NotNil(t, object)
	require.NotNil(t, bar)
	require.NotNil(t, qux)
	assert.Nil(t, lookupOne(t, store, graph.ClassKey("Baz", "1")), "call owners do not become classes")

	contains := outgoing(t, store, archive.ID, graph.EdgeContains)
	require.Len(t, contains, 1)
	assert.Equal(t, foo.ID, contains[0].TargetID)

	extends := outgoing(t, store, foo.ID, graph.EdgeExtends)
	require.Len(t, extends, 1)
	assert.Equal(t, object.ID, extends[0].TargetID)

	members := outgoing(t, store, foo.ID, graph.EdgeContains)
	require.Len(t, members, 1)
	assert.Equal(t, bar.ID, members[0].TargetID)

	calls := outgoing(t, store, bar.ID, graph.EdgeCalls)
	require.Len(t, calls, 1)
	assert.Equal(t, qux.ID, calls[0].TargetID)
}

func TestIndexEmptyGroupID(t *testing.T) {
	idx, store := setupTestIndexer(t)
	path := fooJar(t, t.TempDir())
	req := Request{ArchivePath: path, Coordinates: Coordinates{ArtifactID: "a", Version: "1"}}

	_, err := idx.Index(context.Background(), req)
	require.NoError(t, err)
	res, err := idx.Index(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Replaced)
	assert.Equal(t, int64(1), stats(t, store).NodesByType[graph.NodeArchive])
}

func TestIndexRerunReplaces(t *testing.T) {
	idx, store := setupTestIndexer(t)
	path := fooJar(t, t.TempDir())
	req := Request{ArchivePath: path, Coordinates: Coordinates{GroupID: "g", ArtifactID: "a", Version: "1"}}

	_, err := idx.Index(context.Background(), req)
	require.NoError(t, err)
	before := stats(t, store)

	res, err := idx.Index(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Replaced)

	after := stats(t, store)
	assert.Equal(t, before.NodeCount, after.NodeCount)
	assert.Equal(t, before.EdgeCount, after.EdgeCount, "a rerun must not duplicate edges")
}

func TestIndexOtherVersionIsKept(t *testing.T) {
	idx, store := setupTestIndexer(t)
	path := fooJar(t, t.TempDir())

	for _, v := range []string{"1", "2"} {
		_, err := idx.Index(context.Background(), Request{
			ArchivePath: path,
			Coordinates: Coordinates{GroupID: "g", ArtifactID: "a", Version: v},
		})
		require.NoError(t, err)
	}

	s := stats(t, store)
	assert.Equal(t, int64(2), s.NodesByType[graph.NodeArchive])
	assert.Equal(t, int64(4), s.NodesByType[graph.NodeClass])
	assert.NotNil(t, lookupOne(t, store, graph.ClassKey("Foo", "1")))
	assert.NotNil(t, lookupOne(t, store, graph.ClassKey("Foo", "2")))
}

func TestIndexReset(t *testing.T) {
	idx, store := setupTestIndexer(t)
	dir := t.TempDir()
	path := fooJar(t, dir)

	_, err := idx.Index(context.Background(), Request{
		ArchivePath: path,
		Coordinates: Coordinates{GroupID: "g", ArtifactID: "old", Version: "0"},
	})
	require.NoError(t, err)

	res, err := idx.Index(context.Background(), Request{
		ArchivePath: path,
		Coordinates: Coordinates{GroupID: "g", ArtifactID: "a", Version: "1"},
		Reset:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, []State{Idle, Opening, Resetting, Scanning, Done}, res.Transitions)

	assert.Nil(t, lookupOne(t, store, graph.ArchiveKey("g", "old", "0")))
	assert.Equal(t, int64(1), stats(t, store).NodesByType[graph.NodeArchive])
}

func TestIndexArchiveErrors(t *testing.T) {
	dir := t.TempDir()
	notZip := filepath.Join(dir, "broken.jar")
	require.NoError(t, os.WriteFile(notZip, []byte("not a zip file"), 0644))

	tests := []struct {
		name string
		path string
		want error
	}{
		{"missing", filepath.Join(dir, "missing.jar"), ErrArchiveNotFound},
		{"directory", dir, ErrArchiveUnreadable},
		{"not a zip", notZip, ErrArchiveUnreadable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, store := setupTestIndexer(t)
			res, err := idx.Index(context.Background(), Request{
				ArchivePath: tt.path,
				Coordinates: Coordinates{Version: "1"},
				Reset:       true,
			})
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, Failed, res.State)
			assert.Equal(t, []State{Idle, Opening, Failed}, res.Transitions)
			assert.Equal(t, int64(0), stats(t, store).NodeCount)
		})
	}
}

func TestIndexAbortsOnBadEntry(t *testing.T) {
	idx, store := setupTestIndexer(t)
	good := classfiletest.New("Good").Method("run", "()V").Done().Bytes()
	path := writeJar(t, t.TempDir(), "mixed.jar", map[string][]byte{
		"Bad.class":  []byte{0xde, 0xad, 0xbe, 0xef},
		"Good.class": good,
	})

	res, err := idx.Index(context.Background(), Request{
		ArchivePath: path,
		Coordinates: Coordinates{Version: "1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad.class")
	assert.Equal(t, Failed, res.State)
	assert.Contains(t, res.Transitions, Scanning)

	// The archive node is written before the first entry and is not rolled
	// back by a later failure.
	assert.Equal(t, int64(1), stats(t, store).NodesByType[graph.NodeArchive])
}

func TestIndexCancelled(t *testing.T) {
	idx, _ := setupTestIndexer(t)
	path := fooJar(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := idx.Index(ctx, Request{ArchivePath: path, Coordinates: Coordinates{Version: "1"}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, res.State)
}

func TestIndexConcurrentSameCoordinates(t *testing.T) {
	idx, store := setupTestIndexer(t)
	path := fooJar(t, t.TempDir())
	req := Request{ArchivePath: path, Coordinates: Coordinates{GroupID: "g", ArtifactID: "a", Version: "1"}}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = idx.Index(context.Background(), req)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	s := stats(t, store)
	assert.Equal(t, int64(5), s.NodeCount)
	assert.Equal(t, int64(4), s.EdgeCount)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Idle, "Idle"},
		{Opening, "Opening"},
		{Resetting, "Resetting"},
		{Scanning, "Scanning"},
		{Done, "Done"},
		{Failed, "Failed"},
		{State(42), "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.String())
	}
}
