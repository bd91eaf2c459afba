package embedded

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/imyousuf/codegraph/internal/graph"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func classNode(name, version string) *graph.Node {
	return &graph.Node{
		ID:      graph.NewNodeID(graph.NodeClass, name, version),
		Type:    graph.NodeClass,
		Name:    name,
		Version: version,
	}
}

func methodNode(owner, name, desc, version string) *graph.Node {
	return &graph.Node{
		ID:      graph.NewNodeID(graph.NodeMethod, owner, name, desc, version),
		Type:    graph.NodeMethod,
		Name:    name,
		Class:   owner,
		Desc:    desc,
		Version: version,
	}
}

func addNodes(t *testing.T, s *Store, nodes ...*graph.Node) {
	t.Helper()
	err := s.Update(context.Background(), func(tx graph.Tx) error {
		for _, n := range nodes {
			if err := tx.AddNode(n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
}

func addEdge(t *testing.T, s *Store, src, dst *graph.Node, et graph.EdgeType) *graph.Edge {
	t.Helper()
	e := &graph.Edge{ID: graph.NewEdgeID(), Type: et, SourceID: src.ID, TargetID: dst.ID}
	err := s.Update(context.Background(), func(tx graph.Tx) error {
		return tx.AddEdge(e)
	})
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	return e
}

func lookup(t *testing.T, s *Store, attrs graph.Attrs) []*graph.Node {
	t.Helper()
	var nodes []*graph.Node
	err := s.View(context.Background(), func(r graph.Reader) error {
		var err error
		nodes, err = r.Lookup(attrs)
		return err
	})
	if err != nil {
		t.Fatalf("Lookup(%v): %v", attrs, err)
	}
	return nodes
}

func TestAddGetNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	node := methodNode("com.x.Foo", "bar", "()V", "1")
	addNodes(t, s, node)

	var got *graph.Node
	err := s.View(ctx, func(r graph.Reader) error {
		var err error
		got, err = r.GetNode(node.ID)
		return err
	})
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.Name != "bar" {
		t.Errorf("Name = %q, want %q", got.Name, "bar")
	}
	if got.Class != "com.x.Foo" {
		t.Errorf("Class = %q, want %q", got.Class, "com.x.Foo")
	}
	if got.Desc != "()V" {
		t.Errorf("Desc = %q, want %q", got.Desc, "()V")
	}
	if got.Type != graph.NodeMethod {
		t.Errorf("Type = %q, want %q", got.Type, graph.NodeMethod)
	}
}

func TestGetNodeNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.View(context.Background(), func(r graph.Reader) error {
		_, err := r.GetNode("missing")
		return err
	})
	if !errors.Is(err, graph.ErrNodeNotFound) {
		t.Fatalf("GetNode(missing) error = %v, want ErrNodeNotFound", err)
	}
}

func TestLookupConjunctive(t *testing.T) {
	s := newTestStore(t)

	addNodes(t, s,
		classNode("com.x.Foo", "1"),
		classNode("com.x.Foo", "2"),
		classNode("com.x.FooBar", "1"),
		methodNode("com.x.Foo", "com.x.Foo", "()V", "1"),
	)

	tests := []struct {
		name  string
		attrs graph.Attrs
		want  int
	}{
		{"class identity", graph.ClassKey("com.x.Foo", "1"), 1},
		{"other version", graph.ClassKey("com.x.Foo", "2"), 1},
		{"no prefix match", graph.ClassKey("com.x.Fo", "1"), 0},
		{"name only", graph.Attrs{graph.AttrName: "com.x.Foo"}, 3},
		{"version and type", graph.Attrs{graph.AttrVersion: "1", graph.AttrType: "class"}, 2},
		{"method identity", graph.MethodKey("com.x.Foo", "com.x.Foo", "()V", "1"), 1},
		{"method wrong desc", graph.MethodKey("com.x.Foo", "com.x.Foo", "()I", "1"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lookup(t, s, tt.attrs)
			if len(got) != tt.want {
				t.Errorf("Lookup(%v) returned %d nodes, want %d", tt.attrs, len(got), tt.want)
			}
		})
	}
}

func TestLookupEmptyValues(t *testing.T) {
	s := newTestStore(t)

	noGroup := &graph.Node{
		ID:         graph.NewNodeID(graph.NodeArchive, "", "app", "1"),
		Type:       graph.NodeArchive,
		Name:       "app.jar",
		ArtifactID: "app",
		Version:    "1",
	}
	withGroup := &graph.Node{
		ID:         graph.NewNodeID(graph.NodeArchive, "g", "app", "1"),
		Type:       graph.NodeArchive,
		Name:       "app.jar",
		GroupID:    "g",
		ArtifactID: "app",
		Version:    "1",
	}
	addNodes(t, s, noGroup, withGroup)

	got := lookup(t, s, graph.ArchiveKey("", "app", "1"))
	if len(got) != 1 || got[0].ID != noGroup.ID {
		t.Fatalf("Lookup with empty groupId = %v, want only %s", got, noGroup.ID)
	}

	got = lookup(t, s, graph.ArchiveKey("", "", ""))
	if len(got) != 0 {
		t.Errorf("Lookup with all coordinates empty returned %d nodes, want 0", len(got))
	}
}

// identityIDs returns the node IDs filed under key in the identity index.
func identityIDs(t *testing.T, s *Store, key graph.Attrs) []string {
	t.Helper()
	var ids []string
	if err := s.db.View(func(txn *badger.Txn) error {
		ids = scanIndexPrefix(txn, identityPrefix(key), sep)
		return nil
	}); err != nil {
		t.Fatalf("scan identity index: %v", err)
	}
	return ids
}

func TestLookupIdentityIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Every class gets a constructor, so "<init>" alone matches them all.
	var nodes []*graph.Node
	for i := 0; i < 200; i++ {
		nodes = append(nodes, methodNode(fmt.Sprintf("C%d", i), "<init>", "()V", "1"))
	}
	other := methodNode("C0", "<init>", "()V", "2")
	addNodes(t, s, append(nodes, other)...)

	key := graph.MethodKey("<init>", "C0", "()V", "1")
	if ids := identityIDs(t, s, key); len(ids) != 1 || ids[0] != nodes[0].ID {
		t.Fatalf("identity index for %v = %v, want [%s]", key, ids, nodes[0].ID)
	}
	got := lookup(t, s, key)
	if len(got) != 1 || got[0].ID != nodes[0].ID {
		t.Fatalf("Lookup(%v) = %v, want only %s", key, got, nodes[0].ID)
	}
	if got := lookup(t, s, graph.Attrs{graph.AttrName: "<init>", graph.AttrVersion: "1"}); len(got) != 200 {
		t.Errorf("partial lookup returned %d nodes, want 200", len(got))
	}

	if err := s.DeleteNodes(ctx, []string{nodes[0].ID}); err != nil {
		t.Fatalf("DeleteNodes: %v", err)
	}
	if ids := identityIDs(t, s, key); len(ids) != 0 {
		t.Errorf("identity index still holds %v after delete", ids)
	}
	if got := lookup(t, s, key); len(got) != 0 {
		t.Errorf("Lookup after delete returned %d nodes, want 0", len(got))
	}
	if got := lookup(t, s, graph.MethodKey("<init>", "C0", "()V", "2")); len(got) != 1 {
		t.Errorf("other version: Lookup returned %d nodes, want 1", len(got))
	}
}

func TestLookupSeesOwnWrites(t *testing.T) {
	s := newTestStore(t)

	node := classNode("com.x.Foo", "1")
	err := s.Update(context.Background(), func(tx graph.Tx) error {
		if err := tx.AddNode(node); err != nil {
			return err
		}
		got, err := graph.LookupOne(tx, graph.ClassKey("com.x.Foo", "1"))
		if err != nil {
			return err
		}
		if got == nil || got.ID != node.ID {
			t.Errorf("LookupOne inside transaction = %v, want %s", got, node.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestUpdateRollback(t *testing.T) {
	s := newTestStore(t)

	boom := errors.New("boom")
	err := s.Update(context.Background(), func(tx graph.Tx) error {
		if err := tx.AddNode(classNode("com.x.Foo", "1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error = %v, want %v", err, boom)
	}

	if got := lookup(t, s, graph.ClassKey("com.x.Foo", "1")); len(got) != 0 {
		t.Errorf("rolled back node is visible: %d nodes", len(got))
	}
}

func TestLookupOneAmbiguous(t *testing.T) {
	s := newTestStore(t)

	a := classNode("com.x.Foo", "1")
	b := classNode("com.x.Foo", "1")
	b.ID = "other"
	addNodes(t, s, a, b)

	err := s.View(context.Background(), func(r graph.Reader) error {
		_, err := graph.LookupOne(r, graph.ClassKey("com.x.Foo", "1"))
		return err
	})
	if !errors.Is(err, graph.ErrAmbiguousIdentity) {
		t.Fatalf("LookupOne error = %v, want ErrAmbiguousIdentity", err)
	}
}

func TestAddEdgeRequiresEndpoints(t *testing.T) {
	s := newTestStore(t)

	foo := classNode("com.x.Foo", "1")
	addNodes(t, s, foo)

	err := s.Update(context.Background(), func(tx graph.Tx) error {
		return tx.AddEdge(&graph.Edge{ID: graph.NewEdgeID(), Type: graph.EdgeExtends, SourceID: foo.ID, TargetID: "missing"})
	})
	if !errors.Is(err, graph.ErrNodeNotFound) {
		t.Fatalf("AddEdge error = %v, want ErrNodeNotFound", err)
	}
}

func TestParallelEdgesKept(t *testing.T) {
	s := newTestStore(t)

	f := methodNode("A", "f", "()V", "1")
	g := methodNode("B", "g", "()V", "1")
	addNodes(t, s, f, g)
	addEdge(t, s, f, g, graph.EdgeCalls)
	addEdge(t, s, f, g, graph.EdgeCalls)

	var out []*graph.Edge
	err := s.View(context.Background(), func(r graph.Reader) error {
		var err error
		out, err = r.Edges(f.ID, graph.EdgeCalls, graph.Outgoing)
		return err
	})
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("got %d CALLS edges, want 2", len(out))
	}
}

func TestEdgesDirection(t *testing.T) {
	s := newTestStore(t)

	foo := classNode("com.x.Foo", "1")
	obj := classNode("java.lang.Object", "1")
	bar := methodNode("com.x.Foo", "bar", "()V", "1")
	addNodes(t, s, foo, obj, bar)
	addEdge(t, s, foo, obj, graph.EdgeExtends)
	addEdge(t, s, foo, bar, graph.EdgeContains)

	count := func(id string, et graph.EdgeType, dir graph.Direction) int {
		var n int
		err := s.View(context.Background(), func(r graph.Reader) error {
			edges, err := r.Edges(id, et, dir)
			n = len(edges)
			return err
		})
		if err != nil {
			t.Fatalf("Edges: %v", err)
		}
		return n
	}

	if got := count(foo.ID, "", graph.Outgoing); got != 2 {
		t.Errorf("Foo outgoing = %d, want 2", got)
	}
	if got := count(foo.ID, graph.EdgeExtends, graph.Outgoing); got != 1 {
		t.Errorf("Foo outgoing EXTENDS = %d, want 1", got)
	}
	if got := count(foo.ID, "", graph.Incoming); got != 0 {
		t.Errorf("Foo incoming = %d, want 0", got)
	}
	if got := count(obj.ID, graph.EdgeExtends, graph.Incoming); got != 1 {
		t.Errorf("Object incoming EXTENDS = %d, want 1", got)
	}
	if got := count(bar.ID, "", graph.Both); got != 1 {
		t.Errorf("bar both = %d, want 1", got)
	}
}

func TestDeleteNodeRemovesEdgesAndIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	foo := classNode("com.x.Foo", "1")
	obj := classNode("java.lang.Object", "1")
	addNodes(t, s, foo, obj)
	addEdge(t, s, foo, obj, graph.EdgeExtends)
	addEdge(t, s, obj, obj, graph.EdgeExtends) // self-loop

	if err := s.DeleteNodes(ctx, []string{obj.ID}); err != nil {
		t.Fatalf("DeleteNodes: %v", err)
	}

	if got := lookup(t, s, graph.ClassKey("java.lang.Object", "1")); len(got) != 0 {
		t.Errorf("deleted node still indexed: %d", len(got))
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.NodeCount != 1 {
		t.Errorf("NodeCount = %d, want 1", stats.NodeCount)
	}
	if stats.EdgeCount != 0 {
		t.Errorf("EdgeCount = %d, want 0", stats.EdgeCount)
	}
}

func TestDeleteNodesBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	var nodes []*graph.Node
	for i := 0; i < deleteBatchSize*2+3; i++ {
		n := methodNode("C", "m", string(rune('a'+i%26))+string(rune('a'+i/26)), "1")
		nodes = append(nodes, n)
		ids = append(ids, n.ID)
	}
	addNodes(t, s, nodes...)
	// Unknown IDs are ignored.
	ids = append(ids, "missing")

	if err := s.DeleteNodes(ctx, ids); err != nil {
		t.Fatalf("DeleteNodes: %v", err)
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.NodeCount != 0 {
		t.Errorf("NodeCount = %d, want 0", stats.NodeCount)
	}
}

func TestDeleteNodesHighDegree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hub := classNode("java.lang.Object", "1")
	leaf := classNode("com.x.Foo", "1")
	addNodes(t, s, hub, leaf)

	// More incident edges than one badger transaction can delete.
	const edges = 60000
	for i := 0; i < edges; i += 1000 {
		err := s.Update(ctx, func(tx graph.Tx) error {
			for j := 0; j < 1000; j++ {
				e := &graph.Edge{ID: graph.NewEdgeID(), Type: graph.EdgeExtends, SourceID: leaf.ID, TargetID: hub.ID}
				if err := tx.AddEdge(e); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("AddEdge batch %d: %v", i, err)
		}
	}

	err := s.Update(ctx, func(tx graph.Tx) error { return tx.DeleteNode(hub.ID) })
	if !errors.Is(err, badger.ErrTxnTooBig) {
		t.Fatalf("single-transaction delete error = %v, want ErrTxnTooBig", err)
	}

	if err := s.DeleteNodes(ctx, []string{hub.ID}); err != nil {
		t.Fatalf("DeleteNodes: %v", err)
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.NodeCount != 1 {
		t.Errorf("NodeCount = %d, want 1", stats.NodeCount)
	}
	if stats.EdgeCount != 0 {
		t.Errorf("EdgeCount = %d, want 0", stats.EdgeCount)
	}
	err = s.View(ctx, func(r graph.Reader) error {
		out, err := r.Edges(leaf.ID, "", graph.Outgoing)
		if err != nil {
			return err
		}
		if len(out) != 0 {
			t.Errorf("leaf still has %d outgoing edges", len(out))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
}

func TestEdgesReportsCorruptEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	foo := classNode("com.x.Foo", "1")
	obj := classNode("java.lang.Object", "1")
	addNodes(t, s, foo, obj)
	gone := addEdge(t, s, foo, obj, graph.EdgeExtends)
	bad := addEdge(t, s, foo, obj, graph.EdgeImplements)

	edges := func(et graph.EdgeType) ([]*graph.Edge, error) {
		var out []*graph.Edge
		err := s.View(ctx, func(r graph.Reader) error {
			var err error
			out, err = r.Edges(foo.ID, et, graph.Outgoing)
			return err
		})
		return out, err
	}

	// An index entry whose edge record is gone is skipped.
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(edgeKey(gone.ID)) }); err != nil {
		t.Fatalf("delete edge record: %v", err)
	}
	if out, err := edges(graph.EdgeExtends); err != nil || len(out) != 0 {
		t.Errorf("Edges(EXTENDS) = %v, %v; want none and no error", out, err)
	}

	// An unreadable edge record is an error.
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.Set(edgeKey(bad.ID), []byte("{")) }); err != nil {
		t.Fatalf("corrupt edge record: %v", err)
	}
	if _, err := edges(graph.EdgeImplements); err == nil {
		t.Error("Edges(IMPLEMENTS) with a corrupt record: expected an error")
	}
}

func TestDropAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	foo := classNode("com.x.Foo", "1")
	obj := classNode("java.lang.Object", "2")
	addNodes(t, s, foo, obj)
	addEdge(t, s, foo, obj, graph.EdgeExtends)

	if err := s.DropAll(ctx); err != nil {
		t.Fatalf("DropAll: %v", err)
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.NodeCount != 0 || stats.EdgeCount != 0 {
		t.Errorf("after DropAll: %d nodes, %d edges", stats.NodeCount, stats.EdgeCount)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	foo := classNode("com.x.Foo", "1")
	obj := classNode("java.lang.Object", "1")
	bar := methodNode("com.x.Foo", "bar", "()V", "1")
	addNodes(t, s, foo, obj, bar)
	addEdge(t, s, foo, obj, graph.EdgeExtends)
	addEdge(t, s, foo, bar, graph.EdgeContains)

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.NodeCount != 3 {
		t.Errorf("NodeCount = %d, want 3", stats.NodeCount)
	}
	if stats.EdgeCount != 2 {
		t.Errorf("EdgeCount = %d, want 2", stats.EdgeCount)
	}
	if stats.NodesByType[graph.NodeClass] != 2 {
		t.Errorf("NodesByType[class] = %d, want 2", stats.NodesByType[graph.NodeClass])
	}
	if stats.EdgesByType[graph.EdgeContains] != 1 {
		t.Errorf("EdgesByType[CONTAINS] = %d, want 1", stats.EdgesByType[graph.EdgeContains])
	}
}

func TestCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Update(ctx, func(tx graph.Tx) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Update error = %v, want context.Canceled", err)
	}
}
