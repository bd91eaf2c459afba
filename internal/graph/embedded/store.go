// Package embedded implements graph.Store on top of BadgerDB.
package embedded

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/imyousuf/codegraph/internal/graph"
)

// Key prefixes for the BadgerDB key scheme.
const (
	prefixNode           = "n:"
	prefixEdge           = "e:"
	prefixIdxAttr        = "idx:attr:"
	prefixIdxKey         = "idx:key:"
	prefixIdxEdge        = "idx:edge:"
	prefixIdxReverseEdge = "idx:redge:"
)

// sep separates attribute names, values and IDs in attribute index keys.
// Class names and descriptors never contain it.
const sep = "\x00"

// deleteBatchSize bounds the number of nodes removed per transaction.
const deleteBatchSize = 64

// edgeDeleteBatchSize bounds the number of edges removed per transaction.
// Each edge costs three deletes, which keeps a transaction well under
// badger's entry limit however many edges a node has.
const edgeDeleteBatchSize = 1000

// Store implements graph.Store using BadgerDB. Every node has one identity
// index key holding its full identity tuple, which answers exact identity
// lookups with a single prefix scan. Every indexed attribute also gets its own
// index key, so partial lookups scan one attribute and filter the candidates.
type Store struct {
	db *badger.DB
}

// NewStore opens (or creates) a BadgerDB-backed graph store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // suppress badger logs
	return open(opts)
}

// NewInMemoryStore opens a store that lives only in memory.
func NewInMemoryStore() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &Store{db: db}, nil
}

// --- key functions ---

func nodeKey(id string) []byte { return []byte(prefixNode + id) }

func edgeKey(id string) []byte { return []byte(prefixEdge + id) }

// attrPrefix returns the index prefix for all nodes with field=value.
func attrPrefix(field, value string) []byte {
	return []byte(prefixIdxAttr + field + sep + value + sep)
}

func attrKey(field, value, id string) []byte {
	return append(attrPrefix(field, value), id...)
}

// identityPrefix returns the index prefix for all nodes with the given
// identity key.
func identityPrefix(key graph.Attrs) []byte {
	return []byte(prefixIdxKey + key.String() + sep)
}

func identityKey(key graph.Attrs, id string) []byte {
	return append(identityPrefix(key), id...)
}

// indexEdgeKey returns a secondary index key for forward edge lookup.
func indexEdgeKey(sourceID string, edgeType graph.EdgeType, edgeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixIdxEdge, sourceID, edgeType, edgeID))
}

// indexReverseEdgeKey returns a secondary index key for reverse edge lookup.
func indexReverseEdgeKey(targetID string, edgeType graph.EdgeType, edgeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixIdxReverseEdge, targetID, edgeType, edgeID))
}

// buildEdgeIndexPrefix constructs the prefix for scanning edge indexes.
// If edgeType is empty, it scans all edge types for the given nodeID.
func buildEdgeIndexPrefix(prefix, nodeID string, edgeType graph.EdgeType) []byte {
	if edgeType == "" {
		return []byte(fmt.Sprintf("%s%s:", prefix, nodeID))
	}
	return []byte(fmt.Sprintf("%s%s:%s:", prefix, nodeID, edgeType))
}

// --- graph.Store ---

func (s *Store) Update(ctx context.Context, fn func(graph.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

func (s *Store) View(ctx context.Context, fn func(graph.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

// DeleteNodes removes the nodes and their incident edges. Edges go first, in
// transactions of bounded size, then the nodes themselves in batches.
func (s *Store) DeleteNodes(ctx context.Context, ids []string) error {
	for i := 0; i < len(ids); i += deleteBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+deleteBatchSize, len(ids))
		batch := ids[i:end]
		if err := s.detach(ctx, batch); err != nil {
			return fmt.Errorf("delete nodes %d-%d: %w", i, end, err)
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			t := &tx{txn: txn}
			for _, id := range batch {
				if err := t.DeleteNode(id); err != nil && !errors.Is(err, graph.ErrNodeNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("delete nodes %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// detach deletes every edge incident to the given nodes.
func (s *Store) detach(ctx context.Context, ids []string) error {
	var edgeIDs []string
	err := s.db.View(func(txn *badger.Txn) error {
		t := &tx{txn: txn}
		seen := make(map[string]struct{})
		for _, id := range ids {
			for _, eid := range t.incidentEdges(id) {
				// Edges between two of the nodes show up twice.
				if _, ok := seen[eid]; ok {
					continue
				}
				seen[eid] = struct{}{}
				edgeIDs = append(edgeIDs, eid)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := 0; i < len(edgeIDs); i += edgeDeleteBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := edgeIDs[i:min(i+edgeDeleteBatchSize, len(edgeIDs))]
		err := s.db.Update(func(txn *badger.Txn) error {
			t := &tx{txn: txn}
			for _, eid := range chunk {
				if err := t.deleteEdge(eid); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("delete edges %d-%d: %w", i, i+len(chunk), err)
		}
	}
	return nil
}

func (s *Store) DropAll(_ context.Context) error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("drop all: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (*graph.GraphStats, error) {
	stats := &graph.GraphStats{
		NodesByType: make(map[graph.NodeType]int64),
		EdgesByType: make(map[graph.EdgeType]int64),
	}
	err := s.View(ctx, func(r graph.Reader) error {
		if err := r.ScanNodes(func(n *graph.Node) bool {
			stats.NodeCount++
			stats.NodesByType[n.Type]++
			return true
		}); err != nil {
			return err
		}
		return r.ScanEdges(func(e *graph.Edge) bool {
			stats.EdgeCount++
			stats.EdgesByType[e.Type]++
			return true
		})
	})
	return stats, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- transaction ---

// tx adapts a badger transaction to graph.Tx. Badger merges a read-write
// transaction's pending writes into its reads and iterators, which gives
// lookups read-your-own-writes.
type tx struct {
	txn *badger.Txn
}

func (t *tx) GetNode(id string) (*graph.Node, error) {
	item, err := t.txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get node %s: %w", id, graph.ErrNodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	var node graph.Node
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &node)
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal node %s: %w", id, err)
	}
	return &node, nil
}

func (t *tx) Lookup(attrs graph.Attrs) ([]*graph.Node, error) {
	var ids []string
	if attrs.IsIdentityKey() {
		ids = scanIndexPrefix(t.txn, identityPrefix(attrs), sep)
	} else {
		// Empty values are never indexed, so scan on the first non-empty one
		// and let Matches check the rest.
		field := ""
		for _, f := range graph.IndexedAttrs {
			if attrs[f] != "" {
				field = f
				break
			}
		}
		if field == "" {
			return nil, fmt.Errorf("lookup %v: no non-empty indexed attribute", attrs)
		}
		ids = scanIndexPrefix(t.txn, attrPrefix(field, attrs[field]), sep)
	}
	var results []*graph.Node
	for _, id := range ids {
		node, err := t.GetNode(id)
		if err != nil {
			if errors.Is(err, graph.ErrNodeNotFound) {
				continue // index entry for deleted node; skip
			}
			return nil, err
		}
		if node.Matches(attrs) {
			results = append(results, node)
		}
	}
	return results, nil
}

func (t *tx) Edges(nodeID string, edgeType graph.EdgeType, direction graph.Direction) ([]*graph.Edge, error) {
	var ids []string
	if direction == graph.Outgoing || direction == graph.Both {
		ids = append(ids, scanIndexPrefix(t.txn, buildEdgeIndexPrefix(prefixIdxEdge, nodeID, edgeType), ":")...)
	}
	if direction == graph.Incoming || direction == graph.Both {
		ids = append(ids, scanIndexPrefix(t.txn, buildEdgeIndexPrefix(prefixIdxReverseEdge, nodeID, edgeType), ":")...)
	}
	seen := make(map[string]struct{}, len(ids))
	var results []*graph.Edge
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		e, err := t.getEdge(id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue // index entry for deleted edge; skip
		}
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, nil
}

func (t *tx) ScanNodes(fn func(*graph.Node) bool) error {
	return scanPrefix(t.txn, []byte(prefixNode), func(val []byte) (bool, error) {
		var node graph.Node
		if err := json.Unmarshal(val, &node); err != nil {
			return false, fmt.Errorf("unmarshal node: %w", err)
		}
		return fn(&node), nil
	})
}

func (t *tx) ScanEdges(fn func(*graph.Edge) bool) error {
	return scanPrefix(t.txn, []byte(prefixEdge), func(val []byte) (bool, error) {
		var edge graph.Edge
		if err := json.Unmarshal(val, &edge); err != nil {
			return false, fmt.Errorf("unmarshal edge: %w", err)
		}
		return fn(&edge), nil
	})
}

func (t *tx) AddNode(node *graph.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}
	if err := t.txn.Set(nodeKey(node.ID), data); err != nil {
		return fmt.Errorf("set node %s: %w", node.ID, err)
	}
	for field, value := range node.Attributes() {
		if err := t.txn.Set(attrKey(field, value, node.ID), nil); err != nil {
			return fmt.Errorf("index node %s %s: %w", node.ID, field, err)
		}
	}
	if key := graph.IdentityKey(node); key != nil {
		if err := t.txn.Set(identityKey(key, node.ID), nil); err != nil {
			return fmt.Errorf("index node %s identity: %w", node.ID, err)
		}
	}
	return nil
}

func (t *tx) AddEdge(edge *graph.Edge) error {
	for _, id := range []string{edge.SourceID, edge.TargetID} {
		if _, err := t.txn.Get(nodeKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("add edge %s: endpoint %s: %w", edge.Type, id, graph.ErrNodeNotFound)
			}
			return fmt.Errorf("add edge %s: %w", edge.Type, err)
		}
	}
	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("marshal edge: %w", err)
	}
	if err := t.txn.Set(edgeKey(edge.ID), data); err != nil {
		return err
	}
	if err := t.txn.Set(indexEdgeKey(edge.SourceID, edge.Type, edge.ID), nil); err != nil {
		return err
	}
	return t.txn.Set(indexReverseEdgeKey(edge.TargetID, edge.Type, edge.ID), nil)
}

func (t *tx) DeleteNode(id string) error {
	node, err := t.GetNode(id)
	if err != nil {
		return err
	}
	for _, eid := range t.incidentEdges(id) {
		if err := t.deleteEdge(eid); err != nil {
			return err
		}
	}
	for field, value := range node.Attributes() {
		if err := t.txn.Delete(attrKey(field, value, id)); err != nil {
			return err
		}
	}
	if key := graph.IdentityKey(node); key != nil {
		if err := t.txn.Delete(identityKey(key, id)); err != nil {
			return err
		}
	}
	return t.txn.Delete(nodeKey(id))
}

// incidentEdges returns the IDs of every edge into or out of id.
func (t *tx) incidentEdges(id string) []string {
	ids := scanIndexPrefix(t.txn, buildEdgeIndexPrefix(prefixIdxEdge, id, ""), ":")
	ids = append(ids, scanIndexPrefix(t.txn, buildEdgeIndexPrefix(prefixIdxReverseEdge, id, ""), ":")...)
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, eid := range ids {
		// A self-loop shows up in both indexes.
		if _, ok := seen[eid]; ok {
			continue
		}
		seen[eid] = struct{}{}
		out = append(out, eid)
	}
	return out
}

func (t *tx) getEdge(id string) (*graph.Edge, error) {
	item, err := t.txn.Get(edgeKey(id))
	if err != nil {
		return nil, fmt.Errorf("get edge %s: %w", id, err)
	}
	var edge graph.Edge
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &edge)
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal edge %s: %w", id, err)
	}
	return &edge, nil
}

func (t *tx) deleteEdge(id string) error {
	edge, err := t.getEdge(id)
	if err != nil {
		return err
	}
	if err := t.txn.Delete(indexEdgeKey(edge.SourceID, edge.Type, edge.ID)); err != nil {
		return err
	}
	if err := t.txn.Delete(indexReverseEdgeKey(edge.TargetID, edge.Type, edge.ID)); err != nil {
		return err
	}
	return t.txn.Delete(edgeKey(id))
}

// --- helpers ---

// scanIndexPrefix scans all keys with the given prefix and extracts the
// trailing ID segment (the part after the last delim). The iterator is
// closed before returning, since a read-write transaction allows only one
// open iterator.
func scanIndexPrefix(txn *badger.Txn, prefix []byte, delim string) []string {
	var ids []string
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.Valid(); it.Next() {
		key := string(it.Item().Key())
		if idx := strings.LastIndex(key, delim); idx >= 0 && idx < len(key)-1 {
			ids = append(ids, key[idx+1:])
		}
	}
	return ids
}

// scanPrefix iterates over the values of all keys with the given prefix.
func scanPrefix(txn *badger.Txn, prefix []byte, fn func(val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.Valid(); it.Next() {
		var cont bool
		err := it.Item().Value(func(val []byte) error {
			var err error
			cont, err = fn(val)
			return err
		})
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}
