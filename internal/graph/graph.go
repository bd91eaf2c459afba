// Package graph defines the code graph model and its persistence contract.
package graph

import (
	"context"
	"errors"
	"io"
)

// Direction specifies the traversal direction for edge queries.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

var (
	// ErrNodeNotFound is returned when a node ID does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrAmbiguousIdentity is returned when an identity lookup that must
	// yield at most one node yields several.
	ErrAmbiguousIdentity = errors.New("identity key matches more than one node")
)

// Reader is the read side of a transaction.
type Reader interface {
	// GetNode retrieves a single node by ID.
	GetNode(id string) (*Node, error)

	// Lookup returns every node whose indexed attributes equal all of attrs.
	// It sees the enclosing transaction's own writes.
	Lookup(attrs Attrs) ([]*Node, error)

	// Edges returns edges touching nodeID in the given direction. If edgeType
	// is empty, all edge types are returned.
	Edges(nodeID string, edgeType EdgeType, direction Direction) ([]*Edge, error)

	// ScanNodes calls fn for each node. Return false from fn to stop.
	ScanNodes(fn func(*Node) bool) error

	// ScanEdges calls fn for each edge. Return false from fn to stop.
	ScanEdges(fn func(*Edge) bool) error
}

// Tx is a read-write transaction.
type Tx interface {
	Reader

	// AddNode inserts a node and its index entries.
	AddNode(node *Node) error

	// AddEdge inserts an edge. Both endpoints must exist.
	AddEdge(edge *Edge) error

	// DeleteNode removes a node, its index entries and every incident edge.
	DeleteNode(id string) error
}

// Store is the persistent graph.
type Store interface {
	// Update runs fn inside one read-write transaction. The transaction
	// commits if fn returns nil and is discarded otherwise; nothing written
	// by a failed fn is visible afterwards.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn inside a read-only transaction.
	View(ctx context.Context, fn func(r Reader) error) error

	// DeleteNodes removes the given nodes with their edges. Deletion is
	// batched and is not atomic across batches.
	DeleteNodes(ctx context.Context, ids []string) error

	// DropAll deletes every node and edge in the store.
	DropAll(ctx context.Context) error

	// Stats returns aggregate statistics about the graph.
	Stats(ctx context.Context) (*GraphStats, error)

	// Close releases resources held by the store.
	Close() error
}

// LookupOne returns the single node matching attrs, or nil if there is none.
func LookupOne(r Reader, attrs Attrs) (*Node, error) {
	nodes, err := r.Lookup(attrs)
	if err != nil {
		return nil, err
	}
	switch len(nodes) {
	case 0:
		return nil, nil
	case 1:
		return nodes[0], nil
	default:
		return nil, ErrAmbiguousIdentity
	}
}

// Exporter can serialize all graph data (nodes and edges) to a writer.
type Exporter interface {
	Export(ctx context.Context, w io.Writer) error
}

// Importer can deserialize graph data from a reader, replacing all existing data.
type Importer interface {
	Import(ctx context.Context, r io.Reader) error
}
