package loader

import (
	"context"
	"fmt"

	"github.com/imyousuf/codegraph/internal/graph"
)

// TransactionError reports a unit of work that failed and was rolled back.
type TransactionError struct {
	Unit string
	Err  error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s rolled back: %v", e.Unit, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Mutator runs units of work against the store, one transaction per unit.
// Every node a unit resolves is tagged with the mutator's version.
type Mutator struct {
	store    graph.Store
	resolver *Resolver
	version  string
}

// NewMutator returns a Mutator writing nodes tagged with version.
func NewMutator(store graph.Store, resolver *Resolver, version string) *Mutator {
	return &Mutator{store: store, resolver: resolver, version: version}
}

// Version returns the version tag applied to resolved nodes.
func (m *Mutator) Version() string { return m.version }

// Unit runs fn in a single transaction. If fn or the commit fails, nothing
// fn wrote persists and the failure is returned as a *TransactionError.
func (m *Mutator) Unit(ctx context.Context, name string, fn func(u *Unit) error) error {
	var s *session
	err := m.store.Update(ctx, func(tx graph.Tx) error {
		s = m.resolver.begin(tx)
		return fn(&Unit{tx: tx, s: s, version: m.version})
	})
	if err != nil {
		return &TransactionError{Unit: name, Err: err}
	}
	s.publish()
	return nil
}

// Unit is the handle a unit of work uses to resolve nodes and create edges.
// It is valid only inside the function passed to Mutator.Unit.
type Unit struct {
	tx      graph.Tx
	s       *session
	version string
}

// Archive resolves the Archive node for (groupID, artifactID). An existing
// node keeps its name.
func (u *Unit) Archive(name, groupID, artifactID string) (*graph.Node, error) {
	return u.s.Archive(name, groupID, artifactID, u.version)
}

// Class resolves the Class node for name.
func (u *Unit) Class(name string) (*graph.Node, error) {
	return u.s.Class(name, u.version)
}

// Method resolves the Method node for (name, desc) owned by className.
func (u *Unit) Method(name, desc, className string) (*graph.Node, error) {
	return u.s.Method(name, desc, className, u.version)
}

// Link creates a new edge src -[edgeType]-> dst. Edges are never merged.
func (u *Unit) Link(src *graph.Node, edgeType graph.EdgeType, dst *graph.Node) error {
	err := u.tx.AddEdge(&graph.Edge{
		ID:       graph.NewEdgeID(),
		Type:     edgeType,
		SourceID: src.ID,
		TargetID: dst.ID,
	})
	if err != nil {
		return fmt.Errorf("link %s -%s-> %s: %w", src.Name, edgeType, dst.Name, err)
	}
	return nil
}
