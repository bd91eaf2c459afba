package loader

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/imyousuf/codegraph/internal/graph"
)

// Resolver maps identity keys to their single canonical node, creating the
// node on first sight. An optional LRU cache remembers the node IDs of
// committed identities so repeated references skip the index scan.
type Resolver struct {
	cache *lru.Cache[string, string]
}

// NewResolver returns a Resolver whose cache holds up to cacheSize
// identities. A cacheSize of zero or less disables caching.
func NewResolver(cacheSize int) (*Resolver, error) {
	r := &Resolver{}
	if cacheSize > 0 {
		c, err := lru.New[string, string](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create identity cache: %w", err)
		}
		r.cache = c
	}
	return r, nil
}

// Purge forgets every cached identity. Call it whenever nodes are deleted.
func (r *Resolver) Purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

// Cached reports how many identities the cache currently holds.
func (r *Resolver) Cached() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.Len()
}

// session resolves identities inside one transaction. Identities it resolves
// are staged and reach the cache only once the transaction commits, so a
// rolled-back unit leaves no trace in the cache.
type session struct {
	r      *Resolver
	tx     graph.Tx
	staged map[string]string
}

func (r *Resolver) begin(tx graph.Tx) *session {
	return &session{r: r, tx: tx, staged: make(map[string]string)}
}

// publish moves staged identities into the cache after a successful commit.
func (s *session) publish() {
	if s.r.cache == nil {
		return
	}
	for k, id := range s.staged {
		s.r.cache.Add(k, id)
	}
}

// Archive returns the Archive node for (groupID, artifactID, version),
// creating it named name if absent.
func (s *session) Archive(name, groupID, artifactID, version string) (*graph.Node, error) {
	return s.resolve(graph.ArchiveKey(groupID, artifactID, version), func() *graph.Node {
		return &graph.Node{
			ID:         graph.NewNodeID(graph.NodeArchive, groupID, artifactID, version),
			Type:       graph.NodeArchive,
			Name:       name,
			GroupID:    groupID,
			ArtifactID: artifactID,
			Version:    version,
		}
	})
}

// Class returns the Class node for (name, version), creating it if absent.
func (s *session) Class(name, version string) (*graph.Node, error) {
	return s.resolve(graph.ClassKey(name, version), func() *graph.Node {
		return &graph.Node{
			ID:      graph.NewNodeID(graph.NodeClass, name, version),
			Type:    graph.NodeClass,
			Name:    name,
			Version: version,
		}
	})
}

// Method returns the Method node for (name, desc, className, version),
// creating it if absent.
func (s *session) Method(name, desc, className, version string) (*graph.Node, error) {
	return s.resolve(graph.MethodKey(name, className, desc, version), func() *graph.Node {
		return &graph.Node{
			ID:      graph.NewNodeID(graph.NodeMethod, className, name, desc, version),
			Type:    graph.NodeMethod,
			Name:    name,
			Class:   className,
			Desc:    desc,
			Version: version,
		}
	})
}

func (s *session) resolve(key graph.Attrs, build func() *graph.Node) (*graph.Node, error) {
	k := key.String()
	if id, ok := s.staged[k]; ok {
		return s.tx.GetNode(id)
	}
	if s.r.cache != nil {
		if id, ok := s.r.cache.Get(k); ok {
			n, err := s.tx.GetNode(id)
			switch {
			case err == nil && n.Matches(key):
				s.staged[k] = n.ID
				return n, nil
			case err != nil && !errors.Is(err, graph.ErrNodeNotFound):
				return nil, err
			}
			s.r.cache.Remove(k)
		}
	}

	n, err := graph.LookupOne(s.tx, key)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", k, err)
	}
	if n == nil {
		n = build()
		if err := s.tx.AddNode(n); err != nil {
			return nil, fmt.Errorf("create %s: %w", k, err)
		}
	}
	s.staged[k] = n.ID
	return n, nil
}
