package graph

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NodeType is the value of a node's "type" attribute.
type NodeType string

const (
	NodeArchive NodeType = "archive"
	NodeClass   NodeType = "class"
	NodeMethod  NodeType = "method"
)

// EdgeType represents a directed relationship between two nodes.
type EdgeType string

const (
	// EdgeContains links Archive->Class, Class->Method and outer Class->inner Class.
	EdgeContains EdgeType = "CONTAINS"
	// EdgeExtends links a class to its superclass.
	EdgeExtends EdgeType = "EXTENDS"
	// EdgeImplements links a class to an interface it implements.
	EdgeImplements EdgeType = "IMPLEMENTS"
	// EdgeCalls links a caller method to a callee, one edge per call site.
	EdgeCalls EdgeType = "CALLS"
)

// Indexed attribute names. These are the fields the composite key index
// maintains and the only fields Lookup can match on.
const (
	AttrName       = "name"
	AttrClass      = "class"
	AttrDesc       = "desc"
	AttrVersion    = "version"
	AttrGroupID    = "groupId"
	AttrArtifactID = "artifactId"
	AttrType       = "type"
)

// IndexedAttrs lists the indexed attributes, most selective first. A method's
// owner class narrows a scan far more than its name, which "<init>" shares
// with every constructor.
var IndexedAttrs = []string{AttrClass, AttrName, AttrDesc, AttrGroupID, AttrArtifactID, AttrVersion, AttrType}

// identityAttrs lists the attributes of each node type's identity key.
var identityAttrs = map[NodeType][]string{
	NodeArchive: {AttrGroupID, AttrArtifactID, AttrVersion, AttrType},
	NodeClass:   {AttrName, AttrVersion, AttrType},
	NodeMethod:  {AttrName, AttrClass, AttrDesc, AttrVersion, AttrType},
}

// Node is an Archive, Class or Method entity in the graph.
type Node struct {
	ID         string   `json:"id"`
	Type       NodeType `json:"type"`
	Name       string   `json:"name"`
	Class      string   `json:"class,omitempty"`
	Desc       string   `json:"desc,omitempty"`
	Version    string   `json:"version"`
	GroupID    string   `json:"groupId,omitempty"`
	ArtifactID string   `json:"artifactId,omitempty"`
}

// Attributes returns the node's non-empty indexed attributes.
func (n *Node) Attributes() Attrs {
	a := Attrs{AttrType: string(n.Type)}
	set := func(k, v string) {
		if v != "" {
			a[k] = v
		}
	}
	set(AttrName, n.Name)
	set(AttrClass, n.Class)
	set(AttrDesc, n.Desc)
	set(AttrVersion, n.Version)
	set(AttrGroupID, n.GroupID)
	set(AttrArtifactID, n.ArtifactID)
	return a
}

// Matches reports whether every attribute in a equals the node's value.
func (n *Node) Matches(a Attrs) bool {
	attrs := n.Attributes()
	for k, v := range a {
		if attrs[k] != v {
			return false
		}
	}
	return true
}

// Edge is a directed, typed relationship. Edges are never deduplicated.
type Edge struct {
	ID       string   `json:"id"`
	Type     EdgeType `json:"type"`
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
}

// Attrs is a conjunctive exact-match query over indexed attributes.
type Attrs map[string]string

// String renders the attributes in IndexedAttrs order. It is stable and
// suitable as a cache key.
func (a Attrs) String() string {
	var sb strings.Builder
	for _, k := range IndexedAttrs {
		v, ok := a[k]
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(v)
	}
	return sb.String()
}

// ArchiveKey is the identity key of an Archive node.
func ArchiveKey(groupID, artifactID, version string) Attrs {
	return Attrs{
		AttrGroupID:    groupID,
		AttrArtifactID: artifactID,
		AttrVersion:    version,
		AttrType:       string(NodeArchive),
	}
}

// ClassKey is the identity key of a Class node.
func ClassKey(name, version string) Attrs {
	return Attrs{
		AttrName:    name,
		AttrVersion: version,
		AttrType:    string(NodeClass),
	}
}

// MethodKey is the identity key of a Method node.
func MethodKey(name, className, desc, version string) Attrs {
	return Attrs{
		AttrName:    name,
		AttrClass:   className,
		AttrDesc:    desc,
		AttrVersion: version,
		AttrType:    string(NodeMethod),
	}
}

// IdentityKey returns the identity key of n, or nil for an unknown type.
func IdentityKey(n *Node) Attrs {
	switch n.Type {
	case NodeArchive:
		return ArchiveKey(n.GroupID, n.ArtifactID, n.Version)
	case NodeClass:
		return ClassKey(n.Name, n.Version)
	case NodeMethod:
		return MethodKey(n.Name, n.Class, n.Desc, n.Version)
	}
	return nil
}

// IsIdentityKey reports whether a names exactly the identity attributes of
// the node type it selects.
func (a Attrs) IsIdentityKey() bool {
	names, ok := identityAttrs[NodeType(a[AttrType])]
	if !ok || len(a) != len(names) {
		return false
	}
	for _, k := range names {
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

// GraphStats holds aggregate statistics about the graph.
type GraphStats struct {
	NodeCount   int64              `json:"node_count"`
	EdgeCount   int64              `json:"edge_count"`
	NodesByType map[NodeType]int64 `json:"nodes_by_type"`
	EdgesByType map[EdgeType]int64 `json:"edges_by_type"`
}

// NewNodeID generates a deterministic node ID from the node type and its
// identity parts. The ID is a hex-encoded SHA-256 hash prefix to keep keys
// compact and collision-resistant.
func NewNodeID(nodeType NodeType, parts ...string) string {
	raw := string(nodeType) + ":" + strings.Join(parts, "\x00")
	h := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", h[:12])
}

// NewEdgeID returns a fresh edge ID. Two call sites with the same caller and
// callee get distinct edges.
func NewEdgeID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
