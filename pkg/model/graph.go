package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NodeType represents the role a node plays in the conversation graph
type NodeType string

const (
	NodeTypeQuestion NodeType = "question"
	NodeTypeAnswer   NodeType = "answer"
	NodeTypeKeyword  NodeType = "keyword"
)

// Valid returns true if t is one of the known node types
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeQuestion, NodeTypeAnswer, NodeTypeKeyword:
		return true
	}
	return false
}

// GraphNode represents a vertex in the knowledge graph.
// Identity is the ID; Label and Type may be refined by later merges.
type GraphNode struct {
	ID    string   `json:"id" validate:"required"`
	Label string   `json:"label"`
	Type  NodeType `json:"type" validate:"oneof=question answer keyword"`
}

// Endpoint is one end of a link. It is either a raw node id or a reference
// to an already resolved node, as written back by renderers that swap ids
// for node objects.
type Endpoint struct {
	raw string
	ref *GraphNode
}

// RawID creates an endpoint referencing a node by id
func RawID(id string) Endpoint {
	return Endpoint{raw: id}
}

// Ref creates an endpoint holding a resolved node
func Ref(node *GraphNode) Endpoint {
	return Endpoint{ref: node}
}

// ID normalizes the endpoint to a node id. Returns "" when unresolvable.
func (e Endpoint) ID() string {
	if e.ref != nil {
		return e.ref.ID
	}
	return e.raw
}

// IsRef returns true if the endpoint holds a resolved node
func (e Endpoint) IsRef() bool {
	return e.ref != nil
}

// MarshalJSON always writes the resolved id string
func (e Endpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ID())
}

// UnmarshalJSON accepts either "id" or {"id": "...", ...}. Any other value,
// or an object without a string id, decodes as an unresolvable endpoint.
func (e *Endpoint) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*e = Endpoint{}
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("endpoint id: %w", err)
		}
		*e = RawID(id)
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("endpoint node: %w", err)
		}
		var node GraphNode
		if json.Unmarshal(fields["id"], &node.ID) != nil || node.ID == "" {
			return nil
		}
		// Label and type are informational on an endpoint
		_ = json.Unmarshal(fields["label"], &node.Label)
		_ = json.Unmarshal(fields["type"], &node.Type)
		*e = Ref(&node)
	}
	return nil
}

// GraphLink represents a directed edge between two nodes
type GraphLink struct {
	Source Endpoint `json:"source"`
	Target Endpoint `json:"target"`
}

// NewLink creates a link between two node ids
func NewLink(source, target string) GraphLink {
	return GraphLink{Source: RawID(source), Target: RawID(target)}
}

// Key identifies the directed edge as "source->target".
// Returns "" if either endpoint cannot be resolved.
func (l GraphLink) Key() string {
	source, target := l.Source.ID(), l.Target.ID()
	if source == "" || target == "" {
		return ""
	}
	return source + "->" + target
}

// Graph holds nodes in discovery order and links in insertion order.
// Node ids and link keys are unique.
type Graph struct {
	Nodes []*GraphNode `json:"nodes"`
	Links []GraphLink  `json:"links"`
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make([]*GraphNode, 0),
		Links: make([]GraphLink, 0),
	}
}

// Node returns the node with the given id
func (g *Graph) Node(id string) (*GraphNode, bool) {
	for _, node := range g.Nodes {
		if node != nil && node.ID == id {
			return node, true
		}
	}
	return nil, false
}

// Clone returns a deep copy. Links are normalized to raw ids so the copy
// shares no pointers with g. Nil nodes are dropped.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		Nodes: make([]*GraphNode, 0, len(g.Nodes)),
		Links: make([]GraphLink, len(g.Links)),
	}
	for _, node := range g.Nodes {
		if node == nil {
			continue
		}
		n := *node
		out.Nodes = append(out.Nodes, &n)
	}
	for i, link := range g.Links {
		out.Links[i] = NewLink(link.Source.ID(), link.Target.ID())
	}
	return out
}
