package graph

import (
	"sort"

	"github.com/ritzau/knowledge-map/pkg/model"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Index is a gonum view of a knowledge graph snapshot used for analytics.
// Links with endpoints missing from the node set are ignored.
type Index struct {
	directed   *simple.DirectedGraph
	undirected *simple.UndirectedGraph
	ids        map[string]int64 // node id -> graph id
	labels     []string         // graph id -> node id
	selfLoops  []string
}

// Stats summarizes the shape of the graph
type Stats struct {
	Nodes      int            `json:"nodes"`
	Links      int            `json:"links"`
	ByType     map[string]int `json:"byType"`
	Components int            `json:"components"`
	Isolated   int            `json:"isolated"`
	Loops      [][]string     `json:"loops"`
	Degree     map[string]int `json:"degree"`
	Dangling   int            `json:"dangling"` // links whose endpoints are not in the node set
}

// NewIndex builds an index from a graph snapshot
func NewIndex(g *model.Graph) *Index {
	idx := &Index{
		directed:   simple.NewDirectedGraph(),
		undirected: simple.NewUndirectedGraph(),
		ids:        make(map[string]int64),
	}

	for _, node := range g.Nodes {
		if _, exists := idx.ids[node.ID]; exists {
			continue
		}
		id := int64(len(idx.labels))
		idx.ids[node.ID] = id
		idx.labels = append(idx.labels, node.ID)
		idx.directed.AddNode(simple.Node(id))
		idx.undirected.AddNode(simple.Node(id))
	}

	for _, link := range g.Links {
		from, okFrom := idx.ids[link.Source.ID()]
		to, okTo := idx.ids[link.Target.ID()]
		if !okFrom || !okTo {
			continue
		}

		// gonum simple graphs reject self edges
		if from == to {
			idx.selfLoops = append(idx.selfLoops, link.Source.ID())
			continue
		}

		if !idx.directed.HasEdgeFromTo(from, to) {
			idx.directed.SetEdge(idx.directed.NewEdge(simple.Node(from), simple.Node(to)))
		}
		if !idx.undirected.HasEdgeBetween(from, to) {
			idx.undirected.SetEdge(idx.undirected.NewEdge(simple.Node(from), simple.Node(to)))
		}
	}

	return idx
}

// Contains reports whether the node id is part of the index
func (idx *Index) Contains(nodeID string) bool {
	_, ok := idx.ids[nodeID]
	return ok
}

// Degree returns the number of distinct neighbors of a node, direction ignored
func (idx *Index) Degree(nodeID string) int {
	id, ok := idx.ids[nodeID]
	if !ok {
		return 0
	}
	return idx.undirected.From(id).Len()
}

// Components returns connected components as sorted node id lists,
// ordered by size (largest first).
func (idx *Index) Components() [][]string {
	var components [][]string
	for _, component := range topo.ConnectedComponents(idx.undirected) {
		ids := make([]string, 0, len(component))
		for _, node := range component {
			ids = append(ids, idx.labels[node.ID()])
		}
		sort.Strings(ids)
		components = append(components, ids)
	}

	sort.SliceStable(components, func(i, j int) bool {
		if len(components[i]) != len(components[j]) {
			return len(components[i]) > len(components[j])
		}
		return components[i][0] < components[j][0]
	})
	return components
}

// Loops returns directed cycles: each strongly connected component with more
// than one node, plus every self-loop as a single-node loop.
func (idx *Index) Loops() [][]string {
	var loops [][]string
	for _, scc := range NewTarjanSCC(idx.directed).FindSCCs() {
		ids := make([]string, 0, len(scc))
		for _, id := range scc {
			ids = append(ids, idx.labels[id])
		}
		sort.Strings(ids)
		loops = append(loops, ids)
	}
	for _, id := range idx.selfLoops {
		loops = append(loops, []string{id})
	}
	return loops
}

// ComputeStats summarizes g
func ComputeStats(g *model.Graph) Stats {
	idx := NewIndex(g)

	stats := Stats{
		Nodes:  len(g.Nodes),
		Links:  len(g.Links),
		ByType: make(map[string]int),
		Degree: make(map[string]int),
		Loops:  idx.Loops(),
	}

	for _, node := range g.Nodes {
		stats.ByType[string(node.Type)]++
		degree := idx.Degree(node.ID)
		stats.Degree[node.ID] = degree
		if degree == 0 {
			stats.Isolated++
		}
	}

	for _, link := range g.Links {
		if !idx.Contains(link.Source.ID()) || !idx.Contains(link.Target.ID()) {
			stats.Dangling++
		}
	}

	stats.Components = len(idx.Components())
	if stats.Loops == nil {
		stats.Loops = [][]string{}
	}
	return stats
}
