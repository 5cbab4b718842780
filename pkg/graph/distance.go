package graph

import (
	"github.com/ritzau/knowledge-map/pkg/model"
)

// Distances computes the hop count from the nearest selected node to every
// reachable node, ignoring edge direction. Unreachable nodes are absent.
func Distances(g *model.Graph, selected []string) map[string]int {
	distances := make(map[string]int)
	if g == nil || len(selected) == 0 {
		return distances
	}

	adjacency := buildAdjacencyList(g)

	queue := make([]string, 0, len(selected))
	for _, nodeID := range selected {
		if nodeID == "" {
			continue
		}
		if _, seen := distances[nodeID]; !seen {
			distances[nodeID] = 0
			queue = append(queue, nodeID)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, neighbor := range adjacency[current] {
			if _, exists := distances[neighbor]; !exists {
				distances[neighbor] = distances[current] + 1
				queue = append(queue, neighbor)
			}
		}
	}

	return distances
}

// Within returns the nodes at most depth hops from nodeID, the node itself
// included, in node order. Depth 1 is the node plus Neighbors.
func Within(nodeID string, g *model.Graph, depth int) []*model.GraphNode {
	nodes := make([]*model.GraphNode, 0)
	if g == nil || depth < 0 {
		return nodes
	}

	distances := Distances(g, []string{nodeID})
	for _, node := range g.Nodes {
		if d, ok := distances[node.ID]; ok && d <= depth {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// buildAdjacencyList creates an undirected adjacency list from resolvable links
func buildAdjacencyList(g *model.Graph) map[string][]string {
	adjacency := make(map[string][]string)

	for _, link := range g.Links {
		source, target := link.Source.ID(), link.Target.ID()
		if source == "" || target == "" {
			continue
		}
		adjacency[source] = append(adjacency[source], target)
		adjacency[target] = append(adjacency[target], source)
	}

	return adjacency
}
