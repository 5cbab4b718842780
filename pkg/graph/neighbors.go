package graph

import (
	"github.com/ritzau/knowledge-map/pkg/model"
)

// Neighbors returns the nodes directly connected to nodeID, ignoring edge
// direction. The result follows the order of g.Nodes, not link order.
// A self-loop makes the node its own neighbor.
func Neighbors(nodeID string, g *model.Graph) []*model.GraphNode {
	neighbors := make([]*model.GraphNode, 0)
	if g == nil || nodeID == "" {
		return neighbors
	}

	adjacent := make(map[string]bool)
	for _, link := range g.Links {
		source, target := link.Source.ID(), link.Target.ID()
		if source == nodeID && target != "" {
			adjacent[target] = true
		}
		if target == nodeID && source != "" {
			adjacent[source] = true
		}
	}

	for _, node := range g.Nodes {
		if adjacent[node.ID] {
			neighbors = append(neighbors, node)
		}
	}
	return neighbors
}
