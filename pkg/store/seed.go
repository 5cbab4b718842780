package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ritzau/knowledge-map/pkg/model"
)

// SampleGraph is the map a fresh session starts from
func SampleGraph() *model.Graph {
	return &model.Graph{
		Nodes: []*model.GraphNode{
			{ID: "q-1", Label: "How does context expand?", Type: model.NodeTypeQuestion},
			{ID: "a-1", Label: "Conversation branches into nodes", Type: model.NodeTypeAnswer},
			{ID: "q-2", Label: "What powers the 3D view?", Type: model.NodeTypeQuestion},
			{ID: "a-2", Label: "R3F + Three.js + force layout", Type: model.NodeTypeAnswer},
			{ID: "k-1", Label: "Keywords", Type: model.NodeTypeKeyword},
			{ID: "k-2", Label: "Embeddings", Type: model.NodeTypeKeyword},
			{ID: "k-3", Label: "Bloom", Type: model.NodeTypeKeyword},
			{ID: "k-4", Label: "Fly-to camera", Type: model.NodeTypeKeyword},
		},
		Links: []model.GraphLink{
			model.NewLink("q-1", "a-1"),
			model.NewLink("a-1", "k-1"),
			model.NewLink("a-1", "k-2"),
			model.NewLink("q-2", "a-2"),
			model.NewLink("a-2", "k-3"),
			model.NewLink("a-2", "k-4"),
			model.NewLink("k-1", "k-3"),
		},
	}
}

// LoadGraphFile reads a graph in the wire format ({"nodes": [...], "links": [...]})
func LoadGraphFile(path string) (*model.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed graph %s: %w", path, err)
	}

	g := model.NewGraph()
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("parsing seed graph %s: %w", path, err)
	}
	if g.Nodes == nil {
		g.Nodes = make([]*model.GraphNode, 0)
	}
	if g.Links == nil {
		g.Links = make([]model.GraphLink, 0)
	}
	return g, nil
}
