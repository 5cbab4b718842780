package store

import (
	"errors"
	"sync"

	"github.com/ritzau/knowledge-map/pkg/graph"
	"github.com/ritzau/knowledge-map/pkg/logging"
	"github.com/ritzau/knowledge-map/pkg/metrics"
	"github.com/ritzau/knowledge-map/pkg/model"
	"github.com/ritzau/knowledge-map/pkg/pubsub"
)

// ErrNodeNotFound is returned when focusing a node that is not in the graph
var ErrNodeNotFound = errors.New("node not found")

// MergeResult reports what a merge did. Duplicate and unresolvable links
// are skipped the same way but counted separately.
type MergeResult struct {
	NodesAdded        int `json:"nodesAdded"`
	NodesUpdated      int `json:"nodesUpdated"` // label or type actually changed
	NodesInvalid      int `json:"nodesInvalid"`
	LinksAdded        int `json:"linksAdded"`
	LinksDuplicate    int `json:"linksDuplicate"`
	LinksUnresolvable int `json:"linksUnresolvable"`
}

// Changed reports whether the merge added or relabeled anything
func (r MergeResult) Changed() bool {
	return r.NodesAdded > 0 || r.NodesUpdated > 0 || r.LinksAdded > 0
}

// GraphStore owns the session graph, the chat transcript and the focus.
// Every mutation is applied as one state transition under the write lock;
// readers receive copies.
type GraphStore struct {
	mu       sync.RWMutex
	graph    *model.Graph
	messages []model.ChatMessage
	focus    *model.FocusContext

	publisher pubsub.Publisher
	metrics   *metrics.Collector

	seed *model.Graph
}

// Option configures a GraphStore
type Option func(*GraphStore)

// WithSeed starts the store from g, merged into the empty graph so
// duplicate ids, duplicate links and invalid nodes are dropped
func WithSeed(g *model.Graph) Option {
	return func(s *GraphStore) {
		s.seed = g
	}
}

// WithPublisher publishes change events to p
func WithPublisher(p pubsub.Publisher) Option {
	return func(s *GraphStore) {
		s.publisher = p
	}
}

// WithMetrics records merge statistics in c
func WithMetrics(c *metrics.Collector) Option {
	return func(s *GraphStore) {
		s.metrics = c
	}
}

// New creates an isolated store with an empty graph unless seeded
func New(opts ...Option) *GraphStore {
	s := &GraphStore{
		graph:    model.NewGraph(),
		messages: make([]model.ChatMessage, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seed != nil {
		result := s.mergeLocked(s.seed)
		if result.NodesInvalid > 0 || result.NodesUpdated > 0 || result.LinksDuplicate > 0 || result.LinksUnresolvable > 0 {
			logging.Warn("seed graph normalized",
				"nodesInvalid", result.NodesInvalid,
				"nodesRelabeled", result.NodesUpdated,
				"linksDuplicate", result.LinksDuplicate,
				"linksUnresolvable", result.LinksUnresolvable,
			)
		}
		s.seed = nil
	}
	if s.metrics != nil {
		s.metrics.GraphNodes.Set(float64(len(s.graph.Nodes)))
		s.metrics.GraphLinks.Set(float64(len(s.graph.Links)))
	}
	return s
}

// AddMessage appends msg to the transcript. IDs are not checked for uniqueness.
func (s *GraphStore) AddMessage(msg model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Keywords = append([]string(nil), msg.Keywords...)
	s.messages = append(s.messages, msg)
	s.publish(pubsub.TopicConversation, "message_added", msg)
}

// UpdateMessage shallow-merges update into every message with the given id.
// An unknown id is a no-op; the return value tells whether anything matched.
func (s *GraphStore) UpdateMessage(id string, update model.MessageUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		update.Apply(&s.messages[i])
		found = true
		s.publish(pubsub.TopicConversation, "message_updated", s.messages[i])
	}

	if !found {
		logging.Debug("update for unknown message ignored", "messageID", id)
	}
	return found
}

// Messages returns a copy of the transcript in submission order
func (s *GraphStore) Messages() []model.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ChatMessage, len(s.messages))
	for i, msg := range s.messages {
		msg.Keywords = append([]string(nil), msg.Keywords...)
		out[i] = msg
	}
	return out
}

// MergeGraph merges a fragment into the graph: known node ids are relabeled
// in place, new nodes and links are appended in incoming order, and links
// that are already present or cannot be resolved are skipped. Nothing is
// ever removed.
func (s *GraphStore) MergeGraph(fragment *model.Graph) MergeResult {
	if fragment == nil {
		return MergeResult{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.mergeLocked(fragment)

	logging.Debug("graph merged",
		"nodesAdded", result.NodesAdded,
		"nodesUpdated", result.NodesUpdated,
		"linksAdded", result.LinksAdded,
		"linksDuplicate", result.LinksDuplicate,
		"linksUnresolvable", result.LinksUnresolvable,
		"totalNodes", len(s.graph.Nodes),
		"totalLinks", len(s.graph.Links),
	)

	s.recordMerge(result)
	if result.Changed() {
		s.publish(pubsub.TopicGraph, "merged", pubsub.GraphMerged{
			NodesAdded:        result.NodesAdded,
			NodesUpdated:      result.NodesUpdated,
			LinksAdded:        result.LinksAdded,
			LinksDuplicate:    result.LinksDuplicate,
			LinksUnresolvable: result.LinksUnresolvable,
			TotalNodes:        len(s.graph.Nodes),
			TotalLinks:        len(s.graph.Links),
		})
	}

	return result
}

// mergeLocked applies fragment to the graph. The caller holds the write lock.
func (s *GraphStore) mergeLocked(fragment *model.Graph) MergeResult {
	var result MergeResult

	nodeMap := make(map[string]*model.GraphNode, len(s.graph.Nodes))
	for _, node := range s.graph.Nodes {
		nodeMap[node.ID] = node
	}

	nextNodes := make([]*model.GraphNode, len(s.graph.Nodes), len(s.graph.Nodes)+len(fragment.Nodes))
	copy(nextNodes, s.graph.Nodes)

	for _, node := range fragment.Nodes {
		if node == nil || node.ID == "" {
			result.NodesInvalid++
			continue
		}
		if existing, ok := nodeMap[node.ID]; ok {
			if existing.Label != node.Label || existing.Type != node.Type {
				existing.Label = node.Label
				existing.Type = node.Type
				result.NodesUpdated++
			}
			continue
		}
		next := *node
		nodeMap[next.ID] = &next
		nextNodes = append(nextNodes, &next)
		result.NodesAdded++
	}

	linkKeys := make(map[string]bool, len(s.graph.Links))
	for _, link := range s.graph.Links {
		linkKeys[link.Key()] = true
	}

	nextLinks := make([]model.GraphLink, len(s.graph.Links), len(s.graph.Links)+len(fragment.Links))
	copy(nextLinks, s.graph.Links)

	for _, link := range fragment.Links {
		key := link.Key()
		switch {
		case key == "":
			result.LinksUnresolvable++
			logging.Debug("dropping unresolvable link",
				"source", link.Source.ID(), "target", link.Target.ID())
		case linkKeys[key]:
			result.LinksDuplicate++
			logging.Trace("skipping known link", "key", key)
		default:
			linkKeys[key] = true
			nextLinks = append(nextLinks, model.NewLink(link.Source.ID(), link.Target.ID()))
			result.LinksAdded++
		}
	}

	s.graph = &model.Graph{Nodes: nextNodes, Links: nextLinks}
	return result
}

// Graph returns a snapshot of the current graph
func (s *GraphStore) Graph() *model.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Clone()
}

// SetFocus replaces the focus. The node is not checked against the graph.
func (s *GraphStore) SetFocus(focus model.FocusContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFocusLocked(focus)
}

// FocusNode resolves the neighbors of nodeID and focuses it
func (s *GraphStore) FocusNode(nodeID string) (*model.FocusContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.graph.Node(nodeID)
	if !ok {
		return nil, ErrNodeNotFound
	}

	s.setFocusLocked(model.FocusContext{
		Node:      node,
		Neighbors: graph.Neighbors(nodeID, s.graph),
	})
	return copyFocus(s.focus), nil
}

// ClearFocus removes the focus
func (s *GraphStore) ClearFocus() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.focus = nil
	s.publish(pubsub.TopicFocus, "focus_cleared", nil)
}

// Focus returns a copy of the current focus, or nil when nothing is selected
func (s *GraphStore) Focus() *model.FocusContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyFocus(s.focus)
}

func (s *GraphStore) setFocusLocked(focus model.FocusContext) {
	s.focus = copyFocus(&focus)
	s.publish(pubsub.TopicFocus, "focus_set", s.focus)
}

func copyFocus(f *model.FocusContext) *model.FocusContext {
	if f == nil {
		return nil
	}

	out := &model.FocusContext{Neighbors: make([]*model.GraphNode, 0, len(f.Neighbors))}
	if f.Node != nil {
		n := *f.Node
		out.Node = &n
	}
	for _, neighbor := range f.Neighbors {
		if neighbor == nil {
			continue
		}
		n := *neighbor
		out.Neighbors = append(out.Neighbors, &n)
	}
	return out
}

func (s *GraphStore) recordMerge(result MergeResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.Merges.Inc()
	s.metrics.NodesAdded.Add(float64(result.NodesAdded))
	s.metrics.NodesUpdated.Add(float64(result.NodesUpdated))
	s.metrics.LinksAdded.Add(float64(result.LinksAdded))
	s.metrics.LinksSkipped.WithLabelValues("duplicate").Add(float64(result.LinksDuplicate))
	s.metrics.LinksSkipped.WithLabelValues("unresolvable").Add(float64(result.LinksUnresolvable))
	s.metrics.GraphNodes.Set(float64(len(s.graph.Nodes)))
	s.metrics.GraphLinks.Set(float64(len(s.graph.Links)))
}

// publish must be called with the lock held so event order matches state order
func (s *GraphStore) publish(topic, eventType string, data interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(topic, eventType, data); err != nil {
		logging.Warn("failed to publish store event", "topic", topic, "type", eventType, "error", err)
	}
}
