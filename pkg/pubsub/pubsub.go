package pubsub

import (
	"context"
	"encoding/json"
)

// Topics published by the session store
const (
	TopicGraph        = "graph"
	TopicConversation = "conversation"
	TopicFocus        = "focus"
)

// Topics lists every topic a client may subscribe to
var Topics = []string{TopicGraph, TopicConversation, TopicFocus}

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // e.g. "graph", "conversation"
	Type    string          `json:"type"`    // e.g. "merged", "message_added", "focus_set"
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Per-topic sequence number
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	Close() error
}

// Publisher manages subscriptions and event publishing.
// Context cancellation closes a subscription.
type Publisher interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Publish(topic string, eventType string, data interface{}) error
	Close() error
}

// GraphMerged is published after every merge that changed the graph
type GraphMerged struct {
	NodesAdded        int `json:"nodes_added"`
	NodesUpdated      int `json:"nodes_updated"`
	LinksAdded        int `json:"links_added"`
	LinksDuplicate    int `json:"links_duplicate"`
	LinksUnresolvable int `json:"links_unresolvable"`
	TotalNodes        int `json:"total_nodes"`
	TotalLinks        int `json:"total_links"`
}
