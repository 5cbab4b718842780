package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ritzau/knowledge-map/pkg/logging"
	"github.com/ritzau/knowledge-map/pkg/metrics"
	"github.com/ritzau/knowledge-map/pkg/model"
	"github.com/ritzau/knowledge-map/pkg/store"
)

// PendingContent is shown while an answer is being generated
const PendingContent = "Synthesizing a response..."

// ErrorPrefix starts every failed assistant message
const ErrorPrefix = "Sorry, something went wrong. "

var (
	// ErrEmptyMessage is returned for blank input
	ErrEmptyMessage = errors.New("message is empty")
	// ErrBusy is returned while another submission is in flight
	ErrBusy = errors.New("a message is already being sent")
)

var suggestedPrompts = []string{
	"Why does context become a spatial map?",
	"Show me how nodes are connected.",
	"Explain how the camera fly-to should feel.",
}

// SuggestedPrompts returns the starter questions offered to new users
func SuggestedPrompts() []string {
	return append([]string(nil), suggestedPrompts...)
}

// Sender delivers a message to the backend
type Sender interface {
	Send(ctx context.Context, message string) (*model.ChatResponse, error)
}

// Session drives one conversation: it records both sides of each turn in
// the store and merges the returned graph fragment.
type Session struct {
	store   *store.GraphStore
	sender  Sender
	metrics *metrics.Collector
	newID   func() string

	mu      sync.Mutex
	sending bool
	banner  string
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithSessionMetrics counts turns by outcome
func WithSessionMetrics(c *metrics.Collector) SessionOption {
	return func(s *Session) {
		s.metrics = c
	}
}

// WithIDGenerator overrides message id generation
func WithIDGenerator(fn func() string) SessionOption {
	return func(s *Session) {
		s.newID = fn
	}
}

// NewSession creates a session writing into st
func NewSession(st *store.GraphStore, sender Sender, opts ...SessionOption) *Session {
	s := &Session{
		store:  st,
		sender: sender,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sending reports whether a submission is in flight
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Banner returns the last error text, or "" after a new submission
func (s *Session) Banner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

// Submit sends input and resolves the assistant reply. Backend failures do
// not return an error: they end up in the reply with status error and in
// the banner.
func (s *Session) Submit(ctx context.Context, input string) (model.ChatMessage, error) {
	message := strings.TrimSpace(input)
	if message == "" {
		return model.ChatMessage{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return model.ChatMessage{}, ErrBusy
	}
	s.sending = true
	s.banner = ""
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	s.store.AddMessage(model.ChatMessage{
		ID:      s.newID(),
		Role:    model.RoleUser,
		Content: message,
	})

	reply := model.ChatMessage{
		ID:      s.newID(),
		Role:    model.RoleAssistant,
		Content: PendingContent,
		Status:  model.StatusPending,
	}
	s.store.AddMessage(reply)

	resp, err := s.sender.Send(ctx, message)
	if err != nil {
		return s.fail(ctx, reply, err), nil
	}

	content := resp.Answer
	status := model.StatusComplete
	s.store.UpdateMessage(reply.ID, model.MessageUpdate{
		Content:  &content,
		Status:   &status,
		Keywords: resp.Keywords,
	})
	reply.Content = content
	reply.Status = status
	reply.Keywords = append([]string(nil), resp.Keywords...)

	if resp.HasGraph() {
		result := s.store.MergeGraph(resp.Graph)
		logging.DebugContext(ctx, "merged answer graph",
			"nodesAdded", result.NodesAdded, "linksAdded", result.LinksAdded)
	} else {
		logging.DebugContext(ctx, "answer carried no graph", "messageID", reply.ID)
	}

	s.countTurn("complete")
	logging.InfoContext(ctx, "chat turn complete", "messageID", reply.ID, "keywords", len(resp.Keywords))
	return reply, nil
}

func (s *Session) fail(ctx context.Context, reply model.ChatMessage, err error) model.ChatMessage {
	text := err.Error()
	content := ErrorPrefix + text
	status := model.StatusError
	s.store.UpdateMessage(reply.ID, model.MessageUpdate{Content: &content, Status: &status})

	s.mu.Lock()
	s.banner = text
	s.mu.Unlock()

	s.countTurn("error")
	logging.WarnContext(ctx, "chat turn failed", "messageID", reply.ID, "error", err)

	reply.Content = content
	reply.Status = status
	return reply
}

func (s *Session) countTurn(outcome string) {
	if s.metrics != nil {
		s.metrics.ChatTurns.WithLabelValues(outcome).Inc()
	}
}
