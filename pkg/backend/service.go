package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ritzau/knowledge-map/pkg/logging"
	"github.com/ritzau/knowledge-map/pkg/metrics"
	"github.com/ritzau/knowledge-map/pkg/model"
)

var (
	// ErrInvalidRequest wraps request validation failures (HTTP 422)
	ErrInvalidRequest = errors.New("invalid chat request")
	// ErrAnswerFailed wraps answer generation failures (HTTP 502)
	ErrAnswerFailed = errors.New("answer generation failed")
)

// Service produces the /api/chat response: it logs the question, asks the
// answerer and turns the answer into a graph fragment.
type Service struct {
	answerer Answerer
	log      *ChatLog
	metrics  *metrics.Collector
	newID    func() string
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithChatLog records every valid request in log
func WithChatLog(log *ChatLog) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// WithServiceMetrics records answer latency in c
func WithServiceMetrics(c *metrics.Collector) ServiceOption {
	return func(s *Service) {
		s.metrics = c
	}
}

// WithTurnIDs overrides the id shared by the question and answer nodes
func WithTurnIDs(fn func() string) ServiceOption {
	return func(s *Service) {
		s.newID = fn
	}
}

// NewService creates a service answering with a
func NewService(a Answerer, opts ...ServiceOption) *Service {
	s := &Service{
		answerer: a,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChatLog returns the configured log, or nil
func (s *Service) ChatLog() *ChatLog {
	return s.log
}

// Chat answers req. Errors wrap ErrInvalidRequest or ErrAnswerFailed.
func (s *Service) Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	req.Message = strings.TrimSpace(req.Message)
	if err := ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if s.log != nil {
		// The log is a record of traffic; a write failure does not fail the turn
		if _, err := s.log.Record(req.Message); err != nil {
			logging.WarnContext(ctx, "failed to record chat message", "error", err)
		}
	}

	start := time.Now()
	answer, err := s.answerer.Answer(ctx, req.Message)
	if s.metrics != nil {
		s.metrics.AnswerLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		logging.ErrorContext(ctx, "answer generation failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAnswerFailed, err)
	}

	keywords := SanitizeKeywords(answer.Keywords)
	fragment := buildFragment(s.newID(), req.Message, answer.Text, keywords)
	for _, node := range fragment.Nodes {
		if err := ValidateStruct(node); err != nil {
			return nil, fmt.Errorf("%w: node %q: %v", ErrAnswerFailed, node.ID, err)
		}
	}

	logging.InfoContext(ctx, "answered chat message",
		"keywords", len(keywords),
		"nodes", len(fragment.Nodes),
		"duration", time.Since(start),
	)

	return &model.ChatResponse{
		Status:   "success",
		Question: req.Message,
		Answer:   answer.Text,
		Keywords: keywords,
		Graph:    fragment,
	}, nil
}
