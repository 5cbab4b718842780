package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ritzau/knowledge-map/pkg/backend"
	"github.com/ritzau/knowledge-map/pkg/chat"
	"github.com/ritzau/knowledge-map/pkg/logging"
	"github.com/ritzau/knowledge-map/pkg/metrics"
	"github.com/ritzau/knowledge-map/pkg/pubsub"
	"github.com/ritzau/knowledge-map/pkg/store"
)

// Options wires the server to its collaborators. Backend may be nil, in
// which case /api/chat is not served (the session talks to a remote one).
type Options struct {
	Store     *store.GraphStore
	Session   *chat.Session
	Backend   *backend.Service
	Publisher pubsub.Publisher
	Metrics   *metrics.Collector

	StaticDir      string
	AllowedOrigins []string
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	store     *store.GraphStore
	session   *chat.Session
	backend   *backend.Service
	publisher pubsub.Publisher
	metrics   *metrics.Collector
	origins   map[string]bool
	staticDir string
}

// NewPublisher creates the SSE publisher with the replay policy of each topic
func NewPublisher() *pubsub.SSEPublisher {
	p := pubsub.NewSSEPublisher()

	// Late subscribers get the latest graph summary and focus only
	p.ConfigureTopic(pubsub.TopicGraph, pubsub.TopicConfig{BufferSize: 5, ReplayAll: false})
	p.ConfigureTopic(pubsub.TopicFocus, pubsub.TopicConfig{BufferSize: 1, ReplayAll: false})
	// Conversation events are replayed in full so a reconnecting view can rebuild the transcript tail
	p.ConfigureTopic(pubsub.TopicConversation, pubsub.TopicConfig{BufferSize: 50, ReplayAll: true})

	return p
}

// NewServer creates a new web server
func NewServer(opts Options) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		store:     opts.Store,
		session:   opts.Session,
		backend:   opts.Backend,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		origins:   make(map[string]bool, len(opts.AllowedOrigins)),
		staticDir: opts.StaticDir,
	}
	for _, origin := range opts.AllowedOrigins {
		s.origins[origin] = true
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector("km")
	}

	s.setupRoutes()
	return s
}

// Handler returns the routed handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(logging.RequestIDMiddleware, s.metrics.Middleware, s.corsMiddleware)

	// Preflight for every route; headers are set by the CORS middleware
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// SSE subscription endpoint
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	// Backend
	if s.backend != nil {
		s.router.HandleFunc("/api/chat", s.handleChat).Methods("POST")
		s.router.HandleFunc("/api/chat/history", s.handleChatHistory).Methods("GET")
	}

	// Session state
	api := s.router.PathPrefix("/api/session").Subrouter()
	api.HandleFunc("/graph", s.handleGraph).Methods("GET")
	api.HandleFunc("/messages", s.handleMessages).Methods("GET")
	api.HandleFunc("/messages", s.handleSubmit).Methods("POST")
	api.HandleFunc("/focus", s.handleFocus).Methods("GET")
	api.HandleFunc("/focus", s.handleClearFocus).Methods("DELETE")
	api.HandleFunc("/focus/{id}", s.handleFocusNode).Methods("POST")
	api.HandleFunc("/neighbors/{id}", s.handleNeighbors).Methods("GET")
	api.HandleFunc("/neighborhood/{id}", s.handleNeighborhood).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/prompts", s.handlePrompts).Methods("GET")
	api.HandleFunc("/banner", s.handleBanner).Methods("GET")

	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	if s.staticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
}

// corsMiddleware admits the configured renderer origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.origins[origin] {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			h.Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// Open SSE streams are ended by closing the publisher.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.publisher != nil {
		srv.RegisterOnShutdown(func() {
			s.publisher.Close()
		})
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	logging.Info("shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return nil
}
