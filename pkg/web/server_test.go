package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ritzau/knowledge-map/pkg/backend"
	"github.com/ritzau/knowledge-map/pkg/chat"
	"github.com/ritzau/knowledge-map/pkg/graph"
	"github.com/ritzau/knowledge-map/pkg/metrics"
	"github.com/ritzau/knowledge-map/pkg/model"
	"github.com/ritzau/knowledge-map/pkg/pubsub"
	"github.com/ritzau/knowledge-map/pkg/store"
)

type stubAnswerer struct {
	answer *backend.Answer
	err    error
}

func (s stubAnswerer) Answer(ctx context.Context, question string) (*backend.Answer, error) {
	return s.answer, s.err
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Expected JSON detail body, got %q", rec.Body.String())
	}
	return body.Detail
}

func sessionServer(t *testing.T) (*Server, *store.GraphStore) {
	t.Helper()
	st := store.New(store.WithSeed(store.SampleGraph()))
	return NewServer(Options{Store: st, Metrics: metrics.NewCollector("km")}), st
}

func TestChatEndpoint(t *testing.T) {
	svc := backend.NewService(stubAnswerer{answer: &backend.Answer{Text: "Hi", Keywords: []string{"greeting"}}})
	h := NewServer(Options{Store: store.New(), Backend: svc}).Handler()

	rec := do(t, h, http.MethodPost, "/api/chat", `{"message":"Hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp model.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if resp.Status != "success" || resp.Answer != "Hi" || len(resp.Graph.Nodes) != 3 {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestChatEndpointErrors(t *testing.T) {
	failing := backend.NewService(stubAnswerer{err: errors.New("model unavailable")})
	h := NewServer(Options{Store: store.New(), Backend: failing}).Handler()

	tests := []struct {
		name   string
		body   string
		status int
		detail string
	}{
		{"empty message", `{"message":"  "}`, http.StatusUnprocessableEntity, "message is required"},
		{"missing message", `{}`, http.StatusUnprocessableEntity, "message is required"},
		{"bad json", `{"message":`, http.StatusUnprocessableEntity, "invalid request body"},
		{"answer failure", `{"message":"Hello"}`, http.StatusBadGateway, "model unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/chat", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("Expected %d, got %d", tt.status, rec.Code)
			}
			if got := detail(t, rec); !strings.Contains(got, tt.detail) {
				t.Errorf("Expected detail containing %q, got %q", tt.detail, got)
			}
		})
	}
}

func TestChatEndpointNotServedWithoutBackend(t *testing.T) {
	s, _ := sessionServer(t)
	if rec := do(t, s.Handler(), http.MethodPost, "/api/chat", `{"message":"x"}`); rec.Code == http.StatusOK {
		t.Error("Expected /api/chat to be absent without a backend")
	}
}

func TestSubmitThroughBackend(t *testing.T) {
	svc := backend.NewService(stubAnswerer{answer: &backend.Answer{Text: "Hi", Keywords: []string{"greeting"}}})
	remote := httptest.NewServer(NewServer(Options{Store: store.New(), Backend: svc}).Handler())
	defer remote.Close()

	st := store.New()
	session := chat.NewSession(st, chat.NewClient(remote.URL))
	h := NewServer(Options{Store: st, Session: session}).Handler()

	rec := do(t, h, http.MethodPost, "/api/session/messages", `{"message":"Hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var reply model.ChatMessage
	json.Unmarshal(rec.Body.Bytes(), &reply)
	if reply.Content != "Hi" || reply.Status != model.StatusComplete {
		t.Errorf("Unexpected reply: %+v", reply)
	}

	rec = do(t, h, http.MethodGet, "/api/session/messages", "")
	var msgs []model.ChatMessage
	json.Unmarshal(rec.Body.Bytes(), &msgs)
	if len(msgs) != 2 || msgs[0].Content != "Hello" {
		t.Errorf("Unexpected transcript: %+v", msgs)
	}

	rec = do(t, h, http.MethodGet, "/api/session/graph", "")
	var g model.Graph
	json.Unmarshal(rec.Body.Bytes(), &g)
	if len(g.Nodes) != 3 || len(g.Links) != 2 {
		t.Errorf("Expected merged fragment, got %d nodes %d links", len(g.Nodes), len(g.Links))
	}
}

func TestSubmitFailureSetsBanner(t *testing.T) {
	svc := backend.NewService(stubAnswerer{err: errors.New("model unavailable")})
	remote := httptest.NewServer(NewServer(Options{Store: store.New(), Backend: svc}).Handler())
	defer remote.Close()

	st := store.New()
	h := NewServer(Options{Store: st, Session: chat.NewSession(st, chat.NewClient(remote.URL))}).Handler()

	rec := do(t, h, http.MethodPost, "/api/session/messages", `{"message":"Hello"}`)
	var reply model.ChatMessage
	json.Unmarshal(rec.Body.Bytes(), &reply)
	if rec.Code != http.StatusOK || reply.Status != model.StatusError ||
		!strings.HasPrefix(reply.Content, chat.ErrorPrefix) {
		t.Errorf("Expected error reply, got %d %+v", rec.Code, reply)
	}

	rec = do(t, h, http.MethodGet, "/api/session/banner", "")
	var banner BannerState
	json.Unmarshal(rec.Body.Bytes(), &banner)
	if !strings.Contains(banner.Banner, "model unavailable") || banner.Sending {
		t.Errorf("Unexpected banner: %+v", banner)
	}

	if rec := do(t, h, http.MethodPost, "/api/session/messages", `{"message":""}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for blank submission, got %d", rec.Code)
	}
}

func TestFocusEndpoints(t *testing.T) {
	s, st := sessionServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/session/focus", "")
	if strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("Expected null focus, got %q", rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/session/focus/a-2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var focus model.FocusContext
	json.Unmarshal(rec.Body.Bytes(), &focus)
	if focus.Node.ID != "a-2" || len(focus.Neighbors) != 3 {
		t.Errorf("Unexpected focus: %+v", focus)
	}

	rec = do(t, h, http.MethodPost, "/api/session/focus/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/api/session/focus", "")
	if rec.Code != http.StatusNoContent || st.Focus() != nil {
		t.Errorf("Expected focus cleared, got %d %+v", rec.Code, st.Focus())
	}
}

func TestNeighborsAndStats(t *testing.T) {
	s, _ := sessionServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/session/neighbors/k-1", "")
	var neighbors []model.GraphNode
	json.Unmarshal(rec.Body.Bytes(), &neighbors)
	if len(neighbors) != 2 || neighbors[0].ID != "a-1" || neighbors[1].ID != "k-3" {
		t.Errorf("Unexpected neighbors: %+v", neighbors)
	}

	rec = do(t, h, http.MethodGet, "/api/session/neighbors/unknown", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("Expected empty list, got %q", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/session/neighborhood/q-1?depth=2", "")
	var around []model.GraphNode
	json.Unmarshal(rec.Body.Bytes(), &around)
	if len(around) != 4 {
		t.Errorf("Expected q-1, a-1, k-1, k-2 within 2 hops, got %+v", around)
	}

	if rec := do(t, h, http.MethodGet, "/api/session/neighborhood/q-1?depth=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad depth, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/session/stats", "")
	var stats graph.Stats
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.Nodes != 8 || stats.Links != 7 || stats.Components != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestPromptsAndMetrics(t *testing.T) {
	s, _ := sessionServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/session/prompts", "")
	var prompts []string
	json.Unmarshal(rec.Body.Bytes(), &prompts)
	if len(prompts) != 3 {
		t.Errorf("Expected 3 prompts, got %v", prompts)
	}

	rec = do(t, h, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `km_http_requests_total{method="GET",route="/api/session/prompts",status="200"} 1`) {
		t.Errorf("Expected labeled request counter in metrics output")
	}
}

func TestCORS(t *testing.T) {
	st := store.New()
	h := NewServer(Options{Store: st, AllowedOrigins: []string{"http://localhost:5173"}}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("Expected allowed origin echoed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/session/graph", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Unexpected CORS header for unknown origin")
	}
}

func TestSubscribeUnknownTopic(t *testing.T) {
	s, _ := sessionServer(t)
	if rec := do(t, s.Handler(), http.MethodGet, "/api/subscribe/bogus", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestSubscribeFocus(t *testing.T) {
	pub := NewPublisher()
	defer pub.Close()

	st := store.New(store.WithSeed(store.SampleGraph()), store.WithPublisher(pub))
	srv := httptest.NewServer(NewServer(Options{Store: st, Publisher: pub}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/subscribe/focus", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if line, _ := reader.ReadString('\n'); line != ": connected\n" {
		t.Fatalf("Expected connected comment, got %q", line)
	}

	if _, err := st.FocusNode("q-1"); err != nil {
		t.Fatalf("FocusNode failed: %v", err)
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Stream ended before focus event: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event pubsub.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if event.Topic != pubsub.TopicFocus || event.Type != "focus_set" {
			t.Errorf("Unexpected event: %+v", event)
		}
		return
	}
}
