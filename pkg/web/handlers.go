package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ritzau/knowledge-map/pkg/backend"
	"github.com/ritzau/knowledge-map/pkg/chat"
	"github.com/ritzau/knowledge-map/pkg/graph"
	"github.com/ritzau/knowledge-map/pkg/logging"
	"github.com/ritzau/knowledge-map/pkg/model"
	"github.com/ritzau/knowledge-map/pkg/pubsub"
	"github.com/ritzau/knowledge-map/pkg/store"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", "error", err)
	}
}

// writeDetail writes the {"detail": "..."} error body clients expect
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (model.ChatRequest, error) {
	var req model.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if !slices.Contains(pubsub.Topics, topic) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Unknown topic: %s", topic))
		return
	}
	if s.publisher == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Event stream not available")
		return
	}
	pubsub.Stream(w, r, s.publisher, topic)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(w, r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := s.backend.Chat(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, backend.ErrInvalidRequest):
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, backend.ErrAnswerFailed):
		writeDetail(w, http.StatusBadGateway, err.Error())
	default:
		logging.ErrorContext(r.Context(), "chat request failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	log := s.backend.ChatLog()
	if log == nil {
		writeJSON(w, http.StatusOK, []backend.ChatEntry{})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := log.Recent(limit)
	if err != nil {
		logging.ErrorContext(r.Context(), "failed to read chat log", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to read chat log")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Graph())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Messages())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Chat session not available")
		return
	}

	req, err := decodeChatRequest(w, r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	reply, err := s.session.Submit(r.Context(), req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, reply)
	case errors.Is(err, chat.ErrEmptyMessage):
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, chat.ErrBusy):
		writeDetail(w, http.StatusConflict, err.Error())
	default:
		logging.ErrorContext(r.Context(), "submit failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Focus())
}

func (s *Server) handleFocusNode(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["id"]

	focus, err := s.store.FocusNode(nodeID)
	if errors.Is(err, store.ErrNodeNotFound) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Node not found: %s", nodeID))
		return
	}
	if err != nil {
		logging.ErrorContext(r.Context(), "focus failed", "nodeID", nodeID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, focus)
}

func (s *Server) handleClearFocus(w http.ResponseWriter, r *http.Request) {
	s.store.ClearFocus()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, graph.Neighbors(nodeID, s.store.Graph()))
}

func (s *Server) handleNeighborhood(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["id"]

	depth := 2
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 10 {
			writeDetail(w, http.StatusBadRequest, "depth must be an integer between 0 and 10")
			return
		}
		depth = n
	}

	writeJSON(w, http.StatusOK, graph.Within(nodeID, s.store.Graph(), depth))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, graph.ComputeStats(s.store.Graph()))
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, chat.SuggestedPrompts())
}

// BannerState is the auxiliary error banner shown above the chat input
type BannerState struct {
	Banner  string `json:"banner"`
	Sending bool   `json:"sending"`
}

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeJSON(w, http.StatusOK, BannerState{})
		return
	}
	writeJSON(w, http.StatusOK, BannerState{Banner: s.session.Banner(), Sending: s.session.Sending()})
}
