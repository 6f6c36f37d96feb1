package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
)

// Failure reasons returned in {"ok": false, "reason": ...}.
const (
	reasonEmptyInput       = "empty_input"
	reasonNoMessages       = "no_messages"
	reasonInvalidMaxTokens = "invalid_max_tokens"
	reasonBadRequest       = "bad_request"
	reasonInternal         = "internal_error"
)

type conversationResponse struct {
	OK            bool                   `json:"ok"`
	Messages      []conversation.Message `json:"messages"`
	PersonaA      string                 `json:"persona_a"`
	PersonaB      string                 `json:"persona_b"`
	NextSpeaker   conversation.Role      `json:"next_speaker"`
	AutoTurnsLeft int                    `json:"auto_turns_left"`
	MaxTokens     int                    `json:"max_tokens"`
}

func newConversationResponse(st *conversation.State) conversationResponse {
	return conversationResponse{
		OK:            true,
		Messages:      st.Messages,
		PersonaA:      st.PersonaA,
		PersonaB:      st.PersonaB,
		NextSpeaker:   st.NextSpeaker,
		AutoTurnsLeft: st.AutoTurnsLeft,
		MaxTokens:     st.MaxTokens,
	}
}

type sendRequest struct {
	Text  string `json:"text"`
	Turns *int   `json:"turns"`
}

type tickResponse struct {
	OK           bool              `json:"ok"`
	Role         conversation.Role `json:"role"`
	Text         string            `json:"text"`
	AutoLeft     int               `json:"auto_left"`
	FinishReason string            `json:"finish_reason"`
}

type personasRequest struct {
	PersonaA string `json:"persona_a"`
	PersonaB string `json:"persona_b"`
}

type maxTokensRequest struct {
	MaxTokens int `json:"max_tokens"`
}

type healthResponse struct {
	OK       bool   `json:"ok"`
	Provider bool   `json:"provider"`
	Model    string `json:"model"`
}

type errorResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	st, err := s.svc.Snapshot(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConversationResponse(st))
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	var req sendRequest
	if !s.decode(w, r, &req) {
		return
	}
	turns := DefaultTurns
	if req.Turns != nil {
		turns = *req.Turns
	}

	st, err := s.svc.Seed(r.Context(), id, req.Text, turns)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConversationResponse(st))
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	turn, err := s.svc.Tick(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tickResponse{
		OK:           true,
		Role:         turn.Message.Role,
		Text:         turn.Message.Text,
		AutoLeft:     turn.AutoTurnsLeft,
		FinishReason: turn.FinishReason,
	})
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	var req personasRequest
	if !s.decode(w, r, &req) {
		return
	}

	st, err := s.svc.UpdatePersonas(r.Context(), id, req.PersonaA, req.PersonaB)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConversationResponse(st))
}

func (s *Server) handleMaxTokens(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	var req maxTokensRequest
	if !s.decode(w, r, &req) {
		return
	}

	st, err := s.svc.SetMaxTokens(r.Context(), id, req.MaxTokens)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConversationResponse(st))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	st, err := s.svc.Reset(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConversationResponse(st))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	up := s.provider.IsAvailable(r.Context())
	status := http.StatusOK
	if !up {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{OK: up, Provider: up, Model: s.provider.Model()})
}

// decode reads a JSON body into dst, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.logger.Debug("bad request body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Reason: reasonBadRequest})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Reason: reasonEmptyInput})
	case errors.Is(err, conversation.ErrNoMessages):
		writeJSON(w, http.StatusBadRequest, errorResponse{Reason: reasonNoMessages})
	case errors.Is(err, conversation.ErrInvalidMaxTokens):
		writeJSON(w, http.StatusBadRequest, errorResponse{Reason: reasonInvalidMaxTokens})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Reason: reasonInternal})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
